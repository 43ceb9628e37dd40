package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"visible-relay/internal/domain/entity"
	"visible-relay/internal/domain/repository"
	"visible-relay/internal/logger"
)

type ResilienceConfig struct {
	MaxRetries int           // extra attempts on the primary for retryable failures
	BaseDelay  time.Duration // first backoff step, doubled per attempt
	Timeout    time.Duration // deadline for the whole call, fallback included
}

type ResilientProvider struct {
	primary    repository.VisionProvider
	fallback   repository.VisionProvider // optional, e.g. Gemini behind OpenAI
	maxRetries int
	baseDelay  time.Duration
	timeout    time.Duration
}

// NewResilientProvider wraps primary with a deadline, bounded retries and an
// optional fallback. fallback may be nil.
func NewResilientProvider(primary, fallback repository.VisionProvider, cfg ResilienceConfig) *ResilientProvider {
	return &ResilientProvider{
		primary:    primary,
		fallback:   fallback,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		timeout:    cfg.Timeout,
	}
}

func (r *ResilientProvider) Name() string {
	return r.primary.Name()
}

func (r *ResilientProvider) Describe(ctx context.Context, prompt entity.VisionPrompt) (*entity.VisionReply, error) {
	resCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.executeWithRetry(resCtx, r.primary, prompt)
	if err == nil {
		return resp, nil
	}
	err = r.deadlineError(resCtx, r.primary.Name(), err)

	if r.fallback == nil || !entity.IsRetryable(err) || resCtx.Err() != nil {
		return nil, err
	}

	slog.WarnContext(ctx, "primary exhausted, switching to fallback",
		"primary", r.primary.Name(),
		"fallback", r.fallback.Name(),
		logger.Err(err),
	)

	resp, fbErr := r.fallback.Describe(resCtx, prompt)
	if fbErr != nil {
		fbErr = r.deadlineError(resCtx, r.fallback.Name(), fbErr)
		return nil, fmt.Errorf("both primary and fallback failed: %w", fbErr)
	}
	return resp, nil
}

func (r *ResilientProvider) executeWithRetry(ctx context.Context, p repository.VisionProvider, prompt entity.VisionPrompt) (*entity.VisionReply, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		resp, err := p.Describe(ctx, prompt)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !entity.IsRetryable(err) || attempt == r.maxRetries {
			break
		}

		wait := r.calculateBackoff(attempt)
		slog.DebugContext(ctx, "retrying upstream", "provider", p.Name(), "attempt", attempt+1, "wait", wait, logger.Err(err))
		select {
		case <-time.After(wait):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// deadlineError makes sure a breached deadline surfaces as a timeout
// UpstreamError whatever layer noticed it first.
func (r *ResilientProvider) deadlineError(ctx context.Context, provider string, err error) error {
	if errors.Is(err, entity.ErrUpstreamTimeout) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &entity.UpstreamError{Provider: provider, Timeout: true, Retryable: true, Err: err}
	}
	var upErr *entity.UpstreamError
	if !errors.As(err, &upErr) {
		return &entity.UpstreamError{Provider: provider, Err: err}
	}
	return err
}

func (r *ResilientProvider) calculateBackoff(attempt int) time.Duration {
	backoff := float64(r.baseDelay) * float64(int(1)<<attempt)
	jitter := (rand.Float64() * 0.2) * backoff // 20% jitter
	return time.Duration(backoff + jitter)
}
