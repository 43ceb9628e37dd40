package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"visible-relay/internal/domain/entity"
	"visible-relay/internal/domain/repository"
	"visible-relay/internal/logger"
)

const usageUpdateTimeout = 5 * time.Second

// Orchestrator runs one analysis: budget check, formatting and the upstream
// call, then usage accounting in the background.
type Orchestrator struct {
	formatter    *PromptFormatter
	tokenLimiter repository.TokenLimiter
	pending      sync.WaitGroup
}

func NewOrchestrator(f *PromptFormatter, tl repository.TokenLimiter) *Orchestrator {
	return &Orchestrator{formatter: f, tokenLimiter: tl}
}

func (u *Orchestrator) Execute(ctx context.Context, a entity.Analysis) (*entity.AnalysisResult, error) {
	// 1. Check the client's token budget
	allowed, err := u.tokenLimiter.CheckLimit(ctx, a.ClientID)
	if err != nil {
		slog.WarnContext(ctx, "token limiter unavailable, allowing request", "client", a.ClientID, logger.Err(err))
	} else if !allowed {
		return nil, entity.ErrRateLimitExceeded
	}

	// 2. Format and call the vision model
	start := time.Now()
	reply, err := u.formatter.Analyze(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("analyzing image: %w", err)
	}
	slog.InfoContext(ctx, "analysis complete",
		"mode", a.Mode,
		"provider", reply.Provider,
		"model", reply.Model,
		"tokens", reply.TokenCount,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	// 3. Background: update usage; the request context may already be gone
	if reply.TokenCount > 0 {
		u.pending.Add(1)
		go func(clientID string, tokens int) {
			defer u.pending.Done()
			bgCtx, cancel := context.WithTimeout(context.Background(), usageUpdateTimeout)
			defer cancel()
			if err := u.tokenLimiter.Increment(bgCtx, clientID, tokens); err != nil {
				slog.Warn("recording token usage failed", "client", clientID, logger.Err(err))
			}
		}(a.ClientID, reply.TokenCount)
	}

	return &entity.AnalysisResult{Summary: reply.Text}, nil
}

// Wait blocks until background usage updates have finished.
func (u *Orchestrator) Wait() {
	u.pending.Wait()
}
