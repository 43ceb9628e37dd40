package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"visible-relay/internal/domain/entity"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// classify wraps a raw SDK error into an UpstreamError so callers can decide
// whether resubmitting makes sense without knowing which SDK produced it.
func classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var upErr *entity.UpstreamError
	if errors.As(err, &upErr) {
		return err
	}

	upErr = &entity.UpstreamError{Provider: provider, Err: err}

	var (
		oaiAPIErr *openai.APIError
		oaiReqErr *openai.RequestError
		gAPIErr   genai.APIError
		gAPIErrP  *genai.APIError
		netErr    net.Error
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		upErr.Timeout = true
		upErr.Retryable = true
	case errors.Is(err, context.Canceled):
		// the caller went away; nothing to retry for
	case errors.As(err, &oaiAPIErr):
		upErr.StatusCode = oaiAPIErr.HTTPStatusCode
		upErr.Retryable = retryableStatus(oaiAPIErr.HTTPStatusCode) && !quotaExhausted(oaiAPIErr)
	case errors.As(err, &oaiReqErr):
		upErr.StatusCode = oaiReqErr.HTTPStatusCode
		upErr.Retryable = retryableStatus(oaiReqErr.HTTPStatusCode)
	case errors.As(err, &gAPIErr):
		upErr.StatusCode = gAPIErr.Code
		upErr.Retryable = retryableStatus(gAPIErr.Code)
	case errors.As(err, &gAPIErrP):
		upErr.StatusCode = gAPIErrP.Code
		upErr.Retryable = retryableStatus(gAPIErrP.Code)
	case errors.As(err, &netErr):
		upErr.Retryable = true
		upErr.Timeout = netErr.Timeout()
	}
	return upErr
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// quotaExhausted tells a billing 429 apart from a transient rate limit.
func quotaExhausted(e *openai.APIError) bool {
	return e.Type == "insufficient_quota" || fmt.Sprint(e.Code) == "insufficient_quota"
}

// emptyReply is returned when the envelope holds no usable text.
func emptyReply(provider, reason string) error {
	return &entity.UpstreamError{
		Provider: provider,
		Err:      fmt.Errorf("no completion text returned: %s", reason),
	}
}
