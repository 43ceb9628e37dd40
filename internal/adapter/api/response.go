package api

import (
	"errors"
	"log/slog"

	"visible-relay/internal/domain/entity"
	"visible-relay/internal/logger"

	"github.com/gofiber/fiber/v2"
)

type ErrorResponse struct {
	Detail    string `json:"detail"`
	Retryable bool   `json:"retryable"`
}

// ErrorHandler renders framework errors (unknown route, oversized body, panics
// caught by recover) in the same shape as handler errors.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	detail := "internal server error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		detail = fe.Message
	} else {
		slog.ErrorContext(requestContext(c), "unhandled error", logger.Err(err))
	}
	return c.Status(code).JSON(ErrorResponse{Detail: detail})
}

// writeError maps domain errors to a status and a generic client message. The
// underlying error is only logged.
func writeError(c *fiber.Ctx, err error) error {
	ctx := requestContext(c)
	retryable := entity.IsRetryable(err)

	var upErr *entity.UpstreamError
	switch {
	case errors.Is(err, entity.ErrRateLimitExceeded):
		slog.InfoContext(ctx, "token budget exhausted", "client", clientID(c))
		return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{
			Detail:    "token budget exhausted, try again later",
			Retryable: true,
		})
	case errors.Is(err, entity.ErrUpstreamTimeout):
		slog.ErrorContext(ctx, "upstream timed out", logger.Err(err))
		return c.Status(fiber.StatusGatewayTimeout).JSON(ErrorResponse{
			Detail:    "upstream model timed out",
			Retryable: true,
		})
	case errors.As(err, &upErr):
		slog.ErrorContext(ctx, "upstream request failed",
			"provider", upErr.Provider,
			"status", upErr.StatusCode,
			"retryable", upErr.Retryable,
			logger.Err(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Detail:    "upstream model request failed",
			Retryable: retryable,
		})
	default:
		slog.ErrorContext(ctx, "analysis failed", logger.Err(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Detail: "internal server error",
		})
	}
}
