package repository

import (
	"context"
	"visible-relay/internal/domain/entity"
)

type VisionProvider interface {
	Name() string
	Describe(ctx context.Context, prompt entity.VisionPrompt) (*entity.VisionReply, error)
}

type TokenLimiter interface {
	CheckLimit(ctx context.Context, clientID string) (bool, error)
	Increment(ctx context.Context, clientID string, tokens int) error
}
