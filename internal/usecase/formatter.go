package usecase

import (
	"context"
	"errors"
	"log/slog"

	"visible-relay/internal/domain/entity"
	"visible-relay/internal/domain/media"
	"visible-relay/internal/domain/repository"
)

// PromptFormatter turns a validated analysis into the two-message vision prompt,
// sends it upstream once, and returns the first completion.
type PromptFormatter struct {
	provider  repository.VisionProvider
	maxTokens int
}

func NewPromptFormatter(provider repository.VisionProvider, maxTokens int) *PromptFormatter {
	return &PromptFormatter{provider: provider, maxTokens: maxTokens}
}

func (f *PromptFormatter) Prompt(a entity.Analysis) (entity.VisionPrompt, media.Detection) {
	img, det := media.Resolve(a.ImageBase64, a.MIMEType)
	return entity.VisionPrompt{
		System:    a.Mode.SystemPrompt(),
		Question:  a.Question,
		Image:     img,
		MaxTokens: f.maxTokens,
	}, det
}

func (f *PromptFormatter) Analyze(ctx context.Context, a entity.Analysis) (*entity.VisionReply, error) {
	prompt, det := f.Prompt(a)
	slog.DebugContext(ctx, "prompt formatted",
		"mode", a.Mode,
		"mime_type", prompt.Image.MIMEType,
		"mime_source", det.Source,
		"width", det.Width,
		"height", det.Height,
		"image_bytes", len(prompt.Image.Data)*3/4,
	)

	reply, err := f.provider.Describe(ctx, prompt)
	if err != nil {
		return nil, err
	}
	if reply == nil || reply.Text == "" {
		return nil, &entity.UpstreamError{
			Provider: f.provider.Name(),
			Err:      errors.New("no completion text returned"),
		}
	}
	return reply, nil
}
