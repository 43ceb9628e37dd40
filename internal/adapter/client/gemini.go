package client

import (
	"context"
	"encoding/base64"
	"strings"

	"visible-relay/internal/domain/entity"

	"google.golang.org/genai"
)

const ProviderGemini = "gemini"

type GeminiVision struct {
	client *genai.Client
	model  string
}

func NewGeminiVision(ctx context.Context, apiKey, model string) (*GeminiVision, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &GeminiVision{client: client, model: model}, nil
}

func NewGeminiVisionFromClient(c *genai.Client, model string) *GeminiVision {
	return &GeminiVision{
		client: c,
		model:  model,
	}
}

func (g *GeminiVision) Name() string {
	return ProviderGemini
}

func (g *GeminiVision) Describe(ctx context.Context, prompt entity.VisionPrompt) (*entity.VisionReply, error) {
	var parts []*genai.Part
	if prompt.Question != "" {
		parts = append(parts, genai.NewPartFromText(prompt.Question))
	}
	parts = append(parts, genai.NewPartFromBytes(imageBytes(prompt.Image.Data), prompt.Image.MIMEType))
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(prompt.System, genai.RoleUser),
		MaxOutputTokens:   int32(prompt.MaxTokens),
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, classify(ProviderGemini, err)
	}

	if len(result.Candidates) == 0 {
		reason := "no candidates"
		if fb := result.PromptFeedback; fb != nil && fb.BlockReason != "" {
			reason = "blocked: " + string(fb.BlockReason)
		}
		return nil, emptyReply(ProviderGemini, reason)
	}

	cand := result.Candidates[0]
	var text strings.Builder
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if part != nil && !part.Thought {
				text.WriteString(part.Text)
			}
		}
	}
	if text.Len() == 0 {
		return nil, emptyReply(ProviderGemini, "finish reason "+string(cand.FinishReason))
	}

	reply := &entity.VisionReply{
		Text:     text.String(),
		Model:    g.model,
		Provider: ProviderGemini,
	}
	if result.ModelVersion != "" {
		reply.Model = result.ModelVersion
	}
	if result.UsageMetadata != nil {
		reply.TokenCount = int(result.UsageMetadata.TotalTokenCount)
	}
	return reply, nil
}

// imageBytes decodes the payload for the inline blob. A payload that is not
// valid base64 is sent as-is and left for the upstream to reject.
func imageBytes(payload string) []byte {
	if b, err := base64.StdEncoding.DecodeString(payload); err == nil {
		return b
	}
	return []byte(payload)
}
