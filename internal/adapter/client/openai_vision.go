package client

import (
	"context"

	"visible-relay/internal/domain/entity"

	"github.com/sashabaranov/go-openai"
)

const ProviderOpenAI = "openai"

type OpenAIVision struct {
	client *openai.Client
	model  string
}

// NewOpenAIVision builds a client for the chat completions API. baseURL may be
// empty to use the public endpoint.
func NewOpenAIVision(apiKey, baseURL, model string) *OpenAIVision {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return NewOpenAIVisionFromClient(openai.NewClientWithConfig(cfg), model)
}

func NewOpenAIVisionFromClient(c *openai.Client, model string) *OpenAIVision {
	return &OpenAIVision{client: c, model: model}
}

func (o *OpenAIVision) Name() string {
	return ProviderOpenAI
}

func (o *OpenAIVision) Describe(ctx context.Context, prompt entity.VisionPrompt) (*entity.VisionReply, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.request(prompt))
	if err != nil {
		return nil, classify(ProviderOpenAI, err)
	}

	if len(resp.Choices) == 0 {
		return nil, emptyReply(ProviderOpenAI, "empty choices")
	}
	msg := resp.Choices[0].Message
	if msg.Content == "" {
		if msg.Refusal != "" {
			return nil, emptyReply(ProviderOpenAI, "refused: "+msg.Refusal)
		}
		return nil, emptyReply(ProviderOpenAI, "finish reason "+string(resp.Choices[0].FinishReason))
	}

	return &entity.VisionReply{
		Text:       msg.Content,
		Model:      resp.Model,
		Provider:   ProviderOpenAI,
		TokenCount: resp.Usage.TotalTokens,
	}, nil
}

func (o *OpenAIVision) request(prompt entity.VisionPrompt) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: prompt.System,
			},
			{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: userParts(prompt),
			},
		},
		MaxTokens: prompt.MaxTokens,
	}
}

// userParts puts the question before the image. An empty question is left out
// since a text part without text is rejected upstream.
func userParts(prompt entity.VisionPrompt) []openai.ChatMessagePart {
	parts := make([]openai.ChatMessagePart, 0, 2)
	if prompt.Question != "" {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: prompt.Question,
		})
	}
	return append(parts, openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeImageURL,
		ImageURL: &openai.ChatMessageImageURL{
			URL: prompt.Image.DataURL(),
		},
	})
}
