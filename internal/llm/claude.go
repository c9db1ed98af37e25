package llm

import (
	"context"
	"fmt"

	"github.com/liushuangls/go-anthropic/v2"
)

type ClaudeClient struct {
	client *anthropic.Client
	model  string
}

func NewClaudeClient(apiKey, model, baseURL string) *ClaudeClient {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return &ClaudeClient{
		client: anthropic.NewClient(apiKey, opts...),
		model:  model,
	}
}

func (c *ClaudeClient) Generate(ctx context.Context, prompt string, opts ...GenerateOption) (string, error) {
	o := applyOptions(opts)

	maxTokens := o.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1000
	}

	req := anthropic.MessagesRequest{
		Model: anthropic.Model(c.model),
		Messages: []anthropic.Message{
			{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					anthropic.NewTextMessageContent(prompt),
				},
			},
		},
		MaxTokens: maxTokens,
	}
	if o.SystemPrompt != "" {
		req.System = o.SystemPrompt
	}
	if o.HasTemp {
		t := o.Temperature
		req.Temperature = &t
	}

	resp, err := c.client.CreateMessages(ctx, req)
	if err != nil {
		return "", classifyGenerateError(err)
	}
	if len(resp.Content) > 0 && resp.Content[0].Text != nil {
		return *resp.Content[0].Text, nil
	}
	return "", fmt.Errorf("no response content")
}

func (c *ClaudeClient) Embed(ctx context.Context, text string) ([]float32, error) {
	// The Anthropic API has no embeddings endpoint; returning an error lets
	// the factory pair this client with a separate embedder.
	return nil, fmt.Errorf("embeddings not supported by Claude client")
}
