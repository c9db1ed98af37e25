package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient serves both the OpenAI API and any OpenAI-compatible endpoint
// (Ollama, llama.cpp server, vLLM) selected via BaseURL.
type OpenAIClient struct {
	client         *openai.Client
	model          string
	embeddingModel string

	mu          sync.Mutex
	detectedCtx int
}

func NewOpenAIClient(apiKey, model, embeddingModel, baseURL string) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if embeddingModel == "" {
		embeddingModel = string(openai.SmallEmbedding3)
	}
	return &OpenAIClient{
		client:         openai.NewClientWithConfig(config),
		model:          model,
		embeddingModel: embeddingModel,
	}
}

func (c *OpenAIClient) Generate(ctx context.Context, prompt string, opts ...GenerateOption) (string, error) {
	o := applyOptions(opts)

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if o.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: o.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	}
	if o.MaxTokens > 0 {
		req.MaxTokens = o.MaxTokens
	}
	if o.HasTemp {
		req.Temperature = o.Temperature
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		err = classifyGenerateError(err)
		if cse, ok := IsContextSizeExceeded(err); ok && cse.Limit > 0 {
			c.recordContextSize(cse.Limit)
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.embeddingModel),
	}
	resp, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, classifyGenerateError(err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding data")
	}
	return resp.Data[0].Embedding, nil
}

// DetectModel asks the endpoint which models it serves. Compatible servers
// (Ollama in OpenAI mode) report the loaded model here; failure falls back
// to the configured model name.
func (c *OpenAIClient) DetectModel(ctx context.Context) (string, error) {
	models, err := c.client.ListModels(ctx)
	if err != nil {
		return c.model, err
	}
	if len(models.Models) == 0 {
		return c.model, nil
	}
	for _, m := range models.Models {
		if m.ID == c.model {
			return m.ID, nil
		}
	}
	return models.Models[0].ID, nil
}

func (c *OpenAIClient) recordContextSize(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detectedCtx == 0 || n < c.detectedCtx {
		c.detectedCtx = n
	}
}

func (c *OpenAIClient) DetectedContextSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detectedCtx
}
