package llm

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

type OpenAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient(apiKey string, model string, baseURL string) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (Result, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
	}
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Result{}, newProviderError("openai", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, newProviderError("openai", fmt.Errorf("no response choices"))
	}

	choice := resp.Choices[0]
	// Reasoning models report the tokens they spent thinking; a nonzero count
	// means the extended mode actually engaged for this call.
	reasoned := resp.Usage.CompletionTokensDetails != nil &&
		resp.Usage.CompletionTokensDetails.ReasoningTokens > 0

	return Result{Text: choice.Message.Content, UsedExtendedReasoning: reasoned}, nil
}
