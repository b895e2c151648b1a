package llm

import (
	"context"
	"fmt"

	"github.com/liushuangls/go-anthropic/v2"
)

type ClaudeClient struct {
	client   *anthropic.Client
	model    string
	thinking bool
}

func NewClaudeClient(apiKey string, model string, baseURL string, extendedReasoning bool) *ClaudeClient {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}

	return &ClaudeClient{
		client:   anthropic.NewClient(apiKey, opts...),
		model:    model,
		thinking: extendedReasoning,
	}
}

func (c *ClaudeClient) Generate(ctx context.Context, prompt string) (Result, error) {
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
		MaxTokens: 4096,
	}
	if c.thinking {
		req.Thinking = &anthropic.Thinking{
			Type:         anthropic.ThinkingTypeEnabled,
			BudgetTokens: 2048,
		}
	}

	resp, err := c.client.CreateMessages(ctx, req)
	if err != nil {
		return Result{}, newProviderError("anthropic", err)
	}

	// Thinking responses put the answer in the last text block.
	for i := len(resp.Content) - 1; i >= 0; i-- {
		if resp.Content[i].Text != nil {
			return Result{Text: *resp.Content[i].Text, UsedExtendedReasoning: c.thinking}, nil
		}
	}
	return Result{}, newProviderError("anthropic", fmt.Errorf("no response content"))
}
