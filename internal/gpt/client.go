// internal/gpt/client.go
package gpt

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

type Client struct {
	client *openai.Client
	model  string
}

func NewClient(apiKey string) *Client {
	return &Client{
		client: openai.NewClient(apiKey),
		model:  openai.GPT4,
	}
}

func (c *Client) WithModel(model string) *Client {
	c.model = model
	return c
}

// GenerateReply produces a conversational answer for the idle/question path.
func (c *Client) GenerateReply(ctx context.Context, userText, instruction string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: instruction,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: userText,
			},
		},
		MaxTokens:   500,
		Temperature: 0.7,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from GPT API")
	}
	return resp.Choices[0].Message.Content, nil
}

// InterpretRequisites asks the model for its own reading of a requisites
// message. The answer is advisory only: it is shown next to the extracted
// fields and never replaces them.
func (c *Client) InterpretRequisites(ctx context.Context, text string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: "Пользователь прислал платёжные реквизиты. Перечисли одной короткой строкой, " +
					"что ты видишь: номер карты, номер телефона, сумму, банк. " +
					"Если чего-то нет — не упоминай. Ничего не выдумывай.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: text,
			},
		},
		MaxTokens:   150,
		Temperature: 0,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from GPT API")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
