package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const (
	chatTemperature = 0.7
	chatMaxTokens   = 500
)

// ChatBackend talks to OpenAI-compatible chat completion endpoints.
type ChatBackend struct {
	baseURL    string
	httpClient *http.Client
}

// NewChatBackend returns a chat-style backend. An empty baseURL uses the
// go-openai default.
func NewChatBackend(baseURL string, httpClient *http.Client) *ChatBackend {
	return &ChatBackend{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

func (b *ChatBackend) client(apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if b.baseURL != "" {
		cfg.BaseURL = b.baseURL
	}
	if b.httpClient != nil {
		cfg.HTTPClient = b.httpClient
	}
	return openai.NewClientWithConfig(cfg)
}

func (b *ChatBackend) request(call Call) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(call.Messages))
	for _, m := range call.Messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case "system":
			role = openai.ChatMessageRoleSystem
		case "assistant":
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:       call.Model,
		Messages:    messages,
		Temperature: chatTemperature,
		MaxTokens:   chatMaxTokens,
	}
}

func (b *ChatBackend) Complete(ctx context.Context, call Call) (Completion, error) {
	resp, err := b.client(call.APIKey).CreateChatCompletion(ctx, b.request(call))
	if err != nil {
		return Completion{}, err
	}
	if len(resp.Choices) == 0 {
		return Completion{}, &Error{Kind: ErrorProvider, Status: http.StatusOK, Message: "API returned no choices"}
	}
	return Completion{
		Text: resp.Choices[0].Message.Content,
		Usage: &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (b *ChatBackend) Stream(ctx context.Context, call Call, onDelta func(string)) (Completion, error) {
	req := b.request(call)
	req.Stream = true
	req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := b.client(call.APIKey).CreateChatCompletionStream(ctx, req)
	if err != nil {
		return Completion{}, err
	}
	defer stream.Close()

	var builder strings.Builder
	var usage *Usage
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Completion{}, err
		}
		if resp.Usage != nil {
			usage = &Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
		}
		for _, choice := range resp.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			builder.WriteString(choice.Delta.Content)
			onDelta(choice.Delta.Content)
		}
	}
	if builder.Len() == 0 {
		return Completion{}, &Error{Kind: ErrorProvider, Status: http.StatusOK, Message: "API returned an empty stream"}
	}
	return Completion{Text: builder.String(), Usage: usage}, nil
}

// statusFromSDK extracts the HTTP status from go-openai error types.
func statusFromSDK(err error) (int, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return reqErr.HTTPStatusCode, true
	}
	return 0, false
}

func sdkMessage(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return ""
}
