package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	messagesMaxTokens       = 500
)

// MessagesBackend talks to the Anthropic Messages API.
type MessagesBackend struct {
	baseURL string
	client  *http.Client
}

func NewMessagesBackend(baseURL string, client *http.Client) *MessagesBackend {
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &MessagesBackend{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type messagesTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string         `json:"model"`
	MaxTokens   int            `json:"max_tokens"`
	System      string         `json:"system,omitempty"`
	Messages    []messagesTurn `json:"messages"`
	Temperature float64        `json:"temperature"`
	Stream      bool           `json:"stream,omitempty"`
}

type messagesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage messagesUsage `json:"usage"`
}

type messagesEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Message struct {
		Usage messagesUsage `json:"usage"`
	} `json:"message"`
	Usage messagesUsage `json:"usage"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type messagesErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// toMessagesTurns pulls system turns into a separate prompt and merges
// consecutive turns of the same role, which the Messages API rejects.
func toMessagesTurns(messages []ChatMessage) ([]messagesTurn, string) {
	var system []string
	var turns []messagesTurn
	for _, m := range messages {
		if m.Role == "system" {
			if text := strings.TrimSpace(m.Content); text != "" {
				system = append(system, text)
			}
			continue
		}
		role := "user"
		if m.Role == "assistant" {
			role = "assistant"
		}
		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Content += "\n\n" + m.Content
			continue
		}
		turns = append(turns, messagesTurn{Role: role, Content: m.Content})
	}
	return turns, strings.Join(system, "\n\n")
}

func (b *MessagesBackend) post(ctx context.Context, call Call, stream bool) (*http.Response, error) {
	turns, system := toMessagesTurns(call.Messages)
	body, err := json.Marshal(messagesRequest{
		Model:       call.Model,
		MaxTokens:   messagesMaxTokens,
		System:      system,
		Messages:    turns,
		Temperature: chatTemperature,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling messages request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating messages request: %w", err)
	}
	req.Header.Set("x-api-key", call.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("content-type", "application/json")
	if stream {
		req.Header.Set("accept", "text/event-stream")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, errorForStatus(resp.StatusCode, errorDetail(raw))
	}
	return resp, nil
}

func errorDetail(raw []byte) string {
	var parsed messagesErrorBody
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

func (b *MessagesBackend) Complete(ctx context.Context, call Call) (Completion, error) {
	resp, err := b.post(ctx, call, false)
	if err != nil {
		return Completion{}, err
	}
	defer resp.Body.Close()

	var parsed messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Completion{}, &Error{Kind: ErrorProvider, Status: resp.StatusCode, Message: "malformed response body", Err: err}
	}
	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return Completion{}, &Error{Kind: ErrorProvider, Status: resp.StatusCode, Message: "API returned an empty response"}
	}
	return Completion{Text: text.String(), Usage: toUsage(parsed.Usage)}, nil
}

func (b *MessagesBackend) Stream(ctx context.Context, call Call, onDelta func(string)) (Completion, error) {
	resp, err := b.post(ctx, call, true)
	if err != nil {
		return Completion{}, err
	}
	defer resp.Body.Close()

	var builder strings.Builder
	var usage messagesUsage
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
loop:
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var event messagesEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}
		switch event.Type {
		case "message_start":
			usage.InputTokens = event.Message.Usage.InputTokens
		case "content_block_delta":
			if event.Delta.Type != "text_delta" || event.Delta.Text == "" {
				continue
			}
			builder.WriteString(event.Delta.Text)
			onDelta(event.Delta.Text)
		case "message_delta":
			usage.OutputTokens = event.Usage.OutputTokens
		case "message_stop":
			break loop
		case "error":
			if event.Error.Type == "rate_limit_error" {
				return Completion{}, rateLimitError(http.StatusTooManyRequests)
			}
			return Completion{}, &Error{Kind: ErrorProvider, Status: resp.StatusCode, Message: "stream error: " + event.Error.Message}
		}
	}
	if err := scanner.Err(); err != nil {
		return Completion{}, err
	}
	if builder.Len() == 0 {
		return Completion{}, &Error{Kind: ErrorProvider, Status: resp.StatusCode, Message: "API returned an empty stream"}
	}
	return Completion{Text: builder.String(), Usage: toUsage(usage)}, nil
}

func toUsage(u messagesUsage) *Usage {
	return &Usage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.InputTokens + u.OutputTokens,
	}
}
