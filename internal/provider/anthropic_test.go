package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaenox/codereview-threads/internal/models"
)

func anthropicRequest() Request {
	req := mockRequest(models.ProviderAnthropic)
	req.Settings.APIKeys[models.ProviderAnthropic] = "ak-test"
	return req
}

func newAnthropicAdapter(server *httptest.Server) *Adapter {
	return NewAdapter(Config{
		AnthropicBaseURL: server.URL,
		HTTPClient:       server.Client(),
	}, nil)
}

func TestMessagesBackendComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak-test", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		var payload messagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "claude-3-5-haiku-latest", payload.Model)
		assert.Contains(t, payload.System, "expert code reviewer")
		require.Len(t, payload.Messages, 1)
		assert.Equal(t, "user", payload.Messages[0].Role)
		assert.False(t, payload.Stream)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"Looks fine."}],"usage":{"input_tokens":10,"output_tokens":3}}`))
	}))
	defer server.Close()

	result := newAnthropicAdapter(server).Send(context.Background(), anthropicRequest(), SendOptions{})

	require.True(t, result.Success, result.Error)
	assert.Equal(t, "Looks fine.", result.Text)
	assert.Equal(t, "claude-3-5-haiku-latest", result.Model)
	require.NotNil(t, result.Usage)
	assert.Equal(t, 13, result.Usage.TotalTokens)
}

func TestMessagesBackendStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":7}}}\n\n")
		fmt.Fprint(w, "event: ping\ndata: {\"type\":\"ping\"}\n\n")
		for _, delta := range []string{"Looks ", "fine."} {
			fmt.Fprintf(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":%q}}\n\n", delta)
		}
		fmt.Fprint(w, "event: message_delta\ndata: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":2}}\n\n")
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	}))
	defer server.Close()

	var accumulated []string
	result := newAnthropicAdapter(server).Send(context.Background(), anthropicRequest(), SendOptions{
		OnChunk: func(_, acc string) { accumulated = append(accumulated, acc) },
	})

	require.True(t, result.Success, result.Error)
	assert.Equal(t, []string{"Looks ", "Looks fine."}, accumulated)
	assert.Equal(t, "Looks fine.", result.Text)
	assert.Equal(t, 9, result.Usage.TotalTokens)
}

func TestMessagesBackendErrors(t *testing.T) {
	cases := map[int]ErrorKind{
		http.StatusUnauthorized:       ErrorAuth,
		http.StatusForbidden:          ErrorAuth,
		http.StatusTooManyRequests:    ErrorRateLimit,
		http.StatusBadRequest:         ErrorProvider,
		http.StatusServiceUnavailable: ErrorProvider,
	}
	for status, kind := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad things"}}`))
		}))

		result := newAnthropicAdapter(server).Send(context.Background(), anthropicRequest(), SendOptions{})
		assert.False(t, result.Success)
		assert.Equal(t, kind, result.ErrorKind, "status %d", status)
		if kind == ErrorProvider {
			assert.Equal(t, fmt.Sprintf("API error: %d (bad things)", status), result.Error)
		}
		server.Close()
	}
}

func TestMessagesBackendStreamErrorEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n")
	}))
	defer server.Close()

	result := newAnthropicAdapter(server).Send(context.Background(), anthropicRequest(), SendOptions{
		OnChunk: func(string, string) {},
	})
	assert.False(t, result.Success)
	assert.Equal(t, ErrorProvider, result.ErrorKind)
	assert.Contains(t, result.Error, "Overloaded")
}

func TestMessagesBackendMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	result := newAnthropicAdapter(server).Send(context.Background(), anthropicRequest(), SendOptions{})
	assert.False(t, result.Success)
	assert.Equal(t, ErrorProvider, result.ErrorKind)
}
