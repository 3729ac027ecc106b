package provider

import (
	"context"

	"github.com/xaenox/codereview-threads/internal/models"
)

// Kind is the request/response shape a provider speaks.
type Kind int

const (
	KindMock Kind = iota
	KindChatStyle
	KindMessagesStyle
)

func (k Kind) String() string {
	switch k {
	case KindMock:
		return "mock"
	case KindChatStyle:
		return "chat"
	case KindMessagesStyle:
		return "messages"
	default:
		return "unknown"
	}
}

type Model struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Descriptor is one row of the provider capability table.
type Descriptor struct {
	ID          models.ProviderID `json:"id"`
	Name        string            `json:"name"`
	Kind        Kind              `json:"kind"`
	Models      []Model           `json:"models"`
	RequiresKey bool              `json:"requires_key"`
}

var catalogue = []Descriptor{
	{
		ID:   models.ProviderMock,
		Name: "Mock (Demo)",
		Kind: KindMock,
		Models: []Model{
			{ID: "mock-reviewer", Name: "Mock Reviewer"},
		},
	},
	{
		ID:          models.ProviderOpenAI,
		Name:        "OpenAI",
		Kind:        KindChatStyle,
		RequiresKey: true,
		Models: []Model{
			{ID: "gpt-4o-mini", Name: "GPT-4o Mini"},
			{ID: "gpt-4o", Name: "GPT-4o"},
			{ID: "gpt-4.1-mini", Name: "GPT-4.1 Mini"},
		},
	},
	{
		ID:          models.ProviderAnthropic,
		Name:        "Anthropic",
		Kind:        KindMessagesStyle,
		RequiresKey: true,
		Models: []Model{
			{ID: "claude-3-5-haiku-latest", Name: "Claude 3.5 Haiku"},
			{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4"},
		},
	},
}

// Catalogue returns every known provider in display order.
func Catalogue() []Descriptor {
	out := make([]Descriptor, len(catalogue))
	copy(out, catalogue)
	return out
}

func Lookup(id models.ProviderID) (Descriptor, bool) {
	for _, d := range catalogue {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}

// DefaultModel is the first model listed for the provider.
func (d Descriptor) DefaultModel() string {
	if len(d.Models) == 0 {
		return ""
	}
	return d.Models[0].ID
}

// ResolveModel picks the model to send. A model that is empty or listed under
// another provider falls back to the provider's default; unlisted names pass
// through so newer models work without a catalogue change.
func (d Descriptor) ResolveModel(model string) string {
	if model == "" {
		return d.DefaultModel()
	}
	for _, other := range catalogue {
		if other.ID == d.ID {
			continue
		}
		for _, m := range other.Models {
			if m.ID == model {
				return d.DefaultModel()
			}
		}
	}
	return model
}

// Request is one logical question about a selection.
type Request struct {
	Selection models.Selection
	FullText  string
	Question  string
	History   []models.Message
	Settings  models.AISettings
}

// ChunkFunc receives each streamed delta together with the text so far.
type ChunkFunc func(chunk, accumulated string)

// SendOptions selects streaming: a non-nil OnChunk streams.
type SendOptions struct {
	OnChunk ChunkFunc
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is what callers get back for every query, successful or not.
type Result struct {
	Success    bool              `json:"success"`
	Text       string            `json:"text,omitempty"`
	Usage      *Usage            `json:"usage,omitempty"`
	Provider   models.ProviderID `json:"provider"`
	Model      string            `json:"model"`
	Cached     bool              `json:"cached,omitempty"`
	Mock       bool              `json:"mock,omitempty"`
	Confidence float64           `json:"confidence,omitempty"`
	Error      string            `json:"error,omitempty"`
	ErrorKind  ErrorKind         `json:"error_kind,omitempty"`
}

// Failure builds an unsuccessful result from a normalized error.
func Failure(provider models.ProviderID, model string, err *Error) Result {
	return Result{
		Success:   false,
		Provider:  provider,
		Model:     model,
		Error:     err.Error(),
		ErrorKind: err.Kind,
	}
}

// ChatMessage is a provider-neutral conversation turn. Role is one of
// "system", "user" or "assistant".
type ChatMessage struct {
	Role    string
	Content string
}

// Call is the resolved input handed to a backend.
type Call struct {
	APIKey    string
	Model     string
	Messages  []ChatMessage
	Selection models.Selection
}

// Completion is a backend's successful answer.
type Completion struct {
	Text       string
	Usage      *Usage
	Confidence float64
	Mock       bool
}

// Backend speaks one provider Kind.
type Backend interface {
	Complete(ctx context.Context, call Call) (Completion, error)
	Stream(ctx context.Context, call Call, onDelta func(delta string)) (Completion, error)
}

// KeySource supplies API keys when the settings do not carry one.
type KeySource interface {
	APIKey(provider models.ProviderID) (string, error)
}
