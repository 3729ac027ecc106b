package provider

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xaenox/codereview-threads/internal/models"
)

const DefaultTimeout = 30 * time.Second

// Config tunes the adapter and the backends it builds.
type Config struct {
	Timeout          time.Duration
	OpenAIBaseURL    string
	AnthropicBaseURL string
	HTTPClient       *http.Client

	// RequestsPerSecond throttles each remote provider; zero disables it.
	RequestsPerSecond float64
	Burst             int

	MockMinLatency time.Duration
	MockMaxLatency time.Duration
	MockChunkDelay time.Duration
	MockSeed       int64

	Keys KeySource
}

type Option func(*Adapter)

// WithBackend replaces the backend serving kind.
func WithBackend(kind Kind, backend Backend) Option {
	return func(a *Adapter) {
		a.backends[kind] = backend
	}
}

// Adapter sends a request to whichever provider the settings name and
// normalizes the outcome into a Result.
type Adapter struct {
	backends map[Kind]Backend
	limiters map[models.ProviderID]*rate.Limiter
	timeout  time.Duration
	keys     KeySource
	logger   *zap.Logger
}

func NewAdapter(cfg Config, logger *zap.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// The adapter enforces the deadline through the request context.
		httpClient = &http.Client{}
	}

	a := &Adapter{
		backends: map[Kind]Backend{
			KindMock:          NewMockBackend(cfg.MockMinLatency, cfg.MockMaxLatency, cfg.MockChunkDelay, cfg.MockSeed),
			KindChatStyle:     NewChatBackend(cfg.OpenAIBaseURL, httpClient),
			KindMessagesStyle: NewMessagesBackend(cfg.AnthropicBaseURL, httpClient),
		},
		limiters: map[models.ProviderID]*rate.Limiter{},
		timeout:  cfg.Timeout,
		keys:     cfg.Keys,
		logger:   logger,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		for _, d := range catalogue {
			if d.Kind == KindMock {
				continue
			}
			a.limiters[d.ID] = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
		}
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// resolveKey prefers the key in settings and falls back to the key source.
func (a *Adapter) resolveKey(d Descriptor, settings models.AISettings) string {
	if key := strings.TrimSpace(settings.APIKey(d.ID)); key != "" {
		return key
	}
	if a.keys == nil {
		return ""
	}
	key, err := a.keys.APIKey(d.ID)
	if err != nil {
		a.logger.Debug("No fallback API key", zap.String("provider", string(d.ID)), zap.Error(err))
		return ""
	}
	return strings.TrimSpace(key)
}

// prepare resolves everything needed to dispatch or returns the reason it cannot.
func (a *Adapter) prepare(settings models.AISettings) (Descriptor, Backend, string, string, *Error) {
	d, ok := Lookup(settings.Provider)
	if !ok {
		return Descriptor{}, nil, "", settings.Model, configError("Unknown AI provider %q", settings.Provider)
	}
	model := d.ResolveModel(settings.Model)
	key := a.resolveKey(d, settings)
	if d.RequiresKey && key == "" {
		return d, nil, "", model, configError("No API key configured for %s", d.Name)
	}
	backend := a.backends[d.Kind]
	if backend == nil {
		return d, nil, "", model, configError("%s is not available", d.Name)
	}
	if lim := a.limiters[d.ID]; lim != nil && !lim.Allow() {
		return d, nil, "", model, rateLimitError(0)
	}
	return d, backend, key, model, nil
}

// Send performs exactly one logical AI call. Expected failures come back as
// a Result with Success false, never as a panic or error.
func (a *Adapter) Send(ctx context.Context, req Request, opts SendOptions) Result {
	d, backend, key, model, perr := a.prepare(req.Settings)
	if perr != nil {
		a.logger.Warn("AI request rejected",
			zap.String("provider", string(req.Settings.Provider)),
			zap.String("kind", string(perr.Kind)),
			zap.String("error", perr.Error()))
		return Failure(req.Settings.Provider, model, perr)
	}

	call := Call{
		APIKey:    key,
		Model:     model,
		Messages:  BuildMessages(req),
		Selection: req.Selection,
	}
	completion, err := a.dispatch(ctx, backend, call, opts.OnChunk)
	if err != nil {
		a.logger.Error("AI request failed",
			zap.String("provider", string(d.ID)),
			zap.String("model", model),
			zap.String("kind", string(err.Kind)),
			zap.Int("status", err.Status),
			zap.Error(err))
		return Failure(d.ID, model, err)
	}

	return Result{
		Success:    true,
		Text:       completion.Text,
		Usage:      completion.Usage,
		Provider:   d.ID,
		Model:      model,
		Mock:       completion.Mock,
		Confidence: completion.Confidence,
	}
}

func (a *Adapter) dispatch(ctx context.Context, backend Backend, call Call, onChunk ChunkFunc) (Completion, *Error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var (
		completion Completion
		err        error
	)
	if onChunk != nil {
		var acc strings.Builder
		completion, err = backend.Stream(ctx, call, func(delta string) {
			if delta == "" {
				return
			}
			acc.WriteString(delta)
			onChunk(delta, acc.String())
		})
	} else {
		completion, err = backend.Complete(ctx, call)
	}
	if err != nil {
		return Completion{}, normalize(ctx, err)
	}
	return completion, nil
}

// ConnectionStatus is the outcome of TestConnection.
type ConnectionStatus struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// TestConnection sends a minimal request to the configured provider.
func (a *Adapter) TestConnection(ctx context.Context, settings models.AISettings) ConnectionStatus {
	d, backend, key, model, perr := a.prepare(settings)
	if perr != nil {
		if perr.Kind == ErrorConfig && d.RequiresKey {
			return ConnectionStatus{Message: "Please enter an API key first"}
		}
		return ConnectionStatus{Message: perr.Error()}
	}
	call := Call{
		APIKey: key,
		Model:  model,
		Messages: []ChatMessage{
			{Role: "user", Content: "Reply with OK."},
		},
	}
	if _, err := a.dispatch(ctx, backend, call, nil); err != nil {
		return ConnectionStatus{Message: err.Error()}
	}
	return ConnectionStatus{Success: true, Message: "Connected to " + d.Name + " (" + model + ")"}
}
