package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/xaenox/codereview-threads/internal/cache"
	"github.com/xaenox/codereview-threads/internal/models"
	"github.com/xaenox/codereview-threads/internal/provider"
)

// Sender performs one provider call. *provider.Adapter satisfies it.
type Sender interface {
	Send(ctx context.Context, req provider.Request, opts provider.SendOptions) provider.Result
}

// QueryInput is everything a single question about a selection needs.
type QueryInput struct {
	Selection models.Selection
	FullText  string
	Question  string
	Settings  models.AISettings
	History   []models.Message
}

// Pipeline validates a query, consults the cache and dispatches to the
// provider. It holds no per-query state.
type Pipeline struct {
	sender Sender
	cache  *cache.ResponseCache
	logger *zap.Logger
}

func New(sender Sender, responses *cache.ResponseCache, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if responses == nil {
		responses = cache.New()
	}
	return &Pipeline{
		sender: sender,
		cache:  responses,
		logger: logger,
	}
}

func (p *Pipeline) Query(ctx context.Context, in QueryInput) provider.Result {
	return p.run(ctx, in, nil)
}

// QueryStreaming is Query with incremental delivery. onChunk is called on the
// calling goroutine in arrival order and never for a cached answer.
func (p *Pipeline) QueryStreaming(ctx context.Context, in QueryInput, onChunk provider.ChunkFunc) provider.Result {
	return p.run(ctx, in, onChunk)
}

func (p *Pipeline) run(ctx context.Context, in QueryInput, onChunk provider.ChunkFunc) provider.Result {
	if in.Selection.IsEmpty {
		return provider.Failure(in.Settings.Provider, in.Settings.Model, provider.InvalidRequest("No code selected"))
	}

	key := p.cache.Key(in.Selection)
	if cached, ok := p.cache.Get(key); ok {
		p.logger.Debug("Answer served from cache",
			zap.Int("start_line", in.Selection.StartLine),
			zap.Int("end_line", in.Selection.EndLine))
		cached.Cached = true
		return cached
	}

	p.logger.Debug("Dispatching AI query",
		zap.String("provider", string(in.Settings.Provider)),
		zap.Int("start_line", in.Selection.StartLine),
		zap.Int("end_line", in.Selection.EndLine),
		zap.Bool("streaming", onChunk != nil))

	result := p.sender.Send(ctx, provider.Request{
		Selection: in.Selection,
		FullText:  in.FullText,
		Question:  in.Question,
		History:   in.History,
		Settings:  in.Settings,
	}, provider.SendOptions{OnChunk: onChunk})

	if !result.Success {
		p.logger.Info("AI query failed",
			zap.String("provider", string(result.Provider)),
			zap.String("kind", string(result.ErrorKind)),
			zap.String("error", result.Error))
		return result
	}

	result.Cached = false
	p.cache.Put(key, result)
	return result
}
