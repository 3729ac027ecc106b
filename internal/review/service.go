package review

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xaenox/codereview-threads/internal/models"
	"github.com/xaenox/codereview-threads/internal/pipeline"
	"github.com/xaenox/codereview-threads/internal/provider"
	"github.com/xaenox/codereview-threads/internal/threads"
)

var (
	ErrEmptySelection = errors.New("select code to ask about")
	ErrEmptyQuestion  = errors.New("add a question before sending")
	ErrThreadNotFound = errors.New("thread not found")
	ErrThreadBusy     = errors.New("thread is waiting for an answer")
)

// Querier runs one AI query. *pipeline.Pipeline satisfies it.
type Querier interface {
	Query(ctx context.Context, in pipeline.QueryInput) provider.Result
	QueryStreaming(ctx context.Context, in pipeline.QueryInput, onChunk provider.ChunkFunc) provider.Result
}

// Outcome is what Ask and Reply hand back to the front end.
type Outcome struct {
	Thread models.Thread
	Answer models.Message
	Result provider.Result
}

// Service runs question/answer turns against the thread store.
type Service struct {
	store   *threads.Store
	querier Querier
	logger  *zap.Logger

	mu      sync.Mutex
	loading map[string]struct{}
}

func NewService(store *threads.Store, querier Querier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		querier: querier,
		logger:  logger,
		loading: make(map[string]struct{}),
	}
}

// Ask opens a thread on sel with question as its first message and answers it.
func (s *Service) Ask(ctx context.Context, sel models.Selection, question string, onChunk provider.ChunkFunc) (Outcome, error) {
	if sel.IsEmpty {
		return Outcome{}, ErrEmptySelection
	}
	if strings.TrimSpace(question) == "" {
		return Outcome{}, ErrEmptyQuestion
	}

	thread, err := s.store.CreateThread(models.NewThread{
		StartLine:  sel.StartLine,
		EndLine:    sel.EndLine,
		AnchorText: sel.Text,
		InitialMessages: []models.NewMessage{
			{Content: question, Role: models.RoleUser},
		},
	})
	if err != nil {
		return Outcome{}, err
	}
	if !s.acquire(thread.ID) {
		return Outcome{}, ErrThreadBusy
	}
	defer s.release(thread.ID)

	s.logger.Info("Asking about selection",
		zap.String("thread_id", thread.ID),
		zap.Int("start_line", sel.StartLine),
		zap.Int("end_line", sel.EndLine))

	return s.answer(ctx, thread.ID, sel, question, nil, onChunk)
}

// Reply continues threadID with question, sending earlier messages as history.
func (s *Service) Reply(ctx context.Context, threadID, question string, onChunk provider.ChunkFunc) (Outcome, error) {
	if strings.TrimSpace(question) == "" {
		return Outcome{}, ErrEmptyQuestion
	}
	if _, ok := s.store.Thread(threadID); !ok {
		return Outcome{}, ErrThreadNotFound
	}
	if !s.acquire(threadID) {
		return Outcome{}, ErrThreadBusy
	}
	defer s.release(threadID)

	thread, ok := s.store.Thread(threadID)
	if !ok {
		return Outcome{}, ErrThreadNotFound
	}
	history := thread.Messages
	if _, ok := s.store.AppendMessage(threadID, models.NewMessage{Content: question, Role: models.RoleUser}); !ok {
		return Outcome{}, ErrThreadNotFound
	}

	sel := models.NewSelection(thread.StartLine, thread.EndLine, thread.AnchorText)
	s.logger.Info("Replying in thread", zap.String("thread_id", threadID), zap.Int("history", len(history)))

	return s.answer(ctx, threadID, sel, question, history, onChunk)
}

func (s *Service) answer(ctx context.Context, threadID string, sel models.Selection, question string, history []models.Message, onChunk provider.ChunkFunc) (Outcome, error) {
	doc := s.store.Document()
	in := pipeline.QueryInput{
		Selection: sel,
		FullText:  doc.Text,
		Question:  question,
		Settings:  s.store.Settings(),
		History:   history,
	}

	var result provider.Result
	if onChunk != nil {
		result = s.querier.QueryStreaming(ctx, in, onChunk)
	} else {
		result = s.querier.Query(ctx, in)
	}
	if !result.Success {
		s.logger.Warn("AI answer failed",
			zap.String("thread_id", threadID),
			zap.String("kind", string(result.ErrorKind)),
			zap.String("error", result.Error))
	}

	// The thread may have been deleted while the query ran.
	answer, ok := s.store.AppendMessage(threadID, models.NewMessage{Content: FormatResult(result), Role: models.RoleAI})
	if !ok {
		return Outcome{Result: result}, ErrThreadNotFound
	}
	thread, _ := s.store.Thread(threadID)
	return Outcome{Thread: thread, Answer: answer, Result: result}, nil
}

// Loading reports whether threadID has a query in flight.
func (s *Service) Loading(threadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.loading[threadID]
	return busy
}

// AnyLoading reports whether any query is in flight.
func (s *Service) AnyLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loading) > 0
}

func (s *Service) acquire(threadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.loading[threadID]; busy {
		return false
	}
	s.loading[threadID] = struct{}{}
	return true
}

func (s *Service) release(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.loading, threadID)
}

// FormatResult renders a result as the text stored in the thread.
func FormatResult(result provider.Result) string {
	if !result.Success {
		return "Error: " + result.Error
	}
	return result.Text
}
