package threads

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xaenox/codereview-threads/internal/classifier"
	"github.com/xaenox/codereview-threads/internal/models"
	"github.com/xaenox/codereview-threads/internal/storage"
)

var ErrInvalidRange = errors.New("invalid line range")

const saveTimeout = 5 * time.Second

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithClassifier replaces the language detector used by SetDocument.
func WithClassifier(c classifier.Classifier) Option {
	return func(s *Store) {
		s.languages = c
	}
}

// WithRandSeed fixes the colour picker for reproducible output.
func WithRandSeed(seed int64) Option {
	return func(s *Store) {
		s.rnd = rand.New(rand.NewSource(seed))
	}
}

// Store owns every thread of the session, the active-thread pointer, the AI
// settings and the document under review. Every mutation is written through
// to the storage backend.
type Store struct {
	mu       sync.RWMutex
	threads  []models.Thread
	activeID string
	settings models.AISettings
	document Document

	storage   storage.Storage
	languages classifier.Classifier
	logger    *zap.Logger
	now       func() time.Time
	rnd       *rand.Rand
}

// Document is the text under review.
type Document struct {
	Text     string `json:"text"`
	Name     string `json:"name,omitempty"`
	Language string `json:"language"`
}

func NewStore(backend storage.Storage, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if backend == nil {
		backend = storage.NewMemoryStorage()
	}
	empty := models.EmptySnapshot()
	s := &Store{
		threads:   []models.Thread{},
		settings:  empty.AISettings,
		document:  Document{Language: empty.DocumentLanguage},
		storage:   backend,
		languages: classifier.NewDefaultClassifier(),
		logger:    logger,
		now:       time.Now,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the in-memory state with what the backend holds.
func (s *Store) Load(ctx context.Context) error {
	snapshot, err := s.storage.Load(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.threads = snapshot.Clone().Threads
	s.settings = snapshot.AISettings.Clone()
	s.document = Document{
		Text:     snapshot.DocumentText,
		Name:     snapshot.DocumentName,
		Language: snapshot.DocumentLanguage,
	}
	s.activeID = ""
	if s.indexLocked(snapshot.ActiveThreadID) >= 0 {
		s.activeID = snapshot.ActiveThreadID
	}
	s.logger.Info("Loaded review session",
		zap.Int("threads", len(s.threads)),
		zap.String("provider", string(s.settings.Provider)))
	return nil
}

// CreateThread validates the range, stamps the thread and makes it active.
func (s *Store) CreateThread(in models.NewThread) (models.Thread, error) {
	if !(models.Selection{StartLine: in.StartLine, EndLine: in.EndLine}).Valid() {
		return models.Thread{}, ErrInvalidRange
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	thread := models.Thread{
		ID:         uuid.New().String(),
		StartLine:  in.StartLine,
		EndLine:    in.EndLine,
		AnchorText: in.AnchorText,
		Messages:   make([]models.Message, 0, len(in.InitialMessages)),
		Status:     models.StatusActive,
		ColorTag:   in.ColorTag,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if thread.ColorTag == "" {
		thread.ColorTag = models.ThreadColors[s.rnd.Intn(len(models.ThreadColors))]
	}
	for _, m := range in.InitialMessages {
		thread.Messages = append(thread.Messages, newMessage(m, now))
	}

	s.threads = append(s.threads, thread)
	s.activeID = thread.ID
	s.persistLocked()

	s.logger.Debug("Thread created",
		zap.String("thread_id", thread.ID),
		zap.Int("start_line", thread.StartLine),
		zap.Int("end_line", thread.EndLine))
	return thread.Clone(), nil
}

// AppendMessage adds a message to the thread. A missing thread is a silent
// no-op reported only through the boolean.
func (s *Store) AppendMessage(threadID string, in models.NewMessage) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(threadID)
	if i < 0 {
		s.logger.Debug("Append to unknown thread ignored", zap.String("thread_id", threadID))
		return models.Message{}, false
	}

	t := &s.threads[i]
	now := s.touch(t)
	msg := newMessage(in, now)
	t.Messages = append(t.Messages, msg)
	s.persistLocked()
	return msg, true
}

// RemoveThread deletes the thread and clears the active pointer if it
// pointed there. Removing an unknown id does nothing.
func (s *Store) RemoveThread(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(threadID)
	if i < 0 {
		return
	}
	s.threads = append(s.threads[:i], s.threads[i+1:]...)
	if s.activeID == threadID {
		s.activeID = ""
	}
	s.persistLocked()
}

// UpdateThread applies the non-nil fields of patch.
func (s *Store) UpdateThread(threadID string, patch models.ThreadPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(threadID)
	if i < 0 {
		return
	}
	t := &s.threads[i]
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.ColorTag != nil {
		t.ColorTag = *patch.ColorTag
	}
	s.touch(t)
	s.persistLocked()
}

// FindThreadsOverlapping returns threads whose range intersects
// [startLine, endLine], ordered by start line and then creation order.
func (s *Store) FindThreadsOverlapping(startLine, endLine int) []models.Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Thread
	for _, t := range s.threads {
		if t.Overlaps(startLine, endLine) {
			out = append(out, t.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartLine < out[j].StartLine
	})
	return out
}

func (s *Store) Thread(threadID string) (models.Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexLocked(threadID)
	if i < 0 {
		return models.Thread{}, false
	}
	return s.threads[i].Clone(), true
}

// Threads returns every thread in creation order.
func (s *Store) Threads() []models.Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Thread, len(s.threads))
	for i, t := range s.threads {
		out[i] = t.Clone()
	}
	return out
}

// SetActiveThread ignores ids that do not exist.
func (s *Store) SetActiveThread(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(threadID) < 0 || s.activeID == threadID {
		return
	}
	s.activeID = threadID
	s.persistLocked()
}

func (s *Store) ClearActiveThread() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeID == "" {
		return
	}
	s.activeID = ""
	s.persistLocked()
}

func (s *Store) ActiveThread() (models.Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexLocked(s.activeID)
	if i < 0 {
		return models.Thread{}, false
	}
	return s.threads[i].Clone(), true
}

// NavigateThreads moves the active pointer to the next (or previous) thread
// by start line, clamping at either end. With no active thread it jumps to
// the first (or last) one.
func (s *Store) NavigateThreads(forward bool) (models.Thread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.threads) == 0 {
		return models.Thread{}, false
	}
	sorted := make([]models.Thread, len(s.threads))
	copy(sorted, s.threads)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartLine < sorted[j].StartLine
	})

	current := -1
	for i, t := range sorted {
		if t.ID == s.activeID {
			current = i
			break
		}
	}

	var next int
	switch {
	case current < 0 && forward:
		next = 0
	case current < 0:
		next = len(sorted) - 1
	case forward:
		next = min(len(sorted)-1, current+1)
	default:
		next = max(0, current-1)
	}

	target := sorted[next]
	if target.ID != s.activeID {
		s.activeID = target.ID
		s.persistLocked()
	}
	return target.Clone(), true
}

func (s *Store) Settings() models.AISettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Clone()
}

func (s *Store) SetProvider(provider models.ProviderID) {
	s.UpdateSettings(func(settings *models.AISettings) {
		settings.Provider = provider
	})
}

func (s *Store) SetModel(model string) {
	s.UpdateSettings(func(settings *models.AISettings) {
		settings.Model = model
	})
}

func (s *Store) SetAPIKey(provider models.ProviderID, key string) {
	s.UpdateSettings(func(settings *models.AISettings) {
		if settings.APIKeys == nil {
			settings.APIKeys = map[models.ProviderID]string{}
		}
		settings.APIKeys[provider] = strings.TrimSpace(key)
	})
}

// UpdateSettings applies fn to a copy of the settings and stores the result.
func (s *Store) UpdateSettings(fn func(*models.AISettings)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := s.settings.Clone()
	fn(&updated)
	s.settings = updated
	s.persistLocked()
}

// SetDocument replaces the document. An empty language is inferred from the
// file name or content.
func (s *Store) SetDocument(text, name, language string) {
	if language == "" {
		language = s.languages.ClassifyContent(name, text)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.document = Document{Text: text, Name: name, Language: language}
	s.persistLocked()
}

func (s *Store) Document() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.document
}

// Snapshot returns a deep copy of the persisted state.
func (s *Store) Snapshot() models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() models.Snapshot {
	snapshot := models.Snapshot{
		Threads:          s.threads,
		ActiveThreadID:   s.activeID,
		AISettings:       s.settings,
		DocumentText:     s.document.Text,
		DocumentLanguage: s.document.Language,
		DocumentName:     s.document.Name,
	}
	return snapshot.Clone()
}

func (s *Store) persistLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := s.storage.Save(ctx, s.snapshotLocked()); err != nil {
		s.logger.Error("Failed to save review session", zap.Error(err))
	}
}

func (s *Store) indexLocked(threadID string) int {
	if threadID == "" {
		return -1
	}
	for i, t := range s.threads {
		if t.ID == threadID {
			return i
		}
	}
	return -1
}

// touch stamps t as updated and returns the stamp, never moving UpdatedAt
// backwards.
func (s *Store) touch(t *models.Thread) time.Time {
	now := s.now()
	if now.Before(t.UpdatedAt) {
		now = t.UpdatedAt
	}
	t.UpdatedAt = now
	return now
}

func newMessage(in models.NewMessage, at time.Time) models.Message {
	return models.Message{
		ID:        uuid.New().String(),
		Content:   in.Content,
		Role:      in.Role,
		Timestamp: at,
	}
}
