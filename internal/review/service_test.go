package review

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaenox/codereview-threads/internal/cache"
	"github.com/xaenox/codereview-threads/internal/models"
	"github.com/xaenox/codereview-threads/internal/pipeline"
	"github.com/xaenox/codereview-threads/internal/provider"
	"github.com/xaenox/codereview-threads/internal/threads"
)

const document = "const a = 1\nconst b = 2\nfunction foo() {\n  return a + b\n}\n"

func newService(t *testing.T) (*Service, *threads.Store) {
	t.Helper()
	store := threads.NewStore(nil, nil)
	store.SetDocument(document, "foo.js", "")
	p := pipeline.New(provider.NewAdapter(provider.Config{}, nil), cache.New(), nil)
	return NewService(store, p, nil), store
}

// gatedQuerier blocks every query until release is closed.
type gatedQuerier struct {
	started chan pipeline.QueryInput
	release chan struct{}
}

func newGatedQuerier() *gatedQuerier {
	return &gatedQuerier{started: make(chan pipeline.QueryInput, 4), release: make(chan struct{})}
}

func (g *gatedQuerier) Query(ctx context.Context, in pipeline.QueryInput) provider.Result {
	g.started <- in
	<-g.release
	return provider.Result{Success: true, Text: "done", Provider: models.ProviderMock}
}

func (g *gatedQuerier) QueryStreaming(ctx context.Context, in pipeline.QueryInput, onChunk provider.ChunkFunc) provider.Result {
	return g.Query(ctx, in)
}

// recordingQuerier answers immediately and remembers its inputs.
type recordingQuerier struct {
	inputs []pipeline.QueryInput
	result provider.Result
}

func (r *recordingQuerier) Query(ctx context.Context, in pipeline.QueryInput) provider.Result {
	r.inputs = append(r.inputs, in)
	return r.result
}

func (r *recordingQuerier) QueryStreaming(ctx context.Context, in pipeline.QueryInput, onChunk provider.ChunkFunc) provider.Result {
	onChunk(r.result.Text, r.result.Text)
	return r.Query(ctx, in)
}

func TestAskCreatesThreadWithAnswer(t *testing.T) {
	svc, store := newService(t)
	sel := models.SelectLines(document, 3, 5)

	var chunks []string
	out, err := svc.Ask(context.Background(), sel, "What does foo do?", func(chunk, _ string) {
		chunks = append(chunks, chunk)
	})
	require.NoError(t, err)

	require.True(t, out.Result.Success, out.Result.Error)
	assert.Equal(t, out.Result.Text, strings.Join(chunks, ""))
	require.Len(t, out.Thread.Messages, 2)
	assert.Equal(t, models.RoleUser, out.Thread.Messages[0].Role)
	assert.Equal(t, "What does foo do?", out.Thread.Messages[0].Content)
	assert.Equal(t, models.RoleAI, out.Thread.Messages[1].Role)
	assert.Equal(t, out.Result.Text, out.Answer.Content)
	assert.Equal(t, sel.Text, out.Thread.AnchorText)

	active, ok := store.ActiveThread()
	require.True(t, ok)
	assert.Equal(t, out.Thread.ID, active.ID)
	assert.False(t, svc.Loading(out.Thread.ID))
}

func TestAskValidatesInput(t *testing.T) {
	svc, store := newService(t)

	_, err := svc.Ask(context.Background(), models.NewSelection(1, 1, "  "), "why?", nil)
	assert.ErrorIs(t, err, ErrEmptySelection)

	_, err = svc.Ask(context.Background(), models.SelectLines(document, 1, 1), " \n", nil)
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	assert.Empty(t, store.Threads())
}

func TestAskStoresErrorAnswer(t *testing.T) {
	svc, store := newService(t)
	store.SetProvider(models.ProviderOpenAI)

	out, err := svc.Ask(context.Background(), models.SelectLines(document, 1, 2), "Review this", nil)
	require.NoError(t, err)
	assert.False(t, out.Result.Success)
	assert.Equal(t, "Error: No API key configured for OpenAI", out.Answer.Content)
	assert.Equal(t, models.RoleAI, out.Answer.Role)
}

func TestReplySendsHistory(t *testing.T) {
	store := threads.NewStore(nil, nil)
	store.SetDocument(document, "foo.js", "")
	q := &recordingQuerier{result: provider.Result{Success: true, Text: "answer"}}
	svc := NewService(store, q, nil)

	first, err := svc.Ask(context.Background(), models.SelectLines(document, 3, 5), "What does foo do?", nil)
	require.NoError(t, err)

	out, err := svc.Reply(context.Background(), first.Thread.ID, "And if b is negative?", nil)
	require.NoError(t, err)
	require.Len(t, out.Thread.Messages, 4)
	assert.Equal(t, "And if b is negative?", out.Thread.Messages[2].Content)

	require.Len(t, q.inputs, 2)
	reply := q.inputs[1]
	assert.Equal(t, "And if b is negative?", reply.Question)
	assert.Equal(t, document, reply.FullText)
	assert.Equal(t, 3, reply.Selection.StartLine)
	assert.Equal(t, 5, reply.Selection.EndLine)
	require.Len(t, reply.History, 2)
	assert.Equal(t, "What does foo do?", reply.History[0].Content)
	assert.Equal(t, "answer", reply.History[1].Content)
}

func TestReplyUnknownThread(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Reply(context.Background(), "missing", "hello?", nil)
	assert.ErrorIs(t, err, ErrThreadNotFound)
}

func TestReplyOnBusyThreadIsRejected(t *testing.T) {
	store := threads.NewStore(nil, nil)
	thread, err := store.CreateThread(models.NewThread{StartLine: 1, EndLine: 1, AnchorText: "x"})
	require.NoError(t, err)

	q := newGatedQuerier()
	svc := NewService(store, q, nil)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Reply(context.Background(), thread.ID, "first", nil)
		done <- err
	}()
	<-q.started

	assert.True(t, svc.Loading(thread.ID))
	assert.True(t, svc.AnyLoading())
	_, err = svc.Reply(context.Background(), thread.ID, "second", nil)
	assert.ErrorIs(t, err, ErrThreadBusy)

	close(q.release)
	require.NoError(t, <-done)
	assert.False(t, svc.Loading(thread.ID))

	got, _ := store.Thread(thread.ID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "done", got.Messages[1].Content)
}

func TestThreadDeletedWhileQuerying(t *testing.T) {
	store := threads.NewStore(nil, nil)
	thread, err := store.CreateThread(models.NewThread{StartLine: 1, EndLine: 1, AnchorText: "x"})
	require.NoError(t, err)

	q := newGatedQuerier()
	svc := NewService(store, q, nil)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Reply(context.Background(), thread.ID, "first", nil)
		done <- err
	}()
	<-q.started
	store.RemoveThread(thread.ID)
	close(q.release)

	assert.ErrorIs(t, <-done, ErrThreadNotFound)
	assert.Empty(t, store.Threads())
}

func TestFormatResult(t *testing.T) {
	assert.Equal(t, "ok", FormatResult(provider.Result{Success: true, Text: "ok"}))
	assert.Equal(t, "Error: Invalid API key", FormatResult(provider.Result{Error: "Invalid API key"}))
}
