package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/xaenox/codereview-threads/internal/models"
	"github.com/xaenox/codereview-threads/internal/provider"
	"github.com/xaenox/codereview-threads/internal/review"
	"github.com/xaenox/codereview-threads/internal/threads"
)

// maxDocumentSize caps uploaded source files.
const maxDocumentSize = 1 << 20

// ConnectionTester checks the configured provider answers. *provider.Adapter satisfies it.
type ConnectionTester interface {
	TestConnection(ctx context.Context, settings models.AISettings) provider.ConnectionStatus
}

type Options struct {
	AllowedUsers       []int64
	StreamEditInterval time.Duration
}

type Bot struct {
	api        *tgbotapi.BotAPI
	store      *threads.Store
	review     *review.Service
	tester     ConnectionTester
	httpClient *http.Client
	allowed    map[int64]struct{}
	editEvery  time.Duration
	logger     *zap.Logger

	// listings holds the thread ids each chat's last /threads showed, in order.
	mu       sync.Mutex
	listings map[int64][]string
}

func New(token string, store *threads.Store, svc *review.Service, tester ConnectionTester, opts Options, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return newBot(api, store, svc, tester, opts, logger), nil
}

func newBot(api *tgbotapi.BotAPI, store *threads.Store, svc *review.Service, tester ConnectionTester, opts Options, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}

	allowed := make(map[int64]struct{}, len(opts.AllowedUsers))
	for _, id := range opts.AllowedUsers {
		allowed[id] = struct{}{}
	}
	editEvery := opts.StreamEditInterval
	if editEvery <= 0 {
		editEvery = time.Second
	}

	return &Bot{
		api:        api,
		store:      store,
		review:     svc,
		tester:     tester,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		allowed:    allowed,
		editEvery:  editEvery,
		logger:     logger,
		listings:   make(map[int64][]string),
	}
}

// Start polls for updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("Bot started", zap.String("username", b.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			go b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) authorized(message *tgbotapi.Message) bool {
	if len(b.allowed) == 0 {
		return true
	}
	if message.From == nil {
		return false
	}
	_, ok := b.allowed[message.From.ID]
	return ok
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if !b.authorized(message) {
		b.logger.Warn("Ignoring message from unauthorized user", zap.Int64("chat_id", message.Chat.ID))
		return
	}

	if message.Document != nil {
		b.handleDocument(ctx, message)
		return
	}

	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	// Plain text continues the active thread.
	if text := strings.TrimSpace(message.Text); text != "" {
		b.replyActive(ctx, message, text)
	}
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	args := message.CommandArguments()
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "code":
		b.handleCode(message, args)
	case "status":
		b.handleStatus(message)
	case "ask":
		b.handleAsk(ctx, message, args)
	case "reply":
		b.replyActive(ctx, message, args)
	case "threads":
		b.handleThreads(message, args)
	case "open":
		b.handleOpen(message, args)
	case "next":
		b.handleNavigate(message, true)
	case "prev":
		b.handleNavigate(message, false)
	case "resolve":
		b.handleStatusChange(message, models.StatusResolved)
	case "archive":
		b.handleStatusChange(message, models.StatusArchived)
	case "reopen":
		b.handleStatusChange(message, models.StatusActive)
	case "delete":
		b.handleDelete(message)
	case "export":
		b.handleExport(message)
	case "providers":
		b.sendMessage(message.Chat.ID, formatCatalogue(b.store.Settings()))
	case "provider":
		b.handleProvider(message, args)
	case "model":
		b.handleModel(message, args)
	case "key":
		b.handleKey(message, args)
	case "test":
		b.handleTest(ctx, message)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := `Welcome to the code review bot! 🔍
Send me a source file (or /code followed by the code), then ask about any line range.

Example: /ask 3-7 why does this loop never end?
Use /help to see all available commands.`

	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/code <text> - Set the code under review (or upload a file)
/status - Show the document and AI settings
/ask <start>-<end> <question> - Start a thread on a line range
/reply <question> - Continue the active thread (plain text works too)
/threads [start-end] - List threads, optionally only those touching a range
/open <n> - Make thread n from /threads active
/next, /prev - Move between threads by line
/resolve, /archive, /reopen - Change the active thread's status
/delete - Delete the active thread
/export - Export the active thread as Markdown
/providers - List AI providers and models
/provider <id> - Switch provider
/model <id> - Switch model
/key <provider> <secret> - Store an API key
/test - Test the provider connection`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleCode(message *tgbotapi.Message, args string) {
	code := strings.TrimSpace(args)
	if code == "" {
		b.sendErrorMessage(message.Chat.ID, "Send /code followed by the code, or upload a file.")
		return
	}
	b.store.SetDocument(code, "", "")
	doc := b.store.Document()
	b.sendMessage(message.Chat.ID, fmt.Sprintf("Code set: %d lines (%s).", lineCount(doc.Text), doc.Language))
}

func (b *Bot) handleDocument(ctx context.Context, message *tgbotapi.Message) {
	doc := message.Document
	if doc.FileSize > maxDocumentSize {
		b.sendErrorMessage(message.Chat.ID, "That file is too large to review.")
		return
	}

	text, err := b.downloadFile(ctx, doc.FileID)
	if err != nil {
		b.logger.Error("Failed to download document",
			zap.Error(err),
			zap.String("file_name", doc.FileName),
			zap.Int64("chat_id", message.Chat.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't read that file. Please try again.")
		return
	}

	b.store.SetDocument(text, doc.FileName, "")
	current := b.store.Document()
	b.sendMessage(message.Chat.ID, fmt.Sprintf("Loaded %s: %d lines (%s).", doc.FileName, lineCount(text), current.Language))
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) (string, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("resolving file url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading file: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}
	if len(data) > maxDocumentSize {
		return "", errors.New("file too large")
	}
	return string(data), nil
}

func (b *Bot) handleStatus(message *tgbotapi.Message) {
	doc := b.store.Document()
	settings := b.store.Settings()
	name := doc.Name
	if name == "" {
		name = "untitled"
	}

	text := fmt.Sprintf("Document: %s (%s, %d lines)\nProvider: %s\nModel: %s\nThreads: %d",
		name, doc.Language, lineCount(doc.Text), settings.Provider, settings.Model, len(b.store.Threads()))
	if active, ok := b.store.ActiveThread(); ok {
		text += "\nActive thread: " + rangeLabel(active.StartLine, active.EndLine)
	}
	b.sendMessage(message.Chat.ID, text)
}

func (b *Bot) handleAsk(ctx context.Context, message *tgbotapi.Message, args string) {
	start, end, question, err := parseAskArgs(args)
	if err != nil {
		b.sendErrorMessage(message.Chat.ID, "Usage: /ask <start>-<end> <question> ("+err.Error()+")")
		return
	}

	doc := b.store.Document()
	sel := models.SelectLines(doc.Text, start, end)
	if sel.IsEmpty {
		b.sendErrorMessage(message.Chat.ID, "Select code to ask about: those lines are empty. Send a file or /code first.")
		return
	}
	if question == "" {
		b.sendErrorMessage(message.Chat.ID, "Add a question before sending.")
		return
	}

	placeholder, stream := b.streamer(message.Chat.ID)
	out, err := b.review.Ask(ctx, sel, question, stream)
	b.finishAnswer(message.Chat.ID, placeholder, out, err)
}

func (b *Bot) replyActive(ctx context.Context, message *tgbotapi.Message, question string) {
	thread, ok := b.store.ActiveThread()
	if !ok {
		b.sendErrorMessage(message.Chat.ID, "No active thread. Use /ask or /open first.")
		return
	}
	if strings.TrimSpace(question) == "" {
		b.sendErrorMessage(message.Chat.ID, "Add a question before sending.")
		return
	}

	placeholder, stream := b.streamer(message.Chat.ID)
	out, err := b.review.Reply(ctx, thread.ID, question, stream)
	b.finishAnswer(message.Chat.ID, placeholder, out, err)
}

// streamer posts a placeholder and returns a chunk callback that edits it,
// at most once per edit interval.
func (b *Bot) streamer(chatID int64) (int, provider.ChunkFunc) {
	sent, err := b.api.Send(tgbotapi.NewMessage(chatID, "🤔 Thinking..."))
	if err != nil {
		b.logger.Error("Failed to send placeholder", zap.Error(err), zap.Int64("chat_id", chatID))
		return 0, nil
	}

	var last time.Time
	return sent.MessageID, func(_, accumulated string) {
		if time.Since(last) < b.editEvery {
			return
		}
		last = time.Now()
		b.editMessage(chatID, sent.MessageID, truncate(accumulated+" ▌", maxMessageLength))
	}
}

func (b *Bot) finishAnswer(chatID int64, placeholder int, out review.Outcome, err error) {
	var text string
	switch {
	case errors.Is(err, review.ErrThreadBusy):
		text = "⚠️ Still waiting for the previous answer in this thread."
	case err != nil:
		text = "⚠️ " + err.Error()
	default:
		text = formatAnswer(out.Thread, out.Result, out.Answer.Content)
	}

	if placeholder == 0 {
		b.sendMessage(chatID, text)
		return
	}
	b.editMessage(chatID, placeholder, text)
}

func (b *Bot) handleThreads(message *tgbotapi.Message, args string) {
	list := b.store.Threads()
	if strings.TrimSpace(args) != "" {
		start, end, err := parseLineRange(args)
		if err != nil {
			b.sendErrorMessage(message.Chat.ID, err.Error())
			return
		}
		list = b.store.FindThreadsOverlapping(start, end)
	}

	activeID := ""
	if active, ok := b.store.ActiveThread(); ok {
		activeID = active.ID
	}

	b.rememberListing(message.Chat.ID, list)
	msg := tgbotapi.NewMessage(message.Chat.ID, formatThreadList(list, activeID))
	msg.ParseMode = "MarkdownV2"
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send thread list",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
	}
}

// handleOpen activates the n-th thread of the chat's last /threads listing,
// or of the full list when nothing was listed yet.
func (b *Bot) handleOpen(message *tgbotapi.Message, args string) {
	ids := b.listing(message.Chat.ID)
	var n int
	if _, err := fmt.Sscanf(strings.TrimSpace(args), "%d", &n); err != nil || n < 1 || n > len(ids) {
		b.sendErrorMessage(message.Chat.ID, fmt.Sprintf("Pick a thread number between 1 and %d.", len(ids)))
		return
	}
	thread, ok := b.store.Thread(ids[n-1])
	if !ok {
		b.sendErrorMessage(message.Chat.ID, "That thread no longer exists. Use /threads to list them again.")
		return
	}
	b.store.SetActiveThread(thread.ID)
	b.sendMessage(message.Chat.ID, formatThread(thread))
}

func (b *Bot) rememberListing(chatID int64, list []models.Thread) {
	ids := make([]string, len(list))
	for i, t := range list {
		ids[i] = t.ID
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listings[chatID] = ids
}

func (b *Bot) listing(chatID int64) []string {
	b.mu.Lock()
	ids, ok := b.listings[chatID]
	b.mu.Unlock()
	if ok {
		return ids
	}
	all := b.store.Threads()
	ids = make([]string, len(all))
	for i, t := range all {
		ids[i] = t.ID
	}
	return ids
}

func (b *Bot) handleNavigate(message *tgbotapi.Message, forward bool) {
	thread, ok := b.store.NavigateThreads(forward)
	if !ok {
		b.sendMessage(message.Chat.ID, "No threads yet.")
		return
	}
	b.sendMessage(message.Chat.ID, formatThread(thread))
}

func (b *Bot) handleStatusChange(message *tgbotapi.Message, status models.ThreadStatus) {
	thread, ok := b.store.ActiveThread()
	if !ok {
		b.sendErrorMessage(message.Chat.ID, "No active thread.")
		return
	}
	b.store.UpdateThread(thread.ID, models.ThreadPatch{Status: &status})
	b.sendMessage(message.Chat.ID, fmt.Sprintf("Thread %s marked %s.", rangeLabel(thread.StartLine, thread.EndLine), status))
}

func (b *Bot) handleDelete(message *tgbotapi.Message) {
	thread, ok := b.store.ActiveThread()
	if !ok {
		b.sendErrorMessage(message.Chat.ID, "No active thread.")
		return
	}
	if b.review.Loading(thread.ID) {
		b.sendErrorMessage(message.Chat.ID, "Wait for the answer before deleting this thread.")
		return
	}
	b.store.RemoveThread(thread.ID)
	b.sendMessage(message.Chat.ID, fmt.Sprintf("Deleted thread %s.", rangeLabel(thread.StartLine, thread.EndLine)))
}

func (b *Bot) handleExport(message *tgbotapi.Message) {
	thread, ok := b.store.ActiveThread()
	if !ok {
		b.sendErrorMessage(message.Chat.ID, "No active thread.")
		return
	}

	content := threads.ExportThread(thread, b.store.Document().Language)
	file := tgbotapi.FileBytes{
		Name:  fmt.Sprintf("thread-%d-%d.md", thread.StartLine, thread.EndLine),
		Bytes: []byte(content),
	}
	if _, err := b.api.Send(tgbotapi.NewDocument(message.Chat.ID, file)); err != nil {
		b.logger.Error("Failed to send export",
			zap.Error(err),
			zap.String("thread_id", thread.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't export this thread.")
	}
}

func (b *Bot) handleProvider(message *tgbotapi.Message, args string) {
	id := models.ProviderID(strings.ToLower(strings.TrimSpace(args)))
	d, ok := provider.Lookup(id)
	if !ok {
		b.sendErrorMessage(message.Chat.ID, "Unknown provider. Use /providers to list them.")
		return
	}
	b.store.UpdateSettings(func(s *models.AISettings) {
		s.Provider = d.ID
		s.Model = d.ResolveModel(s.Model)
	})
	settings := b.store.Settings()
	b.sendMessage(message.Chat.ID, fmt.Sprintf("Provider set to %s (model %s).", d.Name, settings.Model))
}

func (b *Bot) handleModel(message *tgbotapi.Message, args string) {
	model := strings.TrimSpace(args)
	if model == "" {
		b.sendErrorMessage(message.Chat.ID, "Usage: /model <id>")
		return
	}
	b.store.SetModel(model)
	b.sendMessage(message.Chat.ID, "Model set to "+model+".")
}

func (b *Bot) handleKey(message *tgbotapi.Message, args string) {
	// Drop the message holding the secret.
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(message.Chat.ID, message.MessageID)); err != nil {
		b.logger.Warn("Failed to delete key message", zap.Error(err), zap.Int64("chat_id", message.Chat.ID))
	}

	fields := strings.Fields(args)
	if len(fields) != 2 {
		b.sendErrorMessage(message.Chat.ID, "Usage: /key <provider> <secret>")
		return
	}
	d, ok := provider.Lookup(models.ProviderID(strings.ToLower(fields[0])))
	if !ok || !d.RequiresKey {
		b.sendErrorMessage(message.Chat.ID, "That provider does not take an API key.")
		return
	}
	b.store.SetAPIKey(d.ID, fields[1])
	b.sendMessage(message.Chat.ID, "API key saved for "+d.Name+".")
}

func (b *Bot) handleTest(ctx context.Context, message *tgbotapi.Message) {
	status := b.tester.TestConnection(ctx, b.store.Settings())
	if status.Success {
		b.sendMessage(message.Chat.ID, "✅ "+status.Message)
		return
	}
	b.sendErrorMessage(message.Chat.ID, status.Message)
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, truncate(text, maxMessageLength))
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) editMessage(chatID int64, messageID int, text string) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if _, err := b.api.Send(edit); err != nil {
		b.logger.Debug("Failed to edit message",
			zap.Error(err),
			zap.Int64("chat_id", chatID),
			zap.Int("message_id", messageID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func lineCount(text string) int {
	if text == "" {
		return 0
	}
	return strings.Count(strings.TrimRight(text, "\n"), "\n") + 1
}
