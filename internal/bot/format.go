package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xaenox/codereview-threads/internal/models"
	"github.com/xaenox/codereview-threads/internal/provider"
)

// maxMessageLength is Telegram's limit for a single text message.
const maxMessageLength = 4096

var errBadRange = errors.New("expected a line range like 3-7 or 12")

// parseLineRange accepts "N" or "N-M" with 1-based lines.
func parseLineRange(arg string) (int, int, error) {
	arg = strings.TrimSpace(arg)
	startText, endText, found := strings.Cut(arg, "-")
	if !found {
		endText = startText
	}
	start, err := strconv.Atoi(strings.TrimSpace(startText))
	if err != nil {
		return 0, 0, errBadRange
	}
	end, err := strconv.Atoi(strings.TrimSpace(endText))
	if err != nil {
		return 0, 0, errBadRange
	}
	if start < 1 || end < start {
		return 0, 0, errBadRange
	}
	return start, end, nil
}

// parseAskArgs splits "/ask 3-7 why is this slow?" arguments.
func parseAskArgs(args string) (int, int, string, error) {
	rangeText, question, _ := strings.Cut(strings.TrimSpace(args), " ")
	start, end, err := parseLineRange(rangeText)
	if err != nil {
		return 0, 0, "", err
	}
	return start, end, strings.TrimSpace(question), nil
}

// escapeMarkdown escapes special characters for MarkdownV2
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

// truncate shortens text to fit a Telegram message, marking the cut.
func truncate(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	const marker = "\n…"
	runes := []rune(text)
	return string(runes[:limit-utf8.RuneCountInString(marker)]) + marker
}

func preview(text string, limit int) string {
	line := strings.TrimSpace(strings.SplitN(strings.TrimSpace(text), "\n", 2)[0])
	runes := []rune(line)
	if len(runes) > limit {
		return string(runes[:limit]) + "…"
	}
	return line
}

func rangeLabel(start, end int) string {
	if start == end {
		return fmt.Sprintf("L%d", start)
	}
	return fmt.Sprintf("L%d-%d", start, end)
}

// formatThreadList renders threads as a numbered MarkdownV2 list. Numbers
// index into the list passed in.
func formatThreadList(threads []models.Thread, activeID string) string {
	if len(threads) == 0 {
		return escapeMarkdown("No threads yet. Use /ask to start one.")
	}
	var b strings.Builder
	b.WriteString("*Threads:*\n")
	for i, t := range threads {
		marker := ""
		if t.ID == activeID {
			marker = " ◀"
		}
		last := ""
		if n := len(t.Messages); n > 0 {
			last = preview(t.Messages[n-1].Content, 60)
		}
		fmt.Fprintf(&b, "%d\\. *%s* \\[%s\\] %s%s\n",
			i+1,
			escapeMarkdown(rangeLabel(t.StartLine, t.EndLine)),
			escapeMarkdown(string(t.Status)),
			escapeMarkdown(last),
			marker)
	}
	return b.String()
}

// formatAnswer prefixes the answer with its range, model and badges.
func formatAnswer(thread models.Thread, result provider.Result, text string) string {
	var badges []string
	if result.Mock {
		badges = append(badges, "mock")
	}
	if result.Cached {
		badges = append(badges, "cached")
	}
	if result.Confidence > 0 {
		badges = append(badges, fmt.Sprintf("confidence %.0f%%", result.Confidence*100))
	}

	header := fmt.Sprintf("💬 %s", rangeLabel(thread.StartLine, thread.EndLine))
	if result.Model != "" {
		header += fmt.Sprintf(" · %s/%s", result.Provider, result.Model)
	}
	if len(badges) > 0 {
		header += " (" + strings.Join(badges, ", ") + ")"
	}
	return truncate(header+"\n\n"+text, maxMessageLength)
}

func formatThread(thread models.Thread) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🧵 %s [%s]\n", rangeLabel(thread.StartLine, thread.EndLine), thread.Status)
	fmt.Fprintf(&b, "%s\n", preview(thread.AnchorText, 80))
	for _, m := range thread.Messages {
		label := "You"
		if m.Role == models.RoleAI {
			label = "AI"
		}
		fmt.Fprintf(&b, "\n%s: %s\n", label, m.Content)
	}
	return truncate(b.String(), maxMessageLength)
}

func formatCatalogue(current models.AISettings) string {
	var b strings.Builder
	b.WriteString("Providers:\n")
	for _, d := range provider.Catalogue() {
		marker := ""
		if d.ID == current.Provider {
			marker = " (current)"
		}
		fmt.Fprintf(&b, "\n%s: %s%s\n", d.ID, d.Name, marker)
		for _, m := range d.Models {
			fmt.Fprintf(&b, "  • %s (%s)\n", m.ID, m.Name)
		}
	}
	return b.String()
}
