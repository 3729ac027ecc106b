package provider

import (
	"fmt"
	"strings"

	"github.com/xaenox/codereview-threads/internal/models"
)

const (
	contextRadius   = 5
	systemPrompt    = "You are an expert code reviewer. Analyze the selected code and provide helpful insights, suggestions, or explanations."
	defaultQuestion = "Please review this code and provide helpful feedback."
)

// contextWindow returns the selection plus contextRadius lines on either
// side, clipped to the document.
func contextWindow(fullText string, sel models.Selection) string {
	lines := strings.Split(fullText, "\n")
	start := sel.StartLine - 1 - contextRadius
	if start < 0 {
		start = 0
	}
	end := sel.EndLine + contextRadius
	if end > len(lines) {
		end = len(lines)
	}
	if start >= end {
		return ""
	}
	return strings.Join(lines[start:end], "\n")
}

func writeContext(b *strings.Builder, sel models.Selection, fullText string) {
	b.WriteString("Here is some code context:\n\n```\n")
	b.WriteString(contextWindow(fullText, sel))
	b.WriteString("\n```\n\n")
	b.WriteString(fmt.Sprintf("The following code is selected (lines %d-%d):\n\n```\n", sel.StartLine, sel.EndLine))
	b.WriteString(sel.Text)
	b.WriteString("\n```")
}

// BuildPrompt renders the single user turn used when there is no history.
func BuildPrompt(sel models.Selection, fullText, question string) string {
	var b strings.Builder
	writeContext(&b, sel, fullText)
	b.WriteString("\n\n")
	if q := strings.TrimSpace(question); q != "" {
		b.WriteString("Question: " + q)
	} else {
		b.WriteString(defaultQuestion)
	}
	return b.String()
}

// buildContextPrompt is the opening turn of a conversation that replays history.
func buildContextPrompt(sel models.Selection, fullText string) string {
	var b strings.Builder
	writeContext(&b, sel, fullText)
	return b.String()
}

// BuildMessages turns a request into the conversation sent to a backend.
func BuildMessages(req Request) []ChatMessage {
	messages := []ChatMessage{{Role: "system", Content: systemPrompt}}
	if len(req.History) == 0 {
		return append(messages, ChatMessage{Role: "user", Content: BuildPrompt(req.Selection, req.FullText, req.Question)})
	}

	messages = append(messages, ChatMessage{Role: "user", Content: buildContextPrompt(req.Selection, req.FullText)})
	for _, m := range req.History {
		messages = append(messages, ChatMessage{Role: chatRole(m.Role), Content: m.Content})
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		question = defaultQuestion
	}
	return append(messages, ChatMessage{Role: "user", Content: question})
}

func chatRole(role models.Role) string {
	if role == models.RoleAI {
		return "assistant"
	}
	return "user"
}
