package provider

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaenox/codereview-threads/internal/models"
)

func numberedDocument(n int) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i+1)
	}
	return strings.Join(lines, "\n")
}

func TestContextWindowClipsToDocument(t *testing.T) {
	doc := numberedDocument(30)

	window := contextWindow(doc, models.NewSelection(10, 12, "x"))
	lines := strings.Split(window, "\n")
	require.Len(t, lines, 13)
	assert.Equal(t, "line 5", lines[0])
	assert.Equal(t, "line 17", lines[len(lines)-1])

	window = contextWindow(doc, models.NewSelection(2, 3, "x"))
	lines = strings.Split(window, "\n")
	assert.Equal(t, "line 1", lines[0])
	assert.Equal(t, "line 8", lines[len(lines)-1])

	window = contextWindow(doc, models.NewSelection(28, 30, "x"))
	lines = strings.Split(window, "\n")
	assert.Equal(t, "line 23", lines[0])
	assert.Equal(t, "line 30", lines[len(lines)-1])
}

func TestBuildPromptUsesDefaultQuestion(t *testing.T) {
	prompt := BuildPrompt(models.NewSelection(3, 5, "foo()"), numberedDocument(10), "  ")

	assert.Contains(t, prompt, "The following code is selected (lines 3-5):")
	assert.Contains(t, prompt, "```\nfoo()\n```")
	assert.True(t, strings.HasSuffix(prompt, defaultQuestion))
}

func TestBuildPromptIncludesQuestion(t *testing.T) {
	prompt := BuildPrompt(models.NewSelection(1, 1, "x := 1"), "x := 1", "Is this idiomatic?")
	assert.True(t, strings.HasSuffix(prompt, "Question: Is this idiomatic?"))
}

func TestBuildMessagesWithoutHistory(t *testing.T) {
	msgs := BuildMessages(Request{
		Selection: models.NewSelection(1, 1, "a"),
		FullText:  "a",
		Question:  "why?",
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "expert code reviewer")
	assert.Equal(t, "user", msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "Question: why?")
}

func TestBuildMessagesReplaysHistory(t *testing.T) {
	history := []models.Message{
		{Role: models.RoleUser, Content: "first question"},
		{Role: models.RoleAI, Content: "first answer"},
	}
	msgs := BuildMessages(Request{
		Selection: models.NewSelection(1, 1, "a"),
		FullText:  "a",
		Question:  "follow up",
		History:   history,
	})
	require.Len(t, msgs, 5)
	assert.Equal(t, "user", msgs[1].Role)
	assert.NotContains(t, msgs[1].Content, "Question:")
	assert.Equal(t, ChatMessage{Role: "user", Content: "first question"}, msgs[2])
	assert.Equal(t, ChatMessage{Role: "assistant", Content: "first answer"}, msgs[3])
	assert.Equal(t, ChatMessage{Role: "user", Content: "follow up"}, msgs[4])
}

func TestToMessagesTurnsMergesSameRole(t *testing.T) {
	turns, system := toMessagesTurns([]ChatMessage{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "context"},
		{Role: "user", Content: "question"},
		{Role: "assistant", Content: "answer"},
	})
	assert.Equal(t, "sys", system)
	require.Len(t, turns, 2)
	assert.Equal(t, "context\n\nquestion", turns[0].Content)
	assert.Equal(t, "assistant", turns[1].Role)
}

func TestResolveModel(t *testing.T) {
	anthropic, ok := Lookup(models.ProviderAnthropic)
	require.True(t, ok)

	assert.Equal(t, anthropic.DefaultModel(), anthropic.ResolveModel(""))
	assert.Equal(t, anthropic.DefaultModel(), anthropic.ResolveModel("gpt-4o-mini"))
	assert.Equal(t, "claude-custom", anthropic.ResolveModel("claude-custom"))
}
