package threads

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xaenox/codereview-threads/internal/models"
)

func TestExportThread(t *testing.T) {
	at := time.Date(2024, 5, 2, 14, 0, 0, 0, time.UTC)
	thread := models.Thread{
		ID:         "t-1",
		StartLine:  3,
		EndLine:    5,
		AnchorText: "function foo() {\n  return 1\n}\n",
		Status:     models.StatusResolved,
		CreatedAt:  at,
		UpdatedAt:  at.Add(time.Minute),
		Messages: []models.Message{
			{Content: "What does foo return?", Role: models.RoleUser, Timestamp: at},
			{Content: "It returns 1.\n\nAlways.", Role: models.RoleAI, Timestamp: at.Add(time.Minute)},
		},
	}

	want := "# Review thread: lines 3-5\n\n" +
		"- Status: resolved\n" +
		"- Created: 2024-05-02 14:00:00 UTC\n" +
		"- Updated: 2024-05-02 14:01:00 UTC\n\n" +
		"## Code\n\n" +
		"```javascript\nfunction foo() {\n  return 1\n}\n```\n\n" +
		"## Conversation\n" +
		"\n1. **You** (2024-05-02 14:00:00 UTC)\n\n" +
		"   What does foo return?\n" +
		"\n2. **AI** (2024-05-02 14:01:00 UTC)\n\n" +
		"   It returns 1.\n\n   Always.\n"

	assert.Equal(t, want, ExportThread(thread, "javascript"))
}

func TestExportThreadWithoutMessages(t *testing.T) {
	out := ExportThread(models.Thread{StartLine: 7, EndLine: 7, Status: models.StatusActive}, "go")
	assert.Contains(t, out, "# Review thread: line 7")
	assert.Contains(t, out, "_No messages._")
}
