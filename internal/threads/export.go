package threads

import (
	"fmt"
	"strings"
	"time"

	"github.com/xaenox/codereview-threads/internal/models"
)

const exportTimeLayout = "2006-01-02 15:04:05 MST"

// ExportThread renders a thread as a Markdown transcript.
func ExportThread(thread models.Thread, language string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Review thread: %s\n\n", lineLabel(thread.StartLine, thread.EndLine))
	fmt.Fprintf(&b, "- Status: %s\n", thread.Status)
	fmt.Fprintf(&b, "- Created: %s\n", formatTime(thread.CreatedAt))
	fmt.Fprintf(&b, "- Updated: %s\n\n", formatTime(thread.UpdatedAt))

	b.WriteString("## Code\n\n")
	fmt.Fprintf(&b, "```%s\n%s\n```\n\n", language, strings.TrimRight(thread.AnchorText, "\n"))

	b.WriteString("## Conversation\n")
	if len(thread.Messages) == 0 {
		b.WriteString("\n_No messages._\n")
	}
	for i, m := range thread.Messages {
		fmt.Fprintf(&b, "\n%d. **%s** (%s)\n\n", i+1, roleLabel(m.Role), formatTime(m.Timestamp))
		for _, line := range strings.Split(m.Content, "\n") {
			if line == "" {
				b.WriteString("\n")
				continue
			}
			fmt.Fprintf(&b, "   %s\n", line)
		}
	}
	return b.String()
}

func lineLabel(start, end int) string {
	if start == end {
		return fmt.Sprintf("line %d", start)
	}
	return fmt.Sprintf("lines %d-%d", start, end)
}

func roleLabel(role models.Role) string {
	if role == models.RoleAI {
		return "AI"
	}
	return "You"
}

func formatTime(t time.Time) string {
	return t.UTC().Format(exportTimeLayout)
}
