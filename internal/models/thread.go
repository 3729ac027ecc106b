package models

import "time"

type Role string

const (
	RoleUser Role = "user"
	RoleAI   Role = "ai"
)

type ThreadStatus string

const (
	StatusActive   ThreadStatus = "active"
	StatusResolved ThreadStatus = "resolved"
	StatusArchived ThreadStatus = "archived"
)

// Valid reports whether s is one of the known thread statuses.
func (s ThreadStatus) Valid() bool {
	switch s {
	case StatusActive, StatusResolved, StatusArchived:
		return true
	}
	return false
}

// Message is a single entry of a thread transcript
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}

// Thread represents a conversation anchored to a fixed line range
type Thread struct {
	ID         string       `json:"id"`
	StartLine  int          `json:"start_line"`
	EndLine    int          `json:"end_line"`
	AnchorText string       `json:"anchor_text"`
	Messages   []Message    `json:"messages"`
	Status     ThreadStatus `json:"status"`
	ColorTag   string       `json:"color_tag"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Overlaps reports whether the thread's range intersects [start, end].
func (t Thread) Overlaps(start, end int) bool {
	return t.StartLine <= end && t.EndLine >= start
}

// Clone returns a copy that shares no message storage with t.
func (t Thread) Clone() Thread {
	c := t
	c.Messages = make([]Message, len(t.Messages))
	copy(c.Messages, t.Messages)
	return c
}

// NewThread holds the caller-supplied fields of a thread about to be created.
type NewThread struct {
	StartLine       int
	EndLine         int
	AnchorText      string
	InitialMessages []NewMessage
	ColorTag        string
}

type NewMessage struct {
	Content string
	Role    Role
}

// ThreadPatch lists the fields UpdateThread may change. Nil fields are left alone.
type ThreadPatch struct {
	Status   *ThreadStatus
	ColorTag *string
}

// ThreadColors is the palette new threads draw their colour tag from.
var ThreadColors = []string{
	"#3b82f6", // blue
	"#10b981", // green
	"#f59e0b", // amber
	"#ef4444", // red
	"#8b5cf6", // purple
	"#ec4899", // pink
	"#14b8a6", // teal
}
