package models

import "strings"

// Selection is a contiguous range of document lines plus the text they hold.
// Lines are 1-based and inclusive.
type Selection struct {
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Text      string `json:"text"`
	IsEmpty   bool   `json:"is_empty"`
}

func NewSelection(startLine, endLine int, text string) Selection {
	return Selection{
		StartLine: startLine,
		EndLine:   endLine,
		Text:      text,
		IsEmpty:   strings.TrimSpace(text) == "",
	}
}

// SelectLines cuts lines [startLine, endLine] out of document, clipping the
// range to the document bounds. A range entirely outside the document yields
// an empty selection.
func SelectLines(document string, startLine, endLine int) Selection {
	if startLine < 1 {
		startLine = 1
	}
	if endLine < startLine {
		endLine = startLine
	}
	lines := strings.Split(document, "\n")
	if startLine > len(lines) {
		return Selection{StartLine: startLine, EndLine: endLine, IsEmpty: true}
	}
	last := endLine
	if last > len(lines) {
		last = len(lines)
	}
	return NewSelection(startLine, last, strings.Join(lines[startLine-1:last], "\n"))
}

// Valid reports whether the range is well formed.
func (s Selection) Valid() bool {
	return s.StartLine >= 1 && s.EndLine >= s.StartLine
}
