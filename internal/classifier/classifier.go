package classifier

import (
	"path/filepath"
	"sort"
	"strings"
)

// DefaultLanguage is used for untitled documents with no recognisable content.
const DefaultLanguage = "javascript"

// DefaultMinHits is the keyword score the default classifier needs before
// trusting content over the fallback.
const DefaultMinHits = 2

// Classifier names the language of a document from its file name and text.
type Classifier interface {
	ClassifyContent(name, content string) string
}

var extensions = map[string]string{
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".py":    "python",
	".go":    "go",
	".java":  "java",
	".kt":    "kotlin",
	".rb":    "ruby",
	".rs":    "rust",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".php":   "php",
	".swift": "swift",
	".sh":    "shell",
	".sql":   "sql",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".html":  "html",
	".css":   "css",
	".md":    "markdown",
}

// keywords are tell-tale fragments per language; each hit scores one point.
var keywords = map[string][]string{
	"go":         {"package ", "func ", ":= ", "import (", "fmt."},
	"python":     {"def ", "import ", "self", "elif ", "print(", "__init__"},
	"javascript": {"function ", "const ", "let ", "=> ", "console.log", "require("},
	"typescript": {"interface ", ": string", ": number", "export type ", "implements "},
	"java":       {"public class ", "public static void", "System.out", "private final "},
	"rust":       {"fn ", "let mut ", "impl ", "pub fn", "println!"},
	"ruby":       {"def ", "end\n", "puts ", "require '", "attr_accessor"},
	"php":        {"<?php", "$this->", "echo ", "function "},
	"shell":      {"#!/bin/", "echo ", "fi\n", "then\n", "esac"},
	"sql":        {"SELECT ", "INSERT INTO", "CREATE TABLE", "WHERE "},
}

// SimpleClassifier guesses a document's language from its file name and,
// failing that, from keyword hits in its content.
type SimpleClassifier struct {
	minHits int
}

func NewSimpleClassifier(minHits int) *SimpleClassifier {
	if minHits < 1 {
		minHits = 1
	}
	return &SimpleClassifier{minHits: minHits}
}

func (c *SimpleClassifier) ClassifyContent(name, content string) string {
	if lang, ok := extensions[strings.ToLower(filepath.Ext(name))]; ok {
		return lang
	}

	scores := make(map[string]int)
	for lang, words := range keywords {
		for _, word := range words {
			if strings.Contains(content, word) {
				scores[lang]++
			}
		}
	}

	// Sorted so ties resolve the same way on every run
	langs := make([]string, 0, len(scores))
	for lang := range scores {
		langs = append(langs, lang)
	}
	sort.Strings(langs)

	best, bestScore := "", 0
	for _, lang := range langs {
		if scores[lang] > bestScore {
			best, bestScore = lang, scores[lang]
		}
	}
	if bestScore >= c.minHits {
		return best
	}

	if name == "" {
		return DefaultLanguage
	}
	return "plaintext"
}

var _ Classifier = (*SimpleClassifier)(nil)

// NewDefaultClassifier returns the classifier documents use unless another
// one is configured.
func NewDefaultClassifier() Classifier {
	return NewSimpleClassifier(DefaultMinHits)
}
