package artifact

import (
	"encoding/json"
	"strings"
)

// Completeness floors, in characters.
const (
	minCompleteLength = 200
	minSummaryLength  = 100
	minLastBlockLen   = 50
)

// flashcard mirrors the expected shape of one generated flashcard.
type flashcard struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// LooksComplete reports whether generated text looks finished for the given
// artifact type. This is a heuristic signal only: a false verdict never
// blocks a response by itself, it is surfaced as a truncation warning.
func LooksComplete(t Type, text string) bool {
	trimmed := strings.TrimSpace(text)

	// Flashcards are judged structurally: a valid card array is complete
	// regardless of length, a broken parse means the output was cut off.
	if t == TypeFlashcards {
		var cards []flashcard
		if err := json.Unmarshal([]byte(stripCodeFence(trimmed)), &cards); err != nil {
			return false
		}
		return len(cards) > 0
	}

	if len(trimmed) < minCompleteLength {
		return false
	}

	switch t {
	case TypeNotes, TypeGuide:
		last := lastBlock(trimmed)
		return len(last) > minLastBlockLen && !endsInEllipsis(last)
	case TypeSummary:
		return len(trimmed) > minSummaryLength && !endsInEllipsis(trimmed)
	default:
		return true
	}
}

// lastBlock returns the final blank-line-delimited block of text.
func lastBlock(text string) string {
	blocks := strings.Split(text, "\n\n")
	for i := len(blocks) - 1; i >= 0; i-- {
		if b := strings.TrimSpace(blocks[i]); b != "" {
			return b
		}
	}
	return ""
}

// endsInEllipsis detects both the ASCII and Unicode ellipsis forms the
// upstream emits when it runs out of output tokens mid-sentence.
func endsInEllipsis(text string) bool {
	return strings.HasSuffix(text, "...") || strings.HasSuffix(text, "…")
}

// stripCodeFence removes a surrounding markdown code fence if present.
// Models frequently wrap JSON output in ```json fences.
func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
