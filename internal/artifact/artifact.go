// Package artifact defines the study artifact types the service generates
// and the per-type completeness heuristics for generated output.
package artifact

// Type identifies a kind of generated study artifact.
type Type string

// Artifact type constants.
const (
	TypeSummary    Type = "summary"
	TypeNotes      Type = "notes"
	TypeGuide      Type = "guide"
	TypeFlashcards Type = "flashcards"
)

// outputTokens allocates an output token budget per artifact type. Guides
// run long; summaries are deliberately tight.
var outputTokens = map[Type]int{
	TypeSummary:    2048,
	TypeNotes:      4096,
	TypeGuide:      8192,
	TypeFlashcards: 4096,
}

// defaultOutputTokens applies to unrecognized types.
const defaultOutputTokens = 4096

// Valid reports whether t is a known artifact type.
func (t Type) Valid() bool {
	_, ok := outputTokens[t]
	return ok
}

// OutputTokens returns the output token allocation for this artifact type.
func (t Type) OutputTokens() int {
	if n, ok := outputTokens[t]; ok {
		return n
	}
	return defaultOutputTokens
}
