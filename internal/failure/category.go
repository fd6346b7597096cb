// Package failure classifies upstream generation errors into categories
// and maps each category to a retry policy.
package failure

// Category tags an upstream failure for retry policy lookup.
type Category string

// Category constants, ordered roughly by how often the upstream emits them.
const (
	CategoryOverloaded  Category = "overloaded"
	CategoryRateLimited Category = "rate_limited"
	CategoryInternal    Category = "internal"
	CategoryTimeout     Category = "timeout"
	CategoryNetwork     Category = "network"
	CategoryUnknown     Category = "unknown"
)

// Retryable reports whether failures in this category are transient and
// worth retrying on the same model tier. Unknown failures escalate to the
// next tier immediately instead of consuming retries.
func (c Category) Retryable() bool {
	return c != CategoryUnknown
}
