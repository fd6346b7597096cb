package failure

import "strings"

// Rule maps a set of case-insensitive substrings to a category.
type Rule struct {
	Category   Category
	Substrings []string
}

// DefaultRules returns the rule table tuned against representative upstream
// error strings. Order matters: the first matching rule wins, so capacity
// signals are checked before the generic "internal" bucket.
func DefaultRules() []Rule {
	return []Rule{
		{Category: CategoryOverloaded, Substrings: []string{"overloaded", "busy", "capacity"}},
		{Category: CategoryRateLimited, Substrings: []string{"rate limit", "quota", "resource exhausted"}},
		{Category: CategoryInternal, Substrings: []string{"internal", "status 13", "status 500"}},
		{Category: CategoryTimeout, Substrings: []string{"timeout", "deadline", "status 4"}},
		{Category: CategoryNetwork, Substrings: []string{"network", "connection", "fetch"}},
	}
}

// Classifier maps raw errors to categories using an ordered rule table.
// Classification is best-effort substring matching on the error message;
// it is pure and has no side effects.
type Classifier struct {
	rules []Rule
}

// NewClassifier creates a classifier with the given rules.
// An empty rule set falls back to DefaultRules.
func NewClassifier(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

// Classify returns the category for err. A nil error is CategoryUnknown.
func (c *Classifier) Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	return c.ClassifyMessage(err.Error())
}

// ClassifyMessage returns the category for a raw error message.
func (c *Classifier) ClassifyMessage(msg string) Category {
	folded := strings.ToLower(msg)
	for _, rule := range c.rules {
		for _, sub := range rule.Substrings {
			if strings.Contains(folded, sub) {
				return rule.Category
			}
		}
	}
	return CategoryUnknown
}
