package failure

import "time"

// defaultDelay is used when a delay schedule is exhausted or empty.
const defaultDelay = 30 * time.Second

// Policy describes how failures of one category are retried within a tier.
type Policy struct {
	Category   Category
	MaxRetries int
	Delays     []time.Duration
}

// DelayFor returns the backoff delay before the given retry. attempt is
// 1-based; once the schedule is exhausted the last configured delay is
// reused. An empty schedule yields the 30 s default.
func (p Policy) DelayFor(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return defaultDelay
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Delays) {
		idx = len(p.Delays) - 1
	}
	return p.Delays[idx]
}

// FinalDelay returns the last configured delay in the schedule, used to
// suggest a wait time to callers after exhaustion.
func (p Policy) FinalDelay() time.Duration {
	if len(p.Delays) == 0 {
		return defaultDelay
	}
	return p.Delays[len(p.Delays)-1]
}

// PolicyTable maps categories to retry policies with a default fallback.
type PolicyTable struct {
	policies map[Category]Policy
	fallback Policy
}

// DefaultPolicyTable returns the reference policy table. Values are tuned
// constants, not derived: capacity errors get the longest runway because
// the upstream typically recovers within a minute.
func DefaultPolicyTable() PolicyTable {
	return NewPolicyTable(
		Policy{Category: CategoryUnknown, MaxRetries: 1, Delays: []time.Duration{30 * time.Second}},
		Policy{Category: CategoryOverloaded, MaxRetries: 3, Delays: []time.Duration{15 * time.Second, 30 * time.Second, 60 * time.Second}},
		Policy{Category: CategoryRateLimited, MaxRetries: 2, Delays: []time.Duration{60 * time.Second, 120 * time.Second}},
		Policy{Category: CategoryInternal, MaxRetries: 2, Delays: []time.Duration{30 * time.Second, 45 * time.Second}},
		Policy{Category: CategoryTimeout, MaxRetries: 2, Delays: []time.Duration{15 * time.Second, 30 * time.Second}},
		Policy{Category: CategoryNetwork, MaxRetries: 2, Delays: []time.Duration{15 * time.Second, 30 * time.Second}},
	)
}

// NewPolicyTable builds a table from the given policies. The first policy
// acts as the default fallback for categories without an entry.
func NewPolicyTable(fallback Policy, policies ...Policy) PolicyTable {
	m := make(map[Category]Policy, len(policies))
	for _, p := range policies {
		m[p.Category] = p
	}
	return PolicyTable{policies: m, fallback: fallback}
}

// Lookup returns the policy for the given category, or the default
// fallback policy when no entry exists.
func (t PolicyTable) Lookup(c Category) Policy {
	if p, ok := t.policies[c]; ok {
		return p
	}
	return t.fallback
}
