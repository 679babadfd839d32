package config

import "sync/atomic"

// PathRule is the configuration tuple driving the sliding-window limiter
// for matching paths.
type PathRule struct {
	Pattern     string `yaml:"pattern"`
	WindowSeconds int  `yaml:"window_seconds"`
	MaxRequests int    `yaml:"max_requests"`
	Enabled     bool   `yaml:"enabled"`
	Description string `yaml:"description"`
}

// PathRuleSet holds the current, immutable snapshot of path rules plus the
// default fallback rule. Reloading replaces the entire snapshot atomically
// so no reader ever sees a half-updated rule set — readers never take a
// lock, they load a pointer.
type PathRuleSet struct {
	ptr atomic.Pointer[ruleSnapshot]
}

type ruleSnapshot struct {
	rules          []PathRule
	defaultWindow  int
	defaultMax     int
}

// NewPathRuleSet builds an initial snapshot from config.
func NewPathRuleSet(rules []PathRule, defaultWindow, defaultMax int) *PathRuleSet {
	s := &PathRuleSet{}
	s.Replace(rules, defaultWindow, defaultMax)
	return s
}

// Replace atomically swaps in a brand new rule list. Callers never mutate
// an existing snapshot's slice in place.
func (s *PathRuleSet) Replace(rules []PathRule, defaultWindow, defaultMax int) {
	cp := make([]PathRule, len(rules))
	copy(cp, rules)
	s.ptr.Store(&ruleSnapshot{rules: cp, defaultWindow: defaultWindow, defaultMax: defaultMax})
}

// Snapshot returns the current rule list and default window/max, all from
// one atomic load.
func (s *PathRuleSet) Snapshot() (rules []PathRule, defaultWindow, defaultMax int) {
	snap := s.ptr.Load()
	if snap == nil {
		return nil, 0, 0
	}
	return snap.rules, snap.defaultWindow, snap.defaultMax
}
