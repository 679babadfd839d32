package config

import (
	"sync"
	"testing"
)

func TestPathRuleSet_SnapshotReturnsInitialRules(t *testing.T) {
	rules := []PathRule{{Pattern: "/api/*", WindowSeconds: 60, MaxRequests: 5, Enabled: true}}
	set := NewPathRuleSet(rules, 60, 100)

	got, defaultWindow, defaultMax := set.Snapshot()
	if len(got) != 1 || got[0].Pattern != "/api/*" {
		t.Fatalf("expected initial rule to be present, got %+v", got)
	}
	if defaultWindow != 60 || defaultMax != 100 {
		t.Fatalf("expected default window/max to be set, got %d/%d", defaultWindow, defaultMax)
	}
}

func TestPathRuleSet_ReplaceIsVisibleToSubsequentSnapshot(t *testing.T) {
	set := NewPathRuleSet(nil, 60, 100)

	newRules := []PathRule{{Pattern: "/v2/*", WindowSeconds: 30, MaxRequests: 10, Enabled: true}}
	set.Replace(newRules, 30, 10)

	got, defaultWindow, defaultMax := set.Snapshot()
	if len(got) != 1 || got[0].Pattern != "/v2/*" {
		t.Fatalf("expected replaced rule set to be visible, got %+v", got)
	}
	if defaultWindow != 30 || defaultMax != 10 {
		t.Fatalf("expected replaced defaults to be visible, got %d/%d", defaultWindow, defaultMax)
	}
}

func TestPathRuleSet_ReplaceDoesNotMutateSnapshotReturnedEarlier(t *testing.T) {
	original := []PathRule{{Pattern: "/a", MaxRequests: 1}}
	set := NewPathRuleSet(original, 60, 100)

	got, _, _ := set.Snapshot()
	set.Replace([]PathRule{{Pattern: "/b", MaxRequests: 2}}, 60, 100)

	if got[0].Pattern != "/a" {
		t.Fatalf("expected previously returned snapshot to remain unchanged, got %+v", got)
	}
}

func TestPathRuleSet_ConcurrentReplaceAndSnapshotDoesNotRace(t *testing.T) {
	set := NewPathRuleSet([]PathRule{{Pattern: "/a", MaxRequests: 1}}, 60, 100)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			set.Replace([]PathRule{{Pattern: "/x", MaxRequests: i}}, 60, 100)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			rules, _, _ := set.Snapshot()
			if len(rules) != 1 {
				t.Errorf("expected exactly one rule in any observed snapshot, got %d", len(rules))
			}
		}
	}()
	wg.Wait()
}
