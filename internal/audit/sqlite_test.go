package audit

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("unexpected error opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_SaveAssignsIDWhenMissing(t *testing.T) {
	store := newTestStore(t)
	rec := Record{ClientIP: "1.2.3.4", Path: "/x", Method: "GET", AccessTime: time.Now()}

	if err := store.Save(rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	count, err := store.CountByIP("1.2.3.4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record for ip, got %d", count)
	}
}

func TestSQLiteStore_CountRateLimited(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	_ = store.Save(Record{ClientIP: "1.1.1.1", Path: "/a", Method: "GET", RateLimited: true, AccessTime: now})
	_ = store.Save(Record{ClientIP: "2.2.2.2", Path: "/b", Method: "GET", RateLimited: false, AccessTime: now})
	_ = store.Save(Record{ClientIP: "3.3.3.3", Path: "/c", Method: "GET", RateLimited: true, AccessTime: now})

	count, err := store.CountRateLimited()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 rate-limited records, got %d", count)
	}
}

func TestSQLiteStore_CleanupRemovesOldRecords(t *testing.T) {
	store := newTestStore(t)

	old := time.Now().AddDate(0, 0, -10)
	recent := time.Now()
	_ = store.Save(Record{ClientIP: "9.9.9.9", Path: "/old", Method: "GET", AccessTime: old})
	_ = store.Save(Record{ClientIP: "9.9.9.9", Path: "/recent", Method: "GET", AccessTime: recent})

	removed, err := store.Cleanup(5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 record removed, got %d", removed)
	}

	remaining, err := store.CountByIP("9.9.9.9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("expected 1 record remaining, got %d", remaining)
	}
}
