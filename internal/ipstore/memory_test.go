package ipstore

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_AdmitWithinLimit(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	r1, err := m.Admit(ctx, "ip:/path", now, time.Second, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r1.Admitted || r1.PreCount != 0 || r1.PostCount != 1 {
		t.Fatalf("unexpected first admit: %+v", r1)
	}

	r2, err := m.Admit(ctx, "ip:/path", now, time.Second, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r2.Admitted || r2.PreCount != 1 || r2.PostCount != 2 {
		t.Fatalf("unexpected second admit: %+v", r2)
	}

	r3, err := m.Admit(ctx, "ip:/path", now, time.Second, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r3.Admitted || r3.PreCount != 2 || r3.PostCount != 2 {
		t.Fatalf("third admit should have been rejected: %+v", r3)
	}
}

func TestMemoryStore_AdmitWindowSlides(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 2; i++ {
		if _, err := m.Admit(ctx, "k", now, time.Second, 2); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	later := now.Add(2 * time.Second)
	r, err := m.Admit(ctx, "k", later, time.Second, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Admitted || r.PreCount != 0 {
		t.Fatalf("expected window to have slid clear: %+v", r)
	}
}

func TestMemoryStore_FlagTTLExpires(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	if err := m.SetFlag(ctx, "black_list:1.2.3.4", "reason:TEST", 10*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, ok, err := m.GetFlag(ctx, "black_list:1.2.3.4")
	if err != nil || !ok || v != "reason:TEST" {
		t.Fatalf("expected flag present, got v=%q ok=%v err=%v", v, ok, err)
	}

	time.Sleep(20 * time.Millisecond)
	_, ok, err = m.GetFlag(ctx, "black_list:1.2.3.4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected flag to have expired")
	}
}

func TestMemoryStore_DeleteFlag(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	_ = m.SetFlag(ctx, "white_list:1.2.3.4", "true", time.Minute)
	if err := m.DeleteFlag(ctx, "white_list:1.2.3.4"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	exists, err := m.ExistsFlag(ctx, "white_list:1.2.3.4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exists {
		t.Fatal("expected flag to be gone after delete")
	}
}

func TestMemoryStore_ActiveIPSet(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	for _, ip := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"} {
		if err := m.TrackActive(ctx, "global", ip, now, 10*time.Second); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	count, err := m.CountActive(ctx, "global", now, 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 active IPs, got %d", count)
	}

	later := now.Add(20 * time.Second)
	count, err = m.CountActive(ctx, "global", later, 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected active set to have expired, got %d", count)
	}
}
