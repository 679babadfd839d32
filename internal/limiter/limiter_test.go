package limiter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"sentrygate/internal/config"
	"sentrygate/internal/ipstore"
	"sentrygate/internal/storeerr"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLimiter_ResolveUsesFirstMatchingRule(t *testing.T) {
	rules := config.NewPathRuleSet([]config.PathRule{
		{Pattern: "/api/**", WindowSeconds: 1, MaxRequests: 5, Enabled: true},
		{Pattern: "/api/login", WindowSeconds: 60, MaxRequests: 2, Enabled: true},
	}, 60, 100)

	lim := New(ipstore.NewMemoryStore(), rules, discardLogger())
	window, max := lim.Resolve("/api/login")
	if window != time.Second || max != 5 {
		t.Fatalf("expected the first matching rule (/api/**) to win, got window=%v max=%d", window, max)
	}
}

func TestLimiter_ResolveFallsBackToDefault(t *testing.T) {
	rules := config.NewPathRuleSet(nil, 30, 10)
	lim := New(ipstore.NewMemoryStore(), rules, discardLogger())
	window, max := lim.Resolve("/anything")
	if window != 30*time.Second || max != 10 {
		t.Fatalf("expected defaults, got window=%v max=%d", window, max)
	}
}

func TestLimiter_AdmitRejectsOverThreshold(t *testing.T) {
	rules := config.NewPathRuleSet([]config.PathRule{
		{Pattern: "/limited", WindowSeconds: 60, MaxRequests: 2, Enabled: true},
	}, 60, 100)
	lim := New(ipstore.NewMemoryStore(), rules, discardLogger())

	now := time.Now()
	for i := 0; i < 2; i++ {
		d := lim.Admit(context.Background(), "1.2.3.4", "/limited", now)
		if !d.Allowed {
			t.Fatalf("expected request %d to be allowed: %+v", i, d)
		}
	}
	d := lim.Admit(context.Background(), "1.2.3.4", "/limited", now)
	if d.Allowed {
		t.Fatalf("expected third request to be rejected: %+v", d)
	}
	if d.CurrentCount != 2 || d.Threshold != 2 {
		t.Fatalf("unexpected decision counters: %+v", d)
	}
}

type errorStore struct{ ipstore.Store }

func (errorStore) Admit(context.Context, string, time.Time, time.Duration, int) (ipstore.AdmitResult, error) {
	return ipstore.AdmitResult{}, errors.Join(storeerr.ErrTransport, errors.New("boom"))
}

func TestLimiter_FailsOpenOnInfraError(t *testing.T) {
	rules := config.NewPathRuleSet(nil, 60, 1)
	lim := New(errorStore{}, rules, discardLogger())

	d := lim.Admit(context.Background(), "1.2.3.4", "/x", time.Now())
	if !d.Allowed {
		t.Fatal("expected fail-open admit on infra error")
	}
	if d.LimitType != "ERROR" {
		t.Fatalf("expected LimitType ERROR, got %q", d.LimitType)
	}
}
