package limiter

import (
	"context"
	"log/slog"
	"time"

	"sentrygate/internal/config"
	"sentrygate/internal/ipstore"
	"sentrygate/internal/storeerr"
)

// Decision is the outcome of resolving a path rule and asking the Store to
// admit.
type Decision struct {
	Allowed      bool
	LimitType    string
	CurrentCount int
	Threshold    int
	WindowSize   time.Duration
}

// Limiter resolves the applicable PathRule for a request and asks the
// Store to admit, failing open on infrastructure errors.
type Limiter struct {
	store  ipstore.Store
	rules  *config.PathRuleSet
	logger *slog.Logger
}

// New constructs a Limiter over store using the given hot-reloadable rule
// snapshot.
func New(store ipstore.Store, rules *config.PathRuleSet, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{store: store, rules: rules, logger: logger}
}

// Resolve finds the first enabled rule whose pattern matches path, in
// configuration order; falls back to the default window/max when none
// matches.
func (l *Limiter) Resolve(path string) (window time.Duration, max int) {
	rules, defaultWindow, defaultMax := l.rules.Snapshot()
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if MatchPath(r.Pattern, path) {
			return time.Duration(r.WindowSeconds) * time.Second, r.MaxRequests
		}
	}
	return time.Duration(defaultWindow) * time.Second, defaultMax
}

// Admit resolves the path rule for (ip, path) and asks the Store to admit
// at time now. On Store infrastructure failure it fails open: allowed=true,
// limit_type="ERROR" — it never returns an error to the caller because an
// infra failure here is, by policy, not a rejection.
func (l *Limiter) Admit(ctx context.Context, ip, path string, now time.Time) Decision {
	window, max := l.Resolve(path)
	key := ip + ":" + path

	result, err := l.store.Admit(ctx, key, now, window, max)
	if err != nil {
		if storeerr.Infra(err) {
			l.logger.Warn("limiter: store admit failed, failing open", "error", err, "ip", ip, "path", path)
			return Decision{Allowed: true, LimitType: "ERROR", WindowSize: window, Threshold: max}
		}
		l.logger.Error("limiter: unexpected store error, failing open", "error", err)
		return Decision{Allowed: true, LimitType: "ERROR", WindowSize: window, Threshold: max}
	}

	count := result.PostCount
	if !result.Admitted {
		count = result.PreCount
	}
	return Decision{
		Allowed:      result.Admitted,
		LimitType:    limitTypeFor(window),
		CurrentCount: count,
		Threshold:    max,
		WindowSize:   window,
	}
}

// limitTypeFor derives a human-readable limit_type label from the window
// size.
func limitTypeFor(window time.Duration) string {
	switch {
	case window <= time.Second:
		return "SECOND_LIMIT"
	case window <= time.Minute:
		return "MINUTE_LIMIT"
	case window <= time.Hour:
		return "HOUR_LIMIT"
	default:
		return "IP_PATH_WINDOW"
	}
}
