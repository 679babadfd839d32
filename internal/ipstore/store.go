// Package ipstore implements the admission pipeline's state store contract:
// atomic sliding-window admission, TTL'd scalar flags, and active-IP
// counting, behind one interface with an in-memory and a Redis back-end.
package ipstore

import (
	"context"
	"time"
)

// AdmitResult is the outcome of a sliding-window admit call.
type AdmitResult struct {
	Admitted  bool
	PreCount  int
	PostCount int
}

// Store is the contract both back-ends implement. All operations are safe
// for concurrent use. Implementations honor ctx and may add their own
// per-call timeouts and retries (the Redis back-end does); they surface
// storeerr.ErrTimeout / ErrTransport for
// infrastructure failures and never for business outcomes (a rejected admit
// is not an error).
type Store interface {
	// Admit evaluates the sliding window for key at time now: evicts
	// entries with timestamp <= now-window, then appends now iff the
	// surviving count is strictly less than max. MUST be atomic per key.
	Admit(ctx context.Context, key string, now time.Time, window time.Duration, max int) (AdmitResult, error)

	// SetFlag stores value under key with the given TTL, overwriting any
	// existing value.
	SetFlag(ctx context.Context, key, value string, ttl time.Duration) error
	// GetFlag returns the current value and whether it was present.
	GetFlag(ctx context.Context, key string) (string, bool, error)
	// DeleteFlag removes key; a missing key is not an error.
	DeleteFlag(ctx context.Context, key string) error
	// ExistsFlag reports whether key currently has a value.
	ExistsFlag(ctx context.Context, key string) (bool, error)

	// TrackActive records that ip was observed at time now in the active
	// set identified by setKey, evicting members older than window.
	TrackActive(ctx context.Context, setKey, ip string, now time.Time, window time.Duration) error
	// CountActive returns the number of distinct members observed within
	// (now-window, now] in the active set identified by setKey.
	CountActive(ctx context.Context, setKey string, now time.Time, window time.Duration) (int, error)

	// Ping verifies connectivity for the health prober.
	Ping(ctx context.Context) error
	// Close releases any held resources.
	Close() error
}
