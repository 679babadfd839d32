// Package storeerr defines the infrastructure error kinds the admission
// pipeline recognizes at component boundaries. Business-level rejections
// (rate limited, blacklisted, non-browser) are never represented here —
// they are terminal decisions, not errors.
package storeerr

import "errors"

var (
	// ErrTimeout marks a Store operation that exceeded its call budget.
	ErrTimeout = errors.New("store: timeout")
	// ErrTransport marks a Store operation that failed due to a lost or
	// refused connection.
	ErrTransport = errors.New("store: transport")
	// ErrPoolExhausted marks a Store operation rejected because the
	// connection pool had no capacity left.
	ErrPoolExhausted = errors.New("store: pool exhausted")
)

// Infra reports whether err is one of the infrastructure kinds that must
// degrade to fail-open at a component boundary.
func Infra(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrTransport) || errors.Is(err, ErrPoolExhausted)
}
