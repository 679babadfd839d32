// Package filterchain implements an ordered pipeline of request filters
// sharing one per-request Context as a shared attribute bus.
package filterchain

import (
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// wellKnown is the attribute-bus key vocabulary filters are expected to
// coordinate on. Any other key is an implementation detail, not a
// cross-filter contract.
var wellKnown = map[string]bool{
	"rate_limited":          true,
	"rate_limit_type":       true,
	"in_whitelist":          true,
	"in_blacklist":          true,
	"blacklist_info":        true,
	"request_start_time":    true,
	"record_id":             true,
	"response_body_excerpt": true,
}

// overwritable lists the keys a later filter is explicitly permitted to
// overwrite. No filter sets response_status on the bus; the chain records
// the final status through SetStatus.
var overwritable = map[string]bool{
	"response_status": true,
}

// Context bundles the immutable request facts with a mutable attribute map
// filters populate as the request moves through the pipeline. Its lifetime
// is one request; it is discarded after the audit record is enqueued.
type Context struct {
	Request     *http.Request
	Writer      http.ResponseWriter
	Method      string
	Path        string
	RemoteAddr  string
	ArrivalTime time.Time
	TraceID     string
	ClientIP    string
	Logger      *slog.Logger

	mu         sync.Mutex
	attrs      map[string]any
	terminated bool
	status     int
}

// NewContext builds a Context from an inbound request.
func NewContext(w http.ResponseWriter, r *http.Request, now time.Time, logger *slog.Logger) *Context {
	return &Context{
		Request:     r,
		Writer:      w,
		Method:      r.Method,
		Path:        r.URL.Path,
		RemoteAddr:  r.RemoteAddr,
		ArrivalTime: now,
		Logger:      logger,
		attrs:       make(map[string]any),
	}
}

// Set records a fact on the attribute bus. Attributes are monotonic: a
// filter MUST NOT overwrite a well-known key already set by an earlier
// filter, except the keys explicitly permitted to be finalized later.
// Non-well-known keys may be freely reused by the filter that owns them.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if wellKnown[key] {
		if _, exists := c.attrs[key]; exists && !overwritable[key] {
			if c.Logger != nil {
				c.Logger.Warn("filterchain: attempted to overwrite monotonic attribute", "key", key)
			}
			return
		}
	}
	c.attrs[key] = value
}

// Get reads an attribute bus value.
func (c *Context) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.attrs[key]
	return v, ok
}

// GetString is a convenience accessor returning "" when absent or not a
// string.
func (c *Context) GetString(key string) string {
	v, ok := c.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// GetBool is a convenience accessor returning false when absent.
func (c *Context) GetBool(key string) bool {
	v, ok := c.Get(key)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Terminate marks the pipeline as having produced a terminal response. It
// is idempotent; only the first call's status is honored.
func (c *Context) Terminate(status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminated {
		return
	}
	c.terminated = true
	c.status = status
}

// Terminated reports whether an earlier filter already produced a terminal
// response.
func (c *Context) Terminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminated
}

// Status returns the response status recorded so far (0 if none yet).
func (c *Context) Status() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SetStatus records the response status, overwriting any earlier value;
// the chain calls it with the forwarder's status.
func (c *Context) SetStatus(status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
}
