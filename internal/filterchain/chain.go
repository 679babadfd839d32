package filterchain

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// FilterFunc runs one stage of the pipeline. It returns true to forward to
// the next filter, false if it produced a terminal response (the Context
// is already Terminated in that case).
type FilterFunc func(ctx context.Context, rc *Context) bool

// Filter pairs a stage with its startup-assigned priority. Filters are
// totally ordered by integer priority, assigned once at startup from a
// single authoritative table; there is no runtime re-ordering.
type Filter struct {
	Name     string
	Priority int
	Run      FilterFunc
}

// Canonical filter priorities, lowest runs first.
const (
	PriorityTraceInit         = 10
	PriorityDDoSDefense       = 20
	PriorityBrowserDetection  = 30
	PriorityAPIRateLimit      = 40
	PriorityRequestLogger     = 50
	PriorityAccessLogger      = 60
	PriorityAccessRecorder    = 70
)

// Forwarder performs the upstream reverse-proxy call; the chain treats the
// actual proxying mechanics as an external collaborator. The chain calls it
// once, after every non-terminating filter with priority <
// PriorityRequestLogger has run, and records its status for the
// logging/recording filters.
type Forwarder func(ctx context.Context, rc *Context) (status int, err error)

// Chain is the totally ordered filter pipeline.
type Chain struct {
	filters   []Filter
	forwarder Forwarder
}

// NewChain sorts filters by priority once at construction; later
// re-ordering is unsupported by design.
func NewChain(forwarder Forwarder, filters ...Filter) *Chain {
	sorted := make([]Filter, len(filters))
	copy(sorted, filters)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	return &Chain{filters: sorted, forwarder: forwarder}
}

// Run executes the chain against rc. It stops at the first filter that
// terminates the pipeline; otherwise it calls the Forwarder once, right
// before the logging/recording filters, then continues running the
// remaining filters (which observe the forwarded response).
func (c *Chain) Run(ctx context.Context, rc *Context) {
	forwarded := false
	for _, f := range c.filters {
		select {
		case <-ctx.Done():
			rc.Terminate(499)
			return
		default:
		}

		if !forwarded && f.Priority >= PriorityRequestLogger {
			status, err := c.callForwarder(ctx, rc)
			forwarded = true
			if err != nil {
				rc.Logger.Error("filterchain: upstream forward failed", "error", err)
			}
			rc.SetStatus(status)
		}

		if rc.Terminated() {
			return
		}
		if !f.Run(ctx, rc) {
			return
		}
	}
	if !forwarded {
		status, err := c.callForwarder(ctx, rc)
		if err != nil {
			rc.Logger.Error("filterchain: upstream forward failed", "error", err)
		}
		rc.SetStatus(status)
	}
}

func (c *Chain) callForwarder(ctx context.Context, rc *Context) (int, error) {
	if c.forwarder == nil {
		return 200, nil
	}
	return c.forwarder(ctx, rc)
}

// Handler adapts a Chain into an http.Handler — the gateway listener's
// entry point. Each request gets a fresh Context and runs the chain under
// a bounded per-request timeout.
type Handler struct {
	Chain   *Chain
	Logger  *slog.Logger
	Timeout time.Duration
}

// NewHandler builds a Handler wrapping chain. timeout defaults to 300ms.
func NewHandler(chain *Chain, logger *slog.Logger, timeout time.Duration) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 300 * time.Millisecond
	}
	return &Handler{Chain: chain, Logger: logger, Timeout: timeout}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	rc := NewContext(w, r, time.Now(), h.Logger)
	h.Chain.Run(ctx, rc)
}
