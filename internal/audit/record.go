// Package audit implements the audit sink: an async, best-effort durable
// log of admission decisions with retention-based eviction.
package audit

import (
	"net/http"
	"strings"
	"time"
)

// Record is the admission record: created once per admitted or rejected
// request, retained for access_record.retention_days.
type Record struct {
	ID               string            `json:"id"`
	ClientIP         string            `json:"client_ip"`
	Path             string            `json:"path"`
	Method           string            `json:"method"`
	UserAgent        string            `json:"user_agent"`
	RequestHeaders   map[string]string `json:"request_headers"`
	ResponseStatus   int               `json:"response_status"`
	ProcessingTimeMs int64             `json:"processing_time_ms"`
	RateLimited      bool              `json:"rate_limited"`
	RateLimitType    string            `json:"rate_limit_type"`
	InWhitelist      bool              `json:"in_whitelist"`
	TraceID          string            `json:"trace_id"`
	AccessTime       time.Time         `json:"access_time"`
}

// sensitiveExact/sensitiveSubstrings are the header-name patterns that
// MUST be filtered before serialization.
var sensitiveExact = map[string]bool{
	"authorization": true,
	"cookie":        true,
}

var sensitiveSubstrings = []string{"token", "password"}

// FilterHeaders returns a copy of h with sensitive headers removed:
// Authorization, Cookie, and any header whose name contains "token" or
// "password" (case-insensitive).
func FilterHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		lower := strings.ToLower(name)
		if sensitiveExact[lower] {
			continue
		}
		sensitive := false
		for _, sub := range sensitiveSubstrings {
			if strings.Contains(lower, sub) {
				sensitive = true
				break
			}
		}
		if sensitive {
			continue
		}
		if len(values) > 0 {
			out[name] = values[0]
		}
	}
	return out
}
