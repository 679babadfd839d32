package filterchain

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"sentrygate/internal/abuse"
	"sentrygate/internal/audit"
	"sentrygate/internal/browserauth"
	"sentrygate/internal/identity"
	"sentrygate/internal/telemetry"
)

// SetSecurityHeaders applies the fixed set of hardening response headers.
func SetSecurityHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("X-Frame-Options", "SAMEORIGIN")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; script-src 'self' 'unsafe-inline'; frame-src 'self';")
}

// IsAPIRequest is the heuristic distinguishing page clients (redirected to
// the CAPTCHA page) from API clients (answered with JSON).
func IsAPIRequest(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}

// NewTraceInit resolves the canonical client IP and trace id, and applies
// security headers. It never terminates the chain. tp may be nil; when
// present it is used only to propagate an inbound trace id, never to
// instrument the admission decision with spans.
func NewTraceInit(resolver *identity.Resolver, tp *telemetry.Provider) Filter {
	return Filter{
		Name:     "TRACE_INIT",
		Priority: PriorityTraceInit,
		Run: func(ctx context.Context, rc *Context) bool {
			SetSecurityHeaders(rc.Writer)

			rc.ClientIP = resolver.Resolve(rc.Request)
			rc.Set("request_start_time", rc.ArrivalTime)

			trace := rc.Request.Header.Get("X-Trace-Id")
			if trace == "" && tp != nil {
				_, trace = tp.Propagate(ctx, rc.Request)
			}
			if trace == "" {
				trace = uuid.NewString()
			}
			rc.TraceID = trace
			rc.Writer.Header().Set("X-Trace-Id", trace)
			return true
		},
	}
}

// NewDDoSDefense runs the consolidated abuse state machine: whitelist,
// blacklist, sliding-window limiter, and DDoS hysteresis all in one pass.
// This single call backs both the DDOS_DEFENSE and API_RATE_LIMIT priority
// slots; the rate-limit headers those slots expose are attached here and in
// NewAPIRateLimit.
func NewDDoSDefense(sm *abuse.StateMachine) Filter {
	return Filter{
		Name:     "DDOS_DEFENSE",
		Priority: PriorityDDoSDefense,
		Run: func(ctx context.Context, rc *Context) bool {
			now := time.Now()
			isAPI := IsAPIRequest(rc.Request)
			decision := sm.Evaluate(ctx, rc.ClientIP, rc.Path, isAPI, now)

			rc.Set("in_whitelist", decision.InWhitelist)
			rc.Set("in_blacklist", decision.InBlacklist)
			if decision.BlacklistInfo != "" {
				rc.Set("blacklist_info", decision.BlacklistInfo)
			}
			rc.Set("rate_limited", decision.RateLimited)
			if decision.RateLimitType != "" {
				rc.Set("rate_limit_type", decision.RateLimitType)
			}
			if decision.RelaxedAPI {
				rc.Writer.Header().Set("X-RateLimit-Relaxed", "true")
			}

			if decision.Verdict == abuse.VerdictChallenge {
				writeChallenge(rc, decision, isAPI)
				return false
			}
			return true
		},
	}
}

// NewAPIRateLimit attaches rate-limit visibility headers for admitted
// requests; the decision itself was already made by NewDDoSDefense.
func NewAPIRateLimit() Filter {
	return Filter{
		Name:     "API_RATE_LIMIT",
		Priority: PriorityAPIRateLimit,
		Run: func(_ context.Context, rc *Context) bool {
			if lt := rc.GetString("rate_limit_type"); lt != "" {
				rc.Writer.Header().Set("X-RateLimit-Type", lt)
			}
			return true
		},
	}
}

// NewBrowserDetection rejects non-browser traffic.
func NewBrowserDetection(scorer *browserauth.Scorer) Filter {
	return Filter{
		Name:     "BROWSER_DETECTION",
		Priority: PriorityBrowserDetection,
		Run: func(_ context.Context, rc *Context) bool {
			result := scorer.Score(rc.Request)
			if !result.Admit {
				writeNonBrowserRejected(rc, fmt.Sprintf("failing axes: %s", strings.Join(result.FailingAxes, ", ")))
				return false
			}
			return true
		},
	}
}

// NewRequestLogger logs the inbound request once it has passed admission.
func NewRequestLogger(logger *slog.Logger) Filter {
	return Filter{
		Name:     "REQUEST_LOGGER",
		Priority: PriorityRequestLogger,
		Run: func(_ context.Context, rc *Context) bool {
			logger.Info("request admitted",
				"trace_id", rc.TraceID, "client_ip", rc.ClientIP,
				"method", rc.Method, "path", rc.Path)
			return true
		},
	}
}

// NewAccessLogger logs the completed response.
func NewAccessLogger(logger *slog.Logger) Filter {
	return Filter{
		Name:     "ACCESS_LOGGER",
		Priority: PriorityAccessLogger,
		Run: func(_ context.Context, rc *Context) bool {
			logger.Info("access",
				"trace_id", rc.TraceID, "client_ip", rc.ClientIP,
				"path", rc.Path, "status", rc.Status(),
				"duration_ms", time.Since(rc.ArrivalTime).Milliseconds())
			return true
		},
	}
}

// NewAccessRecorder assembles and enqueues the admission record. It reads
// the response status the chain recorded from the forwarder and does not
// change it.
func NewAccessRecorder(sink *audit.Sink) Filter {
	return Filter{
		Name:     "ACCESS_RECORDER",
		Priority: PriorityAccessRecorder,
		Run: func(_ context.Context, rc *Context) bool {
			rec := audit.Record{
				ClientIP:          rc.ClientIP,
				Path:              rc.Path,
				Method:            rc.Method,
				UserAgent:         rc.Request.Header.Get("User-Agent"),
				RequestHeaders:    audit.FilterHeaders(rc.Request.Header),
				ResponseStatus:    rc.Status(),
				ProcessingTimeMs:  time.Since(rc.ArrivalTime).Milliseconds(),
				RateLimited:       rc.GetBool("rate_limited"),
				RateLimitType:     rc.GetString("rate_limit_type"),
				InWhitelist:       rc.GetBool("in_whitelist"),
				TraceID:           rc.TraceID,
				AccessTime:        time.Now(),
			}
			sink.Enqueue(rec)
			return true
		},
	}
}

func writeChallenge(rc *Context, decision abuse.Decision, isAPI bool) {
	if !isAPI {
		rc.Writer.Header().Set("Location", decision.RedirectURL)
		rc.Writer.WriteHeader(http.StatusFound)
		rc.Terminate(http.StatusFound)
		return
	}

	rc.Writer.Header().Set("Content-Type", "application/json")
	rc.Writer.WriteHeader(http.StatusTooManyRequests)
	var body string
	if decision.RateLimited {
		body = `{"code":429,"message":"请求频率过高，请稍后再试","data":null}`
	} else {
		body = `{"code":429,"message":"需要验证码验证","data":null}`
	}
	_, _ = rc.Writer.Write([]byte(body))
	rc.Terminate(http.StatusTooManyRequests)
}

func writeNonBrowserRejected(rc *Context, message string) {
	rc.Writer.Header().Set("Content-Type", "application/json")
	rc.Writer.WriteHeader(http.StatusForbidden)
	body := fmt.Sprintf(`{"success":false,"message":%q,"code":403,"timestamp":%d}`, message, time.Now().UnixMilli())
	_, _ = rc.Writer.Write([]byte(body))
	rc.Terminate(http.StatusForbidden)
}
