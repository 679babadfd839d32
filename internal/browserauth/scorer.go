// Package browserauth scores requests for browser authenticity: an
// additive, stateless score over User-Agent, header, and
// JavaScript-support axes.
package browserauth

import (
	"net/http"
	"strings"
)

// Strictness selects the admission threshold.
type Strictness string

const (
	Strict   Strictness = "STRICT"
	Moderate Strictness = "MODERATE"
	Loose    Strictness = "LOOSE"
)

func (s Strictness) threshold() int {
	switch s {
	case Strict:
		return 50
	case Loose:
		return -20
	default:
		return 20
	}
}

// Config parameterizes the scorer from the browser_detection.* config keys.
type Config struct {
	Strictness          Strictness
	MinUserAgentLength  int
	MaxUserAgentLength  int
	BotKeywords         []string
	RealBrowserKeywords []string
	RequiredHeaders     []string
	SuspiciousHeaders   []string
}

// Result carries the final score and which axes contributed negatively,
// for the rejection body's "failing axes" list.
type Result struct {
	Admit       bool
	Score       int
	FailingAxes []string
}

// Scorer is stateless and idempotent: identical input headers always
// produce an identical score.
type Scorer struct {
	cfg Config
}

// New constructs a Scorer from cfg.
func New(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score evaluates req and returns the admission result.
func (s *Scorer) Score(req *http.Request) Result {
	ua := req.Header.Get("User-Agent")
	uaScore := s.scoreUserAgent(ua)
	headerScore := s.scoreHeaders(req.Header)
	jsScore := s.scoreJS(req.Header)

	total := uaScore + headerScore + jsScore
	threshold := s.cfg.Strictness.threshold()

	var failing []string
	if uaScore < 0 {
		failing = append(failing, "user_agent")
	}
	if headerScore < 0 {
		failing = append(failing, "headers")
	}
	if jsScore < 0 {
		failing = append(failing, "javascript_support")
	}

	return Result{Admit: total >= threshold, Score: total, FailingAxes: failing}
}

func (s *Scorer) scoreUserAgent(ua string) int {
	score := 0
	if ua == "" {
		return -50
	}

	lower := strings.ToLower(ua)

	minLen := s.cfg.MinUserAgentLength
	maxLen := s.cfg.MaxUserAgentLength
	if minLen > 0 && len(ua) < minLen {
		score -= 30
	}
	if maxLen > 0 && len(ua) > maxLen {
		score -= 20
	}

	for _, kw := range s.cfg.BotKeywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			score -= 80
			break // first match only
		}
	}

	realBrowser := false
	for _, kw := range s.cfg.RealBrowserKeywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			realBrowser = true
			break
		}
	}
	if realBrowser {
		score += 20
	} else {
		score -= 40
	}

	if strings.Contains(lower, "mobile") || strings.Contains(lower, "android") || strings.Contains(lower, "iphone") {
		score += 10
	}

	hasParen := strings.Contains(ua, "(")
	hasSemi := strings.Contains(ua, ";")
	if !hasParen && !hasSemi {
		score -= 25
	} else if hasParen && hasSemi {
		score += 15
	}

	return score
}

func (s *Scorer) scoreHeaders(h http.Header) int {
	score := 0
	missing := 0
	for _, name := range s.cfg.RequiredHeaders {
		if h.Get(name) == "" {
			score -= 15
			missing++
		} else {
			score += 5
		}
	}
	if missing > 2 {
		score -= 30
	}

	accept := h.Get("Accept")
	switch {
	case accept == "*/*":
		score -= 20
	case strings.Contains(accept, "text/html"):
		score += 15
	}

	if al := h.Get("Accept-Language"); strings.Contains(al, "q=") {
		score += 10
	}

	if ae := strings.ToLower(h.Get("Accept-Encoding")); strings.Contains(ae, "gzip") || strings.Contains(ae, "deflate") {
		score += 10
	}

	for _, name := range s.cfg.SuspiciousHeaders {
		if h.Get(name) != "" {
			score -= 10
		}
	}

	if strings.EqualFold(h.Get("Connection"), "keep-alive") {
		score += 5
	}

	return score
}

func (s *Scorer) scoreJS(h http.Header) int {
	score := 0
	if strings.EqualFold(h.Get("X-Requested-With"), "XMLHttpRequest") {
		score += 20
	}
	if h.Get("Referer") != "" {
		score += 10
	}
	return score
}

// EvaluateOnError determines the fallback decision when the scorer itself
// fails: STRICT rejects, MODERATE/LOOSE admit.
func (s *Scorer) EvaluateOnError() bool {
	return s.cfg.Strictness != Strict
}
