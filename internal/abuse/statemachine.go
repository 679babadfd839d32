// Package abuse implements the admission state machine: whitelist,
// blacklist, and the global CAPTCHA-required flag, coupled with DDoS
// hysteresis on the active-IP count.
package abuse

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sentrygate/internal/ipstore"
	"sentrygate/internal/limiter"
	"sentrygate/internal/storeerr"
)

// Verdict is the terminal admission outcome for one request.
type Verdict string

const (
	VerdictAdmit     Verdict = "ADMIT"
	VerdictChallenge Verdict = "CHALLENGE"
)

// Decision carries everything downstream filters / the audit record need.
type Decision struct {
	Verdict       Verdict
	RedirectURL   string
	RateLimited   bool
	RateLimitType string
	InWhitelist   bool
	InBlacklist   bool
	BlacklistInfo string
	RelaxedAPI    bool // strict_mode=false escape hatch was used
}

// Config parameterizes the state machine from the rate_limit.* / captcha.*
// config keys.
type Config struct {
	SkipPaths                 []string
	BlackListEnabled          bool
	WhiteListTTL              time.Duration
	BlackListTTL              time.Duration
	CaptchaTTL                time.Duration
	ActiveWindow              time.Duration
	DDoSThresholdIPCount      int
	DDoSReleaseIPCount        int
	CaptchaPagePath           string
	BaseURL                   string
	StrictMode                bool
	AllowAPIWhenCaptchaActive bool
}

const (
	flagWhitelist       = "white_list"
	flagBlacklist       = "black_list"
	flagCaptchaRequired = "captcha_required"
	activeSetKey        = "global"
)

// StateMachine evaluates the admission verdict for one request.
type StateMachine struct {
	store   ipstore.Store
	limiter *limiter.Limiter
	cfg     Config
	logger  *slog.Logger
}

// New constructs a StateMachine.
func New(store ipstore.Store, lim *limiter.Limiter, cfg Config, logger *slog.Logger) *StateMachine {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateMachine{store: store, limiter: lim, cfg: cfg, logger: logger}
}

// Evaluate runs the admission transitions in order, first match wins. Any
// Store failure anywhere in this evaluation collapses the verdict to
// admit: availability of the store must never gate traffic.
func (m *StateMachine) Evaluate(ctx context.Context, ip, path string, isAPIRequest bool, now time.Time) Decision {
	// 1. skip-paths bypass the whole state machine.
	for _, skip := range m.cfg.SkipPaths {
		if skip == path {
			return Decision{Verdict: VerdictAdmit}
		}
	}

	// 2. whitelisted -> admit, no counter updates.
	whitelisted, err := m.store.ExistsFlag(ctx, flagWhitelist+":"+ip)
	if err != nil {
		return m.failOpen(err)
	}
	if whitelisted {
		return Decision{Verdict: VerdictAdmit, InWhitelist: true}
	}

	// 3. blacklisted -> challenge.
	reason, blacklisted, err := m.store.GetFlag(ctx, flagBlacklist+":"+ip)
	if err != nil {
		return m.failOpen(err)
	}
	if blacklisted {
		return Decision{
			Verdict:       VerdictChallenge,
			RedirectURL:   m.captchaURL(),
			InBlacklist:   true,
			BlacklistInfo: reason,
		}
	}

	// 4. record IP observation in the active set.
	if err := m.store.TrackActive(ctx, activeSetKey, ip, now, m.cfg.ActiveWindow); err != nil {
		return m.failOpen(err)
	}

	// 5. sliding-window limiter.
	limDecision := m.limiter.Admit(ctx, ip, path, now)
	if !limDecision.Allowed {
		if m.cfg.BlackListEnabled {
			reason := fmt.Sprintf("IP_RATE_LIMIT:%s", limDecision.LimitType)
			if err := m.blacklist(ctx, ip, reason); err != nil {
				return m.failOpen(err)
			}
		}
		return Decision{
			Verdict:       VerdictChallenge,
			RedirectURL:   m.captchaURL(),
			RateLimited:   true,
			RateLimitType: limDecision.LimitType,
		}
	}

	// 6. DDoS hysteresis.
	decision, err := m.evaluateHysteresis(ctx, ip, now, isAPIRequest)
	if err != nil {
		return m.failOpen(err)
	}
	if decision != nil {
		return *decision
	}

	// 7. otherwise admit.
	return Decision{Verdict: VerdictAdmit}
}

func (m *StateMachine) evaluateHysteresis(ctx context.Context, ip string, now time.Time, isAPIRequest bool) (*Decision, error) {
	count, err := m.store.CountActive(ctx, activeSetKey, now, m.cfg.ActiveWindow)
	if err != nil {
		return nil, err
	}

	captchaActive, err := m.store.ExistsFlag(ctx, flagCaptchaRequired)
	if err != nil {
		return nil, err
	}

	switch {
	case !captchaActive && count >= m.cfg.DDoSThresholdIPCount:
		if err := m.store.SetFlag(ctx, flagCaptchaRequired, "true", m.cfg.CaptchaTTL); err != nil {
			return nil, err
		}
		if err := m.blacklist(ctx, ip, "DDOS_THRESHOLD"); err != nil {
			return nil, err
		}
		return &Decision{Verdict: VerdictChallenge, RedirectURL: m.captchaURL()}, nil

	case captchaActive && count <= m.cfg.DDoSReleaseIPCount:
		if err := m.store.DeleteFlag(ctx, flagCaptchaRequired); err != nil {
			return nil, err
		}
		return &Decision{Verdict: VerdictAdmit}, nil

	case captchaActive:
		if !m.cfg.StrictMode && isAPIRequest {
			return &Decision{Verdict: VerdictAdmit, RelaxedAPI: true}, nil
		}
		if err := m.blacklist(ctx, ip, "CAPTCHA_ACTIVE"); err != nil {
			return nil, err
		}
		return &Decision{Verdict: VerdictChallenge, RedirectURL: m.captchaURL()}, nil
	}

	return nil, nil
}

func (m *StateMachine) blacklist(ctx context.Context, ip, reason string) error {
	value := fmt.Sprintf("reason:%s,timestamp:%d", reason, time.Now().UnixMilli())
	return m.store.SetFlag(ctx, flagBlacklist+":"+ip, value, m.cfg.BlackListTTL)
}

func (m *StateMachine) captchaURL() string {
	return m.cfg.BaseURL + m.cfg.CaptchaPagePath
}

func (m *StateMachine) failOpen(err error) Decision {
	if storeerr.Infra(err) {
		m.logger.Warn("abuse: store failure, failing open", "error", err)
	} else {
		m.logger.Error("abuse: unexpected store error, failing open", "error", err)
	}
	return Decision{Verdict: VerdictAdmit, RateLimitType: "ERROR"}
}
