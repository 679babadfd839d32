// Package captcha issues an expected challenge text bound to an IP, and
// verifies submissions against it.
package captcha

import (
	"context"
	"crypto/rand"
	"log/slog"
	"time"

	"sentrygate/internal/ipstore"
)

const (
	flagCaptchaText = "ip_captcha"
	flagBlacklist   = "black_list"
	flagWhitelist   = "white_list"
	issueTTL        = time.Minute
	charset         = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// Verifier issues and checks CAPTCHA text bound per-IP. The expected text
// is always freshly generated, never a fixed literal.
type Verifier struct {
	store        ipstore.Store
	whitelistTTL time.Duration
	logger       *slog.Logger
}

// New constructs a Verifier.
func New(store ipstore.Store, whitelistTTL time.Duration, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{store: store, whitelistTTL: whitelistTTL, logger: logger}
}

// GenerateText returns a random 4-character challenge string. Rendering it
// into an actual image is an external collaborator.
func GenerateText() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, 4)
	for i, b := range buf {
		out[i] = charset[int(b)%len(charset)]
	}
	return string(out), nil
}

// Issue stores (ip -> expectedText) with a 1-minute TTL, independent of any
// other state.
func (v *Verifier) Issue(ctx context.Context, ip, expectedText string) error {
	return v.store.SetFlag(ctx, flagCaptchaText+":"+ip, expectedText, issueTTL)
}

// Verify checks submittedText against the stored expected text for ip. On
// success it removes ip from the blacklist, inserts it into the whitelist,
// and deletes the ip->captcha-text entry, in that order. A failure to clear
// the blacklist or the captcha-text entry is only logged; a failure to
// insert the whitelist entry is logged and returned as (false, err), since
// that insertion is the step whose success is user-observable.
func (v *Verifier) Verify(ctx context.Context, ip, submittedText string) (bool, error) {
	expected, ok, err := v.store.GetFlag(ctx, flagCaptchaText+":"+ip)
	if err != nil {
		return false, err
	}
	if !ok || expected != submittedText {
		return false, nil
	}

	if err := v.store.DeleteFlag(ctx, flagBlacklist+":"+ip); err != nil {
		v.logger.Warn("captcha: failed to clear blacklist entry", "ip", ip, "error", err)
	}
	if err := v.store.SetFlag(ctx, flagWhitelist+":"+ip, "true", v.whitelistTTL); err != nil {
		v.logger.Error("captcha: failed to whitelist ip after successful verification", "ip", ip, "error", err)
		return false, err
	}
	if err := v.store.DeleteFlag(ctx, flagCaptchaText+":"+ip); err != nil {
		v.logger.Warn("captcha: failed to clear captcha text entry", "ip", ip, "error", err)
	}

	return true, nil
}
