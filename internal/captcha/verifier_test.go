package captcha

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"sentrygate/internal/ipstore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGenerateText(t *testing.T) {
	text, err := GenerateText()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(text) != 4 {
		t.Fatalf("expected 4-character text, got %q", text)
	}
	if text == "1234" {
		t.Fatal("expected text to never be the literal constant 1234")
	}
	for _, r := range text {
		if !containsRune(charset, r) {
			t.Fatalf("generated character %q not in charset", r)
		}
	}
}

func containsRune(s string, r rune) bool {
	for _, c := range s {
		if c == r {
			return true
		}
	}
	return false
}

func TestVerifier_IssueThenVerifySucceeds(t *testing.T) {
	store := ipstore.NewMemoryStore()
	v := New(store, 5*time.Minute, discardLogger())
	ctx := context.Background()

	if err := v.Issue(ctx, "1.2.3.4", "WXYZ"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ok, err := v.Verify(ctx, "1.2.3.4", "WXYZ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected verification to succeed with matching text")
	}

	whitelisted, err := store.ExistsFlag(ctx, "white_list:1.2.3.4")
	if err != nil || !whitelisted {
		t.Fatalf("expected ip to be whitelisted after verification, ok=%v err=%v", whitelisted, err)
	}
	_, stillHasCaptcha, _ := store.GetFlag(ctx, "ip_captcha:1.2.3.4")
	if stillHasCaptcha {
		t.Fatal("expected captcha text entry to be cleared after verification")
	}
}

func TestVerifier_VerifyRejectsWrongText(t *testing.T) {
	store := ipstore.NewMemoryStore()
	v := New(store, 5*time.Minute, discardLogger())
	ctx := context.Background()

	_ = v.Issue(ctx, "5.5.5.5", "WXYZ")
	ok, err := v.Verify(ctx, "5.5.5.5", "WRONG")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected wrong text to fail verification")
	}
	whitelisted, _ := store.ExistsFlag(ctx, "white_list:5.5.5.5")
	if whitelisted {
		t.Fatal("expected no whitelist entry on failed verification")
	}
}

func TestVerifier_VerifyClearsBlacklist(t *testing.T) {
	store := ipstore.NewMemoryStore()
	v := New(store, 5*time.Minute, discardLogger())
	ctx := context.Background()

	_ = store.SetFlag(ctx, "black_list:9.9.9.9", "reason:TEST", time.Minute)
	_ = v.Issue(ctx, "9.9.9.9", "ABCD")

	ok, err := v.Verify(ctx, "9.9.9.9", "ABCD")
	if err != nil || !ok {
		t.Fatalf("expected successful verification, ok=%v err=%v", ok, err)
	}

	blacklisted, err := store.ExistsFlag(ctx, "black_list:9.9.9.9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if blacklisted {
		t.Fatal("expected blacklist entry to be cleared after successful verification")
	}
}

func TestVerifier_VerifyWithNoIssuedTextFails(t *testing.T) {
	store := ipstore.NewMemoryStore()
	v := New(store, 5*time.Minute, discardLogger())

	ok, err := v.Verify(context.Background(), "8.8.8.8", "ANY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected verification with no issued text to fail")
	}
}
