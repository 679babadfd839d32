package filterchain

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestContext_SetIsMonotonicForWellKnownKeys(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/x", nil)
	rc := NewContext(w, r, time.Now(), nil)

	rc.Set("rate_limited", true)
	rc.Set("rate_limited", false)

	if !rc.GetBool("rate_limited") {
		t.Fatal("expected the first write to a well-known key to stick")
	}
}

func TestContext_ResponseStatusIsOverwritable(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/x", nil)
	rc := NewContext(w, r, time.Now(), nil)

	rc.SetStatus(200)
	rc.SetStatus(429)

	if rc.Status() != 429 {
		t.Fatalf("expected response_status to be finalizable, got %d", rc.Status())
	}
}

func TestContext_TerminateIsIdempotent(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/x", nil)
	rc := NewContext(w, r, time.Now(), nil)

	rc.Terminate(403)
	rc.Terminate(500)

	if !rc.Terminated() {
		t.Fatal("expected context to be terminated")
	}
	if rc.Status() != 403 {
		t.Fatalf("expected first Terminate call's status to stick, got %d", rc.Status())
	}
}

func TestContext_GetStringAndBoolDefaults(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/x", nil)
	rc := NewContext(w, r, time.Now(), nil)

	if rc.GetString("missing") != "" {
		t.Fatal("expected empty string default for missing key")
	}
	if rc.GetBool("missing") {
		t.Fatal("expected false default for missing key")
	}
}
