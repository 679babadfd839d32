package storeerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestInfra_RecognizesKnownKinds(t *testing.T) {
	for _, err := range []error{ErrTimeout, ErrTransport, ErrPoolExhausted} {
		if !Infra(err) {
			t.Fatalf("expected %v to be classified as infra", err)
		}
	}
}

func TestInfra_RecognizesWrappedKinds(t *testing.T) {
	wrapped := fmt.Errorf("dial redis: %w", ErrTransport)
	if !Infra(wrapped) {
		t.Fatal("expected a wrapped infra error to still be recognized")
	}
}

func TestInfra_RejectsUnrelatedErrors(t *testing.T) {
	if Infra(errors.New("rate limited")) {
		t.Fatal("expected a business-level error to not be classified as infra")
	}
	if Infra(nil) {
		t.Fatal("expected nil to not be classified as infra")
	}
}
