package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	err := WorkerError("backend failed", fmt.Errorf("status 500"))
	if got := err.Error(); got != "worker_error: backend failed (status 500)" {
		t.Fatalf("unexpected message %q", got)
	}

	plain := JobNotFound("batch abc")
	if got := plain.Error(); got != "job_not_found: batch abc" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestAsAndCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("dispatch: %w", Timeout("deadline exceeded", nil))

	typed, ok := As(wrapped)
	if !ok {
		t.Fatalf("expected As to find *Error in chain")
	}
	if typed.Code != CodeTimeout {
		t.Fatalf("code = %s, want %s", typed.Code, CodeTimeout)
	}
	if CodeOf(wrapped) != CodeTimeout {
		t.Fatalf("CodeOf mismatch")
	}
	if CodeOf(errors.New("boom")) != CodeInternal {
		t.Fatalf("foreign errors should map to internal")
	}
	if _, ok := As(nil); ok {
		t.Fatalf("As(nil) should be false")
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", ResultNotReady("batch still processing"))
	if !errors.Is(err, ResultNotReady("")) {
		t.Fatalf("expected errors.Is to match on code")
	}
	if errors.Is(err, JobNotFound("")) {
		t.Fatalf("different codes must not match")
	}
}

func TestWrapKeepsExistingCode(t *testing.T) {
	orig := AmbiguousRequest("empty query")
	if Wrap(orig, "ignored") != orig {
		t.Fatalf("Wrap should return existing *Error unchanged")
	}
	foreign := Wrap(errors.New("disk full"), "archive write failed")
	if foreign.Code != CodeInternal || foreign.Message != "archive write failed" {
		t.Fatalf("unexpected wrap result %+v", foreign)
	}
	if Wrap(nil, "x") != nil {
		t.Fatalf("Wrap(nil) should be nil")
	}
}
