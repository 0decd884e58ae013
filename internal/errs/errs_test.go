package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassOfUnclassified(t *testing.T) {
	if got := ClassOf(errors.New("boom")); got != ClassUnclassified {
		t.Fatalf("want unclassified, got %v", got)
	}
	if got := ClassOf(nil); got != ClassUnclassified {
		t.Fatalf("want unclassified for nil, got %v", got)
	}
}

func TestTerminalWrapsAndUnwraps(t *testing.T) {
	cause := errors.New("not found")
	err := Terminal("missing media", cause)

	if !IsTerminal(err) {
		t.Fatalf("expected terminal classification")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to see through wrapping")
	}
}

func TestRetryableWrappedInFmt(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("probe step: %w", Retryable("transport", cause))

	if ClassOf(err) != ClassRetryable {
		t.Fatalf("expected retryable classification through fmt.Errorf wrapping")
	}
}

func TestCancelled(t *testing.T) {
	err := Cancelled(context.Canceled)
	if !IsCancelled(err) {
		t.Fatalf("expected cancelled classification")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the cause to stay visible through wrapping")
	}
}
