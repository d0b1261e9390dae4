package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfUnwraps(t *testing.T) {
	base := Validation("reward must be > 0")
	wrapped := fmt.Errorf("create task: %w", base)

	if got := KindOf(wrapped); got != KindValidation {
		t.Errorf("KindOf(wrapped): got %v, want validation", got)
	}
	if !errors.Is(wrapped, ErrValidation) {
		t.Error("errors.Is should match the validation sentinel through wrapping")
	}
	if errors.Is(wrapped, ErrPayment) {
		t.Error("errors.Is must not match a different kind")
	}
}

func TestStateTransitionCarriesPair(t *testing.T) {
	err := StateTransition("Draft", "Paid", "no direct path")
	if err.From != "Draft" || err.To != "Paid" {
		t.Errorf("from/to not carried: %q -> %q", err.From, err.To)
	}
	want := "invalid state transition Draft -> Paid: no direct path"
	if err.Error() != want {
		t.Errorf("Error(): got %q, want %q", err.Error(), want)
	}
}

func TestRetriable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{Integration("swap provider", errors.New("connection refused")), true},
		{Timeout("hold provider did not respond"), true},
		{Validation("empty title"), false},
		{StateTransition("Paid", "Draft", "terminal"), false},
		{Crypto("bad signature"), false},
		{NotFound("task %s", "abc"), false},
	}
	for _, c := range cases {
		if got := Retriable(c.err); got != c.want {
			t.Errorf("Retriable(%v): got %v, want %v", c.err, got, c.want)
		}
	}
}

func TestForeignErrorIsInternal(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != KindInternal {
		t.Errorf("foreign error kind: got %v, want internal", got)
	}
}
