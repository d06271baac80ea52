package apperr

import (
	"context"
	"fmt"
	"testing"
)

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", fmt.Errorf("embed: %w", context.DeadlineExceeded), true},
		{"provider", fmt.Errorf("ollama: %w", ErrProvider), true},
		{"validation", fmt.Errorf("entry: %w", ErrValidation), false},
	}
	for _, tc := range cases {
		if got := Retryable(tc.err); got != tc.want {
			t.Errorf("%s: Retryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestFatal(t *testing.T) {
	if Fatal(fmt.Errorf("x: %w", ErrValidation)) {
		t.Error("validation errors must not be fatal")
	}
	if !Fatal(fmt.Errorf("x: %w", ErrStoreUnavailable)) {
		t.Error("store unavailable must be fatal")
	}
	if !Fatal(context.Canceled) {
		t.Error("cancellation must be fatal")
	}
}
