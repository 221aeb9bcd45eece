package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf_Untagged(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindTransient {
		t.Fatalf("kind = %s, want transient", got)
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	base := Rejection("insufficient_stock", errors.New("2 short"))
	wrapped := fmt.Errorf("reserve cart: %w", base)

	if got := KindOf(wrapped); got != KindRejection {
		t.Fatalf("kind = %s, want rejection", got)
	}
	if got := CodeOf(wrapped); got != "insufficient_stock" {
		t.Fatalf("code = %q, want insufficient_stock", got)
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{Transient("db_timeout", nil), true},
		{errors.New("untagged"), true},
		{Rejection("empty_cart", nil), false},
		{Terminal("invalid_transition", nil), false},
		{Compensation("cancel_failed", nil), false},
	}
	for _, tc := range cases {
		if got := Retryable(tc.err); got != tc.want {
			t.Errorf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestErrorString(t *testing.T) {
	err := Terminal("invalid_transition", errors.New("cancelled->completed"))
	want := "terminal: invalid_transition: cancelled->completed"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}
