package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"bare kind", ErrNotFound, "NotFound"},
		{"wrapped", fmt.Errorf("%w: order 0x01", ErrAlreadyFinalized), "AlreadyFinalized"},
		{"double wrapped", fmt.Errorf("post: %w", fmt.Errorf("%w: short", ErrInsufficientFunds)), "InsufficientFunds"},
		{"foreign", errors.New("disk full"), "Internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.want {
				t.Errorf("Kind() = %q, want %q", got, tt.want)
			}
		})
	}
}
