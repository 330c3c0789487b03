package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestError(t *testing.T) {
	sentinel := New(InvalidArgument, "invalid field")

	t.Run("Is matches copies", func(t *testing.T) {
		err := sentinel.With("field", "x")
		if !errors.Is(err, sentinel) {
			t.Error("errors.Is(With(...), sentinel) = false")
		}
		wrapped := fmt.Errorf("insert: %w", err)
		if !errors.Is(wrapped, sentinel) {
			t.Error("errors.Is(wrapped, sentinel) = false")
		}
		cause := errors.New("eof")
		if w := sentinel.Wrap(cause); !errors.Is(w, sentinel) || !errors.Is(w, cause) {
			t.Error("Wrap(...) does not match both the sentinel and the cause")
		}
		if errors.Is(err, New(InvalidArgument, "other")) {
			t.Error("different message matched")
		}
	})

	t.Run("With does not mutate sentinel", func(t *testing.T) {
		_ = sentinel.With("field", "x")
		if len(sentinel.Details()) != 0 {
			t.Errorf("sentinel details = %v, want empty", sentinel.Details())
		}
	})

	t.Run("Error string", func(t *testing.T) {
		tests := []struct {
			name string
			err  *Error
			want string
		}{
			{"plain", New(NotFound, "table not found"), "table not found"},
			{"detail", New(NotFound, "table not found").With("table", "t"), "table not found map[table:t]"},
			{"wrapped", Storage("read failed", errors.New("eof")), "read failed: eof"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if got := tt.err.Error(); got != tt.want {
					t.Errorf("Error() = %q, want %q", got, tt.want)
				}
			})
		}
	})

	t.Run("CodeOf", func(t *testing.T) {
		tests := []struct {
			name string
			err  error
			want Code
		}{
			{"coded", New(KeyExists, "exists"), KeyExists},
			{"wrapped", fmt.Errorf("op: %w", Storage("x", errors.New("y"))), StorageError},
			{"plain", errors.New("boom"), Internal},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if got := CodeOf(tt.err); got != tt.want {
					t.Errorf("CodeOf() = %q, want %q", got, tt.want)
				}
			})
		}
	})

	t.Run("Unwrap", func(t *testing.T) {
		inner := errors.New("disk full")
		err := Storage("commit failed", inner)
		if !errors.Is(err, inner) {
			t.Error("errors.Is(err, inner) = false")
		}
	})
}
