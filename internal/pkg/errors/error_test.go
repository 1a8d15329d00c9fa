package xerrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{fmt.Errorf("dial: %w", ErrRouterUnavailable), "router_unavailable"},
		{fmt.Errorf("print: %w", ErrRouterNotFound), "router_not_found"},
		{fmt.Errorf("set: %w", ErrRouterConflict), "router_conflict"},
		{Wrap(ErrInconsistentSubscriber, "evaluate"), "inconsistent_subscriber"},
		{Wrap(ErrPersistence, "save"), "persistence"},
		{ErrLockBusy, "lock_busy"},
		{errors.New("boom"), "internal"},
	}

	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Fatal("Wrap(nil) should stay nil")
	}
	if !Is(Wrap(ErrNotFound, "subscriber"), ErrNotFound) {
		t.Fatal("wrapped error should match sentinel")
	}
}
