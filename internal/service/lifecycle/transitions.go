// internal/service/lifecycle/transitions.go
package lifecycle

import (
	"fmt"

	"netbill-service/internal/domain/subscriber"
	xerrors "netbill-service/internal/pkg/errors"
)

// allowed lists legal status changes. active -> active is a renewal.
var allowed = map[subscriber.Status][]subscriber.Status{
	subscriber.StatusPending: {
		subscriber.StatusActive,
		subscriber.StatusSuspended,
		subscriber.StatusExpired,
	},
	subscriber.StatusActive: {
		subscriber.StatusActive,
		subscriber.StatusGracePeriod,
		subscriber.StatusSuspended,
		subscriber.StatusExpired,
	},
	subscriber.StatusGracePeriod: {
		subscriber.StatusActive,
		subscriber.StatusSuspended,
		subscriber.StatusExpired,
	},
	subscriber.StatusSuspended: {
		subscriber.StatusActive,
		subscriber.StatusExpired,
	},
	subscriber.StatusExpired: {
		subscriber.StatusActive,
	},
}

// CanTransition reports whether a subscriber may move from one status to another.
func CanTransition(from, to subscriber.Status) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to subscriber.Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: illegal transition %s -> %s", xerrors.ErrInvalidInput, from, to)
	}
	return nil
}
