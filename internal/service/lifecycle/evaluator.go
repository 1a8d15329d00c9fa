// internal/service/lifecycle/evaluator.go
package lifecycle

import (
	"database/sql"
	"fmt"
	"time"

	"netbill-service/internal/domain/subscriber"
	xerrors "netbill-service/internal/pkg/errors"

	"github.com/shopspring/decimal"
)

type Action string

const (
	ActionNone       Action = "none"
	ActionSuspend    Action = "suspend"
	ActionRestore    Action = "restore"
	ActionRenew      Action = "renew"
	ActionEnterGrace Action = "enter_grace"
)

// ChangesStatus reports whether the action moves the subscriber to another lifecycle state.
func (a Action) ChangesStatus() bool {
	return a != ActionNone && a != ""
}

// Profiles names the router profiles that do not come from a package.
type Profiles struct {
	Default string
	Pending string
	Suspend string
}

// Decision is the outcome of evaluating one subscriber at a point in time.
type Decision struct {
	Action   Action
	Reason   string
	Deadline time.Time
}

// Evaluator holds the billing rules. It performs no I/O.
type Evaluator struct {
	loc      *time.Location
	profiles Profiles
}

func NewEvaluator(loc *time.Location, profiles Profiles) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	return &Evaluator{loc: loc, profiles: profiles}
}

func (e *Evaluator) Location() *time.Location {
	return e.loc
}

func (e *Evaluator) Profiles() Profiles {
	return e.profiles
}

// GraceDeadline is the last instant a subscriber keeps service after expiry:
// 23:59:59.999999999 local time, grace_period_days after expired_at.
func (e *Evaluator) GraceDeadline(s *subscriber.Subscriber) (time.Time, bool) {
	if !s.ExpiredAt.Valid {
		return time.Time{}, false
	}
	grace := s.GracePeriodDays
	if grace < 0 {
		grace = 0
	}
	d := s.ExpiredAt.Time.In(e.loc).AddDate(0, 0, grace)
	return endOfDay(d, e.loc), true
}

// ShouldSuspend is true when the grace deadline has passed and the subscriber
// has no package or cannot pay for it.
func (e *Evaluator) ShouldSuspend(s *subscriber.Subscriber, now time.Time) (bool, error) {
	if s.Status == subscriber.StatusSuspended || s.Status == subscriber.StatusExpired {
		return false, nil
	}
	deadline, ok := e.GraceDeadline(s)
	if !ok || !now.After(deadline) {
		return false, nil
	}
	if !s.HasPackage() {
		return true, nil
	}
	if s.DanglingPackage() {
		return false, inconsistent(s)
	}
	return s.Balance.LessThan(s.Package.Price), nil
}

// ShouldRestore is true for a suspended subscriber whose balance covers the package price.
func (e *Evaluator) ShouldRestore(s *subscriber.Subscriber, now time.Time) (bool, error) {
	if s.Status != subscriber.StatusSuspended {
		return false, nil
	}
	if !s.HasPackage() {
		return false, nil
	}
	if s.DanglingPackage() {
		return false, inconsistent(s)
	}
	return s.Balance.GreaterThanOrEqual(s.Package.Price), nil
}

// TargetProfile returns the router profile a subscriber in the given status should carry.
func (e *Evaluator) TargetProfile(status subscriber.Status, s *subscriber.Subscriber) string {
	switch status {
	case subscriber.StatusSuspended, subscriber.StatusExpired:
		return e.profiles.Suspend
	case subscriber.StatusPending:
		return e.profiles.Pending
	}
	if s.Package != nil {
		return s.Package.ProfileName()
	}
	return e.profiles.Default
}

// Decide picks at most one lifecycle action. Restoration takes precedence over suspension.
func (e *Evaluator) Decide(s *subscriber.Subscriber, now time.Time) (Decision, error) {
	if s.DanglingPackage() {
		return Decision{Action: ActionNone}, inconsistent(s)
	}

	restore, err := e.ShouldRestore(s, now)
	if err != nil {
		return Decision{Action: ActionNone}, err
	}
	if restore {
		return Decision{Action: ActionRestore, Reason: "balance covers package price"}, nil
	}

	deadline, hasExpiry := e.GraceDeadline(s)
	switch s.Status {
	case subscriber.StatusPending, subscriber.StatusActive, subscriber.StatusGracePeriod:
	default:
		return Decision{Action: ActionNone, Deadline: deadline}, nil
	}
	if !hasExpiry {
		return Decision{Action: ActionNone}, nil
	}

	// A prepaid subscriber renews at expiry instead of passing through grace.
	if now.After(s.ExpiredAt.Time) && s.Package != nil && s.Balance.GreaterThanOrEqual(s.Package.Price) {
		return Decision{Action: ActionRenew, Reason: "balance covers renewal", Deadline: deadline}, nil
	}

	if now.After(deadline) {
		suspend, err := e.ShouldSuspend(s, now)
		if err != nil {
			return Decision{Action: ActionNone}, err
		}
		if suspend {
			reason := "insufficient balance"
			if !s.HasPackage() {
				reason = "no package assigned"
			}
			return Decision{Action: ActionSuspend, Reason: reason, Deadline: deadline}, nil
		}
		return Decision{Action: ActionNone, Deadline: deadline}, nil
	}

	if s.Status == subscriber.StatusActive && now.After(s.ExpiredAt.Time) {
		return Decision{Action: ActionEnterGrace, Reason: "expired, inside grace period", Deadline: deadline}, nil
	}
	return Decision{Action: ActionNone, Deadline: deadline}, nil
}

// Apply mutates s according to the action. s should be a clone.
func (e *Evaluator) Apply(s *subscriber.Subscriber, action Action, now time.Time) error {
	switch action {
	case ActionSuspend:
		return e.ApplySuspension(s, now)
	case ActionRestore:
		return e.ApplyRenewal(s, now, true)
	case ActionRenew:
		return e.ApplyRenewal(s, now, false)
	case ActionEnterGrace:
		return e.ApplyGrace(s)
	case ActionNone, "":
		return nil
	}
	return fmt.Errorf("%w: unknown action %q", xerrors.ErrInvalidInput, action)
}

func (e *Evaluator) ApplySuspension(s *subscriber.Subscriber, now time.Time) error {
	if err := checkTransition(s.Status, subscriber.StatusSuspended); err != nil {
		return err
	}
	s.Status = subscriber.StatusSuspended
	s.SuspendedAt = sql.NullTime{Time: now, Valid: true}
	return nil
}

func (e *Evaluator) ApplyGrace(s *subscriber.Subscriber) error {
	if err := checkTransition(s.Status, subscriber.StatusGracePeriod); err != nil {
		return err
	}
	s.Status = subscriber.StatusGracePeriod
	return nil
}

// ApplyRenewal activates the subscriber for one more package period and deducts the price.
// The period runs from the current expiry when that is still ahead, or when a
// renewal lands inside the grace period; otherwise, and always for a restore, from now.
func (e *Evaluator) ApplyRenewal(s *subscriber.Subscriber, now time.Time, restore bool) error {
	if s.Package == nil {
		return inconsistent(s)
	}
	if err := checkTransition(s.Status, subscriber.StatusActive); err != nil {
		return err
	}

	s.Status = subscriber.StatusActive
	s.SuspendedAt = sql.NullTime{}
	if restore {
		s.RestoredAt = sql.NullTime{Time: now, Valid: true}
	}
	if !s.ActivatedAt.Valid {
		s.ActivatedAt = sql.NullTime{Time: now, Valid: true}
	}

	base := now
	if s.ExpiredAt.Valid {
		deadline, _ := e.GraceDeadline(s)
		if s.ExpiredAt.Time.After(now) || (!restore && !now.After(deadline)) {
			base = s.ExpiredAt.Time
		}
	}
	days := s.Package.DurationDays
	if days < 1 {
		days = 1
	}
	expiry := base.In(e.loc).AddDate(0, 0, days)
	s.ExpiredAt = sql.NullTime{Time: expiry, Valid: true}
	y, m, d := expiry.Date()
	s.DueDate = sql.NullTime{Time: time.Date(y, m, d, 0, 0, 0, 0, e.loc), Valid: true}

	balance := s.Balance.Sub(s.Package.Price)
	if balance.IsNegative() {
		balance = decimal.Zero
	}
	s.Balance = balance
	return nil
}

func endOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 999999999, loc)
}

func inconsistent(s *subscriber.Subscriber) error {
	return fmt.Errorf("%w: %s references package %d which is not loaded",
		xerrors.ErrInconsistentSubscriber, s.Username, s.PackageID.Int64)
}
