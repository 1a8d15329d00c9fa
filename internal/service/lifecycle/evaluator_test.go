package lifecycle

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"netbill-service/internal/domain/plan"
	"netbill-service/internal/domain/subscriber"
	xerrors "netbill-service/internal/pkg/errors"

	"github.com/shopspring/decimal"
)

var jakarta = time.FixedZone("WIB", 7*3600)

func testEvaluator() *Evaluator {
	return NewEvaluator(jakarta, Profiles{Default: "default", Pending: "pending", Suspend: "suspend-profile"})
}

func basicPackage() *plan.Package {
	return &plan.Package{
		ID:                  1,
		Code:                "BASIC",
		Name:                "Basic 10M",
		Price:               decimal.NewFromInt(150000),
		DurationDays:        30,
		MikrotikProfileName: sql.NullString{String: "basic-10m", Valid: true},
		UploadMbps:          5,
		DownloadMbps:        10,
		IsActive:            true,
	}
}

func newSubscriber(status subscriber.Status, expiredAt time.Time, balance int64) *subscriber.Subscriber {
	pkg := basicPackage()
	return &subscriber.Subscriber{
		ID:              10,
		Username:        "budi",
		Service:         subscriber.DefaultService,
		Status:          status,
		Balance:         decimal.NewFromInt(balance),
		PackageID:       sql.NullInt64{Int64: pkg.ID, Valid: true},
		Package:         pkg,
		ExpiredAt:       sql.NullTime{Time: expiredAt, Valid: !expiredAt.IsZero()},
		GracePeriodDays: 1,
	}
}

func TestShouldSuspendGraceBoundary(t *testing.T) {
	e := testEvaluator()
	expiry := time.Date(2024, 1, 10, 10, 0, 0, 0, jakarta)
	s := newSubscriber(subscriber.StatusActive, expiry, 0)

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before expiry", time.Date(2024, 1, 9, 12, 0, 0, 0, jakarta), false},
		{"inside grace", time.Date(2024, 1, 11, 8, 0, 0, 0, jakarta), false},
		{"last second of grace day", time.Date(2024, 1, 11, 23, 59, 59, 0, jakarta), false},
		{"first instant after grace", time.Date(2024, 1, 12, 0, 0, 0, 0, jakarta), true},
		{"deadline in UTC terms", time.Date(2024, 1, 11, 17, 0, 0, 0, time.UTC), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.ShouldSuspend(s, tt.now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ShouldSuspend(%s) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestShouldSuspendZeroGrace(t *testing.T) {
	e := testEvaluator()
	s := newSubscriber(subscriber.StatusActive, time.Date(2024, 3, 1, 9, 0, 0, 0, jakarta), 0)
	s.GracePeriodDays = 0

	if got, _ := e.ShouldSuspend(s, time.Date(2024, 3, 1, 22, 0, 0, 0, jakarta)); got {
		t.Error("expiry day itself should still be served")
	}
	if got, _ := e.ShouldSuspend(s, time.Date(2024, 3, 2, 0, 0, 1, 0, jakarta)); !got {
		t.Error("day after expiry should suspend with zero grace")
	}
}

func TestShouldSuspendNeverTwice(t *testing.T) {
	e := testEvaluator()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, jakarta)
	for _, status := range []subscriber.Status{subscriber.StatusSuspended, subscriber.StatusExpired} {
		s := newSubscriber(status, now.AddDate(0, -1, 0), 0)
		got, err := e.ShouldSuspend(s, now)
		if err != nil || got {
			t.Errorf("status %s: ShouldSuspend = %v, %v; want false, nil", status, got, err)
		}
	}
}

func TestShouldSuspendPackageRules(t *testing.T) {
	e := testEvaluator()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, jakarta)
	expired := now.AddDate(0, 0, -10)

	noPackage := newSubscriber(subscriber.StatusActive, expired, 999999)
	noPackage.PackageID = sql.NullInt64{}
	noPackage.Package = nil
	if got, err := e.ShouldSuspend(noPackage, now); err != nil || !got {
		t.Errorf("no package: got %v, %v; want true, nil", got, err)
	}

	dangling := newSubscriber(subscriber.StatusActive, expired, 0)
	dangling.Package = nil
	if _, err := e.ShouldSuspend(dangling, now); !errors.Is(err, xerrors.ErrInconsistentSubscriber) {
		t.Errorf("dangling package: err = %v, want ErrInconsistentSubscriber", err)
	}

	paid := newSubscriber(subscriber.StatusGracePeriod, expired, 150000)
	if got, _ := e.ShouldSuspend(paid, now); got {
		t.Error("balance equal to price must not suspend")
	}

	unpaid := newSubscriber(subscriber.StatusGracePeriod, expired, 149999)
	if got, _ := e.ShouldSuspend(unpaid, now); !got {
		t.Error("balance below price should suspend")
	}

	noExpiry := newSubscriber(subscriber.StatusActive, time.Time{}, 0)
	if got, _ := e.ShouldSuspend(noExpiry, now); got {
		t.Error("subscriber without expiry should not suspend")
	}
}

func TestShouldRestore(t *testing.T) {
	e := testEvaluator()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, jakarta)

	s := newSubscriber(subscriber.StatusSuspended, now.AddDate(0, 0, -5), 150000)
	if got, err := e.ShouldRestore(s, now); err != nil || !got {
		t.Fatalf("ShouldRestore = %v, %v; want true, nil", got, err)
	}

	s.Balance = decimal.NewFromInt(1000)
	if got, _ := e.ShouldRestore(s, now); got {
		t.Error("insufficient balance should not restore")
	}

	active := newSubscriber(subscriber.StatusActive, now, 999999)
	if got, _ := e.ShouldRestore(active, now); got {
		t.Error("only suspended subscribers are restored")
	}

	noPackage := newSubscriber(subscriber.StatusSuspended, now, 999999)
	noPackage.PackageID = sql.NullInt64{}
	noPackage.Package = nil
	if got, err := e.ShouldRestore(noPackage, now); got || err != nil {
		t.Errorf("no package: got %v, %v; want false, nil", got, err)
	}
}

func TestTargetProfile(t *testing.T) {
	e := testEvaluator()
	s := newSubscriber(subscriber.StatusActive, time.Now(), 0)

	tests := []struct {
		status subscriber.Status
		sub    *subscriber.Subscriber
		want   string
	}{
		{subscriber.StatusSuspended, s, "suspend-profile"},
		{subscriber.StatusExpired, s, "suspend-profile"},
		{subscriber.StatusPending, s, "pending"},
		{subscriber.StatusActive, s, "basic-10m"},
		{subscriber.StatusGracePeriod, s, "basic-10m"},
		{subscriber.StatusActive, &subscriber.Subscriber{}, "default"},
		{subscriber.StatusActive, &subscriber.Subscriber{Package: &plan.Package{Name: "Home"}}, "Home"},
	}

	for _, tt := range tests {
		if got := e.TargetProfile(tt.status, tt.sub); got != tt.want {
			t.Errorf("TargetProfile(%s) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestDecide(t *testing.T) {
	e := testEvaluator()
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, jakarta)
	longAgo := now.AddDate(0, 0, -10)
	yesterday := now.Add(-20 * time.Hour)

	tests := []struct {
		name string
		sub  *subscriber.Subscriber
		want Action
	}{
		{"suspended with funds restores", newSubscriber(subscriber.StatusSuspended, longAgo, 150000), ActionRestore},
		{"suspended without funds stays", newSubscriber(subscriber.StatusSuspended, longAgo, 0), ActionNone},
		{"active past grace without funds suspends", newSubscriber(subscriber.StatusActive, longAgo, 0), ActionSuspend},
		{"active past grace with funds renews", newSubscriber(subscriber.StatusActive, longAgo, 200000), ActionRenew},
		{"grace past deadline with funds renews", newSubscriber(subscriber.StatusGracePeriod, longAgo, 150000), ActionRenew},
		{"pending past deadline without funds suspends", newSubscriber(subscriber.StatusPending, longAgo, 0), ActionSuspend},
		{"active just expired enters grace", newSubscriber(subscriber.StatusActive, yesterday, 0), ActionEnterGrace},
		{"active just expired with funds renews at expiry", newSubscriber(subscriber.StatusActive, yesterday, 150000), ActionRenew},
		{"grace inside deadline with funds renews", newSubscriber(subscriber.StatusGracePeriod, yesterday, 150000), ActionRenew},
		{"grace inside deadline waits", newSubscriber(subscriber.StatusGracePeriod, yesterday, 0), ActionNone},
		{"active before expiry", newSubscriber(subscriber.StatusActive, now.AddDate(0, 0, 3), 0), ActionNone},
		{"expired status ignored", newSubscriber(subscriber.StatusExpired, longAgo, 0), ActionNone},
		{"pending without expiry", newSubscriber(subscriber.StatusPending, time.Time{}, 0), ActionNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := e.Decide(tt.sub, now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.Action != tt.want {
				t.Errorf("Decide() = %s, want %s", d.Action, tt.want)
			}
		})
	}
}

func TestDecideDanglingPackage(t *testing.T) {
	e := testEvaluator()
	s := newSubscriber(subscriber.StatusActive, time.Now(), 0)
	s.Package = nil

	d, err := e.Decide(s, time.Now())
	if !errors.Is(err, xerrors.ErrInconsistentSubscriber) {
		t.Fatalf("err = %v, want ErrInconsistentSubscriber", err)
	}
	if d.Action != ActionNone {
		t.Errorf("action = %s, want none", d.Action)
	}
}

func TestApplyRenewalRestoreScenario(t *testing.T) {
	e := testEvaluator()
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, jakarta)
	s := newSubscriber(subscriber.StatusSuspended, now.AddDate(0, 0, -3), 150000)
	s.SuspendedAt = sql.NullTime{Time: now.AddDate(0, 0, -1), Valid: true}

	if err := e.ApplyRenewal(s, now, true); err != nil {
		t.Fatalf("ApplyRenewal: %v", err)
	}

	if s.Status != subscriber.StatusActive {
		t.Errorf("status = %s, want active", s.Status)
	}
	if !s.Balance.IsZero() {
		t.Errorf("balance = %s, want 0", s.Balance)
	}
	if s.SuspendedAt.Valid {
		t.Error("suspended_at should be cleared")
	}
	if !s.RestoredAt.Valid || !s.RestoredAt.Time.Equal(now) {
		t.Errorf("restored_at = %v, want %v", s.RestoredAt, now)
	}
	if want := now.AddDate(0, 0, 30); !s.ExpiredAt.Time.Equal(want) {
		t.Errorf("expired_at = %v, want %v", s.ExpiredAt.Time, want)
	}
	if s.DueDate.Time.Day() != 15 || s.DueDate.Time.Month() != time.July {
		t.Errorf("due_date = %v, want 2024-07-15", s.DueDate.Time)
	}
	if !s.ActivatedAt.Valid {
		t.Error("activated_at should be set")
	}
}

func TestApplyRenewalExtendsFutureExpiry(t *testing.T) {
	e := testEvaluator()
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, jakarta)
	future := now.AddDate(0, 0, 5)
	s := newSubscriber(subscriber.StatusGracePeriod, future, 100000)

	if err := e.ApplyRenewal(s, now, false); err != nil {
		t.Fatalf("ApplyRenewal: %v", err)
	}
	if want := future.AddDate(0, 0, 30); !s.ExpiredAt.Time.Equal(want) {
		t.Errorf("expired_at = %v, want %v", s.ExpiredAt.Time, want)
	}
	if !s.Balance.IsZero() {
		t.Errorf("balance should floor at zero, got %s", s.Balance)
	}
	if s.RestoredAt.Valid {
		t.Error("renewal must not set restored_at")
	}
}

func TestRenewalAtExpiryKeepsPeriodContinuous(t *testing.T) {
	e := testEvaluator()
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, jakarta)
	expiry := now.Add(-20 * time.Hour)
	s := newSubscriber(subscriber.StatusActive, expiry, 150000)

	d, err := e.Decide(s, now)
	if err != nil || d.Action != ActionRenew {
		t.Fatalf("Decide = %s, %v; want renew", d.Action, err)
	}
	if err := e.Apply(s, d.Action, now); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if want := expiry.AddDate(0, 0, 30); !s.ExpiredAt.Time.Equal(want) {
		t.Errorf("expired_at = %v, want %v", s.ExpiredAt.Time, want)
	}
	if s.Status != subscriber.StatusActive || !s.Balance.IsZero() {
		t.Errorf("status=%s balance=%s", s.Status, s.Balance)
	}

	// Past the grace deadline the new period starts now.
	late := newSubscriber(subscriber.StatusGracePeriod, now.AddDate(0, 0, -10), 150000)
	if err := e.ApplyRenewal(late, now, false); err != nil {
		t.Fatalf("ApplyRenewal: %v", err)
	}
	if want := now.AddDate(0, 0, 30); !late.ExpiredAt.Time.Equal(want) {
		t.Errorf("late expired_at = %v, want %v", late.ExpiredAt.Time, want)
	}
}

func TestApplySuspensionRejectsDoubleSuspend(t *testing.T) {
	e := testEvaluator()
	now := time.Now()
	s := newSubscriber(subscriber.StatusActive, now, 0)

	if err := e.ApplySuspension(s, now); err != nil {
		t.Fatalf("first suspension: %v", err)
	}
	if !s.SuspendedAt.Valid {
		t.Fatal("suspended_at should be set")
	}
	if err := e.ApplySuspension(s, now); !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Errorf("second suspension err = %v, want ErrInvalidInput", err)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to subscriber.Status
		want     bool
	}{
		{subscriber.StatusPending, subscriber.StatusActive, true},
		{subscriber.StatusActive, subscriber.StatusGracePeriod, true},
		{subscriber.StatusGracePeriod, subscriber.StatusSuspended, true},
		{subscriber.StatusSuspended, subscriber.StatusActive, true},
		{subscriber.StatusSuspended, subscriber.StatusSuspended, false},
		{subscriber.StatusSuspended, subscriber.StatusGracePeriod, false},
		{subscriber.StatusExpired, subscriber.StatusSuspended, false},
		{subscriber.StatusPending, subscriber.StatusGracePeriod, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
