package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	xerrors "netbill-service/internal/pkg/errors"
	"netbill-service/internal/pkg/lock"

	"go.uber.org/zap"
)

type skipCounter map[string]int

func (s skipCounter) ObserveJobSkipped(job string) { s[job]++ }

func TestRunNow(t *testing.T) {
	s := New(time.UTC, lock.NewLocal(false), nil, time.Second, zap.NewNop())

	var ran int
	if err := s.Register("sync-secrets", "@every 1m", func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("job context should carry a deadline")
		}
		ran++
		return nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := s.RunNow(context.Background(), "sync-secrets"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if ran != 1 {
		t.Errorf("ran = %d, want 1", ran)
	}
	if err := s.RunNow(context.Background(), "missing"); !errors.Is(err, xerrors.ErrNotFound) {
		t.Errorf("unknown job: %v", err)
	}
}

func TestRunNowSkipsWhenLocked(t *testing.T) {
	locker := lock.NewLocal(false)
	skips := skipCounter{}
	s := New(time.UTC, locker, skips, time.Second, zap.NewNop())

	ran := false
	_ = s.Register("check-suspension", "", func(context.Context) error {
		ran = true
		return nil
	})

	release, err := locker.Acquire(context.Background(), lock.JobKey("check-suspension"))
	if err != nil {
		t.Fatal(err)
	}
	defer release(context.Background())

	if err := s.RunNow(context.Background(), "check-suspension"); !errors.Is(err, xerrors.ErrLockBusy) {
		t.Fatalf("expected lock busy, got %v", err)
	}
	if ran || skips["check-suspension"] != 1 {
		t.Errorf("ran=%v skips=%v", ran, skips)
	}
}

func TestRegisterValidation(t *testing.T) {
	s := New(time.UTC, lock.NewLocal(false), nil, time.Second, zap.NewNop())
	noop := func(context.Context) error { return nil }

	if err := s.Register("bad", "every now and then", noop); !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Errorf("invalid spec: %v", err)
	}
	if err := s.Register("a", "*/5 * * * *", noop); err != nil {
		t.Fatal(err)
	}
	if err := s.Register("a", "*/5 * * * *", noop); !errors.Is(err, xerrors.ErrConflict) {
		t.Errorf("duplicate: %v", err)
	}
	if got := s.Jobs(); len(got) != 1 || got[0] != "a" {
		t.Errorf("jobs = %v", got)
	}
}

func TestScheduledRunFires(t *testing.T) {
	s := New(time.UTC, lock.NewLocal(false), nil, time.Second, zap.NewNop())
	fired := make(chan struct{}, 1)
	if err := s.Register("tick", "@every 1s", func(context.Context) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	s.Start(context.Background())
	defer s.Stop(time.Second)

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled job did not fire")
	}
}
