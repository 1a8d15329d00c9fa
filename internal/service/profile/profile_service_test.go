package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"netbill-service/internal/domain/plan"
	"netbill-service/internal/domain/router"
	xerrors "netbill-service/internal/pkg/errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type recordingRouter struct {
	pools    []router.Pool
	profiles []router.Profile
	fail     map[string]error
	poolErr  error
}

func (r *recordingRouter) EnsurePool(_ context.Context, p router.Pool) error {
	r.pools = append(r.pools, p)
	return r.poolErr
}

func (r *recordingRouter) EnsureProfile(_ context.Context, p router.Profile) error {
	if err := r.fail[p.Name]; err != nil {
		return err
	}
	r.profiles = append(r.profiles, p)
	return nil
}

type staticPackages []*plan.Package

func (s staticPackages) List(context.Context, bool) ([]*plan.Package, error) { return s, nil }

var testConfig = Config{
	PoolName:       "ppp-pool-dynamic",
	PoolRanges:     []string{"172.16.88.2-172.16.88.254"},
	LocalAddress:   "172.16.88.1",
	SuspendProfile: "isolir",
	PendingProfile: "pending",
	PendingRate:    "512k/512k",
}

func packages() staticPackages {
	return staticPackages{
		{ID: 1, Code: "BASIC", Name: "Basic 10M", Price: decimal.NewFromInt(150000), UploadMbps: 5, DownloadMbps: 10,
			MikrotikProfileName: sql.NullString{String: "basic-10m", Valid: true}},
		{ID: 2, Code: "PRO", Name: "pro-20m", Price: decimal.NewFromInt(250000), UploadMbps: 10, DownloadMbps: 20},
	}
}

func TestSyncEnsuresPoolAndProfiles(t *testing.T) {
	rt := &recordingRouter{}
	svc := NewProfileService(rt, packages(), testConfig, zap.NewNop())

	res, err := svc.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(rt.pools) != 1 || rt.pools[0].RangesValue() != "172.16.88.2-172.16.88.254" {
		t.Errorf("pools = %+v", rt.pools)
	}

	byName := map[string]router.Profile{}
	for _, p := range rt.profiles {
		byName[p.Name] = p
	}
	if p := byName["basic-10m"]; p.RateLimit != "5M/10M" || p.RemoteAddress != "ppp-pool-dynamic" || p.LocalAddress != "172.16.88.1" {
		t.Errorf("basic profile = %+v", p)
	}
	if p := byName["pro-20m"]; p.RateLimit != "10M/20M" {
		t.Errorf("profile name should fall back to package name, got %+v", rt.profiles)
	}
	if _, ok := byName["isolir"]; !ok {
		t.Error("suspend profile missing")
	}
	if p := byName["pending"]; p.RateLimit != "512k/512k" {
		t.Errorf("pending profile = %+v", p)
	}
	if len(res.Profiles) != 4 || len(res.Failed) != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestSyncCollectsProfileErrors(t *testing.T) {
	rt := &recordingRouter{fail: map[string]error{
		"basic-10m": fmt.Errorf("add: %w", xerrors.ErrRouterConflict),
	}}
	svc := NewProfileService(rt, packages(), testConfig, zap.NewNop())

	res, err := svc.Sync(context.Background())
	if !errors.Is(err, xerrors.ErrRouterConflict) {
		t.Fatalf("expected joined conflict error, got %v", err)
	}
	if _, ok := res.Failed["basic-10m"]; !ok {
		t.Errorf("failed = %v", res.Failed)
	}
	if len(res.Profiles) != 3 {
		t.Errorf("other profiles should still be ensured, got %v", res.Profiles)
	}
}

func TestSyncStopsWhenPoolFails(t *testing.T) {
	rt := &recordingRouter{poolErr: xerrors.ErrRouterUnavailable}
	svc := NewProfileService(rt, packages(), testConfig, zap.NewNop())

	if _, err := svc.Sync(context.Background()); !errors.Is(err, xerrors.ErrRouterUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if len(rt.profiles) != 0 {
		t.Error("profiles should not be touched without a pool")
	}
}
