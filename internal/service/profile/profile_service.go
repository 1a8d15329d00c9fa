// internal/service/profile/profile_service.go
package profile

import (
	"context"
	"errors"
	"fmt"

	"netbill-service/internal/domain/plan"
	"netbill-service/internal/domain/router"
	xerrors "netbill-service/internal/pkg/errors"

	"go.uber.org/zap"
)

type Router interface {
	EnsurePool(ctx context.Context, pool router.Pool) error
	EnsureProfile(ctx context.Context, p router.Profile) error
}

type Packages interface {
	List(ctx context.Context, activeOnly bool) ([]*plan.Package, error)
}

type Config struct {
	PoolName       string
	PoolRanges     []string
	LocalAddress   string
	SuspendProfile string
	SuspendRate    string
	PendingProfile string
	PendingRate    string
}

// Result lists what a sync touched. Failed holds per-profile errors keyed by name.
type Result struct {
	Pool     string            `json:"pool"`
	Profiles []string          `json:"profiles"`
	Failed   map[string]string `json:"failed,omitempty"`
}

type ProfileService struct {
	router   Router
	packages Packages
	cfg      Config
	logger   *zap.Logger
}

func NewProfileService(rt Router, packages Packages, cfg Config, logger *zap.Logger) *ProfileService {
	if cfg.SuspendRate == "" {
		cfg.SuspendRate = "0/0"
	}
	return &ProfileService{router: rt, packages: packages, cfg: cfg, logger: logger}
}

// Sync makes sure the address pool, one profile per active package, and the
// pending and suspend profiles exist on the router. A failing profile does not
// stop the others. The pool is a prerequisite: if it cannot be ensured, Sync stops.
func (s *ProfileService) Sync(ctx context.Context) (*Result, error) {
	res := &Result{Pool: s.cfg.PoolName, Failed: map[string]string{}}

	if err := s.router.EnsurePool(ctx, router.Pool{Name: s.cfg.PoolName, Ranges: s.cfg.PoolRanges}); err != nil {
		return res, fmt.Errorf("ensure pool %s: %w", s.cfg.PoolName, err)
	}

	pkgs, err := s.packages.List(ctx, true)
	if err != nil {
		return res, fmt.Errorf("failed to load packages: %w", err)
	}

	profiles := make([]router.Profile, 0, len(pkgs)+2)
	for _, p := range pkgs {
		profiles = append(profiles, router.Profile{
			Name:          p.ProfileName(),
			RateLimit:     p.RateLimit(),
			LocalAddress:  s.cfg.LocalAddress,
			RemoteAddress: s.cfg.PoolName,
			Comment:       "package " + p.Code,
		})
	}
	if s.cfg.PendingProfile != "" {
		profiles = append(profiles, router.Profile{
			Name:          s.cfg.PendingProfile,
			RateLimit:     s.cfg.PendingRate,
			LocalAddress:  s.cfg.LocalAddress,
			RemoteAddress: s.cfg.PoolName,
		})
	}
	profiles = append(profiles, router.Profile{
		Name:          s.cfg.SuspendProfile,
		RateLimit:     s.cfg.SuspendRate,
		LocalAddress:  s.cfg.LocalAddress,
		RemoteAddress: s.cfg.PoolName,
	})

	var errs []error
	seen := make(map[string]bool, len(profiles))
	for _, p := range profiles {
		if seen[p.Name] {
			continue
		}
		seen[p.Name] = true

		if err := s.router.EnsureProfile(ctx, p); err != nil {
			s.logger.Error("failed to ensure router profile",
				zap.String("profile", p.Name),
				zap.String("kind", xerrors.Kind(err)),
				zap.Error(err),
			)
			res.Failed[p.Name] = err.Error()
			errs = append(errs, err)
			continue
		}
		res.Profiles = append(res.Profiles, p.Name)
	}

	s.logger.Info("router profiles synced",
		zap.String("pool", s.cfg.PoolName),
		zap.Int("ensured", len(res.Profiles)),
		zap.Int("failed", len(res.Failed)),
	)
	return res, errors.Join(errs...)
}
