// internal/service/plan/package_service.go
package plan

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"netbill-service/internal/domain/plan"
	xerrors "netbill-service/internal/pkg/errors"

	"go.uber.org/zap"
)

const defaultDurationDays = 30

type Repository interface {
	Create(ctx context.Context, p *plan.Package) error
	FindByID(ctx context.Context, id int64) (*plan.Package, error)
	List(ctx context.Context, activeOnly bool) ([]*plan.Package, error)
}

type PackageService struct {
	repo   Repository
	logger *zap.Logger
}

func NewPackageService(repo Repository, logger *zap.Logger) *PackageService {
	return &PackageService{repo: repo, logger: logger}
}

// Create adds an active package. The router profile appears on the next profile sync.
func (s *PackageService) Create(ctx context.Context, req *plan.CreatePackageRequest) (*plan.Package, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" || strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: code and name are required", xerrors.ErrInvalidInput)
	}
	if req.Price.IsNegative() {
		return nil, fmt.Errorf("%w: price must not be negative", xerrors.ErrInvalidInput)
	}
	if req.UploadMbps < 1 || req.DownloadMbps < 1 {
		return nil, fmt.Errorf("%w: upload and download rates must be at least 1M", xerrors.ErrInvalidInput)
	}
	duration := req.DurationDays
	if duration == 0 {
		duration = defaultDurationDays
	}
	if duration < 1 {
		return nil, fmt.Errorf("%w: duration_days must be at least 1", xerrors.ErrInvalidInput)
	}

	p := &plan.Package{
		Code:         code,
		Name:         strings.TrimSpace(req.Name),
		Price:        req.Price,
		DurationDays: duration,
		UploadMbps:   req.UploadMbps,
		DownloadMbps: req.DownloadMbps,
		IsActive:     true,
	}
	if req.MikrotikProfileName != "" {
		p.MikrotikProfileName = sql.NullString{String: req.MikrotikProfileName, Valid: true}
	}
	if req.Description != "" {
		p.Description = sql.NullString{String: req.Description, Valid: true}
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("package created",
		zap.Int64("package_id", p.ID),
		zap.String("code", p.Code),
		zap.String("profile", p.ProfileName()),
		zap.String("rate_limit", p.RateLimit()),
	)
	return p, nil
}

func (s *PackageService) Get(ctx context.Context, id int64) (*plan.Package, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *PackageService) List(ctx context.Context, filters *plan.PackageListFilters) ([]*plan.Package, error) {
	return s.repo.List(ctx, filters != nil && filters.ActiveOnly)
}
