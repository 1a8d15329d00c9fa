package plan

import (
	"context"
	"errors"
	"testing"

	"netbill-service/internal/domain/plan"
	xerrors "netbill-service/internal/pkg/errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type memRepo struct {
	rows []*plan.Package
}

func (m *memRepo) Create(_ context.Context, p *plan.Package) error {
	for _, r := range m.rows {
		if r.Code == p.Code {
			return xerrors.ErrDuplicateEntry
		}
	}
	p.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, p)
	return nil
}

func (m *memRepo) FindByID(_ context.Context, id int64) (*plan.Package, error) {
	for _, r := range m.rows {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (m *memRepo) List(_ context.Context, activeOnly bool) ([]*plan.Package, error) {
	var out []*plan.Package
	for _, r := range m.rows {
		if !activeOnly || r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestCreatePackage(t *testing.T) {
	svc := NewPackageService(&memRepo{}, zap.NewNop())

	p, err := svc.Create(context.Background(), &plan.CreatePackageRequest{
		Code: " basic ", Name: "Basic 10M", Price: decimal.NewFromInt(150000), UploadMbps: 5, DownloadMbps: 10,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.Code != "BASIC" || p.DurationDays != 30 || !p.IsActive || p.ProfileName() != "Basic 10M" {
		t.Errorf("package = %+v", p)
	}

	if _, err := svc.Create(context.Background(), &plan.CreatePackageRequest{
		Code: "BASIC", Name: "again", Price: decimal.NewFromInt(1), UploadMbps: 1, DownloadMbps: 1,
	}); !errors.Is(err, xerrors.ErrDuplicateEntry) {
		t.Errorf("duplicate code: %v", err)
	}
}

func TestCreatePackageValidation(t *testing.T) {
	svc := NewPackageService(&memRepo{}, zap.NewNop())

	tests := []struct {
		name string
		req  plan.CreatePackageRequest
	}{
		{"negative price", plan.CreatePackageRequest{Code: "A", Name: "A", Price: decimal.NewFromInt(-1), UploadMbps: 1, DownloadMbps: 1}},
		{"no rate", plan.CreatePackageRequest{Code: "A", Name: "A", Price: decimal.Zero}},
		{"negative duration", plan.CreatePackageRequest{Code: "A", Name: "A", DurationDays: -3, UploadMbps: 1, DownloadMbps: 1}},
		{"blank code", plan.CreatePackageRequest{Code: "  ", Name: "A", UploadMbps: 1, DownloadMbps: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), &tt.req); !errors.Is(err, xerrors.ErrInvalidInput) {
				t.Errorf("expected invalid input, got %v", err)
			}
		})
	}
}
