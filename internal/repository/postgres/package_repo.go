// internal/repository/postgres/package_repo.go
package postgres

import (
	"context"
	"fmt"

	"netbill-service/internal/domain/plan"
	xerrors "netbill-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PackageRepository struct {
	db *pgxpool.Pool
}

func NewPackageRepository(db *pgxpool.Pool) *PackageRepository {
	return &PackageRepository{db: db}
}

const packageColumns = `
	id, code, name, price, duration_days, mikrotik_profile_name, upload_mbps, download_mbps,
	description, is_active, created_at, updated_at, deleted_at
`

func scanPackage(row pgx.Row) (*plan.Package, error) {
	var p plan.Package
	err := row.Scan(
		&p.ID, &p.Code, &p.Name, &p.Price, &p.DurationDays, &p.MikrotikProfileName,
		&p.UploadMbps, &p.DownloadMbps, &p.Description, &p.IsActive,
		&p.CreatedAt, &p.UpdatedAt, &p.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PackageRepository) Create(ctx context.Context, p *plan.Package) error {
	query := `
		INSERT INTO packages (
			code, name, price, duration_days, mikrotik_profile_name,
			upload_mbps, download_mbps, description, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx, query,
		p.Code, p.Name, p.Price, p.DurationDays, p.MikrotikProfileName,
		p.UploadMbps, p.DownloadMbps, p.Description, p.IsActive,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("package %s: %w", p.Code, xerrors.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to create package: %w", err)
	}
	return nil
}

func (r *PackageRepository) FindByID(ctx context.Context, id int64) (*plan.Package, error) {
	query := `SELECT ` + packageColumns + ` FROM packages WHERE id = $1 AND deleted_at IS NULL`

	p, err := scanPackage(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err = notFound(err); err == xerrors.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to find package: %w", err)
	}
	return p, nil
}

// List returns live packages, optionally only the active ones.
func (r *PackageRepository) List(ctx context.Context, activeOnly bool) ([]*plan.Package, error) {
	query := `SELECT ` + packageColumns + ` FROM packages WHERE deleted_at IS NULL`
	if activeOnly {
		query += ` AND is_active = TRUE`
	}
	query += ` ORDER BY price ASC, name ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	defer rows.Close()

	var packages []*plan.Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan package: %w", err)
		}
		packages = append(packages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate packages: %w", err)
	}
	return packages, nil
}
