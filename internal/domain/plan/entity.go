// internal/domain/plan/entity.go
package plan

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Package is a billing plan. It maps to a router PPP profile by name.
type Package struct {
	ID           int64           `json:"id" db:"id"`
	Code         string          `json:"code" db:"code"`
	Name         string          `json:"name" db:"name"`
	Price        decimal.Decimal `json:"price" db:"price"`
	DurationDays int             `json:"duration_days" db:"duration_days"`

	// Router profile
	MikrotikProfileName sql.NullString `json:"mikrotik_profile_name,omitempty" db:"mikrotik_profile_name"`
	UploadMbps          int            `json:"upload_mbps" db:"upload_mbps"`
	DownloadMbps        int            `json:"download_mbps" db:"download_mbps"`

	Description sql.NullString `json:"description,omitempty" db:"description"`
	IsActive    bool           `json:"is_active" db:"is_active"`

	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
	DeletedAt sql.NullTime `json:"deleted_at,omitempty" db:"deleted_at"`
}

// ProfileName returns the router profile this package maps to, falling back to the package name.
func (p *Package) ProfileName() string {
	if p.MikrotikProfileName.Valid && p.MikrotikProfileName.String != "" {
		return p.MikrotikProfileName.String
	}
	return p.Name
}

// RateLimit renders the RouterOS rate-limit string "{upload}M/{download}M".
func (p *Package) RateLimit() string {
	return fmt.Sprintf("%dM/%dM", p.UploadMbps, p.DownloadMbps)
}
