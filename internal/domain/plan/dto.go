// internal/domain/plan/dto.go
package plan

import (
	"github.com/shopspring/decimal"
)

type CreatePackageRequest struct {
	Code                string          `json:"code" binding:"required,max=50"`
	Name                string          `json:"name" binding:"required,max=255"`
	Price               decimal.Decimal `json:"price" binding:"required"`
	DurationDays        int             `json:"duration_days" binding:"omitempty,min=1"`
	MikrotikProfileName string          `json:"mikrotik_profile_name" binding:"omitempty,max=100"`
	UploadMbps          int             `json:"upload_mbps" binding:"required,min=1"`
	DownloadMbps        int             `json:"download_mbps" binding:"required,min=1"`
	Description         string          `json:"description"`
}

type PackageListFilters struct {
	ActiveOnly bool `form:"active_only"`
}
