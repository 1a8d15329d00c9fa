// internal/domain/subscriber/dto.go
package subscriber

import (
	"time"

	"github.com/shopspring/decimal"
)

type CreateSubscriberRequest struct {
	Username        string `json:"username" binding:"required,max=100"`
	Password        string `json:"password" binding:"required,min=4,max=100"`
	Service         string `json:"service" binding:"omitempty,oneof=pppoe pptp l2tp ovpn sstp any"`
	LocalAddress    string `json:"local_address" binding:"omitempty,ip"`
	RemoteAddress   string `json:"remote_address" binding:"omitempty,ip"`
	Phone           string `json:"phone" binding:"omitempty,max=20"`
	Email           string `json:"email" binding:"omitempty,email"`
	PackageID       *int64 `json:"package_id"`
	GracePeriodDays *int   `json:"grace_period_days" binding:"omitempty,min=0"`
}

type ListFilters struct {
	Status   *Status `form:"status"`
	Search   string  `form:"search"`
	Page     int     `form:"page" binding:"omitempty,min=1"`
	PageSize int     `form:"page_size" binding:"omitempty,min=1,max=100"`
}

// CandidateFilter selects subscribers for a reconcile pass.
type CandidateFilter struct {
	Statuses      []Status
	RequireExpiry bool
}

type ListResponse struct {
	Subscribers []SubscriberResponse `json:"subscribers"`
	Total       int64                `json:"total"`
	Page        int                  `json:"page"`
	PageSize    int                  `json:"page_size"`
	TotalPages  int                  `json:"total_pages"`
}

type SubscriberResponse struct {
	ID              int64           `json:"id"`
	Username        string          `json:"username"`
	Service         string          `json:"service"`
	LocalAddress    string          `json:"local_address,omitempty"`
	RemoteAddress   string          `json:"remote_address,omitempty"`
	Phone           string          `json:"phone,omitempty"`
	Email           string          `json:"email,omitempty"`
	Balance         decimal.Decimal `json:"balance"`
	PackageID       *int64          `json:"package_id,omitempty"`
	PackageName     string          `json:"package_name,omitempty"`
	Status          Status          `json:"status"`
	ExpiredAt       *time.Time      `json:"expired_at,omitempty"`
	DueDate         *time.Time      `json:"due_date,omitempty"`
	GracePeriodDays int             `json:"grace_period_days"`
	SuspendedAt     *time.Time      `json:"suspended_at,omitempty"`
	MikrotikID      string          `json:"mikrotik_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

func (s *Subscriber) ToResponse() SubscriberResponse {
	resp := SubscriberResponse{
		ID:              s.ID,
		Username:        s.Username,
		Service:         s.Service,
		LocalAddress:    s.LocalAddress.String,
		RemoteAddress:   s.RemoteAddress.String,
		Phone:           s.Phone.String,
		Email:           s.Email.String,
		Balance:         s.Balance,
		Status:          s.Status,
		GracePeriodDays: s.GracePeriodDays,
		MikrotikID:      s.MikrotikID.String,
		CreatedAt:       s.CreatedAt,
	}
	if s.PackageID.Valid {
		id := s.PackageID.Int64
		resp.PackageID = &id
	}
	if s.Package != nil {
		resp.PackageName = s.Package.Name
	}
	if s.ExpiredAt.Valid {
		t := s.ExpiredAt.Time
		resp.ExpiredAt = &t
	}
	if s.DueDate.Valid {
		t := s.DueDate.Time
		resp.DueDate = &t
	}
	if s.SuspendedAt.Valid {
		t := s.SuspendedAt.Time
		resp.SuspendedAt = &t
	}
	return resp
}
