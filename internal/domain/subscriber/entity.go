// internal/domain/subscriber/entity.go
package subscriber

import (
	"database/sql"
	"time"

	"netbill-service/internal/domain/plan"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusActive      Status = "active"
	StatusGracePeriod Status = "grace_period"
	StatusSuspended   Status = "suspended"
	StatusExpired     Status = "expired"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusGracePeriod, StatusSuspended, StatusExpired:
		return true
	}
	return false
}

const DefaultService = "pppoe"

// Subscriber is a PPP account (ppp_users row) with its package eagerly loaded.
type Subscriber struct {
	ID       int64  `json:"id" db:"id"`
	Username string `json:"username" db:"username"`
	Password string `json:"-" db:"password"` // sealed
	Service  string `json:"service" db:"service"`

	// Addressing. Empty remote address means the router pool assigns one.
	LocalAddress  sql.NullString `json:"local_address,omitempty" db:"local_address"`
	RemoteAddress sql.NullString `json:"remote_address,omitempty" db:"remote_address"`

	// Contact
	Phone sql.NullString `json:"phone,omitempty" db:"phone"`
	Email sql.NullString `json:"email,omitempty" db:"email"`

	// Billing
	Balance         decimal.Decimal `json:"balance" db:"balance"`
	PackageID       sql.NullInt64   `json:"package_id,omitempty" db:"package_id"`
	Package         *plan.Package   `json:"package,omitempty" db:"-"`
	DueDate         sql.NullTime    `json:"due_date,omitempty" db:"due_date"`
	ExpiredAt       sql.NullTime    `json:"expired_at,omitempty" db:"expired_at"`
	GracePeriodDays int             `json:"grace_period_days" db:"grace_period_days"`

	// Lifecycle
	Status      Status         `json:"status" db:"status"`
	ActivatedAt sql.NullTime   `json:"activated_at,omitempty" db:"activated_at"`
	SuspendedAt sql.NullTime   `json:"suspended_at,omitempty" db:"suspended_at"`
	RestoredAt  sql.NullTime   `json:"restored_at,omitempty" db:"restored_at"`
	MikrotikID  sql.NullString `json:"mikrotik_id,omitempty" db:"mikrotik_id"`

	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
	DeletedAt sql.NullTime `json:"deleted_at,omitempty" db:"deleted_at"`
}

// HasPackage reports whether a package is assigned, loaded or not.
func (s *Subscriber) HasPackage() bool {
	return s.PackageID.Valid
}

// DanglingPackage is true when a package id is set but the package row could not be loaded.
func (s *Subscriber) DanglingPackage() bool {
	return s.PackageID.Valid && s.Package == nil
}

// Clone returns a copy safe to mutate. The package pointer is shared.
func (s *Subscriber) Clone() *Subscriber {
	c := *s
	return &c
}
