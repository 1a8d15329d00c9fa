// internal/domain/payment/entity.go
package payment

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSuccess   Status = "success"
	StatusChallenge Status = "challenge"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

type Method string

const (
	MethodGateway Method = "gateway"
	MethodCash    Method = "cash"
	MethodBank    Method = "bank_transfer"
)

// Payment is append-only; only status and reference change after insert.
type Payment struct {
	ID           int64           `json:"id" db:"id"`
	SubscriberID int64           `json:"ppp_user_id" db:"ppp_user_id"`
	OrderID      string          `json:"order_id" db:"order_id"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	Method       Method          `json:"payment_method" db:"payment_method"`
	Reference    sql.NullString  `json:"reference,omitempty" db:"reference"`
	Description  sql.NullString  `json:"description,omitempty" db:"description"`
	Status       Status          `json:"status" db:"status"`
	PaymentDate  sql.NullTime    `json:"payment_date,omitempty" db:"payment_date"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// MapGatewayStatus translates a gateway notification into a payment status.
// ok is false for unknown transaction statuses.
func MapGatewayStatus(transactionStatus, fraudStatus string) (status Status, ok bool) {
	switch transactionStatus {
	case "capture":
		if fraudStatus == "challenge" {
			return StatusChallenge, true
		}
		return StatusSuccess, true
	case "settlement":
		return StatusSuccess, true
	case "pending":
		return StatusPending, true
	case "deny":
		return StatusFailed, true
	case "expire":
		return StatusExpired, true
	case "cancel":
		return StatusCancelled, true
	}
	return "", false
}
