// internal/domain/payment/dto.go
package payment

import "github.com/shopspring/decimal"

type CreatePaymentRequest struct {
	Username    string          `json:"username" binding:"required"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	Method      Method          `json:"payment_method"`
	Description string          `json:"description"`
}

type ManualPaymentRequest struct {
	Username    string          `json:"username" binding:"required"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	Method      Method          `json:"payment_method"`
	Reference   string          `json:"reference"`
	Description string          `json:"description"`
}

// NotificationRequest is the gateway callback body.
type NotificationRequest struct {
	OrderID           string `json:"order_id" binding:"required"`
	TransactionStatus string `json:"transaction_status" binding:"required"`
	FraudStatus       string `json:"fraud_status"`
	TransactionID     string `json:"transaction_id"`
}

type NotificationResult struct {
	OrderID   string `json:"order_id"`
	Status    Status `json:"status"`
	Applied   bool   `json:"applied"`
	Activated bool   `json:"activated"`
}
