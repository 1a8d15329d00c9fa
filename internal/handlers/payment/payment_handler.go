// internal/handlers/payment/payment_handler.go
package payment

import (
	"context"
	"net/http"

	"netbill-service/internal/domain/payment"
	"netbill-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PaymentService interface {
	Create(ctx context.Context, req *payment.CreatePaymentRequest) (*payment.Payment, error)
	RecordManual(ctx context.Context, req *payment.ManualPaymentRequest) (*payment.NotificationResult, error)
	HandleNotification(ctx context.Context, req *payment.NotificationRequest) (*payment.NotificationResult, error)
}

type PaymentHandler struct {
	paymentService PaymentService
	logger         *zap.Logger
}

func NewPaymentHandler(paymentService PaymentService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService, logger: logger}
}

// CreatePayment opens a pending gateway payment and returns its order id
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	var req payment.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	result, err := h.paymentService.Create(c.Request.Context(), &req)
	if err != nil {
		response.FromError(c, "failed to create payment", err)
		return
	}

	response.Success(c, http.StatusCreated, "payment created", result)
}

// RecordManualPayment books a counter payment and settles it at once
func (h *PaymentHandler) RecordManualPayment(c *gin.Context) {
	var req payment.ManualPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	result, err := h.paymentService.RecordManual(c.Request.Context(), &req)
	if err != nil {
		response.FromError(c, "failed to record payment", err)
		return
	}

	response.Success(c, http.StatusCreated, "payment recorded", result)
}

// Notification receives the gateway callback. Replays answer 200 with applied=false.
func (h *PaymentHandler) Notification(c *gin.Context) {
	var req payment.NotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid notification", err)
		return
	}

	result, err := h.paymentService.HandleNotification(c.Request.Context(), &req)
	if err != nil {
		h.logger.Warn("payment notification rejected",
			zap.String("order_id", req.OrderID),
			zap.String("transaction_status", req.TransactionStatus),
			zap.Error(err),
		)
		response.FromError(c, "failed to process notification", err)
		return
	}

	response.Success(c, http.StatusOK, "notification processed", result)
}
