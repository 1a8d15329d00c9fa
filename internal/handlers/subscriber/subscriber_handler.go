// internal/handlers/subscriber/subscriber_handler.go
package subscriber

import (
	"context"
	"net/http"
	"strconv"

	"netbill-service/internal/domain/payment"
	"netbill-service/internal/domain/subscriber"
	"netbill-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

type SubscriberService interface {
	Create(ctx context.Context, req *subscriber.CreateSubscriberRequest) (*subscriber.Subscriber, error)
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*subscriber.Subscriber, error)
	List(ctx context.Context, filters *subscriber.ListFilters) (*subscriber.ListResponse, error)
}

type PaymentHistory interface {
	History(ctx context.Context, username string, limit int) ([]*payment.Payment, error)
}

type SubscriberHandler struct {
	subscriberService SubscriberService
	payments          PaymentHistory
}

func NewSubscriberHandler(subscriberService SubscriberService, payments PaymentHistory) *SubscriberHandler {
	return &SubscriberHandler{
		subscriberService: subscriberService,
		payments:          payments,
	}
}

// CreateSubscriber provisions a pending subscriber and its router secret
func (h *SubscriberHandler) CreateSubscriber(c *gin.Context) {
	var req subscriber.CreateSubscriberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	result, err := h.subscriberService.Create(c.Request.Context(), &req)
	if err != nil {
		response.FromError(c, "failed to create subscriber", err)
		return
	}

	response.Success(c, http.StatusCreated, "subscriber created successfully", result.ToResponse())
}

func (h *SubscriberHandler) GetSubscriber(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	result, err := h.subscriberService.Get(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, "subscriber not found", err)
		return
	}

	response.Success(c, http.StatusOK, "subscriber retrieved", result.ToResponse())
}

// ListSubscribers supports ?status=&search=&page=&page_size=
func (h *SubscriberHandler) ListSubscribers(c *gin.Context) {
	var filters subscriber.ListFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid query parameters", err)
		return
	}

	result, err := h.subscriberService.List(c.Request.Context(), &filters)
	if err != nil {
		response.FromError(c, "failed to list subscribers", err)
		return
	}

	response.Success(c, http.StatusOK, "subscribers retrieved", result)
}

// DeleteSubscriber removes the router secret, then soft-deletes the row
func (h *SubscriberHandler) DeleteSubscriber(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.subscriberService.Delete(c.Request.Context(), id); err != nil {
		response.FromError(c, "failed to delete subscriber", err)
		return
	}

	response.Success(c, http.StatusOK, "subscriber deleted", nil)
}

// GetSubscriberPayments lists the latest payments, ?limit= defaults to 20
func (h *SubscriberHandler) GetSubscriberPayments(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	sub, err := h.subscriberService.Get(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, "subscriber not found", err)
		return
	}

	payments, err := h.payments.History(c.Request.Context(), sub.Username, limit)
	if err != nil {
		response.FromError(c, "failed to load payments", err)
		return
	}

	response.Success(c, http.StatusOK, "payments retrieved", payments)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, http.StatusBadRequest, "invalid subscriber ID", err)
		return 0, false
	}
	return id, true
}
