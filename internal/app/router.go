// internal/app/router.go
package app

import (
	"net/http"

	healthHandler "netbill-service/internal/handlers/health"
	jobHandler "netbill-service/internal/handlers/job"
	paymentHandler "netbill-service/internal/handlers/payment"
	planHandler "netbill-service/internal/handlers/plan"
	profileHandler "netbill-service/internal/handlers/profile"
	subscriberHandler "netbill-service/internal/handlers/subscriber"
	wsHandler "netbill-service/internal/handlers/websocket"
	"netbill-service/internal/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handlers struct {
	HealthHandler     *healthHandler.HealthHandler
	SubscriberHandler *subscriberHandler.SubscriberHandler
	PackageHandler    *planHandler.PackageHandler
	PaymentHandler    *paymentHandler.PaymentHandler
	ProfileHandler    *profileHandler.ProfileHandler
	JobHandler        *jobHandler.JobHandler
	WSHandler         *wsHandler.WebSocketHandler
	AuthMiddleware    *middleware.AuthMiddleware
	NotifyRateLimit   gin.HandlerFunc
	Metrics           http.Handler
}

func SetupRouter(r *gin.Engine, logger *zap.Logger, h *Handlers) {
	api := r.Group("/api/v1")

	// ==================== Health Check ====================
	api.GET("/health", h.HealthHandler.Live)
	api.GET("/health/ready", h.HealthHandler.Ready)

	// ==================== Metrics ====================
	r.GET("/metrics", gin.WrapH(h.Metrics))

	// ==================== WebSocket ====================
	// Auth here only adds the revocation check; the hub verifies roles itself
	r.GET("/ws", h.AuthMiddleware.Auth(), h.WSHandler.HandleConnection)

	// ==================== Payment Gateway Callback ====================
	api.POST("/payments/notification", h.NotifyRateLimit, h.PaymentHandler.Notification)

	operator := h.AuthMiddleware.OperatorOnly()
	admin := h.AuthMiddleware.AdminOnly()
	adminRole := h.AuthMiddleware.RequireRole(middleware.RoleAdmin, middleware.RoleSuperAdmin)

	// ==================== Subscribers ====================
	subscribers := api.Group("/subscribers")
	subscribers.Use(operator...)
	{
		subscribers.GET("", h.SubscriberHandler.ListSubscribers)
		subscribers.GET("/:id", h.SubscriberHandler.GetSubscriber)
		subscribers.GET("/:id/payments", h.SubscriberHandler.GetSubscriberPayments)
		subscribers.POST("", h.SubscriberHandler.CreateSubscriber)
		subscribers.DELETE("/:id", adminRole, h.SubscriberHandler.DeleteSubscriber)
	}

	// ==================== Packages ====================
	packages := api.Group("/packages")
	packages.Use(operator...)
	{
		packages.GET("", h.PackageHandler.ListPackages)
		packages.POST("", adminRole, h.PackageHandler.CreatePackage)
	}

	// ==================== Payments ====================
	payments := api.Group("/payments")
	payments.Use(operator...)
	{
		payments.POST("", h.PaymentHandler.CreatePayment)
		payments.POST("/manual", h.PaymentHandler.RecordManualPayment)
	}

	// ==================== Router Maintenance ====================
	maintenance := api.Group("")
	maintenance.Use(admin...)
	{
		maintenance.POST("/profiles/sync", h.ProfileHandler.SyncProfiles)
		maintenance.GET("/jobs", h.JobHandler.ListJobs)
		maintenance.POST("/jobs/:name/run", h.JobHandler.RunJob)
		maintenance.GET("/ws/stats", h.WSHandler.GetStats)
	}

	logger.Info("routes registered", zap.Int("count", len(r.Routes())))
}
