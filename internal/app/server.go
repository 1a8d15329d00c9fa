// internal/app/server.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"netbill-service/internal/config"
	healthHandler "netbill-service/internal/handlers/health"
	jobHandler "netbill-service/internal/handlers/job"
	paymentHandler "netbill-service/internal/handlers/payment"
	planHandler "netbill-service/internal/handlers/plan"
	profileHandler "netbill-service/internal/handlers/profile"
	subscriberHandler "netbill-service/internal/handlers/subscriber"
	wsHandler "netbill-service/internal/handlers/websocket"
	"netbill-service/internal/middleware"
	"netbill-service/internal/pkg/jwt"
	"netbill-service/internal/websocket"
	wsHandlers "netbill-service/internal/websocket/handler"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	cfg       config.AppConfig
	engine    *gin.Engine
	logger    *zap.Logger
	http      *http.Server
	container *Container
	cancelHub context.CancelFunc
}

func NewServer(cfg config.AppConfig, logger *zap.Logger) *Server {
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	return &Server{cfg: cfg, engine: gin.New(), logger: logger}
}

// Start wires every dependency, starts the scheduler and serves HTTP until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	// ----- JWT -----
	// the API only verifies operator tokens; cmd/admintoken issues them
	pub, err := jwt.LoadRSAPublicKeyFromPEM(s.cfg.JWT.PubPath)
	if err != nil {
		return fmt.Errorf("failed to load JWT public key: %w", err)
	}
	verifier := jwt.NewVerifier(pub, s.cfg.JWT.Issuer, s.cfg.JWT.Audience)

	// ----- WebSocket Hub -----
	hub := websocket.NewHub(verifier, s.logger.Named("ws"))
	hubCtx, cancel := context.WithCancel(context.Background())
	s.cancelHub = cancel
	go hub.Run(hubCtx)

	// ----- Services -----
	c, err := NewContainer(ctx, s.cfg, s.logger, hub)
	if err != nil {
		return err
	}
	s.container = c

	hub.RegisterHandler(wsHandlers.NewSubscriberHandler(c.Subscribers))

	// ----- Scheduler -----
	if err := c.RegisterJobs(s.cfg.Schedules); err != nil {
		return fmt.Errorf("failed to register jobs: %w", err)
	}
	c.Scheduler.Start(context.Background())

	// ----- Handlers -----
	checks := make(map[string]healthHandler.Check)
	for name, check := range c.Checks() {
		checks[name] = check
	}

	handlers := &Handlers{
		HealthHandler:     healthHandler.NewHealthHandler(checks),
		SubscriberHandler: subscriberHandler.NewSubscriberHandler(c.Subscribers, c.Payments),
		PackageHandler:    planHandler.NewPackageHandler(c.Packages),
		PaymentHandler:    paymentHandler.NewPaymentHandler(c.Payments, s.logger),
		ProfileHandler:    profileHandler.NewProfileHandler(c.Profiles),
		JobHandler:        jobHandler.NewJobHandler(c.Scheduler, s.logger),
		WSHandler:         wsHandler.NewWebSocketHandler(hub, s.cfg.CORSOrigins, s.logger),
		AuthMiddleware:    middleware.NewAuthMiddleware(verifier).WithRevocations(c.Revocations),
		NotifyRateLimit:   middleware.RateLimitMiddleware(c.RateLimiter, s.cfg.NotifyRateLimit, s.cfg.NotifyRateWindow, s.logger),
		Metrics:           promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{Registry: c.Registry}),
	}

	// ----- Middlewares -----
	s.engine.Use(
		middleware.RecoveryMiddleware(s.logger),
		middleware.LoggingMiddleware(s.logger),
		middleware.CORSMiddleware(s.cfg.CORSOrigins),
	)
	SetupRouter(s.engine, s.logger, handlers)

	// ----- Start HTTP -----
	s.http = &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("server listening", zap.String("addr", s.cfg.HTTPAddr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops HTTP, waits for running jobs, then releases connections.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if s.container != nil {
		wait := 30 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			wait = time.Until(deadline)
		}
		s.container.Scheduler.Stop(wait)
		s.container.Close()
	}
	if s.cancelHub != nil {
		s.cancelHub()
	}
	return errors.Join(errs...)
}
