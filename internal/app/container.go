// internal/app/container.go
package app

import (
	"context"
	"fmt"
	"time"

	"netbill-service/internal/config"
	"netbill-service/internal/db"
	"netbill-service/internal/events"
	"netbill-service/internal/metrics"
	"netbill-service/internal/mikrotik"
	"netbill-service/internal/pkg/lock"
	"netbill-service/internal/pkg/secret"
	"netbill-service/internal/pkg/session"
	"netbill-service/internal/repository/postgres"
	"netbill-service/internal/scheduler"
	"netbill-service/internal/service/lifecycle"
	paymentUsecase "netbill-service/internal/service/payment"
	planUsecase "netbill-service/internal/service/plan"
	profileUsecase "netbill-service/internal/service/profile"
	"netbill-service/internal/service/reconcile"
	subscriberUsecase "netbill-service/internal/service/subscriber"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Job names shared by the scheduler, the API and the one-shot CLI.
const (
	JobSyncSecrets      = "sync-secrets"
	JobCheckSuspension  = "check-suspension"
	JobCheckRestoration = "check-restoration"
	JobSyncProfiles     = "sync-profiles"
)

// Container holds the wired services of one process.
type Container struct {
	Config   config.AppConfig
	Logger   *zap.Logger
	Pool     *pgxpool.Pool
	Redis    redis.UniversalClient
	Router   *mikrotik.Client
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Kafka    *events.Kafka

	Revocations *session.Revocations
	RateLimiter *session.RateLimiter

	Publisher   events.Publisher
	Evaluator   *lifecycle.Evaluator
	Subscribers *subscriberUsecase.SubscriberService
	Packages    *planUsecase.PackageService
	Payments    *paymentUsecase.PaymentService
	Profiles    *profileUsecase.ProfileService
	Reconciler  *reconcile.Reconciler
	Scheduler   *scheduler.Scheduler
}

// NewContainer connects to Postgres, Redis, the router and (when configured)
// Kafka, then builds the services. Extra publishers receive every domain event.
func NewContainer(ctx context.Context, cfg config.AppConfig, logger *zap.Logger, extra ...events.Publisher) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	sealer, err := secret.NewSealer(cfg.PasswordKey)
	if err != nil {
		return nil, fmt.Errorf("PASSWORD_SECRET_KEY: %w", err)
	}

	// ----- PostgreSQL -----
	c.Pool, err = db.ConnectDB(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to postgres")

	// ----- Redis -----
	c.Redis, err = db.NewRedis(cfg.Redis)
	if err != nil {
		c.Close()
		return nil, err
	}
	logger.Info("connected to redis", zap.Strings("addresses", cfg.Redis.Addresses))

	// ----- Metrics -----
	c.Registry = prometheus.NewRegistry()
	c.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.Metrics = metrics.New(c.Registry)

	// ----- Router -----
	c.Router = mikrotik.NewClient(cfg.Mikrotik, logger.Named("mikrotik")).WithObserver(c.Metrics)

	// ----- Events -----
	publishers := append([]events.Publisher{}, extra...)
	if len(cfg.Kafka.Brokers) > 0 {
		c.Kafka, err = events.NewKafka(cfg.Kafka, logger.Named("kafka"))
		if err != nil {
			c.Close()
			return nil, err
		}
		publishers = append(publishers, c.Kafka)
		logger.Info("kafka publisher enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	c.Publisher = events.Multi(publishers...)

	// ----- Locks -----
	rs := lock.NewRedsync(c.Redis)
	// reconcile passes skip a subscriber that is busy; payments wait for it
	passLocks := lock.NewRedis(rs, lock.Options{Expiry: cfg.SubscriberLockExpiry(), Tries: 1})
	paymentLocks := lock.NewRedis(rs, lock.Options{Expiry: 30 * time.Second, Tries: 40, RetryDelay: 250 * time.Millisecond})
	jobExpiry := cfg.LockExpiry
	if jobExpiry <= cfg.JobTimeout {
		jobExpiry = cfg.JobTimeout + time.Minute
	}
	jobLocks := lock.NewRedis(rs, lock.Options{Expiry: jobExpiry, Tries: 1})

	// ----- Sessions -----
	c.Revocations = session.NewRevocations(c.Redis)
	c.RateLimiter = session.NewRateLimiter(c.Redis)

	// ----- Repositories -----
	dbWrapper := postgres.NewDB(c.Pool)
	subscriberRepo := postgres.NewSubscriberRepository(c.Pool)
	packageRepo := postgres.NewPackageRepository(c.Pool)
	paymentRepo := postgres.NewPaymentRepository(c.Pool)

	// ----- Services -----
	c.Evaluator = lifecycle.NewEvaluator(loc, cfg.Profiles)
	c.Packages = planUsecase.NewPackageService(packageRepo, logger)
	c.Subscribers = subscriberUsecase.NewSubscriberService(
		subscriberRepo,
		packageRepo,
		c.Router,
		sealer,
		c.Evaluator,
		c.Publisher,
		cfg.DefaultGraceDays,
		logger,
	)
	c.Payments = paymentUsecase.NewPaymentService(
		paymentRepo,
		subscriberRepo,
		dbWrapper,
		paymentLocks,
		c.Evaluator,
		c.Publisher,
		c.Metrics,
		logger,
	)
	c.Profiles = profileUsecase.NewProfileService(c.Router, packageRepo, cfg.Pool, logger)
	c.Reconciler = reconcile.NewReconciler(
		subscriberRepo,
		c.Router,
		c.Evaluator,
		passLocks,
		sealer,
		c.Publisher,
		c.Metrics,
		logger,
		reconcile.Options{PassTimeout: cfg.PassTimeout, SaveTimeout: cfg.SaveTimeout},
	)

	// ----- Scheduler -----
	c.Scheduler = scheduler.New(loc, jobLocks, c.Metrics, cfg.JobTimeout, logger.Named("scheduler"))

	return c, nil
}

// RegisterJobs registers every job. With schedules == nil the jobs are
// available for RunNow only.
func (c *Container) RegisterJobs(schedules map[string]string) error {
	modes := map[string]reconcile.Mode{
		JobSyncSecrets:      reconcile.ModeSyncSecrets,
		JobCheckSuspension:  reconcile.ModeCheckSuspension,
		JobCheckRestoration: reconcile.ModeCheckRestoration,
	}
	for name, mode := range modes {
		mode := mode
		if err := c.Scheduler.Register(name, schedules[name], func(ctx context.Context) error {
			_, err := c.Reconciler.Run(ctx, mode)
			return err
		}); err != nil {
			return err
		}
	}

	return c.Scheduler.Register(JobSyncProfiles, schedules[JobSyncProfiles], func(ctx context.Context) error {
		_, err := c.Profiles.Sync(ctx)
		return err
	})
}

// Checks returns the readiness probes for the process dependencies.
func (c *Container) Checks() map[string]func(ctx context.Context) error {
	return map[string]func(ctx context.Context) error{
		"postgres": c.Pool.Ping,
		"redis":    func(ctx context.Context) error { return c.Redis.Ping(ctx).Err() },
		"router":   c.Router.Ping,
	}
}

func (c *Container) Close() {
	if c.Router != nil {
		c.Router.Close()
	}
	if c.Kafka != nil {
		if err := c.Kafka.Close(); err != nil {
			c.Logger.Warn("failed to close kafka producer", zap.Error(err))
		}
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// NewLogger builds the process logger for the environment.
func NewLogger(cfg config.AppConfig) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
