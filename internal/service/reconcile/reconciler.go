// internal/service/reconcile/reconciler.go
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"netbill-service/internal/domain/event"
	"netbill-service/internal/domain/router"
	"netbill-service/internal/domain/subscriber"
	"netbill-service/internal/events"
	xerrors "netbill-service/internal/pkg/errors"
	"netbill-service/internal/pkg/lock"
	"netbill-service/internal/service/lifecycle"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Mode string

const (
	ModeSyncSecrets      Mode = "sync-secrets"
	ModeCheckSuspension  Mode = "check-suspension"
	ModeCheckRestoration Mode = "check-restoration"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeSyncSecrets, ModeCheckSuspension, ModeCheckRestoration:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown reconcile mode %q", xerrors.ErrInvalidInput, s)
}

// Router is the part of the router gateway a pass needs.
type Router interface {
	ListSecrets(ctx context.Context) (map[string]router.Secret, error)
	CreateSecret(ctx context.Context, s router.NewSecret) (string, error)
	UpdateSecret(ctx context.Context, id string, upd router.SecretUpdate) error
	DeleteSecret(ctx context.Context, id string) error
}

// Store is the subscriber persistence a pass needs.
type Store interface {
	LoadAllWithPackage(ctx context.Context) ([]*subscriber.Subscriber, error)
	LoadCandidates(ctx context.Context, filter subscriber.CandidateFilter) ([]*subscriber.Subscriber, error)
	FindByUsername(ctx context.Context, username string) (*subscriber.Subscriber, error)
	// Save writes the lifecycle fields and takes debit off the stored balance.
	Save(ctx context.Context, s *subscriber.Subscriber, debit decimal.Decimal) error
}

// PasswordOpener turns a stored password into the plaintext the router needs.
type PasswordOpener interface {
	Open(sealed string) (string, error)
}

// Recorder receives pass metrics.
type Recorder interface {
	ObserveAction(mode, action string)
	ObserveFailure(mode string, err error)
	ObservePass(mode string, elapsed time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) ObserveAction(string, string)             {}
func (nopRecorder) ObserveFailure(string, error)             {}
func (nopRecorder) ObservePass(string, time.Duration, error) {}

type Options struct {
	PassTimeout time.Duration
	SaveTimeout time.Duration
	// Bounds each event publish, independent of the pass deadline
	PublishTimeout time.Duration
	Now            func() time.Time
}

type Reconciler struct {
	store     Store
	router    Router
	evaluator *lifecycle.Evaluator
	locker    lock.Locker
	passwords PasswordOpener
	publisher events.Publisher
	recorder  Recorder
	logger    *zap.Logger
	opts      Options
}

func NewReconciler(
	store Store,
	rt Router,
	evaluator *lifecycle.Evaluator,
	locker lock.Locker,
	passwords PasswordOpener,
	publisher events.Publisher,
	recorder Recorder,
	logger *zap.Logger,
	opts Options,
) *Reconciler {
	if opts.PassTimeout <= 0 {
		opts.PassTimeout = 5 * time.Minute
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = 10 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 3 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if publisher == nil {
		publisher = events.Nop
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Reconciler{
		store:     store,
		router:    rt,
		evaluator: evaluator,
		locker:    locker,
		passwords: passwords,
		publisher: publisher,
		recorder:  recorder,
		logger:    logger,
		opts:      opts,
	}
}

// Run executes one pass. The returned error is non-nil only for setup failures
// (loading subscribers or listing secrets); per-subscriber problems are collected
// in the summary.
func (r *Reconciler) Run(ctx context.Context, mode Mode) (*Summary, error) {
	started := time.Now()
	summary := &Summary{
		PassID:    ulid.Make().String(),
		Mode:      mode,
		StartedAt: started,
	}
	log := r.logger.With(zap.String("pass_id", summary.PassID), zap.String("mode", string(mode)))

	ctx, cancel := context.WithTimeout(ctx, r.opts.PassTimeout)
	defer cancel()

	err := r.run(ctx, mode, summary, log)
	summary.FinishedAt = time.Now()
	r.recorder.ObservePass(string(mode), summary.FinishedAt.Sub(started), err)

	if err != nil {
		log.Error("reconcile pass aborted", zap.Error(err))
		return summary, err
	}

	log.Info("reconcile pass completed", summary.Fields()...)
	ev := events.New(event.TypeReconcileCompleted, "")
	ev.Data = summary.Counts()
	r.publish(ctx, ev, log)
	return summary, nil
}

func (r *Reconciler) run(ctx context.Context, mode Mode, summary *Summary, log *zap.Logger) error {
	subs, err := r.load(ctx, mode)
	if err != nil {
		return fmt.Errorf("load subscribers: %w", err)
	}

	secrets, err := r.router.ListSecrets(ctx)
	if err != nil {
		return fmt.Errorf("list router secrets: %w", err)
	}
	log.Info("reconcile pass started", zap.Int("subscribers", len(subs)), zap.Int("secrets", len(secrets)))

	if mode == ModeSyncSecrets {
		r.prune(ctx, subs, secrets, summary, log)
	}

	now := r.opts.Now()
	for i, s := range subs {
		if ctx.Err() != nil {
			for _, rest := range subs[i:] {
				summary.Unreached = append(summary.Unreached, rest.Username)
			}
			log.Warn("pass deadline reached, subscribers left for next pass",
				zap.Int("unreached", len(summary.Unreached)),
				zap.Strings("usernames", summary.Unreached),
			)
			break
		}

		var secret *router.Secret
		if sec, ok := secrets[s.Username]; ok {
			secret = &sec
		}

		res, err := r.reconcileOne(ctx, mode, s, secret, now, log)
		if err != nil && !res.skipped {
			res.failed = true
		}
		summary.record(res)
		if err != nil {
			summary.addFailure(s.Username, res.operation, err)
			r.recorder.ObserveFailure(string(mode), err)
			log.Error("subscriber reconcile failed",
				zap.String("username", s.Username),
				zap.String("operation", res.operation),
				zap.String("kind", xerrors.Kind(err)),
				zap.Error(err),
			)
			continue
		}
		for _, a := range res.actions() {
			r.recorder.ObserveAction(string(mode), a)
		}
	}
	return nil
}

func (r *Reconciler) load(ctx context.Context, mode Mode) ([]*subscriber.Subscriber, error) {
	switch mode {
	case ModeSyncSecrets:
		return r.store.LoadAllWithPackage(ctx)
	case ModeCheckSuspension:
		return r.store.LoadCandidates(ctx, subscriber.CandidateFilter{
			Statuses: []subscriber.Status{
				subscriber.StatusActive,
				subscriber.StatusPending,
				subscriber.StatusGracePeriod,
			},
			RequireExpiry: true,
		})
	case ModeCheckRestoration:
		return r.store.LoadCandidates(ctx, subscriber.CandidateFilter{
			Statuses: []subscriber.Status{subscriber.StatusSuspended},
		})
	}
	return nil, fmt.Errorf("%w: unknown mode %q", xerrors.ErrInvalidInput, mode)
}

// prune removes router secrets that have no subscriber row.
func (r *Reconciler) prune(ctx context.Context, subs []*subscriber.Subscriber, secrets map[string]router.Secret, summary *Summary, log *zap.Logger) {
	known := make(map[string]struct{}, len(subs))
	for _, s := range subs {
		known[s.Username] = struct{}{}
	}

	for name, secret := range secrets {
		if _, ok := known[name]; ok {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		log.Warn("deleting unmanaged router secret",
			zap.String("username", name),
			zap.String("id", secret.ID),
			zap.String("profile", secret.Profile),
		)
		if err := r.router.DeleteSecret(ctx, secret.ID); err != nil && !errors.Is(err, xerrors.ErrRouterNotFound) {
			summary.Failed++
			summary.addFailure(name, "prune", err)
			r.recorder.ObserveFailure(string(summary.Mode), err)
			log.Error("failed to delete unmanaged secret", zap.String("username", name), zap.Error(err))
			continue
		}
		summary.Pruned++
		r.recorder.ObserveAction(string(summary.Mode), "prune")
		ev := events.New(event.TypeSecretPruned, name)
		ev.Data = map[string]interface{}{"id": secret.ID, "profile": secret.Profile}
		r.publish(ctx, ev, log)
	}
}

// publish is detached from pass cancellation, so an event for a change that was
// made is still attempted after the deadline, but never for longer than PublishTimeout.
func (r *Reconciler) publish(ctx context.Context, ev event.Event, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.PublishTimeout)
	defer cancel()

	if err := r.publisher.Publish(ctx, ev); err != nil {
		log.Warn("failed to publish event", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}
