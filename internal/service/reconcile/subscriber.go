// internal/service/reconcile/subscriber.go
package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"time"

	"netbill-service/internal/domain/event"
	"netbill-service/internal/domain/router"
	"netbill-service/internal/domain/subscriber"
	"netbill-service/internal/events"
	xerrors "netbill-service/internal/pkg/errors"
	"netbill-service/internal/pkg/lock"
	"netbill-service/internal/service/lifecycle"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// result describes what happened to one subscriber during a pass.
type result struct {
	operation string
	action    lifecycle.Action
	recreated bool
	corrected bool
	skipped   bool
	failed    bool
}

func (r result) actions() []string {
	var out []string
	if r.action.ChangesStatus() {
		out = append(out, string(r.action))
	}
	if r.recreated {
		out = append(out, "recreate")
	}
	if r.corrected {
		out = append(out, "correct")
	}
	return out
}

// permitted narrows an evaluator decision to what the mode is allowed to do.
func permitted(mode Mode, a lifecycle.Action) lifecycle.Action {
	switch mode {
	case ModeSyncSecrets:
		return a
	case ModeCheckSuspension:
		switch a {
		case lifecycle.ActionSuspend, lifecycle.ActionRenew, lifecycle.ActionEnterGrace:
			return a
		}
	case ModeCheckRestoration:
		if a == lifecycle.ActionRestore {
			return a
		}
	}
	return lifecycle.ActionNone
}

func (r *Reconciler) reconcileOne(ctx context.Context, mode Mode, s *subscriber.Subscriber, secret *router.Secret, now time.Time, log *zap.Logger) (result, error) {
	res := result{operation: "evaluate"}

	decision, err := r.evaluator.Decide(s, now)
	if err != nil {
		res.skipped = true
		return res, err
	}
	if !r.needsWork(mode, s, secret, permitted(mode, decision.Action)) {
		return res, nil
	}

	res.operation = "lock"
	release, err := r.locker.Acquire(ctx, lock.SubscriberKey(s.Username))
	if err != nil {
		if errors.Is(err, xerrors.ErrLockBusy) {
			res.skipped = true
			log.Info("subscriber locked elsewhere, skipping", zap.String("username", s.Username))
			return res, nil
		}
		return res, err
	}

	before, after, err := r.reconcileLocked(ctx, mode, s.Username, secret, now, &res, log)
	if err := release(context.WithoutCancel(ctx)); err != nil {
		log.Warn("failed to release subscriber lock", zap.String("username", s.Username), zap.Error(err))
	}
	if err != nil || after == nil {
		return res, err
	}

	// Publishing can be slow; a payment waiting on this subscriber should not wait for it.
	r.announce(ctx, before, after, res, log)
	return res, nil
}

// reconcileLocked does the read-decide-write cycle for one subscriber. The caller
// holds the subscriber lock. It returns the row as read and as saved, or a nil
// after when nothing was done.
func (r *Reconciler) reconcileLocked(ctx context.Context, mode Mode, username string, secret *router.Secret, now time.Time, res *result, log *zap.Logger) (*subscriber.Subscriber, *subscriber.Subscriber, error) {
	// The row may have changed (payment, another worker) since the pass loaded it.
	res.operation = "reload"
	fresh, err := r.store.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			res.skipped = true
			return nil, nil, nil
		}
		return nil, nil, err
	}

	res.operation = "evaluate"
	decision, err := r.evaluator.Decide(fresh, now)
	if err != nil {
		res.skipped = true
		return nil, nil, err
	}
	action := permitted(mode, decision.Action)

	next := fresh.Clone()
	if action.ChangesStatus() {
		res.operation = string(action)
		if err := r.evaluator.Apply(next, action, now); err != nil {
			return nil, nil, err
		}
	}
	target := r.evaluator.TargetProfile(next.Status, next)

	if secret == nil {
		if mode == ModeSyncSecrets || action.ChangesStatus() {
			res.operation = "create_secret"
			id, err := r.createSecret(ctx, next, target, log)
			if err != nil {
				return nil, nil, err
			}
			next.MikrotikID = sql.NullString{String: id, Valid: id != ""}
			res.recreated = true
		}
	} else {
		upd := driftUpdate(next, target, *secret)
		if mode == ModeCheckRestoration && !action.ChangesStatus() {
			upd = router.SecretUpdate{}
		}
		if !upd.IsEmpty() {
			res.operation = "update_secret"
			log.Info("updating router secret",
				zap.String("username", next.Username),
				zap.String("id", secret.ID),
				zap.String("action", string(action)),
				zap.String("from_profile", secret.Profile),
				zap.String("to_profile", target),
				zap.Strings("fields", upd.Fields()),
			)
			err := r.router.UpdateSecret(ctx, secret.ID, upd)
			switch {
			case errors.Is(err, xerrors.ErrRouterNotFound):
				res.operation = "create_secret"
				id, err := r.createSecret(ctx, next, target, log)
				if err != nil {
					return nil, nil, err
				}
				next.MikrotikID = sql.NullString{String: id, Valid: id != ""}
				res.recreated = true
			case err != nil:
				return nil, nil, err
			default:
				if !action.ChangesStatus() {
					res.corrected = true
				}
				log.Info("router secret updated", zap.String("username", next.Username), zap.String("profile", target))
			}
		}
		if !res.recreated && secret.ID != "" && next.MikrotikID.String != secret.ID {
			next.MikrotikID = sql.NullString{String: secret.ID, Valid: true}
		}
	}

	if action.ChangesStatus() || next.MikrotikID != fresh.MikrotikID {
		res.operation = "save"
		if err := r.save(ctx, next, fresh.Balance.Sub(next.Balance), log); err != nil {
			return nil, nil, err
		}
	}

	res.action = action
	return fresh, next, nil
}

// needsWork reports whether anything would change for this subscriber, so that
// in-sync subscribers are handled without taking a lock.
func (r *Reconciler) needsWork(mode Mode, s *subscriber.Subscriber, secret *router.Secret, action lifecycle.Action) bool {
	if action.ChangesStatus() {
		return true
	}
	if secret == nil {
		return mode == ModeSyncSecrets
	}
	if mode == ModeCheckRestoration {
		return false
	}
	if !driftUpdate(s, r.evaluator.TargetProfile(s.Status, s), *secret).IsEmpty() {
		return true
	}
	return mode == ModeSyncSecrets && secret.ID != "" && s.MikrotikID.String != secret.ID
}

// driftUpdate lists the secret attributes that differ from the subscriber record.
// Addresses are only enforced when the subscriber has a fixed IP.
func driftUpdate(s *subscriber.Subscriber, profile string, secret router.Secret) router.SecretUpdate {
	var upd router.SecretUpdate
	if secret.Profile != profile {
		upd.Profile = router.Ptr(profile)
	}
	if ip := fixedIP(s.LocalAddress); ip != "" && ip != secret.LocalAddress {
		upd.LocalAddress = router.Ptr(ip)
	}
	if ip := fixedIP(s.RemoteAddress); ip != "" && ip != secret.RemoteAddress {
		upd.RemoteAddress = router.Ptr(ip)
	}
	return upd
}

func fixedIP(v sql.NullString) string {
	if !v.Valid || net.ParseIP(v.String) == nil {
		return ""
	}
	return v.String
}

func (r *Reconciler) createSecret(ctx context.Context, s *subscriber.Subscriber, profile string, log *zap.Logger) (string, error) {
	password, err := r.passwords.Open(s.Password)
	if err != nil {
		return "", fmt.Errorf("open password for %s: %w", s.Username, err)
	}

	log.Info("creating missing router secret",
		zap.String("username", s.Username),
		zap.String("profile", profile),
		zap.String("status", string(s.Status)),
	)
	return r.router.CreateSecret(ctx, router.NewSecret{
		Name:          s.Username,
		Password:      password,
		Profile:       profile,
		Service:       s.Service,
		LocalAddress:  fixedIP(s.LocalAddress),
		RemoteAddress: fixedIP(s.RemoteAddress),
	})
}

// save commits the subscriber after the router has been changed. It is detached
// from pass cancellation so a router mutation is not left without its record.
// Only the amount the action charged is sent, never the balance read earlier.
func (r *Reconciler) save(ctx context.Context, s *subscriber.Subscriber, debit decimal.Decimal, log *zap.Logger) error {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.SaveTimeout)
	defer cancel()

	if err := r.store.Save(saveCtx, s, debit); err != nil {
		log.Error("router changed but database save failed, drift will be corrected next pass",
			zap.String("username", s.Username),
			zap.String("status", string(s.Status)),
			zap.Error(err),
		)
		return fmt.Errorf("%w: save %s: %w", xerrors.ErrPersistence, s.Username, err)
	}
	return nil
}

var actionEvents = map[lifecycle.Action]event.Type{
	lifecycle.ActionSuspend:    event.TypeSubscriberSuspended,
	lifecycle.ActionRestore:    event.TypeSubscriberRestored,
	lifecycle.ActionRenew:      event.TypeSubscriberRenewed,
	lifecycle.ActionEnterGrace: event.TypeSubscriberGrace,
}

func (r *Reconciler) announce(ctx context.Context, before, after *subscriber.Subscriber, res result, log *zap.Logger) {
	if typ, ok := actionEvents[res.action]; ok {
		ev := events.New(typ, after.Username)
		ev.FromStatus = string(before.Status)
		ev.ToStatus = string(after.Status)
		ev.Data = map[string]interface{}{
			"balance": after.Balance.String(),
		}
		if after.ExpiredAt.Valid {
			ev.Data["expired_at"] = after.ExpiredAt.Time
		}
		r.publish(ctx, ev, log)
		log.Info("subscriber status changed",
			zap.String("username", after.Username),
			zap.String("from", string(before.Status)),
			zap.String("to", string(after.Status)),
			zap.String("action", string(res.action)),
		)
	}
	if res.recreated {
		r.publish(ctx, events.New(event.TypeSecretRecreated, after.Username), log)
	}
	if res.corrected {
		r.publish(ctx, events.New(event.TypeSecretCorrected, after.Username), log)
	}
}
