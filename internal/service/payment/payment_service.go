// internal/service/payment/payment_service.go
package payment

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"netbill-service/internal/domain/event"
	"netbill-service/internal/domain/payment"
	"netbill-service/internal/domain/subscriber"
	"netbill-service/internal/events"
	xerrors "netbill-service/internal/pkg/errors"
	"netbill-service/internal/pkg/lock"
	"netbill-service/internal/service/lifecycle"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Payments interface {
	Create(ctx context.Context, p *payment.Payment) error
	FindByOrderID(ctx context.Context, orderID string) (*payment.Payment, error)
	FindByOrderIDForUpdateWithTx(ctx context.Context, tx pgx.Tx, orderID string) (*payment.Payment, error)
	UpdateStatusWithTx(ctx context.Context, tx pgx.Tx, id int64, status payment.Status, reference string) error
	ListBySubscriber(ctx context.Context, subscriberID int64, limit int) ([]*payment.Payment, error)
}

type Subscribers interface {
	FindByID(ctx context.Context, id int64) (*subscriber.Subscriber, error)
	FindByUsername(ctx context.Context, username string) (*subscriber.Subscriber, error)
	FindByIDForUpdateWithTx(ctx context.Context, tx pgx.Tx, id int64) (*subscriber.Subscriber, error)
	CreditBalanceWithTx(ctx context.Context, tx pgx.Tx, id int64, amount decimal.Decimal) (decimal.Decimal, error)
	SaveWithTx(ctx context.Context, tx pgx.Tx, s *subscriber.Subscriber) error
}

type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

type Recorder interface {
	ObservePayment(status string)
}

type PaymentService struct {
	payments    Payments
	subscribers Subscribers
	tx          TxRunner
	locker      lock.Locker
	evaluator   *lifecycle.Evaluator
	publisher   events.Publisher
	recorder    Recorder
	logger      *zap.Logger
	now         func() time.Time
}

func NewPaymentService(
	payments Payments,
	subscribers Subscribers,
	tx TxRunner,
	locker lock.Locker,
	evaluator *lifecycle.Evaluator,
	publisher events.Publisher,
	recorder Recorder,
	logger *zap.Logger,
) *PaymentService {
	if publisher == nil {
		publisher = events.Nop
	}
	return &PaymentService{
		payments:    payments,
		subscribers: subscribers,
		tx:          tx,
		locker:      locker,
		evaluator:   evaluator,
		publisher:   publisher,
		recorder:    recorder,
		logger:      logger,
		now:         time.Now,
	}
}

// Create opens a pending payment and returns it with a fresh order id.
func (s *PaymentService) Create(ctx context.Context, req *payment.CreatePaymentRequest) (*payment.Payment, error) {
	method := req.Method
	if method == "" {
		method = payment.MethodGateway
	}
	return s.create(ctx, req.Username, req.Amount, method, "", req.Description)
}

func (s *PaymentService) create(ctx context.Context, username string, amount decimal.Decimal, method payment.Method, reference, description string) (*payment.Payment, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", xerrors.ErrInvalidInput)
	}
	sub, err := s.subscribers.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	p := &payment.Payment{
		SubscriberID: sub.ID,
		OrderID:      "ORD-" + ulid.Make().String(),
		Amount:       amount,
		Method:       method,
		Reference:    sql.NullString{String: reference, Valid: reference != ""},
		Description:  sql.NullString{String: description, Valid: description != ""},
		Status:       payment.StatusPending,
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	s.logger.Info("payment created",
		zap.String("order_id", p.OrderID),
		zap.String("username", sub.Username),
		zap.String("amount", amount.String()),
		zap.String("method", string(method)),
	)
	return p, nil
}

// RecordManual books an over-the-counter payment and settles it immediately.
func (s *PaymentService) RecordManual(ctx context.Context, req *payment.ManualPaymentRequest) (*payment.NotificationResult, error) {
	method := req.Method
	if method == "" {
		method = payment.MethodCash
	}
	p, err := s.create(ctx, req.Username, req.Amount, method, req.Reference, req.Description)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, p.OrderID, payment.StatusSuccess, req.Reference)
}

// HandleNotification applies a gateway callback. Replays are harmless: a payment
// that is already successful is never credited twice.
func (s *PaymentService) HandleNotification(ctx context.Context, req *payment.NotificationRequest) (*payment.NotificationResult, error) {
	status, ok := payment.MapGatewayStatus(req.TransactionStatus, req.FraudStatus)
	if !ok {
		return nil, fmt.Errorf("%w: unknown transaction status %q", xerrors.ErrInvalidInput, req.TransactionStatus)
	}
	return s.apply(ctx, req.OrderID, status, req.TransactionID)
}

func (s *PaymentService) apply(ctx context.Context, orderID string, status payment.Status, reference string) (*payment.NotificationResult, error) {
	p, err := s.payments.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	sub, err := s.subscribers.FindByID(ctx, p.SubscriberID)
	if err != nil {
		return nil, fmt.Errorf("payment %s: %w", orderID, err)
	}

	// Same lock as the reconciler so a credit never interleaves with a pass.
	release, err := s.locker.Acquire(ctx, lock.SubscriberKey(sub.Username))
	if err != nil {
		return nil, err
	}

	result := &payment.NotificationResult{OrderID: orderID, Status: status}
	var before, after *subscriber.Subscriber
	var balance decimal.Decimal

	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		locked, err := s.payments.FindByOrderIDForUpdateWithTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if locked.Status == payment.StatusSuccess || locked.Status == status {
			result.Status = locked.Status
			return nil
		}

		if err := s.payments.UpdateStatusWithTx(ctx, tx, locked.ID, status, reference); err != nil {
			return err
		}
		result.Applied = true
		if status != payment.StatusSuccess {
			return nil
		}

		balance, err = s.subscribers.CreditBalanceWithTx(ctx, tx, locked.SubscriberID, locked.Amount)
		if err != nil {
			return err
		}

		current, err := s.subscribers.FindByIDForUpdateWithTx(ctx, tx, locked.SubscriberID)
		if err != nil {
			return err
		}
		if !s.activatable(current) {
			return nil
		}

		before = current
		after = current.Clone()
		if err := s.evaluator.ApplyRenewal(after, s.now(), false); err != nil {
			return err
		}
		if err := s.subscribers.SaveWithTx(ctx, tx, after); err != nil {
			return err
		}
		result.Activated = true
		return nil
	})
	// events go out after the lock is released
	if err := release(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("failed to release subscriber lock", zap.String("username", sub.Username), zap.Error(err))
	}
	if err != nil {
		s.logger.Error("failed to apply payment notification",
			zap.String("order_id", orderID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return nil, err
	}

	if s.recorder != nil {
		s.recorder.ObservePayment(string(result.Status))
	}
	if !result.Applied {
		s.logger.Info("payment notification already applied",
			zap.String("order_id", orderID),
			zap.String("status", string(result.Status)),
		)
		return result, nil
	}

	s.logger.Info("payment status updated",
		zap.String("order_id", orderID),
		zap.String("username", sub.Username),
		zap.String("status", string(status)),
		zap.Bool("activated", result.Activated),
	)

	if status == payment.StatusSuccess {
		ev := events.New(event.TypePaymentSucceeded, sub.Username)
		ev.Data = map[string]interface{}{
			"order_id": orderID,
			"amount":   p.Amount.String(),
			"balance":  balance.String(),
		}
		s.publish(ctx, ev)
	}
	if result.Activated {
		ev := events.New(event.TypeSubscriberRenewed, sub.Username)
		ev.FromStatus = string(before.Status)
		ev.ToStatus = string(after.Status)
		ev.Data = map[string]interface{}{"order_id": orderID, "expired_at": after.ExpiredAt.Time}
		s.publish(ctx, ev)
	}
	return result, nil
}

// activatable: pending and grace-period subscribers are renewed as soon as the
// balance covers the package. Suspended ones wait for the restoration pass,
// which also moves the router profile.
func (s *PaymentService) activatable(sub *subscriber.Subscriber) bool {
	if sub.Status != subscriber.StatusPending && sub.Status != subscriber.StatusGracePeriod {
		return false
	}
	if sub.Package == nil {
		return false
	}
	return sub.Balance.GreaterThanOrEqual(sub.Package.Price)
}

// History returns a subscriber's payments, newest first.
func (s *PaymentService) History(ctx context.Context, username string, limit int) ([]*payment.Payment, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	sub, err := s.subscribers.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	payments, err := s.payments.ListBySubscriber(ctx, sub.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment history: %w", err)
	}
	return payments, nil
}

func (s *PaymentService) publish(ctx context.Context, ev event.Event) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish event", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}
