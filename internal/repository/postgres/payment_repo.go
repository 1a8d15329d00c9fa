// internal/repository/postgres/payment_repo.go
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"netbill-service/internal/domain/payment"
	xerrors "netbill-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PaymentRepository struct {
	db *pgxpool.Pool
}

func NewPaymentRepository(db *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `
	id, ppp_user_id, order_id, amount, payment_method, reference, description,
	status, payment_date, created_at, updated_at
`

func scanPayment(row pgx.Row) (*payment.Payment, error) {
	var p payment.Payment
	err := row.Scan(
		&p.ID, &p.SubscriberID, &p.OrderID, &p.Amount, &p.Method, &p.Reference, &p.Description,
		&p.Status, &p.PaymentDate, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	return r.create(ctx, r.db, p)
}

func (r *PaymentRepository) CreateWithTx(ctx context.Context, tx pgx.Tx, p *payment.Payment) error {
	return r.create(ctx, tx, p)
}

func (r *PaymentRepository) create(ctx context.Context, q querier, p *payment.Payment) error {
	query := `
		INSERT INTO payments (
			ppp_user_id, order_id, amount, payment_method, reference, description, status, payment_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`

	err := q.QueryRow(
		ctx, query,
		p.SubscriberID, p.OrderID, p.Amount, p.Method, p.Reference, p.Description, p.Status, p.PaymentDate,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("order %s: %w", p.OrderID, xerrors.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// FindByOrderIDForUpdateWithTx locks the payment row so concurrent notifications serialize.
func (r *PaymentRepository) FindByOrderIDForUpdateWithTx(ctx context.Context, tx pgx.Tx, orderID string) (*payment.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1 FOR UPDATE`

	p, err := scanPayment(tx.QueryRow(ctx, query, orderID))
	if err != nil {
		if err = notFound(err); err == xerrors.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to find payment: %w", err)
	}
	return p, nil
}

func (r *PaymentRepository) FindByOrderID(ctx context.Context, orderID string) (*payment.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1`

	p, err := scanPayment(r.db.QueryRow(ctx, query, orderID))
	if err != nil {
		if err = notFound(err); err == xerrors.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to find payment: %w", err)
	}
	return p, nil
}

// UpdateStatusWithTx sets status and reference. payment_date is stamped on success.
func (r *PaymentRepository) UpdateStatusWithTx(ctx context.Context, tx pgx.Tx, id int64, status payment.Status, reference string) error {
	query := `
		UPDATE payments
		SET status = $1,
		    reference = COALESCE($2, reference),
		    payment_date = CASE WHEN $1 = 'success' THEN $3 ELSE payment_date END,
		    updated_at = $3
		WHERE id = $4
	`

	result, err := tx.Exec(ctx, query, status, sql.NullString{String: reference, Valid: reference != ""}, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// ListBySubscriber returns the payment history of one subscriber, newest first.
func (r *PaymentRepository) ListBySubscriber(ctx context.Context, subscriberID int64, limit int) ([]*payment.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE ppp_user_id = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := r.db.Query(ctx, query, subscriberID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []*payment.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payments: %w", err)
	}
	return payments, nil
}
