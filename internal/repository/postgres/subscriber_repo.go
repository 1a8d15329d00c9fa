// internal/repository/postgres/subscriber_repo.go
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"netbill-service/internal/domain/plan"
	"netbill-service/internal/domain/subscriber"
	xerrors "netbill-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type SubscriberRepository struct {
	db *pgxpool.Pool
}

func NewSubscriberRepository(db *pgxpool.Pool) *SubscriberRepository {
	return &SubscriberRepository{db: db}
}

// The package join excludes soft-deleted packages, so a subscriber pointing at one
// comes back with PackageID set and Package nil.
const subscriberSelect = `
	SELECT u.id, u.username, u.password, u.service, u.local_address, u.remote_address,
	       u.phone, u.email, u.balance, u.package_id, u.due_date, u.expired_at,
	       u.grace_period_days, u.status, u.activated_at, u.suspended_at, u.restored_at,
	       u.mikrotik_id, u.created_at, u.updated_at, u.deleted_at,
	       p.id, p.code, p.name, p.price, p.duration_days, p.mikrotik_profile_name,
	       p.upload_mbps, p.download_mbps, p.description, p.is_active, p.created_at, p.updated_at
	FROM ppp_users u
	LEFT JOIN packages p ON p.id = u.package_id AND p.deleted_at IS NULL
`

func scanSubscriber(row pgx.Row) (*subscriber.Subscriber, error) {
	var (
		s          subscriber.Subscriber
		pkgID      sql.NullInt64
		pkgCode    sql.NullString
		pkgName    sql.NullString
		pkgPrice   decimal.NullDecimal
		pkgDays    sql.NullInt32
		pkgProfile sql.NullString
		pkgUp      sql.NullInt32
		pkgDown    sql.NullInt32
		pkgDesc    sql.NullString
		pkgActive  sql.NullBool
		pkgCreated sql.NullTime
		pkgUpdated sql.NullTime
	)

	err := row.Scan(
		&s.ID, &s.Username, &s.Password, &s.Service, &s.LocalAddress, &s.RemoteAddress,
		&s.Phone, &s.Email, &s.Balance, &s.PackageID, &s.DueDate, &s.ExpiredAt,
		&s.GracePeriodDays, &s.Status, &s.ActivatedAt, &s.SuspendedAt, &s.RestoredAt,
		&s.MikrotikID, &s.CreatedAt, &s.UpdatedAt, &s.DeletedAt,
		&pkgID, &pkgCode, &pkgName, &pkgPrice, &pkgDays, &pkgProfile,
		&pkgUp, &pkgDown, &pkgDesc, &pkgActive, &pkgCreated, &pkgUpdated,
	)
	if err != nil {
		return nil, err
	}

	if pkgID.Valid {
		s.Package = &plan.Package{
			ID:                  pkgID.Int64,
			Code:                pkgCode.String,
			Name:                pkgName.String,
			Price:               pkgPrice.Decimal,
			DurationDays:        int(pkgDays.Int32),
			MikrotikProfileName: pkgProfile,
			UploadMbps:          int(pkgUp.Int32),
			DownloadMbps:        int(pkgDown.Int32),
			Description:         pkgDesc,
			IsActive:            pkgActive.Bool,
			CreatedAt:           pkgCreated.Time,
			UpdatedAt:           pkgUpdated.Time,
		}
	}
	return &s, nil
}

func (r *SubscriberRepository) queryList(ctx context.Context, q querier, query string, args ...any) ([]*subscriber.Subscriber, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscribers: %w", err)
	}
	defer rows.Close()

	var subs []*subscriber.Subscriber
	for rows.Next() {
		s, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscriber: %w", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscribers: %w", err)
	}
	return subs, nil
}

// LoadAllWithPackage returns every live subscriber with its package loaded.
func (r *SubscriberRepository) LoadAllWithPackage(ctx context.Context) ([]*subscriber.Subscriber, error) {
	query := subscriberSelect + ` WHERE u.deleted_at IS NULL ORDER BY u.username`
	return r.queryList(ctx, r.db, query)
}

// LoadCandidates returns live subscribers in the given statuses.
func (r *SubscriberRepository) LoadCandidates(ctx context.Context, filter subscriber.CandidateFilter) ([]*subscriber.Subscriber, error) {
	conditions := []string{"u.deleted_at IS NULL"}
	args := []any{}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, pq.Array(statuses))
		conditions = append(conditions, fmt.Sprintf("u.status = ANY($%d::text[])", len(args)))
	}
	if filter.RequireExpiry {
		conditions = append(conditions, "u.expired_at IS NOT NULL")
	}

	query := subscriberSelect + " WHERE " + strings.Join(conditions, " AND ") + " ORDER BY u.username"
	return r.queryList(ctx, r.db, query, args...)
}

func (r *SubscriberRepository) FindByUsername(ctx context.Context, username string) (*subscriber.Subscriber, error) {
	query := subscriberSelect + ` WHERE u.username = $1 AND u.deleted_at IS NULL`
	s, err := scanSubscriber(r.db.QueryRow(ctx, query, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find subscriber: %w", err)
	}
	return s, nil
}

func (r *SubscriberRepository) FindByID(ctx context.Context, id int64) (*subscriber.Subscriber, error) {
	return r.findByID(ctx, r.db, id, false)
}

// FindByIDForUpdateWithTx locks the subscriber row for the rest of the transaction.
func (r *SubscriberRepository) FindByIDForUpdateWithTx(ctx context.Context, tx pgx.Tx, id int64) (*subscriber.Subscriber, error) {
	return r.findByID(ctx, tx, id, true)
}

func (r *SubscriberRepository) findByID(ctx context.Context, q querier, id int64, forUpdate bool) (*subscriber.Subscriber, error) {
	query := subscriberSelect + ` WHERE u.id = $1 AND u.deleted_at IS NULL`
	if forUpdate {
		query += ` FOR UPDATE OF u`
	}
	s, err := scanSubscriber(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find subscriber: %w", err)
	}
	return s, nil
}

// Create inserts a new subscriber.
func (r *SubscriberRepository) Create(ctx context.Context, s *subscriber.Subscriber) error {
	query := `
		INSERT INTO ppp_users (
			username, password, service, local_address, remote_address, phone, email,
			balance, package_id, grace_period_days, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx, query,
		s.Username, s.Password, s.Service, s.LocalAddress, s.RemoteAddress, s.Phone, s.Email,
		s.Balance, s.PackageID, s.GracePeriodDays, s.Status,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("username %s: %w", s.Username, xerrors.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to create subscriber: %w", err)
	}
	return nil
}

// Save persists the lifecycle fields a reconcile pass changes. The balance is
// never written back as read: debit is taken off the stored value, so a credit
// committed while the router was being updated survives.
func (r *SubscriberRepository) Save(ctx context.Context, s *subscriber.Subscriber, debit decimal.Decimal) error {
	query := `
		UPDATE ppp_users
		SET status = $1, balance = GREATEST(balance - $2, 0), expired_at = $3, due_date = $4,
		    activated_at = $5, suspended_at = $6, restored_at = $7,
		    mikrotik_id = $8, updated_at = $9
		WHERE id = $10 AND deleted_at IS NULL
		RETURNING balance
	`

	if debit.IsNegative() {
		debit = decimal.Zero
	}
	now := time.Now()
	var balance decimal.Decimal
	err := r.db.QueryRow(
		ctx, query,
		s.Status, debit, s.ExpiredAt, s.DueDate,
		s.ActivatedAt, s.SuspendedAt, s.RestoredAt,
		s.MikrotikID, now, s.ID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return xerrors.ErrNotFound
		}
		return fmt.Errorf("failed to save subscriber %s: %w", s.Username, err)
	}
	s.Balance = balance
	s.UpdatedAt = now
	return nil
}

// SaveWithTx writes the subscriber row as given, balance included. The caller
// must hold the row lock from FindByIDForUpdateWithTx in the same transaction.
func (r *SubscriberRepository) SaveWithTx(ctx context.Context, tx pgx.Tx, s *subscriber.Subscriber) error {
	query := `
		UPDATE ppp_users
		SET status = $1, balance = $2, expired_at = $3, due_date = $4,
		    activated_at = $5, suspended_at = $6, restored_at = $7,
		    mikrotik_id = $8, updated_at = $9
		WHERE id = $10 AND deleted_at IS NULL
	`

	now := time.Now()
	result, err := tx.Exec(
		ctx, query,
		s.Status, s.Balance, s.ExpiredAt, s.DueDate,
		s.ActivatedAt, s.SuspendedAt, s.RestoredAt,
		s.MikrotikID, now, s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save subscriber %s: %w", s.Username, err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	s.UpdatedAt = now
	return nil
}

// UpdateMikrotikID records the router id of the subscriber's secret.
func (r *SubscriberRepository) UpdateMikrotikID(ctx context.Context, id int64, mikrotikID string) error {
	query := `UPDATE ppp_users SET mikrotik_id = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL`

	result, err := r.db.Exec(ctx, query, sql.NullString{String: mikrotikID, Valid: mikrotikID != ""}, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update mikrotik id: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// CreditBalanceWithTx adds amount to the subscriber balance and returns the new balance.
func (r *SubscriberRepository) CreditBalanceWithTx(ctx context.Context, tx pgx.Tx, id int64, amount decimal.Decimal) (decimal.Decimal, error) {
	query := `
		UPDATE ppp_users SET balance = balance + $1, updated_at = $2
		WHERE id = $3 AND deleted_at IS NULL
		RETURNING balance
	`

	var balance decimal.Decimal
	err := tx.QueryRow(ctx, query, amount, time.Now(), id).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, xerrors.ErrNotFound
		}
		return decimal.Zero, fmt.Errorf("failed to credit balance: %w", err)
	}
	return balance, nil
}

// SoftDelete marks the subscriber deleted. The username is freed for reuse.
func (r *SubscriberRepository) SoftDelete(ctx context.Context, id int64) error {
	query := `
		UPDATE ppp_users
		SET deleted_at = $1, updated_at = $1, username = username || '#deleted-' || id::text
		WHERE id = $2 AND deleted_at IS NULL
	`

	result, err := r.db.Exec(ctx, query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to delete subscriber: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// List retrieves subscribers with filters and pagination.
func (r *SubscriberRepository) List(ctx context.Context, filters *subscriber.ListFilters) ([]*subscriber.Subscriber, int64, error) {
	conditions := []string{"u.deleted_at IS NULL"}
	args := []any{}
	argPos := 1

	if filters.Status != nil {
		conditions = append(conditions, fmt.Sprintf("u.status = $%d", argPos))
		args = append(args, *filters.Status)
		argPos++
	}

	if filters.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(u.username ILIKE $%d OR u.phone ILIKE $%d OR u.email ILIKE $%d)", argPos, argPos, argPos))
		args = append(args, "%"+filters.Search+"%")
		argPos++
	}

	whereClause := strings.Join(conditions, " AND ")

	var total int64
	countQuery := "SELECT COUNT(*) FROM ppp_users u WHERE " + whereClause
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count subscribers: %w", err)
	}

	page, pageSize := filters.Page, filters.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	query := fmt.Sprintf("%s WHERE %s ORDER BY u.created_at DESC LIMIT $%d OFFSET $%d",
		subscriberSelect, whereClause, argPos, argPos+1)
	args = append(args, pageSize, (page-1)*pageSize)

	subs, err := r.queryList(ctx, r.db, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return subs, total, nil
}
