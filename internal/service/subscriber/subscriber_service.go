// internal/service/subscriber/subscriber_service.go
package subscriber

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"netbill-service/internal/domain/event"
	"netbill-service/internal/domain/plan"
	"netbill-service/internal/domain/router"
	"netbill-service/internal/domain/subscriber"
	"netbill-service/internal/events"
	xerrors "netbill-service/internal/pkg/errors"
	"netbill-service/internal/service/lifecycle"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// usernamePattern excludes '#', which SoftDelete uses to rename a deleted
// subscriber so its username can be reused.
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._@-]{3,100}$`)

type Repository interface {
	Create(ctx context.Context, s *subscriber.Subscriber) error
	FindByID(ctx context.Context, id int64) (*subscriber.Subscriber, error)
	FindByUsername(ctx context.Context, username string) (*subscriber.Subscriber, error)
	UpdateMikrotikID(ctx context.Context, id int64, mikrotikID string) error
	SoftDelete(ctx context.Context, id int64) error
	List(ctx context.Context, filters *subscriber.ListFilters) ([]*subscriber.Subscriber, int64, error)
}

type PackageFinder interface {
	FindByID(ctx context.Context, id int64) (*plan.Package, error)
}

type Router interface {
	GetSecret(ctx context.Context, username string) (router.Secret, error)
	CreateSecret(ctx context.Context, s router.NewSecret) (string, error)
	DeleteSecret(ctx context.Context, id string) error
}

type Sealer interface {
	Seal(plain string) (string, error)
}

type SubscriberService struct {
	repo             Repository
	packages         PackageFinder
	router           Router
	sealer           Sealer
	evaluator        *lifecycle.Evaluator
	publisher        events.Publisher
	defaultGraceDays int
	logger           *zap.Logger
}

func NewSubscriberService(
	repo Repository,
	packages PackageFinder,
	rt Router,
	sealer Sealer,
	evaluator *lifecycle.Evaluator,
	publisher events.Publisher,
	defaultGraceDays int,
	logger *zap.Logger,
) *SubscriberService {
	if publisher == nil {
		publisher = events.Nop
	}
	return &SubscriberService{
		repo:             repo,
		packages:         packages,
		router:           rt,
		sealer:           sealer,
		evaluator:        evaluator,
		publisher:        publisher,
		defaultGraceDays: defaultGraceDays,
		logger:           logger,
	}
}

// Create inserts a pending subscriber and provisions its router secret with the
// pending profile. A router failure is logged and left to the next sync pass.
func (s *SubscriberService) Create(ctx context.Context, req *subscriber.CreateSubscriberRequest) (*subscriber.Subscriber, error) {
	username := strings.TrimSpace(req.Username)
	if !usernamePattern.MatchString(username) {
		return nil, fmt.Errorf("%w: username must be 3-100 characters of letters, digits, . _ @ -", xerrors.ErrInvalidInput)
	}

	service := req.Service
	if service == "" {
		service = subscriber.DefaultService
	}
	grace := s.defaultGraceDays
	if req.GracePeriodDays != nil {
		grace = *req.GracePeriodDays
	}

	sub := &subscriber.Subscriber{
		Username:        username,
		Service:         service,
		LocalAddress:    nullString(req.LocalAddress),
		RemoteAddress:   nullString(req.RemoteAddress),
		Phone:           nullString(req.Phone),
		Email:           nullString(req.Email),
		Balance:         decimal.Zero,
		GracePeriodDays: grace,
		Status:          subscriber.StatusPending,
	}

	if req.PackageID != nil {
		pkg, err := s.packages.FindByID(ctx, *req.PackageID)
		if err != nil {
			if errors.Is(err, xerrors.ErrNotFound) {
				return nil, fmt.Errorf("%w: package %d does not exist", xerrors.ErrInvalidInput, *req.PackageID)
			}
			return nil, fmt.Errorf("failed to load package: %w", err)
		}
		if !pkg.IsActive {
			return nil, fmt.Errorf("%w: package %s is not active", xerrors.ErrInvalidInput, pkg.Code)
		}
		sub.PackageID = sql.NullInt64{Int64: pkg.ID, Valid: true}
		sub.Package = pkg
	}

	sealed, err := s.sealer.Seal(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to seal password: %w", err)
	}
	sub.Password = sealed

	if err := s.repo.Create(ctx, sub); err != nil {
		if errors.Is(err, xerrors.ErrDuplicateEntry) {
			return nil, err
		}
		s.logger.Error("failed to create subscriber", zap.String("username", username), zap.Error(err))
		return nil, fmt.Errorf("failed to create subscriber: %w", err)
	}

	s.logger.Info("subscriber created",
		zap.Int64("subscriber_id", sub.ID),
		zap.String("username", sub.Username),
	)

	profile := s.evaluator.TargetProfile(sub.Status, sub)
	id, err := s.router.CreateSecret(ctx, router.NewSecret{
		Name:          sub.Username,
		Password:      req.Password,
		Profile:       profile,
		Service:       sub.Service,
		LocalAddress:  req.LocalAddress,
		RemoteAddress: req.RemoteAddress,
		Comment:       fmt.Sprintf("subscriber %d", sub.ID),
	})
	if err != nil {
		s.logger.Warn("router secret not created, sync pass will retry",
			zap.String("username", sub.Username),
			zap.String("kind", xerrors.Kind(err)),
			zap.Error(err),
		)
	} else if id != "" {
		if err := s.repo.UpdateMikrotikID(ctx, sub.ID, id); err != nil {
			s.logger.Warn("failed to record mikrotik id", zap.String("username", sub.Username), zap.Error(err))
		} else {
			sub.MikrotikID = sql.NullString{String: id, Valid: true}
		}
	}

	ev := events.New(event.TypeSubscriberCreated, sub.Username)
	ev.ToStatus = string(sub.Status)
	ev.Data = map[string]interface{}{"profile": profile, "router_id": sub.MikrotikID.String}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish event", zap.String("type", string(ev.Type)), zap.Error(err))
	}

	return sub, nil
}

// Delete removes the router secret (a missing secret is fine) and soft deletes the row.
// When the router is unreachable the row is still deleted; the next sync pass prunes
// the orphaned secret.
func (s *SubscriberService) Delete(ctx context.Context, id int64) error {
	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}

	secretID := sub.MikrotikID.String
	if secretID == "" {
		secret, err := s.router.GetSecret(ctx, sub.Username)
		switch {
		case err == nil:
			secretID = secret.ID
		case !errors.Is(err, xerrors.ErrRouterNotFound):
			s.logger.Warn("router lookup failed during delete", zap.String("username", sub.Username), zap.Error(err))
		}
	}
	if secretID != "" {
		if err := s.router.DeleteSecret(ctx, secretID); err != nil && !errors.Is(err, xerrors.ErrRouterNotFound) {
			s.logger.Warn("router secret not deleted, sync pass will prune it",
				zap.String("username", sub.Username),
				zap.String("id", secretID),
				zap.Error(err),
			)
		}
	}

	if err := s.repo.SoftDelete(ctx, sub.ID); err != nil {
		return fmt.Errorf("failed to delete subscriber: %w", err)
	}

	s.logger.Info("subscriber deleted", zap.Int64("subscriber_id", sub.ID), zap.String("username", sub.Username))
	ev := events.New(event.TypeSubscriberDeleted, sub.Username)
	ev.FromStatus = string(sub.Status)
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish event", zap.String("type", string(ev.Type)), zap.Error(err))
	}
	return nil
}

func (s *SubscriberService) Get(ctx context.Context, id int64) (*subscriber.Subscriber, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *SubscriberService) GetByUsername(ctx context.Context, username string) (*subscriber.Subscriber, error) {
	return s.repo.FindByUsername(ctx, username)
}

// List retrieves subscribers with filters
func (s *SubscriberService) List(ctx context.Context, filters *subscriber.ListFilters) (*subscriber.ListResponse, error) {
	if filters.Page < 1 {
		filters.Page = 1
	}
	if filters.PageSize < 1 {
		filters.PageSize = 20
	}
	if filters.PageSize > 100 {
		filters.PageSize = 100
	}
	if filters.Status != nil && !filters.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", xerrors.ErrInvalidInput, *filters.Status)
	}

	subs, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribers: %w", err)
	}

	resp := make([]subscriber.SubscriberResponse, len(subs))
	for i, sub := range subs {
		resp[i] = sub.ToResponse()
	}

	totalPages := int(total) / filters.PageSize
	if int(total)%filters.PageSize > 0 {
		totalPages++
	}

	return &subscriber.ListResponse{
		Subscribers: resp,
		Total:       total,
		Page:        filters.Page,
		PageSize:    filters.PageSize,
		TotalPages:  totalPages,
	}, nil
}

func nullString(v string) sql.NullString {
	v = strings.TrimSpace(v)
	return sql.NullString{String: v, Valid: v != ""}
}
