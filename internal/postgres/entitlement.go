package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dukerupert/memberhub/internal/billing"
	"github.com/dukerupert/memberhub/internal/domain"
	"github.com/dukerupert/memberhub/internal/repository"
	"github.com/dukerupert/memberhub/internal/telemetry"
)

const uniqueViolation = "23505"

// EntitlementCache fronts primary-key reads. Implemented by cache.EntitlementCache.
//
// Set must refuse a row older than the newest one passed to Invalidate, so a
// read that raced a commit cannot put the superseded row back.
type EntitlementCache interface {
	Get(ctx context.Context, tenantID uuid.UUID) (domain.TenantEntitlement, bool, error)
	Set(ctx context.Context, ent domain.TenantEntitlement) error
	Invalidate(ctx context.Context, written ...domain.TenantEntitlement) error
}

// EntitlementStore implements billing.Store using PostgreSQL.
type EntitlementStore struct {
	pool   *pgxpool.Pool
	repo   *repository.Queries
	cache  EntitlementCache
	logger *slog.Logger
}

// Compile-time check to ensure EntitlementStore implements billing.Store.
var _ billing.Store = (*EntitlementStore)(nil)

// NewEntitlementStore creates an EntitlementStore. cache may be nil.
func NewEntitlementStore(pool *pgxpool.Pool, cache EntitlementCache, logger *slog.Logger) *EntitlementStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntitlementStore{
		pool:   pool,
		repo:   repository.New(pool),
		cache:  cache,
		logger: logger.With("service", "entitlement_store"),
	}
}

// Get returns the tenant's entitlement, from cache when possible.
// Cache failures fall through to the database.
func (s *EntitlementStore) Get(ctx context.Context, tenantID uuid.UUID) (domain.TenantEntitlement, error) {
	if s.cache != nil {
		ent, ok, err := s.cache.Get(ctx, tenantID)
		switch {
		case err != nil:
			s.observeCache("error")
			s.logger.Warn("entitlement cache read failed", "tenant_id", tenantID, "error", err)
		case ok:
			s.observeCache("hit")
			return ent, nil
		default:
			s.observeCache("miss")
		}
	}

	ent, err := getTenant(ctx, s.repo, tenantID)
	if err != nil {
		return domain.TenantEntitlement{}, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, ent); err != nil {
			s.logger.Warn("entitlement cache write failed", "tenant_id", tenantID, "error", err)
		}
	}
	return ent, nil
}

// WithTx runs fn in a database transaction and invalidates the cache for
// every tenant written once the transaction commits.
func (s *EntitlementStore) WithTx(ctx context.Context, fn func(tx billing.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	etx := &entitlementTx{tx: tx, repo: s.repo.WithTx(tx)}
	if err := fn(etx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	if s.cache != nil && len(etx.written) > 0 {
		if err := s.cache.Invalidate(ctx, etx.written...); err != nil {
			// The TTL bounds the staleness.
			ids := make([]uuid.UUID, len(etx.written))
			for i, ent := range etx.written {
				ids[i] = ent.TenantID
			}
			s.logger.Error("entitlement cache invalidation failed",
				"tenant_ids", ids,
				"error", err)
		}
	}
	return nil
}

// DeleteMarkersBefore removes processed-event markers recorded before cutoff.
func (s *EntitlementStore) DeleteMarkersBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.repo.DeleteProcessedEventsBefore(ctx, pgTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete processed events: %w", err)
	}
	return n, nil
}

// CountMarkers returns the number of stored processed-event markers.
func (s *EntitlementStore) CountMarkers(ctx context.Context) (int64, error) {
	return s.repo.CountProcessedEvents(ctx)
}

// CreateTenant inserts a tenant on the free plan.
func (s *EntitlementStore) CreateTenant(ctx context.Context, name, slug string) (domain.TenantEntitlement, error) {
	row, err := s.repo.CreateTenant(ctx, repository.CreateTenantParams{Name: name, Slug: slug})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.TenantEntitlement{}, domain.Conflict("tenant.create", fmt.Sprintf("slug %q is taken", slug))
		}
		return domain.TenantEntitlement{}, fmt.Errorf("create tenant: %w", err)
	}
	return toEntitlement(row), nil
}

func (s *EntitlementStore) observeCache(result string) {
	if telemetry.Billing != nil {
		telemetry.Billing.CacheLookups.WithLabelValues(result).Inc()
	}
}

// entitlementTx implements billing.Tx on one pgx transaction.
type entitlementTx struct {
	tx      pgx.Tx
	repo    *repository.Queries
	written []domain.TenantEntitlement
}

func (tx *entitlementTx) Get(ctx context.Context, tenantID uuid.UUID) (domain.TenantEntitlement, error) {
	return getTenant(ctx, tx.repo, tenantID)
}

func (tx *entitlementTx) GetBySubscriptionID(ctx context.Context, subscriptionID string) (domain.TenantEntitlement, error) {
	if subscriptionID == "" {
		return domain.TenantEntitlement{}, billing.ErrTenantNotFound
	}
	row, err := tx.repo.GetTenantBySubscriptionID(ctx, pgText(subscriptionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TenantEntitlement{}, billing.ErrTenantNotFound
	}
	if err != nil {
		return domain.TenantEntitlement{}, fmt.Errorf("get tenant by subscription %s: %w", subscriptionID, err)
	}
	return toEntitlement(row), nil
}

// ApplyTransition runs the compare-and-swap update inside a savepoint. A
// unique violation aborts only the savepoint, so the caller can still commit
// the dedup marker.
func (tx *entitlementTx) ApplyTransition(ctx context.Context, tenantID uuid.UUID, next domain.TenantEntitlement, expectedUpdatedAt time.Time) (billing.ApplyResult, error) {
	params := toUpdateParams(tenantID, next, expectedUpdatedAt)

	sp, err := tx.tx.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("savepoint: %w", err)
	}
	defer func() { _ = sp.Rollback(ctx) }()

	n, err := tx.repo.WithTx(sp).UpdateTenantEntitlement(ctx, params)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, fmt.Errorf("subscription %s: %w", next.ProcessorSubscriptionID, billing.ErrSubscriptionLinked)
		}
		return 0, fmt.Errorf("update entitlement for tenant %s: %w", tenantID, err)
	}
	if err := sp.Commit(ctx); err != nil {
		return 0, fmt.Errorf("release savepoint: %w", err)
	}
	if n == 0 {
		return billing.Conflict, nil
	}

	written, err := getTenant(ctx, tx.repo, tenantID)
	if err != nil {
		return 0, err
	}
	tx.written = append(tx.written, written)
	return billing.Applied, nil
}

func (tx *entitlementTx) InsertMarker(ctx context.Context, eventID, eventType string) (bool, error) {
	n, err := tx.repo.InsertProcessedEvent(ctx, repository.InsertProcessedEventParams{
		EventID:   eventID,
		EventType: eventType,
	})
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func getTenant(ctx context.Context, repo repository.Querier, tenantID uuid.UUID) (domain.TenantEntitlement, error) {
	row, err := repo.GetTenant(ctx, pgUUID(tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TenantEntitlement{}, billing.ErrTenantNotFound
	}
	if err != nil {
		return domain.TenantEntitlement{}, fmt.Errorf("get tenant %s: %w", tenantID, err)
	}
	return toEntitlement(row), nil
}

// =============================================================================
// Mapping
// =============================================================================

// toEntitlement converts a repository Tenant to its billing slice.
func toEntitlement(t repository.Tenant) domain.TenantEntitlement {
	return domain.TenantEntitlement{
		TenantID:                uuid.UUID(t.ID.Bytes),
		Plan:                    domain.Plan(t.Plan),
		ProcessorCustomerID:     textValue(t.ProcessorCustomerID),
		ProcessorSubscriptionID: textValue(t.ProcessorSubscriptionID),
		Status:                  domain.SubscriptionStatus(t.SubscriptionStatus),
		PeriodStart:             timeValue(t.SubscriptionPeriodStart),
		PeriodEnd:               timeValue(t.SubscriptionPeriodEnd),
		CancelAt:                timePtr(t.SubscriptionCancelAt),
		EventAt:                 timeValue(t.SubscriptionEventAt),
		UpdatedAt:               timeValue(t.SubscriptionUpdatedAt),
	}
}

// toUpdateParams builds the compare-and-swap write. subscription_updated_at is
// computed by the database.
func toUpdateParams(tenantID uuid.UUID, next domain.TenantEntitlement, expectedUpdatedAt time.Time) repository.UpdateTenantEntitlementParams {
	return repository.UpdateTenantEntitlementParams{
		Plan:                    string(next.Plan),
		ProcessorCustomerID:     pgText(next.ProcessorCustomerID),
		ProcessorSubscriptionID: pgText(next.ProcessorSubscriptionID),
		SubscriptionStatus:      string(next.Status),
		SubscriptionPeriodStart: pgTime(next.PeriodStart),
		SubscriptionPeriodEnd:   pgTime(next.PeriodEnd),
		SubscriptionCancelAt:    pgTimePtr(next.CancelAt),
		SubscriptionEventAt:     pgTime(next.EventAt),
		ID:                      pgUUID(tenantID),
		ExpectedUpdatedAt:       pgTimeNotNull(expectedUpdatedAt),
	}
}
