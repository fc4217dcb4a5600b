package billing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/memberhub/internal/domain"
)

// EntitlementReader is the read contract the rest of the platform uses for
// plan gating. Get is a primary-key lookup.
type EntitlementReader interface {
	// Get returns the tenant's entitlement, or ErrTenantNotFound.
	Get(ctx context.Context, tenantID uuid.UUID) (domain.TenantEntitlement, error)
}

// Store is the Tenant Entitlement Store.
type Store interface {
	EntitlementReader

	// WithTx runs fn in a transaction. The transaction commits when fn returns
	// nil and rolls back otherwise, including the dedup marker.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// DeleteMarkersBefore removes processed-event markers recorded before cutoff.
	DeleteMarkersBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Tx is the transactional view of the store used by the reconciler.
type Tx interface {
	MarkerStore

	// Get returns the tenant's entitlement, or ErrTenantNotFound.
	Get(ctx context.Context, tenantID uuid.UUID) (domain.TenantEntitlement, error)

	// GetBySubscriptionID returns the tenant holding the subscription, or
	// ErrTenantNotFound.
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (domain.TenantEntitlement, error)

	// ApplyTransition writes next only if the stored subscription_updated_at
	// still equals expectedUpdatedAt. It is the only write path into plan and
	// status. The processor customer ID is never overwritten once set. A
	// subscription ID held by another tenant fails with ErrSubscriptionLinked
	// and leaves the transaction usable.
	ApplyTransition(ctx context.Context, tenantID uuid.UUID, next domain.TenantEntitlement, expectedUpdatedAt time.Time) (ApplyResult, error)
}

// ApplyResult is the outcome of a compare-and-swap write.
type ApplyResult int

const (
	// Applied means the write took effect.
	Applied ApplyResult = iota + 1
	// Conflict means another write landed since the read.
	Conflict
)

func (r ApplyResult) String() string {
	switch r {
	case Applied:
		return "applied"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}
