package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/memberhub/internal/domain"
)

// MemoryStore is an in-process Store for tests and local development.
//
// Transactions run concurrently with read-committed visibility, like the
// PostgreSQL store. A transaction's writes are staged until it commits. A
// written row and an inserted marker stay locked by their transaction until
// it ends: a second writer blocks on them, then sees the committed result.
// A transaction whose function returns an error leaves no trace, markers
// included.
type MemoryStore struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tenants map[uuid.UUID]domain.TenantEntitlement
	markers map[string]time.Time

	rowLocks    map[uuid.UUID]*memoryTx
	markerLocks map[string]*memoryTx

	now func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		tenants:     make(map[uuid.UUID]domain.TenantEntitlement),
		markers:     make(map[string]time.Time),
		rowLocks:    make(map[uuid.UUID]*memoryTx),
		markerLocks: make(map[string]*memoryTx),
		now:         time.Now,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Put seeds or replaces a tenant row, bypassing the compare-and-swap.
func (s *MemoryStore) Put(ent domain.TenantEntitlement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[ent.TenantID] = ent
}

// HasMarker reports whether a processed-event marker exists.
func (s *MemoryStore) HasMarker(eventID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.markers[eventID]
	return ok
}

// MarkerCount returns the number of stored markers.
func (s *MemoryStore) MarkerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.markers)
}

// SetMarkerTime backdates a marker, for retention tests.
func (s *MemoryStore) SetMarkerTime(eventID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[eventID] = at
}

// Get returns the tenant's committed entitlement.
func (s *MemoryStore) Get(_ context.Context, tenantID uuid.UUID) (domain.TenantEntitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.tenants[tenantID]
	if !ok {
		return domain.TenantEntitlement{}, ErrTenantNotFound
	}
	return ent, nil
}

// WithTx runs fn against a staged view and commits it if fn returns nil.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memoryTx{
		store:   s,
		tenants: make(map[uuid.UUID]domain.TenantEntitlement),
		markers: make(map[string]time.Time),
	}

	err := fn(tx)
	if err == nil {
		err = ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		for id, ent := range tx.tenants {
			s.tenants[id] = ent
		}
		for id, at := range tx.markers {
			s.markers[id] = at
		}
	}
	for id := range tx.tenants {
		delete(s.rowLocks, id)
	}
	for id := range tx.markers {
		delete(s.markerLocks, id)
	}
	s.cond.Broadcast()
	return err
}

// DeleteMarkersBefore removes markers recorded before cutoff.
func (s *MemoryStore) DeleteMarkersBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, at := range s.markers {
		if at.Before(cutoff) {
			delete(s.markers, id)
			n++
		}
	}
	return n, nil
}

type memoryTx struct {
	store   *MemoryStore
	tenants map[uuid.UUID]domain.TenantEntitlement
	markers map[string]time.Time
}

// lookup reads the transaction's own write or the committed row.
// The store mutex must be held.
func (tx *memoryTx) lookup(tenantID uuid.UUID) (domain.TenantEntitlement, bool) {
	if ent, ok := tx.tenants[tenantID]; ok {
		return ent, true
	}
	ent, ok := tx.store.tenants[tenantID]
	return ent, ok
}

func (tx *memoryTx) Get(_ context.Context, tenantID uuid.UUID) (domain.TenantEntitlement, error) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	ent, ok := tx.lookup(tenantID)
	if !ok {
		return domain.TenantEntitlement{}, ErrTenantNotFound
	}
	return ent, nil
}

func (tx *memoryTx) GetBySubscriptionID(_ context.Context, subscriptionID string) (domain.TenantEntitlement, error) {
	if subscriptionID == "" {
		return domain.TenantEntitlement{}, ErrTenantNotFound
	}
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	for id := range tx.store.tenants {
		if ent, _ := tx.lookup(id); ent.ProcessorSubscriptionID == subscriptionID {
			return ent, nil
		}
	}
	return domain.TenantEntitlement{}, ErrTenantNotFound
}

func (tx *memoryTx) ApplyTransition(_ context.Context, tenantID uuid.UUID, next domain.TenantEntitlement, expectedUpdatedAt time.Time) (ApplyResult, error) {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		owner, locked := s.rowLocks[tenantID]
		if !locked || owner == tx {
			break
		}
		s.cond.Wait()
	}

	cur, ok := tx.lookup(tenantID)
	if !ok {
		return 0, ErrTenantNotFound
	}
	if !cur.UpdatedAt.Equal(expectedUpdatedAt) {
		return Conflict, nil
	}

	if next.ProcessorSubscriptionID != "" {
		for id := range s.tenants {
			if id == tenantID {
				continue
			}
			if other, _ := tx.lookup(id); other.ProcessorSubscriptionID == next.ProcessorSubscriptionID {
				return 0, fmt.Errorf("subscription %s is recorded on tenant %s: %w", next.ProcessorSubscriptionID, id, ErrSubscriptionLinked)
			}
		}
	}

	next.TenantID = tenantID
	if cur.ProcessorCustomerID != "" {
		next.ProcessorCustomerID = cur.ProcessorCustomerID
	}

	updatedAt := s.now().UTC()
	if floor := cur.UpdatedAt.Add(time.Microsecond); updatedAt.Before(floor) {
		updatedAt = floor
	}
	next.UpdatedAt = updatedAt

	s.rowLocks[tenantID] = tx
	tx.tenants[tenantID] = next
	return Applied, nil
}

func (tx *memoryTx) InsertMarker(_ context.Context, eventID, _ string) (bool, error) {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := tx.markers[eventID]; ok {
		return false, nil
	}
	for {
		if _, pending := s.markerLocks[eventID]; !pending {
			break
		}
		s.cond.Wait()
	}
	if _, ok := s.markers[eventID]; ok {
		return false, nil
	}

	s.markerLocks[eventID] = tx
	tx.markers[eventID] = s.now().UTC()
	return true, nil
}
