package domain

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestIdentityContext(t *testing.T) {
	t.Run("IdentityFromContext returns nil when unauthenticated", func(t *testing.T) {
		if identity := IdentityFromContext(context.Background()); identity != nil {
			t.Errorf("expected nil identity, got %+v", identity)
		}
	})

	t.Run("IdentityFromContext returns identity when set", func(t *testing.T) {
		expected := &Identity{TenantID: uuid.New(), UserID: uuid.New(), Role: RoleOwner}
		ctx := NewContextWithIdentity(context.Background(), expected)

		identity := IdentityFromContext(ctx)
		if identity == nil {
			t.Fatal("expected identity, got nil")
		}
		if identity.UserID != expected.UserID {
			t.Errorf("expected UserID %v, got %v", expected.UserID, identity.UserID)
		}
	})

	t.Run("TenantIDFromContext returns uuid.Nil when unauthenticated", func(t *testing.T) {
		if id := TenantIDFromContext(context.Background()); id != uuid.Nil {
			t.Errorf("expected uuid.Nil, got %v", id)
		}
	})

	t.Run("TenantIDFromContext returns the identity tenant", func(t *testing.T) {
		expected := &Identity{TenantID: uuid.New()}
		ctx := NewContextWithIdentity(context.Background(), expected)
		if id := TenantIDFromContext(ctx); id != expected.TenantID {
			t.Errorf("expected %v, got %v", expected.TenantID, id)
		}
	})

	t.Run("MustIdentity panics when unauthenticated", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Error("expected panic, got none")
			}
		}()
		MustIdentity(context.Background())
	})
}

func TestIdentityIsOwnerOf(t *testing.T) {
	tenantID := uuid.New()

	tests := []struct {
		name     string
		identity *Identity
		want     bool
	}{
		{"nil identity", nil, false},
		{"owner of tenant", &Identity{TenantID: tenantID, Role: RoleOwner}, true},
		{"admin of tenant", &Identity{TenantID: tenantID, Role: RoleAdmin}, false},
		{"owner of other tenant", &Identity{TenantID: uuid.New(), Role: RoleOwner}, false},
		{"owner without tenant", &Identity{Role: RoleOwner}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.identity.IsOwnerOf(tenantID); got != tt.want {
				t.Errorf("IsOwnerOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntitlementContext(t *testing.T) {
	if ent := EntitlementFromContext(context.Background()); ent != nil {
		t.Errorf("expected nil entitlement, got %+v", ent)
	}

	ent := NewFreeEntitlement(uuid.New())
	ctx := NewContextWithEntitlement(context.Background(), &ent)
	if got := EntitlementFromContext(ctx); got == nil || got.TenantID != ent.TenantID {
		t.Errorf("expected entitlement for %v, got %+v", ent.TenantID, got)
	}
}
