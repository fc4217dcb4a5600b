// Package domain provides core billing types and context helpers for memberhub.
//
// The identity stored in context is produced by the authentication middleware
// from a verified bearer credential; everything downstream trusts it as given.
package domain

import (
	"context"

	"github.com/google/uuid"
)

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey int

const (
	identityContextKey contextKey = iota
	entitlementContextKey
)

// Role is a member's privilege within a tenant.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	TenantID uuid.UUID
	UserID   uuid.UUID
	Role     Role
}

// IsOwnerOf reports whether the identity may manage billing for tenantID.
func (i *Identity) IsOwnerOf(tenantID uuid.UUID) bool {
	return i != nil && i.TenantID != uuid.Nil && i.TenantID == tenantID && i.Role == RoleOwner
}

// --- Identity Context Helpers ---

// NewContextWithIdentity returns a new context with the identity attached.
func NewContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity from context.
// Returns nil if the request is unauthenticated.
func IdentityFromContext(ctx context.Context) *Identity {
	identity, _ := ctx.Value(identityContextKey).(*Identity)
	return identity
}

// TenantIDFromContext retrieves the caller's tenant ID.
// Returns uuid.Nil if no identity is present.
func TenantIDFromContext(ctx context.Context) uuid.UUID {
	if identity := IdentityFromContext(ctx); identity != nil {
		return identity.TenantID
	}
	return uuid.Nil
}

// MustIdentity retrieves the identity from context, panicking if not present.
// Use behind authentication middleware only; the panic is caught by recovery middleware.
func MustIdentity(ctx context.Context) *Identity {
	identity := IdentityFromContext(ctx)
	if identity == nil {
		panic("identity required in context but not found")
	}
	return identity
}

// --- Entitlement Context Helpers ---

// NewContextWithEntitlement attaches the entitlement loaded by plan gating.
func NewContextWithEntitlement(ctx context.Context, ent *TenantEntitlement) context.Context {
	return context.WithValue(ctx, entitlementContextKey, ent)
}

// EntitlementFromContext returns the entitlement loaded by plan gating, or nil.
func EntitlementFromContext(ctx context.Context) *TenantEntitlement {
	ent, _ := ctx.Value(entitlementContextKey).(*TenantEntitlement)
	return ent
}
