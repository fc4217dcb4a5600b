package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dukerupert/memberhub/internal/domain"
)

type contextKey string

const defaultLeeway = 30 * time.Second

// Claims is the bearer token payload. Subject is the user ID.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens issued by the platform's
// identity service.
type Authenticator struct {
	secret []byte
	parser *jwt.Parser
	issuer string
}

// NewAuthenticator creates an Authenticator. An empty issuer skips the iss check.
func NewAuthenticator(secret []byte, issuer string) (*Authenticator, error) {
	if len(secret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 bytes")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(defaultLeeway),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	return &Authenticator{
		secret: secret,
		parser: jwt.NewParser(opts...),
		issuer: issuer,
	}, nil
}

// Verify parses a token and returns the identity it carries.
func (a *Authenticator) Verify(token string) (*domain.Identity, error) {
	var claims Claims
	parsed, err := a.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid sub claim: %w", err)
	}
	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant_id claim: %w", err)
	}

	role := domain.Role(claims.Role)
	switch role {
	case domain.RoleOwner, domain.RoleAdmin, domain.RoleMember:
	default:
		return nil, fmt.Errorf("unknown role %q", claims.Role)
	}

	return &domain.Identity{TenantID: tenantID, UserID: userID, Role: role}, nil
}

// Sign issues a token for identity. Used by local tooling and tests; production
// tokens come from the identity service.
func (a *Authenticator) Sign(identity domain.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TenantID: identity.TenantID.String(),
		Role:     string(identity.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID.String(),
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Authenticate attaches the caller's identity when a valid bearer token is
// present. A malformed or expired token is rejected with 401; no token at all
// passes through unauthenticated.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			respondUnauthorized(w, r, "Authorization header must be a bearer token")
			return
		}

		identity, err := a.Verify(token)
		if err != nil {
			GetLogger(r.Context()).Info("bearer token rejected", "error", err)
			respondUnauthorized(w, r, "Invalid or expired token")
			return
		}

		ctx := domain.NewContextWithIdentity(r.Context(), identity)
		ctx = withIdentityLogger(ctx, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth rejects unauthenticated requests with 401.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if domain.IdentityFromContext(r.Context()) == nil {
			respondUnauthorized(w, r, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireOwner rejects callers that are not the owner of their tenant.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := domain.IdentityFromContext(r.Context())
		if identity == nil {
			respondUnauthorized(w, r, "Authentication required")
			return
		}
		if !identity.IsOwnerOf(identity.TenantID) {
			respondForbidden(w, r, "Only the tenant owner can manage billing")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IdentityFromRequest is a convenience for handlers.
func IdentityFromRequest(r *http.Request) *domain.Identity {
	return domain.IdentityFromContext(r.Context())
}
