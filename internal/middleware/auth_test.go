package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/memberhub/internal/domain"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	a, err := NewAuthenticator(testSecret, "https://id.memberhub.test")
	require.NoError(t, err)
	return a
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp.Error.Code
}

func TestNewAuthenticator_ShortSecret(t *testing.T) {
	_, err := NewAuthenticator([]byte("short"), "")
	assert.Error(t, err)
}

func TestAuthenticator_SignAndVerify(t *testing.T) {
	a := newTestAuthenticator(t)
	want := domain.Identity{TenantID: uuid.New(), UserID: uuid.New(), Role: domain.RoleOwner}

	token, err := a.Sign(want, time.Hour)
	require.NoError(t, err)

	got, err := a.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, want, *got)
}

func TestAuthenticator_VerifyRejects(t *testing.T) {
	a := newTestAuthenticator(t)
	identity := domain.Identity{TenantID: uuid.New(), UserID: uuid.New(), Role: domain.RoleOwner}

	sign := func(claims Claims, method jwt.SigningMethod, key interface{}) string {
		token, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return token
	}
	valid := func() Claims {
		return Claims{
			TenantID: identity.TenantID.String(),
			Role:     "owner",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   identity.UserID.String(),
				Issuer:    "https://id.memberhub.test",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
	}

	expired := valid()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	noExpiry := valid()
	noExpiry.ExpiresAt = nil

	wrongIssuer := valid()
	wrongIssuer.Issuer = "https://evil.test"

	badTenant := valid()
	badTenant.TenantID = "acme"

	badRole := valid()
	badRole.Role = "superuser"

	otherKey, err := NewAuthenticator([]byte("ffffffffffffffffffffffffffffffff"), "https://id.memberhub.test")
	require.NoError(t, err)
	forged, err := otherKey.Sign(identity, time.Hour)
	require.NoError(t, err)

	tests := map[string]string{
		"expired":      sign(expired, jwt.SigningMethodHS256, testSecret),
		"no expiry":    sign(noExpiry, jwt.SigningMethodHS256, testSecret),
		"wrong issuer": sign(wrongIssuer, jwt.SigningMethodHS256, testSecret),
		"bad tenant":   sign(badTenant, jwt.SigningMethodHS256, testSecret),
		"bad role":     sign(badRole, jwt.SigningMethodHS256, testSecret),
		"wrong alg":    sign(valid(), jwt.SigningMethodHS512, testSecret),
		"wrong key":    forged,
		"garbage":      "not.a.token",
	}

	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := a.Verify(token)
			assert.Error(t, err)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	a := newTestAuthenticator(t)
	identity := domain.Identity{TenantID: uuid.New(), UserID: uuid.New(), Role: domain.RoleAdmin}
	token, err := a.Sign(identity, time.Hour)
	require.NoError(t, err)

	var seen *domain.Identity
	handler := a.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = IdentityFromRequest(r)
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("valid token attaches identity", func(t *testing.T) {
		seen = nil
		req := httptest.NewRequest(http.MethodGet, "/api/billing/entitlement", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		require.NotNil(t, seen)
		assert.Equal(t, identity, *seen)
	})

	t.Run("no token passes through", func(t *testing.T) {
		seen = nil
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Nil(t, seen)
	})

	for name, header := range map[string]string{
		"basic scheme":  "Basic dXNlcjpwYXNz",
		"empty bearer":  "Bearer ",
		"invalid token": "Bearer " + strings.Repeat("x", 20),
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", header)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, domain.EUNAUTHORIZED, errorCode(t, w.Body.Bytes()))
			assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
		})
	}
}

func TestRequireOwner(t *testing.T) {
	handler := RequireOwner(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tenantID := uuid.New()
	tests := []struct {
		name     string
		identity *domain.Identity
		want     int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"member", &domain.Identity{TenantID: tenantID, Role: domain.RoleMember}, http.StatusForbidden},
		{"owner", &domain.Identity{TenantID: tenantID, Role: domain.RoleOwner}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/billing/portal", nil)
			if tt.identity != nil {
				req = req.WithContext(domain.NewContextWithIdentity(req.Context(), tt.identity))
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRequireAuth(t *testing.T) {
	handler := RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}
