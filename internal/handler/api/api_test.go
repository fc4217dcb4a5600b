package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dukerupert/memberhub/internal/billing"
	"github.com/dukerupert/memberhub/internal/billing/billingmock"
	"github.com/dukerupert/memberhub/internal/domain"
)

var testPrices = billing.PriceTable{
	{Plan: domain.PlanStarter, Interval: domain.IntervalMonth}: "price_starter_month",
	{Plan: domain.PlanPro, Interval: domain.IntervalMonth}:     "price_pro_month",
	{Plan: domain.PlanPro, Interval: domain.IntervalYear}:      "price_pro_year",
}

type apiFixture struct {
	store     *billing.MemoryStore
	processor *billingmock.MockProcessor
	checkout  *CheckoutHandler
	tenantID  uuid.UUID
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &apiFixture{
		store:     billing.NewMemoryStore(),
		processor: billingmock.NewMockProcessor(ctrl),
		tenantID:  uuid.New(),
	}
	f.store.Put(domain.NewFreeEntitlement(f.tenantID))

	svc := billing.NewCheckoutService(f.store, f.processor, testPrices, billing.CheckoutConfig{
		SuccessURL:      "https://app.example.com/billing/success",
		CancelURL:       "https://app.example.com/billing",
		PortalReturnURL: "https://app.example.com/settings",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.checkout = NewCheckoutHandler(svc)
	return f
}

func (f *apiFixture) owner() *domain.Identity {
	return &domain.Identity{TenantID: f.tenantID, UserID: uuid.New(), Role: domain.RoleOwner}
}

func request(method, path, body string, identity *domain.Identity) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if identity != nil {
		req = req.WithContext(domain.NewContextWithIdentity(req.Context(), identity))
	}
	return req
}

type errorEnvelope struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func TestHandleCreateCheckoutSession_ReturnsRedirect(t *testing.T) {
	f := newAPIFixture(t)

	f.processor.EXPECT().
		CreateCheckoutSession(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p billing.CreateCheckoutSessionParams) (*billing.CheckoutSession, error) {
			assert.Equal(t, "price_pro_month", p.PriceID)
			assert.Equal(t, "retry-abc", p.IdempotencyKey)
			assert.Equal(t, f.tenantID.String(), p.Metadata[billing.MetadataTenantID])
			return &billing.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.com/c/pay/cs_1"}, nil
		})

	body := `{"plan":"pro","interval":"month","tenantId":"` + f.tenantID.String() + `"}`
	req := request(http.MethodPost, "/api/billing/checkout", body, f.owner())
	req.Header.Set(IdempotencyKeyHeader, "retry-abc")
	rec := httptest.NewRecorder()

	f.checkout.HandleCreateCheckoutSession(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp RedirectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_1", resp.RedirectURL)

	ent, err := f.store.Get(context.Background(), f.tenantID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanFree, ent.Plan, "checkout must not grant the plan")
}

func TestHandleCreateCheckoutSession_Rejections(t *testing.T) {
	f := newAPIFixture(t)
	tenant := f.tenantID.String()
	member := &domain.Identity{TenantID: f.tenantID, UserID: uuid.New(), Role: domain.RoleMember}

	tests := []struct {
		name       string
		body       string
		identity   *domain.Identity
		wantStatus int
		wantCode   string
		wantField  string
	}{
		{"unauthenticated", `{"plan":"pro","interval":"month","tenantId":"` + tenant + `"}`, nil, http.StatusUnauthorized, domain.EUNAUTHORIZED, ""},
		{"not owner", `{"plan":"pro","interval":"month","tenantId":"` + tenant + `"}`, member, http.StatusForbidden, domain.EFORBIDDEN, ""},
		{"other tenant", `{"plan":"pro","interval":"month","tenantId":"` + uuid.NewString() + `"}`, f.owner(), http.StatusForbidden, domain.EFORBIDDEN, ""},
		{"free plan", `{"plan":"free","interval":"month","tenantId":"` + tenant + `"}`, f.owner(), http.StatusBadRequest, domain.EINVALID, "plan"},
		{"unknown plan", `{"plan":"platinum","interval":"month","tenantId":"` + tenant + `"}`, f.owner(), http.StatusBadRequest, domain.EINVALID, "plan"},
		{"bad interval", `{"plan":"pro","interval":"week","tenantId":"` + tenant + `"}`, f.owner(), http.StatusBadRequest, domain.EINVALID, "interval"},
		{"missing tenant", `{"plan":"pro","interval":"month"}`, f.owner(), http.StatusBadRequest, domain.EINVALID, "tenantId"},
		{"tenant not a uuid", `{"plan":"pro","interval":"month","tenantId":"acme"}`, f.owner(), http.StatusBadRequest, domain.EINVALID, "tenantId"},
		{"unknown field", `{"plan":"pro","interval":"month","tenantId":"` + tenant + `","coupon":"x"}`, f.owner(), http.StatusBadRequest, domain.EINVALID, ""},
		{"empty body", ``, f.owner(), http.StatusBadRequest, domain.EINVALID, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			f.checkout.HandleCreateCheckoutSession(rec, request(http.MethodPost, "/api/billing/checkout", tt.body, tt.identity))

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			env := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, env.Error.Code)
			if tt.wantField != "" {
				assert.Contains(t, env.Error.Fields, tt.wantField)
			}
		})
	}
}

func TestHandleCreateCheckoutSession_AlreadySubscribed(t *testing.T) {
	f := newAPIFixture(t)
	ent := domain.NewFreeEntitlement(f.tenantID)
	ent.Plan = domain.PlanStarter
	ent.Status = domain.StatusActive
	ent.ProcessorSubscriptionID = "sub_1"
	f.store.Put(ent)

	rec := httptest.NewRecorder()
	body := `{"plan":"pro","interval":"month","tenantId":"` + f.tenantID.String() + `"}`
	f.checkout.HandleCreateCheckoutSession(rec, request(http.MethodPost, "/api/billing/checkout", body, f.owner()))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, domain.ECONFLICT, decodeError(t, rec).Error.Code)
}

func TestHandleCreateCheckoutSession_ProcessorUnavailable(t *testing.T) {
	f := newAPIFixture(t)
	f.processor.EXPECT().
		CreateCheckoutSession(gomock.Any(), gomock.Any()).
		Return(nil, &billing.TransientError{Op: "create checkout session", Err: errors.New("upstream timeout")})

	rec := httptest.NewRecorder()
	body := `{"plan":"starter","interval":"month","tenantId":"` + f.tenantID.String() + `"}`
	f.checkout.HandleCreateCheckoutSession(rec, request(http.MethodPost, "/api/billing/checkout", body, f.owner()))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	env := decodeError(t, rec)
	assert.Equal(t, domain.EUNAVAILABLE, env.Error.Code)
	assert.NotContains(t, env.Error.Message, "upstream timeout")
}

func TestHandleCreatePortalSession(t *testing.T) {
	t.Run("default return URL", func(t *testing.T) {
		f := newAPIFixture(t)
		ent := domain.NewFreeEntitlement(f.tenantID)
		ent.ProcessorCustomerID = "cus_1"
		f.store.Put(ent)

		f.processor.EXPECT().
			CreatePortalSession(gomock.Any(), billing.CreatePortalSessionParams{
				CustomerID: "cus_1",
				ReturnURL:  "https://app.example.com/settings",
			}).
			Return(&billing.PortalSession{ID: "bps_1", URL: "https://billing.stripe.com/p/session/bps_1"}, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/billing/portal", nil)
		req = req.WithContext(domain.NewContextWithIdentity(req.Context(), f.owner()))
		rec := httptest.NewRecorder()
		f.checkout.HandleCreatePortalSession(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"redirectUrl":"https://billing.stripe.com/p/session/bps_1"}`, rec.Body.String())
	})

	t.Run("explicit return URL", func(t *testing.T) {
		f := newAPIFixture(t)
		ent := domain.NewFreeEntitlement(f.tenantID)
		ent.ProcessorCustomerID = "cus_1"
		f.store.Put(ent)

		f.processor.EXPECT().
			CreatePortalSession(gomock.Any(), billing.CreatePortalSessionParams{
				CustomerID: "cus_1",
				ReturnURL:  "https://app.example.com/plans",
			}).
			Return(&billing.PortalSession{ID: "bps_1", URL: "https://billing.stripe.com/p/session/bps_1"}, nil)

		rec := httptest.NewRecorder()
		f.checkout.HandleCreatePortalSession(rec, request(http.MethodPost, "/api/billing/portal", `{"returnUrl":"https://app.example.com/plans"}`, f.owner()))

		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})

	t.Run("invalid return URL", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := httptest.NewRecorder()
		f.checkout.HandleCreatePortalSession(rec, request(http.MethodPost, "/api/billing/portal", `{"returnUrl":"not a url"}`, f.owner()))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeError(t, rec).Error.Fields, "returnUrl")
	})

	t.Run("no billing account", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := httptest.NewRecorder()
		f.checkout.HandleCreatePortalSession(rec, request(http.MethodPost, "/api/billing/portal", "", f.owner()))

		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

type failingReader struct{ err error }

func (r failingReader) Get(context.Context, uuid.UUID) (domain.TenantEntitlement, error) {
	return domain.TenantEntitlement{}, r.err
}

func TestHandleGetEntitlement(t *testing.T) {
	tenantID := uuid.New()
	periodStart := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	store := billing.NewMemoryStore()
	store.Put(domain.TenantEntitlement{
		TenantID:                tenantID,
		Plan:                    domain.PlanPro,
		ProcessorCustomerID:     "cus_1",
		ProcessorSubscriptionID: "sub_1",
		Status:                  domain.StatusPastDue,
		PeriodStart:             periodStart,
		PeriodEnd:               periodStart.AddDate(0, 1, 0),
		UpdatedAt:               periodStart,
	})
	h := NewEntitlementHandler(store)

	t.Run("past due tenant keeps access", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.HandleGetEntitlement(rec, request(http.MethodGet, "/api/billing/entitlement", "", &domain.Identity{TenantID: tenantID, Role: domain.RoleMember}))

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp EntitlementResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, tenantID.String(), resp.TenantID)
		assert.Equal(t, "pro", resp.Plan)
		assert.Equal(t, "past_due", resp.SubscriptionStatus)
		assert.True(t, resp.HasPaidAccess)
		require.NotNil(t, resp.PeriodEnd)
		assert.True(t, resp.PeriodEnd.Equal(periodStart.AddDate(0, 1, 0)))
		assert.Nil(t, resp.CancelAt)
		assert.NotContains(t, rec.Body.String(), "cus_1")
	})

	t.Run("free tenant omits period", func(t *testing.T) {
		other := uuid.New()
		store.Put(domain.NewFreeEntitlement(other))

		rec := httptest.NewRecorder()
		h.HandleGetEntitlement(rec, request(http.MethodGet, "/api/billing/entitlement", "", &domain.Identity{TenantID: other, Role: domain.RoleOwner}))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), "currentPeriodStart")
		assert.Contains(t, rec.Body.String(), `"hasPaidAccess":false`)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.HandleGetEntitlement(rec, request(http.MethodGet, "/api/billing/entitlement", "", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown tenant", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.HandleGetEntitlement(rec, request(http.MethodGet, "/api/billing/entitlement", "", &domain.Identity{TenantID: uuid.New(), Role: domain.RoleOwner}))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("store unavailable", func(t *testing.T) {
		h := NewEntitlementHandler(failingReader{err: errors.New("dial tcp: connection refused")})
		rec := httptest.NewRecorder()
		h.HandleGetEntitlement(rec, request(http.MethodGet, "/api/billing/entitlement", "", &domain.Identity{TenantID: tenantID, Role: domain.RoleOwner}))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.NotContains(t, rec.Body.String(), "connection refused")
	})
}
