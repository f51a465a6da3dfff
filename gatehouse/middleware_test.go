package gatehouse_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-security/gatehouse-go/gatehouse"
	"github.com/gatehouse-security/gatehouse-go/internal/tenant"
)

func testTenantRegistry() *tenant.MemoryRegistry {
	reg := tenant.NewMemoryRegistry()
	reg.Add(tenant.Context{
		ID:         "t-1",
		Code:       "acme",
		Name:       "Acme Store",
		Subdomain:  "acme",
		TemplateID: "classic",
	})
	return reg
}

func initGatehouse(t *testing.T, cfg gatehouse.Config) {
	t.Helper()
	if cfg.Resources == nil {
		cfg.Resources = map[string]gatehouse.ResourcePolicy{
			"global": {
				Limit:     gatehouse.Limit{MaxRequests: 1000, Window: time.Minute},
				Algorithm: "sliding_window",
			},
		}
	}
	require.NoError(t, gatehouse.InitWithConfig(cfg))
	t.Cleanup(gatehouse.Shutdown)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func decodeRejection(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestMiddleware_NotInitializedPassesThrough(t *testing.T) {
	gatehouse.Shutdown()

	handler := gatehouse.Middleware(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://x/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_DisabledPassesThrough(t *testing.T) {
	initGatehouse(t, gatehouse.Config{
		Registry:      testTenantRegistry(),
		RequireTenant: true,
	})

	gatehouse.SetDisabled(true)
	t.Cleanup(func() { gatehouse.SetDisabled(false) })

	handler := gatehouse.Middleware(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://x/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_TenantHeadersMirrored(t *testing.T) {
	initGatehouse(t, gatehouse.Config{
		Registry:   testTenantRegistry(),
		BaseDomain: "stores.example.com",
	})

	handler := gatehouse.Middleware(okHandler())
	r := httptest.NewRequest(http.MethodGet, "http://placeholder/", nil)
	r.Host = "acme.stores.example.com"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t-1", rec.Header().Get("X-Tenant-Id"))
	assert.Equal(t, "acme", rec.Header().Get("X-Tenant-Code"))
	assert.Equal(t, "classic", rec.Header().Get("X-Template-Id"))
}

func TestMiddleware_TenantRequired(t *testing.T) {
	initGatehouse(t, gatehouse.Config{
		Registry:      testTenantRegistry(),
		BaseDomain:    "stores.example.com",
		RequireTenant: true,
	})

	handler := gatehouse.Middleware(okHandler())
	r := httptest.NewRequest(http.MethodGet, "http://placeholder/", nil)
	r.Host = "unknown.stores.example.com"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeRejection(t, rec)
	assert.Equal(t, "tenant_required", body["error"])
}

func TestMiddleware_RateLimitHeadersAndRejection(t *testing.T) {
	initGatehouse(t, gatehouse.Config{
		Resources: map[string]gatehouse.ResourcePolicy{
			"global": {
				Limit:     gatehouse.Limit{MaxRequests: 2, Window: time.Minute},
				Algorithm: "sliding_window",
			},
		},
	})

	handler := gatehouse.Middleware(okHandler())
	send := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://x/", nil))
		return rec
	}

	first := send()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, first.Header().Get("X-RateLimit-Reset"))

	second := send()
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))

	third := send()
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	retryAfter, err := strconv.Atoi(third.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Positive(t, retryAfter)

	body := decodeRejection(t, third)
	assert.Equal(t, "rate_limited", body["error"])
	assert.EqualValues(t, retryAfter, body["retry_after"])
}

func TestMiddleware_RepeatedViolationsBan(t *testing.T) {
	initGatehouse(t, gatehouse.Config{
		Resources: map[string]gatehouse.ResourcePolicy{
			"global": {
				Limit:     gatehouse.Limit{MaxRequests: 1, Window: time.Minute},
				Algorithm: "fixed_window",
			},
		},
	})

	handler := gatehouse.Middleware(okHandler())
	send := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://x/", nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, send().Code)
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusTooManyRequests, send().Code)
	}

	// Five violations trigger the short ban.
	banned := send()
	assert.Equal(t, http.StatusTooManyRequests, banned.Code)
	body := decodeRejection(t, banned)
	assert.Equal(t, "banned", body["error"])
}

func TestMiddleware_RouteRulesPickResource(t *testing.T) {
	initGatehouse(t, gatehouse.Config{
		Resources: map[string]gatehouse.ResourcePolicy{
			"global": {
				Limit:     gatehouse.Limit{MaxRequests: 100, Window: time.Minute},
				Algorithm: "sliding_window",
			},
			"expensive": {
				Limit:     gatehouse.Limit{MaxRequests: 1, Window: time.Minute},
				Algorithm: "token_bucket",
			},
		},
		Routes: []gatehouse.RouteRule{
			{Method: "*", Route: "/reports/*", Resource: "expensive"},
		},
	})

	handler := gatehouse.Middleware(okHandler())
	send := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://x"+path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, send("/reports/q1").Code)
	assert.Equal(t, http.StatusTooManyRequests, send("/reports/q2").Code)
	// Other paths use the roomier global budget.
	assert.Equal(t, http.StatusOK, send("/").Code)
}

func TestMiddleware_UserKeyedLimits(t *testing.T) {
	initGatehouse(t, gatehouse.Config{
		Resources: map[string]gatehouse.ResourcePolicy{
			"global": {
				Limit:     gatehouse.Limit{MaxRequests: 1, Window: time.Minute},
				Algorithm: "sliding_window",
			},
		},
	})

	// Authentication runs between the context and enforcement middlewares.
	authAs := func(userID string, next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, err := gatehouse.SetUser(r.Context(), userID)
			require.NoError(t, err)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}

	send := func(userID string) *httptest.ResponseRecorder {
		handler := gatehouse.WithRequestContext(authAs(userID, gatehouse.Middleware(okHandler())))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://x/", nil))
		return rec
	}

	// Same IP, different users: separate budgets.
	assert.Equal(t, http.StatusOK, send("alice").Code)
	assert.Equal(t, http.StatusOK, send("bob").Code)
	assert.Equal(t, http.StatusTooManyRequests, send("alice").Code)
}

func TestMiddleware_SetUserAfterMiddlewareIsIgnored(t *testing.T) {
	initGatehouse(t, gatehouse.Config{})

	var setUserErr error
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, setUserErr = gatehouse.SetUser(r.Context(), "too-late")
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	gatehouse.Middleware(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://x/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, setUserErr)
}

func TestMiddleware_SignatureVerification(t *testing.T) {
	secrets := map[string]string{"k1": "super-secret"}
	initGatehouse(t, gatehouse.Config{
		Secrets:          secrets,
		VerifySignatures: true,
	})

	handler := gatehouse.Middleware(okHandler())

	signedRequest := func(body []byte) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "http://api.example.com/api/orders", bytes.NewReader(body))
		require.NoError(t, gatehouse.SignRequest("k1", r, body))
		return r
	}

	t.Run("valid signature passes", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, signedRequest([]byte(`{"sku":"a-1"}`)))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("replay is rejected", func(t *testing.T) {
		body := []byte(`{"sku":"b-2"}`)
		r := signedRequest(body)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		require.Equal(t, http.StatusOK, rec.Code)

		replayed := httptest.NewRequest(http.MethodPost, "http://api.example.com/api/orders", bytes.NewReader(body))
		replayed.Header = r.Header.Clone()
		replayed.Host = r.Host

		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, replayed)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "nonce_replayed", decodeRejection(t, rec)["error"])
	})

	t.Run("tampered body is rejected", func(t *testing.T) {
		r := signedRequest([]byte(`{"sku":"c-3"}`))
		tampered := httptest.NewRequest(http.MethodPost, "http://api.example.com/api/orders", bytes.NewReader([]byte(`{"sku":"c-4"}`)))
		tampered.Header = r.Header.Clone()
		tampered.Host = r.Host

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, tampered)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "signature_invalid", decodeRejection(t, rec)["error"])
	})

	t.Run("unsigned request is rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://api.example.com/api/orders", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "signature_missing", decodeRejection(t, rec)["error"])
	})
}

func TestMiddleware_SignatureOverRealTransport(t *testing.T) {
	initGatehouse(t, gatehouse.Config{
		Secrets:          map[string]string{"k1": "super-secret"},
		VerifySignatures: true,
	})

	server := httptest.NewServer(gatehouse.Middleware(okHandler()))
	defer server.Close()

	t.Run("signed POST round trip", func(t *testing.T) {
		body := []byte(`{"sku":"d-4"}`)
		req, err := http.NewRequest(http.MethodPost, server.URL+"/api/orders?page=1", bytes.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		require.NoError(t, gatehouse.SignRequest("k1", req, body))

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("signed GET without body", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, server.URL+"/api/orders", nil)
		require.NoError(t, err)
		require.NoError(t, gatehouse.SignRequest("k1", req, nil))

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("tampered body over the wire is rejected", func(t *testing.T) {
		body := []byte(`{"sku":"d-5"}`)
		req, err := http.NewRequest(http.MethodPost, server.URL+"/api/orders", bytes.NewReader([]byte(`{"sku":"d-6"}`)))
		require.NoError(t, err)
		require.NoError(t, gatehouse.SignRequest("k1", req, body))

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}
