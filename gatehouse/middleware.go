package gatehouse

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gatehouse-security/gatehouse-go/internal/config"
	"github.com/gatehouse-security/gatehouse-go/internal/identity"
	"github.com/gatehouse-security/gatehouse-go/internal/log"
	"github.com/gatehouse-security/gatehouse-go/internal/ratelimit"
	"github.com/gatehouse-security/gatehouse-go/internal/request"
	"github.com/gatehouse-security/gatehouse-go/internal/signing"
)

// Response headers mirrored back to the client.
const (
	headerTenantID       = "X-Tenant-Id"
	headerTenantCode     = "X-Tenant-Code"
	headerTemplateID     = "X-Template-Id"
	headerRateLimitLimit = "X-RateLimit-Limit"
	headerRateLimitLeft  = "X-RateLimit-Remaining"
	headerRateLimitReset = "X-RateLimit-Reset"
)

type rejectionBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// WithRequestContext installs the request context without enforcing anything.
// Use it as an outer middleware when authentication runs between it and
// Middleware, so SetUser can bind the user before enforcement.
func WithRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if request.GetContext(r.Context()) == nil {
			r = r.WithContext(request.SetContext(r.Context(), r, "net/http"))
		}
		next.ServeHTTP(w, r)
	})
}

// Middleware runs the enforcement pipeline: tenant resolution, rate limiting,
// then request signature verification. Each stage rejects with a structured
// JSON body. The pipeline runs at most once per request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inst := getInstance()
		if inst == nil || config.IsGatehouseDisabled() {
			next.ServeHTTP(w, r)
			return
		}

		reqCtx := request.GetContext(r.Context())
		if reqCtx == nil {
			r = r.WithContext(request.SetContext(r.Context(), r, "net/http"))
			reqCtx = request.GetContext(r.Context())
		}
		if !reqCtx.MarkMiddlewareExecuted() {
			next.ServeHTTP(w, r)
			return
		}

		if !resolveTenant(inst, w, r, reqCtx) {
			return
		}
		if !checkRateLimit(inst, w, r, reqCtx) {
			return
		}
		r, ok := verifySignature(inst, w, r)
		if !ok {
			return
		}

		next.ServeHTTP(w, r)
	})
}

func resolveTenant(inst *instance, w http.ResponseWriter, r *http.Request, reqCtx *request.Context) bool {
	if inst.chain != nil {
		if tc := inst.chain.Resolve(r); tc != nil {
			reqCtx.SetTenant(tc)
			w.Header().Set(headerTenantID, tc.ID)
			w.Header().Set(headerTenantCode, tc.Code)
			if tc.TemplateID != "" {
				w.Header().Set(headerTemplateID, tc.TemplateID)
			}
			return true
		}
	}

	if inst.requireTenant {
		writeRejection(w, http.StatusBadRequest, rejectionBody{
			Error:   "tenant_required",
			Message: "no tenant could be resolved for this request",
		})
		return false
	}
	return true
}

func checkRateLimit(inst *instance, w http.ResponseWriter, r *http.Request, reqCtx *request.Context) bool {
	user := reqCtx.GetUser()
	if user == nil {
		anon := identity.FromRequest(r, "")
		reqCtx.SetUser(&anon)
		user = &anon
	}

	res, err := inst.limiter.Check(r.Context(), user.Key, inst.resourceFor(r))
	writeRateLimitHeaders(w, res)
	if res.Allowed {
		return true
	}

	if err == nil {
		inst.limiter.RecordViolation(r.Context(), user.Key)
	} else if !errors.Is(err, ratelimit.ErrBackendUnavailable) {
		log.Warn("rate limit check failed", slog.String("error", err.Error()))
	}

	retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

	body := rejectionBody{
		Error:      "rate_limited",
		Message:    "too many requests",
		RetryAfter: retryAfter,
	}
	if res.Banned {
		body.Error = "banned"
		body.Message = "temporarily banned for repeated rate limit violations"
	}
	writeRejection(w, http.StatusTooManyRequests, body)
	return false
}

func writeRateLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	if res.Remaining < 0 {
		return
	}
	w.Header().Set(headerRateLimitLimit, strconv.Itoa(res.Limit))
	w.Header().Set(headerRateLimitLeft, strconv.Itoa(res.Remaining))

	reset := res.Window
	if !res.Allowed {
		reset = res.RetryAfter
	}
	w.Header().Set(headerRateLimitReset, strconv.FormatInt(time.Now().Add(reset).Unix(), 10))
}

func verifySignature(inst *instance, w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	if !inst.verifySignatures {
		return r, true
	}

	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			writeRejection(w, http.StatusBadRequest, rejectionBody{
				Error:   "body_unreadable",
				Message: "request body could not be read",
			})
			return r, false
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	if err := inst.signer.Verify(r.Context(), r, body, true); err != nil {
		if signing.IsAuthError(err) {
			log.Debug("request signature rejected",
				slog.String("path", r.URL.Path),
				slog.String("reason", signatureReason(err)))
		} else {
			log.Warn("signature verification failed", slog.String("error", err.Error()))
		}
		writeRejection(w, http.StatusUnauthorized, rejectionBody{
			Error:   signatureReason(err),
			Message: "request signature verification failed",
		})
		return r, false
	}
	return r, true
}

func signatureReason(err error) string {
	switch {
	case errors.Is(err, signing.ErrSignatureMissing):
		return "signature_missing"
	case errors.Is(err, signing.ErrVersionUnsupported):
		return "version_unsupported"
	case errors.Is(err, signing.ErrTimestampMalformed):
		return "timestamp_malformed"
	case errors.Is(err, signing.ErrTimestampOutOfWindow):
		return "timestamp_out_of_window"
	case errors.Is(err, signing.ErrNonceReplay):
		return "nonce_replayed"
	case errors.Is(err, signing.ErrUnknownKeyID):
		return "unknown_key"
	default:
		return "signature_invalid"
	}
}

func writeRejection(w http.ResponseWriter, status int, body rejectionBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug("failed to write rejection body", slog.String("error", err.Error()))
	}
}
