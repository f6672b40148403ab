package httpserver

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/yndnr/retouch-go/internal/core/domain"
	"github.com/yndnr/retouch-go/internal/core/service"
	"github.com/yndnr/retouch-go/internal/server/httpserver/handler"
	"github.com/yndnr/retouch-go/internal/telemetry/logger"
	"github.com/yndnr/retouch-go/internal/telemetry/metric"
	"github.com/yndnr/retouch-go/pkg/cmap"
)

const requestIDHeader = "X-Request-ID"

type ctxKey int

const (
	apiKeyKey ctxKey = iota
	infoKey
)

// requestInfo is shared by the middlewares of one request. Auth fills in
// the key so Audit, which runs outside it, can log the caller.
type requestInfo struct {
	start time.Time
	key   *domain.APIKey
}

// Middleware wraps an http.Handler with additional functionality.
type Middleware func(http.Handler) http.Handler

// Chain wraps h in middlewares. The first middleware runs outermost.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// APIKeyFromContext returns the key Auth attached to the request, or nil.
func APIKeyFromContext(ctx context.Context) *domain.APIKey {
	key, _ := ctx.Value(apiKeyKey).(*domain.APIKey)
	return key
}

// RequestID tags every request with an ID, keeping an inbound
// X-Request-ID. The ID is echoed in the response, stored on the request
// header for handlers, and carried in the context for loggers.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if id == "" {
				id = newRequestID()
				r.Header.Set(requestIDHeader, id)
			}
			w.Header().Set(requestIDHeader, id)

			ctx := logger.WithRequestID(r.Context(), id)
			ctx = context.WithValue(ctx, infoKey, &requestInfo{start: time.Now()})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newRequestID() string {
	id, err := ulid.New(ulid.Now(), rand.Reader)
	if err != nil {
		return "req-unknown"
	}
	return "req-" + strings.ToLower(id.String())
}

// Auth authenticates the caller by API key and spends one token of the
// key's rate limit. A nil AuthService disables authentication.
func Auth(authSvc *service.AuthService) Middleware {
	return func(next http.Handler) http.Handler {
		if authSvc == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, secret := credentials(r)
			key, err := authSvc.ValidateAPIKey(r.Context(), &service.ValidateAPIKeyRequest{
				KeyID:     id,
				KeySecret: secret,
				ClientIP:  clientIP(r),
			})
			if err == nil {
				err = authSvc.CheckRateLimit(key)
			}
			if err != nil {
				deny(w, r, err)
				return
			}
			if info, ok := r.Context().Value(infoKey).(*requestInfo); ok {
				info.key = key
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), apiKeyKey, key)))
		})
	}
}

// RequirePermission rejects callers whose key lacks perm. It runs after
// Auth; with authentication disabled every request passes.
func RequirePermission(authSvc *service.AuthService, perm domain.Permission) Middleware {
	return requireKey(authSvc, func(key *domain.APIKey) error {
		return authSvc.CheckPermission(key, perm)
	})
}

// RequireAdmin rejects callers without an admin key. With authentication
// disabled every request passes.
func RequireAdmin(authSvc *service.AuthService) Middleware {
	return requireKey(authSvc, func(key *domain.APIKey) error {
		if key.Role != domain.RoleAdmin {
			return domain.ErrPermissionDenied.WithDetails("admin role required")
		}
		return nil
	})
}

func requireKey(authSvc *service.AuthService, check func(*domain.APIKey) error) Middleware {
	return func(next http.Handler) http.Handler {
		if authSvc == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := APIKeyFromContext(r.Context())
			if key == nil {
				deny(w, r, domain.ErrAPIKeyMissing)
				return
			}
			if err := check(key); err != nil {
				deny(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// visitor is one client's bucket in RateLimit.
type visitor struct {
	limiter *rate.Limiter
	seen    atomic.Int64
}

// visitorIdleTTL is how long an unused client bucket is kept.
const visitorIdleTTL = 10 * time.Minute

// RateLimit applies a per-IP token bucket of rps requests per second.
// A burst below one defaults to rps.
func RateLimit(rps float64, burst int) Middleware {
	if burst < 1 {
		burst = max(1, int(rps))
	}
	visitors := cmap.New[*visitor]()
	var lastSweep atomic.Int64
	lastSweep.Store(time.Now().UnixNano())

	sweep := func(now time.Time) {
		last := lastSweep.Load()
		if now.UnixNano()-last < int64(time.Minute) || !lastSweep.CompareAndSwap(last, now.UnixNano()) {
			return
		}
		cutoff := now.Add(-visitorIdleTTL).UnixNano()
		var idle []string
		visitors.Range(func(ip string, v *visitor) bool {
			if v.seen.Load() < cutoff {
				idle = append(idle, ip)
			}
			return true
		})
		for _, ip := range idle {
			visitors.Pop(ip)
		}
	}

	allow := func(ip string) bool {
		now := time.Now()
		sweep(now)
		v, ok := visitors.Get(ip)
		if !ok {
			v = &visitor{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			if !visitors.SetIfAbsent(ip, v) {
				if existing, ok := visitors.Get(ip); ok {
					v = existing
				}
			}
		}
		v.seen.Store(now.UnixNano())
		return v.limiter.AllowN(now, 1)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !allow(clientIP(r)) {
				deny(w, r, domain.ErrRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Audit logs each request and records request metrics. metrics may be nil.
func Audit(log *slog.Logger, metrics *metric.Registry) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			info, ok := r.Context().Value(infoKey).(*requestInfo)
			if !ok {
				info = &requestInfo{start: time.Now()}
			}
			elapsed := time.Since(info.start)

			route := r.Pattern
			if route == "" {
				route = r.Method + " " + r.URL.Path
			}
			metrics.RecordRequest("http", route, strconv.Itoa(rec.status))
			metrics.ObserveRequestDuration("http", route, elapsed.Seconds())

			ctx := r.Context()
			if id := r.PathValue("id"); id != "" {
				ctx = logger.WithCanvasID(ctx, id)
			}
			attrs := []any{
				"method", r.Method,
				"route", route,
				"status", rec.status,
				"duration_ms", elapsed.Milliseconds(),
				"client_ip", clientIP(r),
			}
			if info.key != nil {
				attrs = append(attrs, "api_key_id", info.key.KeyID, "role", string(info.key.Role))
			}

			l := logger.For(ctx, log)
			switch {
			case rec.status >= 500:
				l.Error("request failed", attrs...)
			case rec.status >= 400:
				l.Warn("request rejected", attrs...)
			default:
				l.Info("request served", attrs...)
			}
		})
	}
}

// Recover turns a handler panic into a 500 envelope. It runs outside
// RequestID, so the ID is read from the shared header map.
func Recover(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if p == http.ErrAbortHandler {
					panic(p)
				}
				log.Error("panic recovered",
					"request_id", r.Header.Get(requestIDHeader),
					"panic", p,
					"path", r.URL.Path)
				writeError(w, r, http.StatusInternalServerError, domain.ErrInternalServer.Code, "internal server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// NetworkACL rejects clients outside allow. Invalid entries are logged
// and skipped; an empty list admits everyone.
func NetworkACL(allow []string, log *slog.Logger) Middleware {
	list, err := domain.ParseAllowList(allow)
	if err != nil && log != nil {
		log.Warn("network acl has invalid entries", "error", err)
	}
	return func(next http.Handler) http.Handler {
		if len(list) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !list.Contains(ip) {
				if log != nil {
					log.Warn("request denied by network acl", "client_ip", ip, "path", r.URL.Path)
				}
				deny(w, r, domain.ErrIPNotAllowed)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CORS adds Cross-Origin Resource Sharing headers for allowed origins and
// answers preflight requests. An empty list allows every origin.
func CORS(allowedOrigins []string) Middleware {
	anyOrigin := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			anyOrigin = true
		}
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (anyOrigin || allowed[origin]) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, If-Match, X-API-Key, X-API-Key-ID, X-Request-ID")
				h.Set("Access-Control-Expose-Headers", "ETag, X-Error-Code, X-Request-ID")
				h.Set("Access-Control-Max-Age", "86400")
				h.Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder captures the response status for Audit.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// credentials reads API key credentials from "Authorization: Bearer
// id:secret", "X-API-Key: id:secret", or the X-API-Key-ID and X-API-Key
// pair.
func credentials(r *http.Request) (id, secret string) {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		if id, secret, ok := strings.Cut(token, ":"); ok {
			return id, secret
		}
	}
	key := r.Header.Get("X-API-Key")
	if id, secret, ok := strings.Cut(key, ":"); ok {
		return id, secret
	}
	return r.Header.Get("X-API-Key-ID"), key
}

// clientIP returns the first X-Forwarded-For hop, then X-Real-IP, then
// the connection's remote host.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// deny rejects a request with the status its domain error code maps to.
func deny(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.GetErrorCode(err)
	if code == "" {
		code = domain.ErrInternalServer.Code
	}
	status := handler.StatusForCode(code)
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	writeError(w, r, status, code, err.Error())
}

// writeError writes the handler package's error envelope.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(handler.NewErrorResponse(r.Header.Get(requestIDHeader), code, message, nil))
}
