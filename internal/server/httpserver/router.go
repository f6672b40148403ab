package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/yndnr/retouch-go/internal/core/domain"
	"github.com/yndnr/retouch-go/internal/core/service"
	"github.com/yndnr/retouch-go/internal/server/httpserver/handler"
	"github.com/yndnr/retouch-go/internal/telemetry/metric"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	// CanvasService handles canvas operations.
	CanvasService *service.CanvasService

	// AuthService authenticates callers. Nil disables authentication.
	AuthService *service.AuthService

	// APIKeys backs the admin key listing.
	APIKeys service.APIKeyRepository

	// Backup streams store backups. Nil disables the backup endpoint.
	Backup handler.Backuper

	// Ready reports store readiness for GET /ready.
	Ready func(ctx context.Context) error

	// Status adds fields to the admin status response.
	Status func() map[string]any

	// Metrics is exposed at /metrics and records request metrics.
	Metrics *metric.Registry

	Logger *slog.Logger

	// AdminAllowList is the IP/CIDR allowlist for admin API (empty = no restriction).
	AdminAllowList []string

	// MetricsAuthRequired indicates if /metrics endpoint requires authentication.
	MetricsAuthRequired bool

	// CORSAllowedOrigins is the list of allowed CORS origins (empty = allow all).
	CORSAllowedOrigins []string

	// GlobalRateLimit is the per-IP rate limit in requests per second. Zero disables it.
	GlobalRateLimit int

	// EnableAudit enables request logging.
	EnableAudit bool
}

// DefaultRouterConfig returns default router configuration.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		MetricsAuthRequired: true,
		GlobalRateLimit:     1000,
		EnableAudit:         true,
	}
}

// NewRouter creates the HTTP router. Every route gets its own middleware
// chain: Recover, RequestID, CORS, RateLimit, Audit, then authentication
// and the route's permission check.
func NewRouter(cfg *RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := []handler.Option{}
	if cfg.APIKeys != nil {
		opts = append(opts, handler.WithAPIKeys(cfg.APIKeys))
	}
	if cfg.Backup != nil {
		opts = append(opts, handler.WithBackup(cfg.Backup))
	}
	if cfg.Ready != nil {
		opts = append(opts, handler.WithReadiness(cfg.Ready))
	}
	if cfg.Status != nil {
		opts = append(opts, handler.WithStatus(cfg.Status))
	}
	h := handler.New(cfg.CanvasService, logger, opts...)

	base := []Middleware{
		Recover(logger),
		RequestID(),
		CORS(cfg.CORSAllowedOrigins),
	}
	if cfg.GlobalRateLimit > 0 {
		base = append(base, RateLimit(float64(cfg.GlobalRateLimit), cfg.GlobalRateLimit))
	}
	if cfg.EnableAudit {
		base = append(base, Audit(logger, cfg.Metrics))
	}

	chain := func(next http.Handler, extra ...Middleware) http.Handler {
		mws := append(append([]Middleware{}, base...), extra...)
		return Chain(next, mws...)
	}
	authed := func(perm domain.Permission) http.Handler {
		return chain(h, Auth(cfg.AuthService), RequirePermission(cfg.AuthService, perm))
	}

	mux := http.NewServeMux()

	// Health endpoints - no authentication required
	mux.Handle("GET /health", chain(h))
	mux.Handle("GET /ready", chain(h))

	metricsHandler := metric.Handler()
	if cfg.Metrics != nil {
		metricsHandler = cfg.Metrics.Handler()
	}
	if cfg.MetricsAuthRequired {
		mux.Handle("GET /metrics", chain(metricsHandler,
			Auth(cfg.AuthService), RequirePermission(cfg.AuthService, domain.PermMetricsRead)))
	} else {
		mux.Handle("GET /metrics", chain(metricsHandler))
	}

	mux.Handle("GET /v1/canvases", authed(domain.PermCanvasList))
	mux.Handle("POST /v1/canvases", authed(domain.PermCanvasWrite))
	mux.Handle("GET /v1/canvases/{id}", authed(domain.PermCanvasRead))
	mux.Handle("PATCH /v1/canvases/{id}", authed(domain.PermCanvasWrite))
	mux.Handle("PUT /v1/canvases/{id}", authed(domain.PermCanvasWrite))
	mux.Handle("DELETE /v1/canvases/{id}", authed(domain.PermCanvasDelete))

	adminExtra := []Middleware{}
	if len(cfg.AdminAllowList) > 0 {
		adminExtra = append(adminExtra, NetworkACL(cfg.AdminAllowList, logger))
	}
	adminExtra = append(adminExtra, Auth(cfg.AuthService), RequireAdmin(cfg.AuthService))
	admin := chain(h, adminExtra...)

	mux.Handle("GET /admin/v1/status", admin)
	mux.Handle("GET /admin/v1/keys", admin)
	mux.Handle("GET /admin/v1/backup", admin)

	return mux
}
