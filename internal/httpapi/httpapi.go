// Package httpapi is the thin HTTP collaborator layer named in spec.md
// §6.6: it decodes a command envelope, authenticates the caller via
// internal/authctx, applies the per-user play-ingress rate limiter, and
// forwards to internal/dispatcher. It contributes no core design of its
// own — command semantics live entirely in internal/aggregate and
// internal/dispatcher. Grounded on the reference's internal/api
// chi_router.go/chi_middleware.go wiring style, narrowed from ~180 REST
// endpoints to one command-dispatch surface plus health/metrics.
package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/podcloud/balados-sync/internal/authctx"
	"github.com/podcloud/balados-sync/internal/dispatcher"
	"github.com/podcloud/balados-sync/internal/logging"
	"github.com/podcloud/balados-sync/internal/middleware"
	"github.com/podcloud/balados-sync/internal/ratelimit"
)

// perfMonitor tracks per-endpoint latency percentiles for ops visibility,
// separate from the Prometheus histograms scraped at /metrics.
var perfMonitor = middleware.NewPerformanceMonitor(1000)

// handlerFuncMiddleware adapts a middleware.XxxHandlerFunc-shaped
// function (internal/middleware's compression and per-request metrics
// instrumentation, both written against http.HandlerFunc) onto chi's
// func(http.Handler) http.Handler middleware signature.
func handlerFuncMiddleware(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

// Config tunes the router.
type Config struct {
	CORSOrigins  []string
	RateLimitRPS float64
}

// Handler wires a Dispatcher and a rate limiter behind chi routes.
type Handler struct {
	dispatcher *dispatcher.Dispatcher
	limiter    *ratelimit.Limiter
}

// NewHandler constructs a Handler. limiter may be nil, in which case the
// play-ingress rate limit is not enforced (tests, or a deployment that
// gates ingress elsewhere).
func NewHandler(d *dispatcher.Dispatcher, limiter *ratelimit.Limiter) *Handler {
	return &Handler{dispatcher: d, limiter: limiter}
}

// NewRouter assembles the full chi.Router: global middleware, health,
// metrics, the single authenticated command-dispatch endpoint, and
// (when wsHandler is non-nil) the WebSocket upgrade endpoint at /ws.
// wsHandler authenticates its own connections (a bearer token in the
// Authorization header doesn't survive a browser WebSocket handshake),
// so it is mounted outside the /v1 authctx.Middleware group.
func NewRouter(h *Handler, verifier *authctx.Verifier, cfg Config, wsHandler http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(handlerFuncMiddleware(middleware.RequestID))
	r.Use(handlerFuncMiddleware(middleware.PrometheusMetrics))
	r.Use(handlerFuncMiddleware(middleware.Compression))
	r.Use(perfMonitor.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 50
	}
	r.Use(httprate.LimitByIP(int(rps), time.Second))

	r.Get("/healthz", h.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	if wsHandler != nil {
		r.Handle("/ws", wsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(authctx.Middleware(verifier))
		r.Post("/commands", h.handleCommand)
	})

	return r
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleCommand decodes a command envelope, gates RecordPlay/UpdatePosition
// through the per-user rate limiter (spec §4.6), and dispatches through
// the Dispatcher, translating the outcome to a JSON response.
func (h *Handler) handleCommand(w http.ResponseWriter, r *http.Request) {
	userID, ok := authctx.UserIDFromContext(r.Context())
	if !ok || userID == "" {
		writeError(w, http.StatusUnauthorized, "missing_user")
		return
	}

	var env envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_command")
		return
	}

	cmd, err := decodeCommand(userID, env)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_command")
		return
	}

	if needsRateLimit(env.Type) && h.limiter != nil && !h.limiter.Check(userID) {
		writeError(w, http.StatusTooManyRequests, "rate_limited")
		return
	}

	info := dispatcher.EventInfo{
		DeviceID:   env.EventInfo.DeviceID,
		DeviceName: env.EventInfo.DeviceName,
		Privacy:    env.EventInfo.Privacy,
	}
	result, err := h.dispatcher.Dispatch(r.Context(), cmd, info)
	if err != nil {
		code := "unavailable"
		var dispErr *dispatcher.Error
		if errors.As(err, &dispErr) {
			code = string(dispErr.Code)
		}
		logging.Warn().Err(err).Str("command", env.Type).Msg("httpapi: dispatch rejected")
		writeError(w, statusForCode(code), code)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"version": result.NewVersion,
	})
}

func needsRateLimit(kind string) bool {
	return kind == "RecordPlay" || kind == "UpdatePosition"
}

func statusForCode(code string) int {
	switch code {
	case "invalid_command", "name_required", "invalid_position":
		return http.StatusBadRequest
	case "rate_limited":
		return http.StatusTooManyRequests
	case "version_conflict":
		return http.StatusConflict
	case "timeout", "unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + code + `"}`))
}
