package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"fivesteps.org/internal/auth"
	"fivesteps.org/internal/community"
	"fivesteps.org/internal/obs"
)

const serviceName = "fivesteps-api"

// ReadyProbe reports whether dependencies can serve traffic.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the community service.
type API struct {
	router     chi.Router
	svc        *community.Service
	tokens     *auth.TokenIssuer
	readyProbe ReadyProbe
	version    string
	origins    []string
	proxies    []netip.Prefix
	loginRate  rate.Limit
	loginBurst int
}

type Option func(*API)

func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

func WithReadyProbe(rp ReadyProbe) Option {
	return func(a *API) { a.readyProbe = rp }
}

// WithFrontendOrigins lists the browser origins allowed to send the
// session cookie.
func WithFrontendOrigins(origins ...string) Option {
	return func(a *API) { a.origins = origins }
}

// WithTrustedProxies lists the reverse proxies whose X-Forwarded-For
// header identifies the client for rate limiting.
func WithTrustedProxies(prefixes ...netip.Prefix) Option {
	return func(a *API) { a.proxies = prefixes }
}

// WithLoginRateLimit bounds login attempts per client IP.
func WithLoginRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		if perSecond > 0 && burst > 0 {
			a.loginRate = rate.Limit(perSecond)
			a.loginBurst = burst
		}
	}
}

func New(svc *community.Service, tokens *auth.TokenIssuer, opts ...Option) *API {
	a := &API{
		svc:        svc,
		tokens:     tokens,
		version:    "dev",
		origins:    []string{"http://localhost:3000"},
		loginRate:  1,
		loginBurst: 5,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.router = a.routes()
	return a
}

func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID, Logging, Recover, SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           600,
	}))
	r.Use(obs.Instrument)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", a.authRoutes)
		r.Route("/members", a.memberRoutes)
		r.Route("/trustees", a.trusteeRoutes)
		r.Route("/admins", a.adminRoutes)
		r.Route("/users", a.userRoutes)
		r.Route("/trusts", a.trustRoutes)
		r.Route("/masjids", a.masjidRoutes)
	})
	return r
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"message": msg})
}
