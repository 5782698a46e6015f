// Package api serves the wastewater readings, county summaries, forecasts
// and subscription endpoints over JSON HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jackdeye/LAHacks/internal/notify"
	"github.com/jackdeye/LAHacks/internal/observability"
	"github.com/jackdeye/LAHacks/internal/severity"
	"github.com/jackdeye/LAHacks/internal/store"
)

// DefaultNationalProxy is the state served for the national view. Every
// state carries the same national score.
const DefaultNationalProxy = "California"

// DefaultRegionProxies maps region codes to the state served for them.
// Every state in a region carries the same regional score.
func DefaultRegionProxies() map[string]string {
	return map[string]string{
		"S":  "Alabama",
		"W":  "California",
		"MW": "Illinois",
		"NE": "New York",
	}
}

// Notifier runs the alert job on demand.
type Notifier interface {
	Run(ctx context.Context) (notify.Summary, error)
}

// Options configures a Server.
type Options struct {
	NationalProxy  string
	RegionProxies  map[string]string
	CORSOrigins    []string
	RequestTimeout time.Duration
	// Gatherer backs GET /metrics. Default: prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// Server is the HTTP surface.
type Server struct {
	store    store.Store
	notifier Notifier
	metrics  *observability.Metrics
	scale    *severity.Scale
	validate *validator.Validate
	opts     Options
	router   chi.Router
}

// NewServer builds the router. notifier may be nil, in which case
// /force_email reports the job as unavailable.
func NewServer(st store.Store, notifier Notifier, m *observability.Metrics, opts Options) *Server {
	if opts.NationalProxy == "" {
		opts.NationalProxy = DefaultNationalProxy
	}
	if len(opts.RegionProxies) == 0 {
		opts.RegionProxies = DefaultRegionProxies()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		store:    st,
		notifier: notifier,
		metrics:  m,
		scale:    severity.DefaultScale(),
		validate: validator.New(),
		opts:     opts,
	}
	s.router = s.newRouter()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) newRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.opts.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, r.Method+" not allowed")
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))

	r.Group(s.mountRoutes)
	r.Route("/api", s.mountRoutes)
	return r
}

// mountRoutes registers the data routes. Each accepts any method and
// rejects the wrong one with a JSON 405 naming the verb it needs.
func (s *Server) mountRoutes(r chi.Router) {
	r.HandleFunc("/national", only(http.MethodGet, s.handleNational))
	r.HandleFunc("/regional", only(http.MethodGet, s.handleRegional))
	r.HandleFunc("/state", only(http.MethodGet, s.handleState))
	r.HandleFunc("/state/all", only(http.MethodGet, s.handleAllStates))
	r.HandleFunc("/county", only(http.MethodGet, s.handleCounty))
	r.HandleFunc("/predictions", only(http.MethodGet, s.handlePredictions))
	r.HandleFunc("/force_email", only(http.MethodGet, s.handleForceEmail))
	r.HandleFunc("/notifyme", only(http.MethodPost, s.handleNotifyMe))
}

func only(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			writeError(w, http.StatusMethodNotAllowed, method+" request required")
			return
		}
		h(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
