package api

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tellmewhen/internal/event"
	"tellmewhen/internal/logging"
	"tellmewhen/internal/metrics"
	"tellmewhen/internal/version"
	"tellmewhen/internal/watcher"
)

// Options wires the HTTP surface to a running event system.
type Options struct {
	Bus            *event.Bus[event.Message]
	Metrics        *metrics.Registry
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
	// StreamBuffer bounds each websocket client's queue.
	StreamBuffer int
	// Watches reports the live watches. Nil reports none.
	Watches func() []watcher.WatchStatus
	// Monitors lists the enabled monitors. Nil reports none.
	Monitors func() []string
}

type statusResponse struct {
	Version  version.VersionInfo `json:"version"`
	Uptime   string              `json:"uptime"`
	Bus      busStatus           `json:"bus"`
	Watches  []watchStatus       `json:"watches"`
	Monitors []string            `json:"monitors"`
}

type busStatus struct {
	Published   int64 `json:"published"`
	Delivered   int64 `json:"delivered"`
	Panics      int64 `json:"panics"`
	Pending     int   `json:"pending"`
	Subscribers int   `json:"subscribers"`
}

type watchStatus struct {
	Path      string    `json:"path"`
	Recursive bool      `json:"recursive"`
	Since     time.Time `json:"since"`
	Published uint64    `json:"published"`
	Ignored   uint64    `json:"ignored"`
	Overflows uint64    `json:"overflows"`
	Pending   int       `json:"pending"`
	Retries   int       `json:"retries"`
}

// NewHandler returns the HTTP surface: the websocket event and log streams,
// Prometheus metrics and the JSON endpoints under /api.
func NewHandler(options Options) http.Handler {
	logger := logging.OrNop(options.Logger).Component("api")
	registry := options.Metrics
	if registry == nil {
		registry = metrics.Default
	}
	started := time.Now()
	rest := func(handler apiHandler) http.HandlerFunc {
		return restHandler(options.AuthToken, logger, handler)
	}

	router := chi.NewRouter()
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(func(next http.Handler) http.Handler {
		return loggingMiddleware(logger, next)
	})
	router.NotFound(rest(func(http.ResponseWriter, *http.Request) *apiError {
		return &apiError{Status: http.StatusNotFound, Message: "not found"}
	}))
	router.MethodNotAllowed(rest(func(w http.ResponseWriter, _ *http.Request) *apiError {
		w.Header().Set("Allow", http.MethodGet)
		return &apiError{Status: http.StatusMethodNotAllowed, Message: "method not allowed"}
	}))

	router.Get("/events", func(w http.ResponseWriter, r *http.Request) {
		serveWSBusStream(w, r, wsBusStreamConfig{
			Logger:         logger,
			AuthToken:      options.AuthToken,
			AllowedOrigins: options.AllowedOrigins,
			Bus:            options.Bus,
			BufferSize:     options.StreamBuffer,
		})
	})
	router.Get("/logs", func(w http.ResponseWriter, r *http.Request) {
		serveWSLogStream(w, r, wsLogStreamConfig{
			Logger:         logger,
			AuthToken:      options.AuthToken,
			AllowedOrigins: options.AllowedOrigins,
			Source:         logger,
		})
	})
	router.Method(http.MethodGet, "/metrics", registry.Handler())

	router.Route("/api", func(sub chi.Router) {
		sub.Get("/status", rest(func(w http.ResponseWriter, r *http.Request) *apiError {
			stats := options.Bus.Stats()
			response := statusResponse{
				Version: version.GetVersionInfo(),
				Uptime:  time.Since(started).Round(time.Second).String(),
				Bus: busStatus{
					Published:   stats.Published,
					Delivered:   stats.Delivered,
					Panics:      stats.Panics,
					Pending:     stats.Pending,
					Subscribers: stats.Subscribers,
				},
				Watches:  collectWatches(options.Watches),
				Monitors: []string{},
			}
			if options.Monitors != nil {
				response.Monitors = options.Monitors()
			}
			writeJSON(w, http.StatusOK, response)
			return nil
		}))
		sub.Get("/watches", rest(func(w http.ResponseWriter, r *http.Request) *apiError {
			writeJSON(w, http.StatusOK, collectWatches(options.Watches))
			return nil
		}))
		sub.Get("/events/recent", rest(func(w http.ResponseWriter, r *http.Request) *apiError {
			limit := 0
			if raw := r.URL.Query().Get("limit"); raw != "" {
				parsed, err := strconv.Atoi(raw)
				if err != nil || parsed < 0 {
					return &apiError{Status: http.StatusBadRequest, Message: "limit must be a non-negative integer", Code: codeInvalidLimit}
				}
				limit = parsed
			}
			recent := options.Bus.Recent(limit)
			payloads := make([]messagePayload, 0, len(recent))
			for _, message := range recent {
				payloads = append(payloads, newMessagePayload(message))
			}
			writeJSON(w, http.StatusOK, payloads)
			return nil
		}))
		sub.Get("/logs", rest(func(w http.ResponseWriter, r *http.Request) *apiError {
			minLevel, err := parseLevelQuery(r)
			if err != nil {
				return err
			}
			entries := logger.Buffer().AtLeast(minLevel)
			if entries == nil {
				entries = []logging.LogEntry{}
			}
			writeJSON(w, http.StatusOK, entries)
			return nil
		}))
	})
	return router
}

func collectWatches(source func() []watcher.WatchStatus) []watchStatus {
	watches := []watchStatus{}
	if source == nil {
		return watches
	}
	for _, status := range source() {
		watches = append(watches, watchStatus{
			Path:      status.Path,
			Recursive: status.Recursive,
			Since:     status.Since,
			Published: status.Published,
			Ignored:   status.Ignored,
			Overflows: status.Overflows,
			Pending:   status.Pending,
			Retries:   status.Retries,
		})
	}
	sort.Slice(watches, func(i, j int) bool { return watches[i].Path < watches[j].Path })
	return watches
}
