package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"weathermapng/core-go/internal/datasource"
	"weathermapng/core-go/internal/db"
	"weathermapng/core-go/internal/editor"
	"weathermapng/core-go/internal/mapstore"
	"weathermapng/core-go/internal/metrics"
	"weathermapng/core-go/internal/render"
)

type Handler struct {
	log      zerolog.Logger
	pool     *db.Pool
	store    mapstore.Store
	service  *editor.Service
	renders  *render.Manager
	metrics  *metrics.Metrics
	registry *datasource.Registry
}

func NewHandler(log zerolog.Logger, pool *db.Pool, store mapstore.Store, service *editor.Service, renders *render.Manager, m *metrics.Metrics, registry *datasource.Registry) *Handler {
	return &Handler{
		log:      log,
		pool:     pool,
		store:    store,
		service:  service,
		renders:  renders,
		metrics:  m,
		registry: registry,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(h.accessLog)

	// Health
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyZ)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	// API
	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Route("/maps", func(r chi.Router) {
				r.Get("/", h.handleListMaps)
				r.Post("/", h.handleCreateMap)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.handleGetMap)
					r.Delete("/", h.handleDeleteMap)
					r.Post("/duplicate", h.handleDuplicateMap)
				})
			})

			r.Route("/datasources", func(r chi.Router) {
				r.Get("/", h.handleListSources)
				r.Post("/", h.handleCreateSource)
				r.Route("/{id}", func(r chi.Router) {
					r.Delete("/", h.handleDeleteSource)
					r.Post("/test", h.handleTestSource)
					r.Get("/hosts", h.handleSourceHosts)
					r.Get("/hosts/{hostID}/interfaces", h.handleSourceInterfaces)
				})
			})

			r.Route("/bandwidth", func(r chi.Router) {
				r.Get("/current", h.handleBandwidthCurrent)
				r.Get("/series", h.handleBandwidthSeries)
			})
		})
	})

	// Editor
	r.Route("/editor", func(r chi.Router) {
		r.Post("/action/{id}", h.handleEditorAction)
		r.Get("/config/{id}", h.handleGetConfig)
		r.Post("/config/{id}", h.handleSaveConfig)
		r.Get("/draw/{id}", h.handleDraw)
		r.Get("/area/{id}", h.handleArea)
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = r.URL.Path
		}
		h.metrics.ObserveHTTPRequest(r.Method, routePattern, ww.Status(), elapsed)

		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", elapsed.Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

// idParam parses the numeric {id} route parameter.
func idParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("id must be a positive integer")
	}
	return id, nil
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	// Without a database the in-memory store serves; readiness gates on
	// the database only when one is configured.
	if h.pool != nil {
		if err := h.pool.Ping(ctx); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not ready", map[string]any{"error": err.Error()})
			return
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (h *Handler) mapNotFound(w http.ResponseWriter, err error, id int64) bool {
	if errors.Is(err, mapstore.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "map not found", map[string]any{"id": id})
		return true
	}
	return false
}
