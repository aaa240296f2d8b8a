package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"weathermapng/core-go/internal/datasource"
	"weathermapng/core-go/internal/mapstore"
)

// NewSourceRegistry builds the shared client registry on top of the store.
// The same registry serves the picker endpoints and the render path.
func NewSourceRegistry(store mapstore.Store, ttl time.Duration) *datasource.Registry {
	return datasource.NewRegistry(func(ctx context.Context, id int64) (datasource.SourceConfig, error) {
		rec, err := store.GetSource(ctx, id)
		if err != nil {
			return datasource.SourceConfig{}, err
		}
		return datasource.SourceConfig{
			ID:       rec.ID,
			Name:     rec.Name,
			Type:     rec.Type,
			URL:      rec.URL,
			Username: rec.Username,
			Password: rec.Password,
			APIToken: rec.APIToken,
			Settings: rec.Settings,
		}, nil
	}, ttl)
}

func (h *Handler) clientFor(ctx context.Context, sourceID int64) (datasource.Client, mapstore.SourceRecord, error) {
	rec, err := h.store.GetSource(ctx, sourceID)
	if err != nil {
		return nil, mapstore.SourceRecord{}, err
	}
	client, err := h.registry.Client(ctx, sourceID)
	if err != nil {
		return nil, mapstore.SourceRecord{}, err
	}
	return client, rec, nil
}

func (h *Handler) sourceNotFound(w http.ResponseWriter, err error, id int64) bool {
	if errors.Is(err, mapstore.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "data source not found", map[string]any{"id": id})
		return true
	}
	return false
}

// upstreamError maps backend failures to 502 so callers can tell a broken
// monitoring server from a broken request.
func (h *Handler) upstreamError(w http.ResponseWriter, err error) bool {
	if errors.Is(err, datasource.ErrUpstream) {
		h.writeError(w, http.StatusBadGateway, "upstream_error", err.Error(), nil)
		return true
	}
	return false
}

type sourceCreate struct {
	Name     string            `json:"name"`
	Type     string            `json:"type,omitempty"`
	URL      string            `json:"url,omitempty"`
	Username string            `json:"username,omitempty"`
	Password string            `json:"password,omitempty"`
	APIToken string            `json:"apiToken,omitempty"`
	Settings map[string]string `json:"settings,omitempty"`
}

func (h *Handler) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.store.ListSources(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list sources failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list data sources", nil)
		return
	}
	if sources == nil {
		sources = []mapstore.SourceRecord{}
	}
	h.writeJSON(w, http.StatusOK, sources)
}

func (h *Handler) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var req sourceCreate
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "name is required", nil)
		return
	}
	rec, err := h.store.CreateSource(r.Context(), mapstore.SourceRecord{
		Name:     req.Name,
		Type:     req.Type,
		URL:      req.URL,
		Username: req.Username,
		Password: req.Password,
		APIToken: req.APIToken,
		Settings: req.Settings,
	})
	if err != nil {
		h.log.Error().Err(err).Str("name", req.Name).Msg("create source failed")
		h.writeError(w, http.StatusInternalServerError, "create_failed", "failed to create data source", nil)
		return
	}
	h.writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", err.Error(), nil)
		return
	}
	err = h.store.DeleteSource(r.Context(), id)
	if h.sourceNotFound(w, err, id) {
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("id", id).Msg("delete source failed")
		h.writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete data source", nil)
		return
	}
	h.registry.Drop(id)
	h.writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (h *Handler) handleTestSource(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", err.Error(), nil)
		return
	}
	client, rec, err := h.clientFor(r.Context(), id)
	if h.sourceNotFound(w, err, id) {
		return
	}
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_source", err.Error(), nil)
		return
	}

	start := time.Now()
	version, err := client.TestConnection(r.Context())
	h.metrics.ObserveDatasourceRequest(rec.Type, err, time.Since(start))
	if err != nil {
		// The test endpoint reports failure in-band so the settings UI
		// can show it without special-casing status codes.
		h.writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": version})
}

func (h *Handler) handleSourceHosts(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", err.Error(), nil)
		return
	}
	client, rec, err := h.clientFor(r.Context(), id)
	if h.sourceNotFound(w, err, id) {
		return
	}
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_source", err.Error(), nil)
		return
	}

	start := time.Now()
	hosts, err := client.Hosts(r.Context(), r.URL.Query().Get("search"))
	h.metrics.ObserveDatasourceRequest(rec.Type, err, time.Since(start))
	if h.upstreamError(w, err) {
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("source", id).Msg("host lookup failed")
		h.writeError(w, http.StatusInternalServerError, "lookup_failed", "failed to list hosts", nil)
		return
	}
	if hosts == nil {
		hosts = []datasource.Host{}
	}
	h.writeJSON(w, http.StatusOK, hosts)
}

func (h *Handler) handleSourceInterfaces(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", err.Error(), nil)
		return
	}
	hostID := chi.URLParam(r, "hostID")
	client, rec, err := h.clientFor(r.Context(), id)
	if h.sourceNotFound(w, err, id) {
		return
	}
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_source", err.Error(), nil)
		return
	}

	start := time.Now()
	opts, err := client.InterfaceOptions(r.Context(), hostID)
	h.metrics.ObserveDatasourceRequest(rec.Type, err, time.Since(start))
	if h.upstreamError(w, err) {
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("source", id).Str("host", hostID).Msg("interface lookup failed")
		h.writeError(w, http.StatusInternalServerError, "lookup_failed", "failed to list interfaces", nil)
		return
	}
	if opts == nil {
		opts = []datasource.InterfaceOption{}
	}
	h.writeJSON(w, http.StatusOK, opts)
}

func (h *Handler) selectorFromQuery(w http.ResponseWriter, r *http.Request) (datasource.Selector, bool) {
	sel, err := datasource.ParseSelector(r.URL.Query().Get("selector"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_selector", err.Error(), nil)
		return datasource.Selector{}, false
	}
	return sel, true
}

func (h *Handler) handleBandwidthCurrent(w http.ResponseWriter, r *http.Request) {
	sel, ok := h.selectorFromQuery(w, r)
	if !ok {
		return
	}
	client, rec, err := h.clientFor(r.Context(), sel.SourceID)
	if h.sourceNotFound(w, err, sel.SourceID) {
		return
	}
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_source", err.Error(), nil)
		return
	}

	start := time.Now()
	values, err := client.ResolveCurrent(r.Context(), sel)
	h.metrics.ObserveDatasourceRequest(rec.Type, err, time.Since(start))
	if h.upstreamError(w, err) {
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("selector", sel.String()).Msg("current value fetch failed")
		h.writeError(w, http.StatusInternalServerError, "fetch_failed", "failed to fetch values", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, values)
}

func (h *Handler) handleBandwidthSeries(w http.ResponseWriter, r *http.Request) {
	sel, ok := h.selectorFromQuery(w, r)
	if !ok {
		return
	}
	window := time.Hour
	if raw := r.URL.Query().Get("minutes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_window", "minutes must be a positive integer", nil)
			return
		}
		window = time.Duration(n) * time.Minute
	}
	client, rec, err := h.clientFor(r.Context(), sel.SourceID)
	if h.sourceNotFound(w, err, sel.SourceID) {
		return
	}
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_source", err.Error(), nil)
		return
	}

	start := time.Now()
	series, err := client.ResolveSeries(r.Context(), sel, window)
	h.metrics.ObserveDatasourceRequest(rec.Type, err, time.Since(start))
	if h.upstreamError(w, err) {
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("selector", sel.String()).Msg("series fetch failed")
		h.writeError(w, http.StatusInternalServerError, "fetch_failed", "failed to fetch series", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, series)
}
