package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"weathermapng/core-go/internal/editor"
	"weathermapng/core-go/internal/mapstore"
	"weathermapng/core-go/internal/render"
)

type mapCreate struct {
	Name   string `json:"name"`
	Title  string `json:"title,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

type mapDuplicate struct {
	Name string `json:"name,omitempty"`
}

func (h *Handler) handleListMaps(w http.ResponseWriter, r *http.Request) {
	maps, err := h.store.ListMaps(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list maps failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list maps", nil)
		return
	}
	if maps == nil {
		maps = []mapstore.MapRecord{}
	}
	h.writeJSON(w, http.StatusOK, maps)
}

func (h *Handler) handleCreateMap(w http.ResponseWriter, r *http.Request) {
	var req mapCreate
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "name is required", nil)
		return
	}

	rec, err := h.service.CreateMap(r.Context(), req.Name, req.Title, req.Width, req.Height)
	if err != nil {
		h.log.Error().Err(err).Str("name", req.Name).Msg("create map failed")
		h.writeError(w, http.StatusInternalServerError, "create_failed", "failed to create map", nil)
		return
	}
	h.writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleGetMap(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", err.Error(), nil)
		return
	}
	rec, err := h.store.GetMap(r.Context(), id)
	if h.mapNotFound(w, err, id) {
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("id", id).Msg("get map failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to fetch map", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleDeleteMap(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", err.Error(), nil)
		return
	}
	err = h.service.DeleteMap(r.Context(), id)
	if h.mapNotFound(w, err, id) {
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("id", id).Msg("delete map failed")
		h.writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete map", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (h *Handler) handleDuplicateMap(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", err.Error(), nil)
		return
	}
	var req mapDuplicate
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	rec, err := h.service.DuplicateMap(r.Context(), id, req.Name)
	if h.mapNotFound(w, err, id) {
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("id", id).Msg("duplicate map failed")
		h.writeError(w, http.StatusInternalServerError, "duplicate_failed", "failed to duplicate map", nil)
		return
	}
	h.writeJSON(w, http.StatusCreated, rec)
}

// decodeEditorRequest accepts either a JSON body or classic form fields.
// Form keys match the JSON contract one for one.
func decodeEditorRequest(r *http.Request) (editor.Request, error) {
	var req editor.Request
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		if err := decodeJSONStrict(r, &req); err != nil {
			return editor.Request{}, errors.New("invalid json body")
		}
		return req, nil
	}

	if err := r.ParseForm(); err != nil {
		return editor.Request{}, errors.New("invalid form body")
	}
	f := r.PostForm
	str := func(key string) *string {
		if !f.Has(key) {
			return nil
		}
		v := f.Get(key)
		return &v
	}
	num := func(key string) (*int, error) {
		if !f.Has(key) {
			return nil, nil
		}
		n, err := strconv.Atoi(f.Get(key))
		if err != nil {
			return nil, fmt.Errorf("%s must be an integer", key)
		}
		return &n, nil
	}

	req.Action = f.Get("action")
	req.Name = f.Get("name")
	req.NewName = f.Get("newName")
	req.NodeA = f.Get("a")
	req.NodeB = f.Get("b")
	req.Symmetric = f.Get("symmetric") == "1" || f.Get("symmetric") == "true"

	var err error
	if req.X, err = num("x"); err != nil {
		return editor.Request{}, err
	}
	if req.Y, err = num("y"); err != nil {
		return editor.Request{}, err
	}
	if g, err := num("grid"); err != nil {
		return editor.Request{}, err
	} else if g != nil {
		req.Grid = *g
	}
	if req.MapWidth, err = num("mapWidth"); err != nil {
		return editor.Request{}, err
	}
	if req.MapHeight, err = num("mapHeight"); err != nil {
		return editor.Request{}, err
	}
	if f.Has("width") {
		w, err := strconv.ParseFloat(f.Get("width"), 64)
		if err != nil {
			return editor.Request{}, errors.New("width must be a number")
		}
		req.Width = &w
	}

	req.Label = str("label")
	req.Icon = str("icon")
	req.InfoURL = str("infourl")
	req.Hover = str("hover")
	req.BandwidthIn = str("bandwidthIn")
	req.BandwidthOut = str("bandwidthOut")
	req.CommentIn = str("commentIn")
	req.CommentOut = str("commentOut")
	req.Target = str("target")
	req.Selector = str("datasource")
	req.Title = str("title")
	req.Background = str("background")
	req.StampText = str("stampText")
	return req, nil
}

// handleEditorAction applies one editing action. Editor responses are always
// HTTP 200; the success flag inside the body carries the outcome, which is
// what the editor frontend keys on.
func (h *Handler) handleEditorAction(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.writeJSON(w, http.StatusOK, editor.Result{Error: err.Error()})
		return
	}
	req, err := decodeEditorRequest(r)
	if err != nil {
		h.writeJSON(w, http.StatusOK, editor.Result{Error: err.Error()})
		return
	}

	res, err := h.service.Engine().Apply(r.Context(), id, req)
	if err != nil {
		h.log.Error().Err(err).Int64("map_id", id).Str("action", req.Action).Msg("editor action failed")
		res = editor.Result{Error: "internal error"}
	}
	h.metrics.ObserveEditorAction(req.Action, res.Success)
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", err.Error(), nil)
		return
	}
	text, err := h.service.Engine().RawConfig(r.Context(), id)
	if h.mapNotFound(w, err, id) {
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("id", id).Msg("read config failed")
		h.writeError(w, http.StatusInternalServerError, "read_failed", "failed to read config", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"config": text})
}

type configSave struct {
	Config string `json:"config"`
}

func (h *Handler) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", err.Error(), nil)
		return
	}
	var req configSave
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	err = h.service.Engine().SaveRawConfig(r.Context(), id, req.Config)
	if h.mapNotFound(w, err, id) {
		return
	}
	if err != nil {
		// Rejected configs are a user problem, not a server one.
		h.writeError(w, http.StatusUnprocessableEntity, "config_rejected", err.Error(), nil)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"saved": true})
}

// parseSelected splits the editor's highlight parameter. Tokens are pipe
// separated and may carry a NODE: or LINK: prefix; only the name matters
// here since node and link names share the marking path.
func parseSelected(raw string) []string {
	if raw == "" {
		return nil
	}
	var names []string
	for _, tok := range strings.Split(raw, "|") {
		tok = strings.TrimPrefix(tok, "NODE:")
		tok = strings.TrimPrefix(tok, "LINK:")
		if tok != "" {
			names = append(names, tok)
		}
	}
	return names
}

// handleDraw serves the rendered map image. Query parameters: variant
// (full|fast), force=1, thumb=1, selected=NODE:a|LINK:b for transient
// highlights.
func (h *Handler) handleDraw(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", err.Error(), nil)
		return
	}
	variant, err := render.ParseVariant(r.URL.Query().Get("variant"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_variant", err.Error(), nil)
		return
	}
	force := r.URL.Query().Get("force") == "1"
	selected := parseSelected(r.URL.Query().Get("selected"))

	start := time.Now()
	art, err := h.renders.Artifact(r.Context(), id, variant, force, selected)
	if h.mapNotFound(w, err, id) {
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("id", id).Msg("render failed")
		h.writeError(w, http.StatusInternalServerError, "render_failed", "failed to render map", nil)
		return
	}
	h.metrics.ObserveRender(string(variant), art.Cached, time.Since(start))

	path := art.ImagePath
	if r.URL.Query().Get("thumb") == "1" {
		path = art.ThumbPath
	}
	w.Header().Set("Content-Type", "image/png")
	http.ServeFile(w, r, path)
}

// handleArea serves the clickable-area HTML fragment for the rendered image.
func (h *Handler) handleArea(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", err.Error(), nil)
		return
	}
	html, err := h.renders.WriteImageMap(r.Context(), id)
	if h.mapNotFound(w, err, id) {
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("id", id).Msg("imagemap failed")
		h.writeError(w, http.StatusInternalServerError, "imagemap_failed", "failed to build image map", nil)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(html))
}
