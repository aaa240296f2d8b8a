// Package editor applies editing actions to map documents. Every action runs
// as one decode, mutate, encode, write cycle under a per-map lock, so a saved
// config is always the output of a full encode and never a partial write.
package editor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"weathermapng/core-go/internal/mapstore"
	"weathermapng/core-go/internal/wmap"
)

// Request is one editing action. Unused fields are ignored per action; the
// action name decides which ones are read.
type Request struct {
	Action string `json:"action"`

	Name    string `json:"name,omitempty"`
	NewName string `json:"newName,omitempty"`

	X *int `json:"x,omitempty"`
	Y *int `json:"y,omitempty"`

	// Grid snaps incoming coordinates to a multiple of this many pixels.
	// Zero means no snapping.
	Grid int `json:"grid,omitempty"`

	NodeA string `json:"a,omitempty"`
	NodeB string `json:"b,omitempty"`

	Label   *string `json:"label,omitempty"`
	Icon    *string `json:"icon,omitempty"`
	InfoURL *string `json:"infourl,omitempty"`
	Hover   *string `json:"hover,omitempty"`

	Width        *float64 `json:"width,omitempty"`
	BandwidthIn  *string  `json:"bandwidthIn,omitempty"`
	BandwidthOut *string  `json:"bandwidthOut,omitempty"`
	// Symmetric applies BandwidthIn to both directions.
	Symmetric bool `json:"symmetric,omitempty"`

	CommentIn  *string `json:"commentIn,omitempty"`
	CommentOut *string `json:"commentOut,omitempty"`
	Target     *string `json:"target,omitempty"`
	Selector   *string `json:"datasource,omitempty"`

	Title      *string `json:"title,omitempty"`
	MapWidth   *int    `json:"mapWidth,omitempty"`
	MapHeight  *int    `json:"mapHeight,omitempty"`
	Background *string `json:"background,omitempty"`

	StampText *string `json:"stampText,omitempty"`
}

// Result is the action outcome. Domain failures (unknown node, bad input)
// report success=false with a message; they are not transport errors.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	X       *int   `json:"x,omitempty"`
	Y       *int   `json:"y,omitempty"`
}

func failure(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

func okResult() Result { return Result{Success: true} }

// backgroundExtensions lists allowed BACKGROUND image file extensions.
var backgroundExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
}

// Engine loads, mutates, and saves map documents.
type Engine struct {
	store mapstore.Store
	log   zerolog.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewEngine(store mapstore.Store, log zerolog.Logger) *Engine {
	return &Engine{
		store: store,
		log:   log.With().Str("component", "editor").Logger(),
		locks: map[int64]*sync.Mutex{},
	}
}

func (e *Engine) lockFor(mapID int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[mapID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[mapID] = l
	}
	return l
}

// Apply runs one action against a map. The returned error covers
// infrastructure failures only; anything the user can fix comes back inside
// the Result.
func (e *Engine) Apply(ctx context.Context, mapID int64, req Request) (Result, error) {
	rec, err := e.store.GetMap(ctx, mapID)
	if errors.Is(err, mapstore.ErrNotFound) {
		return failure("map %d not found", mapID), nil
	}
	if err != nil {
		return Result{}, err
	}

	lock := e.lockFor(mapID)
	lock.Lock()
	defer lock.Unlock()

	text, err := os.ReadFile(rec.ConfigPath)
	if err != nil {
		return Result{}, fmt.Errorf("reading %s: %w", rec.ConfigPath, err)
	}
	d, err := wmap.Decode(string(text))
	if err != nil {
		return Result{}, fmt.Errorf("decoding %s: %w", rec.ConfigPath, err)
	}

	res := e.applyAction(d, req)
	if !res.Success {
		e.log.Debug().Int64("map_id", mapID).Str("action", req.Action).Str("reason", res.Error).Msg("action rejected")
		return res, nil
	}

	if err := d.CheckIntegrity(); err != nil {
		return Result{}, fmt.Errorf("map %d integrity after %s: %w", mapID, req.Action, err)
	}
	if err := writeAtomic(rec.ConfigPath, wmap.Encode(d)); err != nil {
		return Result{}, err
	}

	if d.Title != rec.Title || d.Width != rec.Width || d.Height != rec.Height {
		rec.Title = d.Title
		rec.Width = d.Width
		rec.Height = d.Height
		if err := e.store.UpdateMap(ctx, rec); err != nil {
			e.log.Warn().Err(err).Int64("map_id", mapID).Msg("metadata update failed")
		}
	}

	e.log.Info().Int64("map_id", mapID).Str("action", req.Action).Msg("action applied")
	return res, nil
}

func (e *Engine) applyAction(d *wmap.Document, req Request) Result {
	switch req.Action {
	case "add_node":
		return addNode(d, req)
	case "move_node":
		return moveNode(d, req)
	case "delete_node":
		return deleteNode(d, req)
	case "clone_node":
		return cloneNode(d, req)
	case "set_node_properties":
		return setNodeProperties(d, req)
	case "add_link":
		return addLink(d, req)
	case "delete_link":
		return deleteLink(d, req)
	case "set_link_properties":
		return setLinkProperties(d, req)
	case "via_link":
		return viaLink(d, req)
	case "link_tidy":
		return linkTidy(d, req)
	case "set_map_properties":
		return setMapProperties(d, req)
	case "place_legend":
		return placeLegend(d, req)
	case "place_stamp":
		return placeStamp(d, req)
	default:
		return failure("unknown action %q", req.Action)
	}
}

func coords(req Request) (int, int, bool) {
	if req.X == nil || req.Y == nil {
		return 0, 0, false
	}
	return snap(*req.X, req.Grid), snap(*req.Y, req.Grid), true
}

// snap rounds v to the nearest multiple of grid.
func snap(v, grid int) int {
	if grid <= 0 {
		return v
	}
	return ((v + grid/2) / grid) * grid
}

// sanitizeName rejects config-breaking characters in node and link names.
func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

// sanitizeText strips markup delimiters from free-text fields.
func sanitizeText(s string) string {
	return strings.NewReplacer("<", "", ">", "").Replace(strings.TrimSpace(s))
}

func addNode(d *wmap.Document, req Request) Result {
	x, y, ok := coords(req)
	if !ok {
		return failure("add_node requires x and y")
	}
	n := d.AddNode(x, y)
	return Result{Success: true, ID: fmt.Sprintf("N%d", n.ID), Name: n.Name, X: &n.X, Y: &n.Y}
}

func moveNode(d *wmap.Document, req Request) Result {
	n, ok := d.Node(req.Name)
	if !ok {
		return failure("node %q not found", req.Name)
	}
	x, y, ok := coords(req)
	if !ok {
		return failure("move_node requires x and y")
	}
	n.X, n.Y, n.HasPos = x, y, true
	return Result{Success: true, ID: fmt.Sprintf("N%d", n.ID), Name: n.Name, X: &n.X, Y: &n.Y}
}

func deleteNode(d *wmap.Document, req Request) Result {
	if !d.DeleteNode(req.Name) {
		return failure("node %q not found", req.Name)
	}
	return okResult()
}

func cloneNode(d *wmap.Document, req Request) Result {
	clone, ok := d.CloneNode(req.Name)
	if !ok {
		return failure("node %q not found", req.Name)
	}
	return Result{Success: true, ID: fmt.Sprintf("N%d", clone.ID), Name: clone.Name, X: &clone.X, Y: &clone.Y}
}

func setNodeProperties(d *wmap.Document, req Request) Result {
	n, ok := d.Node(req.Name)
	if !ok {
		return failure("node %q not found", req.Name)
	}
	if req.NewName != "" {
		// A rename onto a taken name keeps the current name; the rest of
		// the edit still applies.
		d.RenameNode(req.Name, sanitizeName(req.NewName))
	}
	if req.Label != nil {
		v := sanitizeText(*req.Label)
		if v == "" {
			n.Label = nil
		} else {
			n.Label = &v
		}
	}
	if req.Icon != nil {
		v := strings.TrimSpace(*req.Icon)
		if v == "" {
			n.Icon = nil
		} else {
			n.Icon = &v
		}
	}
	if req.InfoURL != nil {
		v := strings.TrimSpace(*req.InfoURL)
		if v == "" {
			n.InfoURL = nil
		} else {
			n.InfoURL = &v
		}
	}
	if req.Hover != nil {
		n.Hover = strings.Fields(*req.Hover)
	}
	if x, y, ok := coords(req); ok {
		n.X, n.Y, n.HasPos = x, y, true
	}
	return Result{Success: true, ID: fmt.Sprintf("N%d", n.ID), Name: n.Name}
}

func addLink(d *wmap.Document, req Request) Result {
	l, err := d.AddLink(req.NodeA, req.NodeB)
	if err != nil {
		return failure("cannot link %q to %q", req.NodeA, req.NodeB)
	}
	return Result{Success: true, ID: fmt.Sprintf("L%d", l.ID), Name: l.Name}
}

func deleteLink(d *wmap.Document, req Request) Result {
	if !d.DeleteLink(req.Name) {
		return failure("link %q not found", req.Name)
	}
	return okResult()
}

func setLinkProperties(d *wmap.Document, req Request) Result {
	l, ok := d.Link(req.Name)
	if !ok {
		return failure("link %q not found", req.Name)
	}
	if req.Width != nil {
		if *req.Width <= 0 {
			l.Width = nil
		} else {
			w := *req.Width
			l.Width = &w
		}
	}
	// Invalid bandwidth strings leave the stored value unchanged; the rest
	// of the edit still succeeds.
	if req.BandwidthIn != nil {
		if v, ok := wmap.ParseBandwidth(*req.BandwidthIn); ok {
			l.BandwidthInCfg = strings.TrimSpace(*req.BandwidthIn)
			l.BandwidthIn = v
			if req.Symmetric {
				l.BandwidthOutCfg = l.BandwidthInCfg
				l.BandwidthOut = v
			}
		}
	}
	if req.BandwidthOut != nil && !req.Symmetric {
		if v, ok := wmap.ParseBandwidth(*req.BandwidthOut); ok {
			l.BandwidthOutCfg = strings.TrimSpace(*req.BandwidthOut)
			l.BandwidthOut = v
		}
	}
	if req.CommentIn != nil {
		v := sanitizeText(*req.CommentIn)
		if v == "" {
			l.CommentIn = nil
		} else {
			l.CommentIn = &v
		}
	}
	if req.CommentOut != nil {
		v := sanitizeText(*req.CommentOut)
		if v == "" {
			l.CommentOut = nil
		} else {
			l.CommentOut = &v
		}
	}
	if req.Target != nil {
		l.Targets = nil
		for _, tok := range strings.Fields(*req.Target) {
			l.Targets = append(l.Targets, wmap.ParseTarget(tok))
		}
	}
	if req.Selector != nil {
		l.Selector = strings.TrimSpace(*req.Selector)
	}
	return Result{Success: true, ID: fmt.Sprintf("L%d", l.ID), Name: l.Name}
}

// viaLink sets or clears the single routing waypoint of a link. Coordinates
// present set the waypoint; absent coordinates straighten the link.
func viaLink(d *wmap.Document, req Request) Result {
	l, ok := d.Link(req.Name)
	if !ok {
		return failure("link %q not found", req.Name)
	}
	if x, y, has := coords(req); has {
		l.Via = []wmap.Point{{X: x, Y: y}}
	} else {
		l.Via = nil
	}
	return Result{Success: true, ID: fmt.Sprintf("L%d", l.ID), Name: l.Name}
}

func linkTidy(d *wmap.Document, req Request) Result {
	if !d.TidyLink(req.Name) {
		return failure("link %q not found", req.Name)
	}
	return okResult()
}

func setMapProperties(d *wmap.Document, req Request) Result {
	if req.Title != nil {
		if t := sanitizeText(*req.Title); t != "" {
			d.Title = t
		}
	}
	if req.MapWidth != nil {
		if *req.MapWidth < 100 || *req.MapWidth > 10000 {
			return failure("width %d out of range", *req.MapWidth)
		}
		d.Width = *req.MapWidth
	}
	if req.MapHeight != nil {
		if *req.MapHeight < 100 || *req.MapHeight > 10000 {
			return failure("height %d out of range", *req.MapHeight)
		}
		d.Height = *req.MapHeight
	}
	if req.Background != nil {
		bg := strings.TrimSpace(*req.Background)
		if bg == "" {
			d.Background = ""
		} else {
			if !backgroundExtensions[strings.ToLower(filepath.Ext(bg))] {
				return failure("background %q: unsupported image type", bg)
			}
			d.Background = bg
		}
	}
	return okResult()
}

func placeLegend(d *wmap.Document, req Request) Result {
	x, y, ok := coords(req)
	if !ok {
		return failure("place_legend requires x and y")
	}
	name := req.Name
	if name == "" {
		name = wmap.DefaultTemplate
	}
	d.KeyPos[name] = wmap.Point{X: x, Y: y}
	return okResult()
}

func placeStamp(d *wmap.Document, req Request) Result {
	x, y, ok := coords(req)
	if !ok {
		return failure("place_stamp requires x and y")
	}
	text := ""
	if d.Stamp != nil {
		text = d.Stamp.Text
	}
	if req.StampText != nil {
		text = sanitizeText(*req.StampText)
	}
	d.Stamp = &wmap.Stamp{X: x, Y: y, Text: text}
	return okResult()
}

// Load returns the decoded document for a map, used by draw and area
// handlers. Selected marks transient highlight state on named items.
func (e *Engine) Load(ctx context.Context, mapID int64, selected []string) (*wmap.Document, error) {
	rec, err := e.store.GetMap(ctx, mapID)
	if err != nil {
		return nil, err
	}
	text, err := os.ReadFile(rec.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rec.ConfigPath, err)
	}
	d, err := wmap.Decode(string(text))
	if err != nil {
		return nil, err
	}
	for _, name := range selected {
		if n, ok := d.Node(name); ok {
			n.Selected = true
		}
		if l, ok := d.Link(name); ok {
			l.Selected = true
		}
	}
	return d, nil
}
