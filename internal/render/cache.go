package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"weathermapng/core-go/internal/datasource"
	"weathermapng/core-go/internal/mapstore"
	"weathermapng/core-go/internal/wmap"
)

// Artifact is the on-disk render output for one map and variant.
type Artifact struct {
	ImagePath string
	ThumbPath string
	// Cached reports whether the files were served as-is instead of being
	// regenerated.
	Cached bool
}

// BandwidthResolver fetches live values for a link's datasource selector.
// Full renders use it; fast renders never place external calls.
type BandwidthResolver interface {
	ResolveCurrent(ctx context.Context, selector string) (datasource.CurrentValues, error)
}

// Manager serves rendered map images, regenerating them only when the config
// file is newer than the artifacts.
type Manager struct {
	store     mapstore.Store
	renderer  Renderer
	resolver  BandwidthResolver
	outputDir string
	log       zerolog.Logger
	now       func() time.Time

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewManager wires the cache. resolver may be nil, in which case full
// renders carry no live values.
func NewManager(store mapstore.Store, renderer Renderer, resolver BandwidthResolver, outputDir string, log zerolog.Logger) *Manager {
	return &Manager{
		store:     store,
		renderer:  renderer,
		resolver:  resolver,
		outputDir: outputDir,
		log:       log.With().Str("component", "render").Logger(),
		now:       time.Now,
		locks:     map[int64]*sync.Mutex{},
	}
}

func (m *Manager) lockFor(mapID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[mapID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[mapID] = l
	}
	return l
}

func (m *Manager) paths(mapID int64, variant Variant, highlight bool) (string, string) {
	stem := fmt.Sprintf("map-%d", mapID)
	if variant == VariantFast {
		stem += ".fast"
	}
	// Highlight renders carry transient selection state; they go to a side
	// path so the canonical artifacts stay a pure function of the config.
	if highlight {
		stem += ".sel"
	}
	return filepath.Join(m.outputDir, stem+".png"), filepath.Join(m.outputDir, stem+".thumb.png")
}

// fresh reports whether both artifacts exist and are at least as new as the
// config file. A missing thumbnail invalidates the pair.
func fresh(imagePath, thumbPath string, configMtime time.Time) bool {
	img, err := os.Stat(imagePath)
	if err != nil {
		return false
	}
	thumb, err := os.Stat(thumbPath)
	if err != nil {
		return false
	}
	return !img.ModTime().Before(configMtime) && !thumb.ModTime().Before(configMtime)
}

// Artifact returns the rendered image pair for a map, regenerating when the
// config changed or force is set. Selected marks items to highlight; any
// selection forces a regeneration into the side path since highlights are
// not cacheable.
func (m *Manager) Artifact(ctx context.Context, mapID int64, variant Variant, force bool, selected []string) (Artifact, error) {
	rec, err := m.store.GetMap(ctx, mapID)
	if err != nil {
		return Artifact{}, err
	}

	lock := m.lockFor(mapID)
	lock.Lock()
	defer lock.Unlock()

	cfgInfo, err := os.Stat(rec.ConfigPath)
	if err != nil {
		return Artifact{}, fmt.Errorf("config for map %d: %w", mapID, err)
	}
	highlight := len(selected) > 0
	imagePath, thumbPath := m.paths(mapID, variant, highlight)

	if !force && !highlight && fresh(imagePath, thumbPath, cfgInfo.ModTime()) {
		return Artifact{ImagePath: imagePath, ThumbPath: thumbPath, Cached: true}, nil
	}

	text, err := os.ReadFile(rec.ConfigPath)
	if err != nil {
		return Artifact{}, err
	}
	d, err := wmap.Decode(string(text))
	if err != nil {
		return Artifact{}, fmt.Errorf("decoding map %d: %w", mapID, err)
	}
	for _, name := range selected {
		if n, ok := d.Node(name); ok {
			n.Selected = true
		}
		if l, ok := d.Link(name); ok {
			l.Selected = true
		}
	}
	if variant == VariantFull {
		m.attachLiveValues(ctx, mapID, d)
	}

	if err := os.MkdirAll(m.outputDir, 0o755); err != nil {
		return Artifact{}, err
	}
	start := m.now()
	if err := m.renderer.Render(ctx, d, variant, imagePath, thumbPath); err != nil {
		return Artifact{}, fmt.Errorf("rendering map %d: %w", mapID, err)
	}
	m.log.Info().Int64("map_id", mapID).Str("variant", string(variant)).
		Dur("elapsed", m.now().Sub(start)).Msg("rendered")

	// Only a full render of the canonical artifacts counts as the map's
	// published render time.
	if variant == VariantFull && !highlight {
		if err := m.store.RecordLastRendered(ctx, mapID, m.now()); err != nil && !errors.Is(err, mapstore.ErrNotFound) {
			m.log.Warn().Err(err).Int64("map_id", mapID).Msg("recording render time failed")
		}
	}
	return Artifact{ImagePath: imagePath, ThumbPath: thumbPath, Cached: false}, nil
}

// attachLiveValues resolves each bound link's selector and stores the values
// on the transient link fields. Fetch failures degrade to "no data"; a dead
// monitoring backend must never block a render.
func (m *Manager) attachLiveValues(ctx context.Context, mapID int64, d *wmap.Document) {
	if m.resolver == nil {
		return
	}
	for _, l := range d.Links() {
		if l.Selector == "" {
			continue
		}
		cv, err := m.resolver.ResolveCurrent(ctx, l.Selector)
		if err != nil {
			m.log.Warn().Err(err).Int64("map_id", mapID).Str("link", l.Name).
				Msg("live value fetch failed")
			continue
		}
		in, out := cv.In, cv.Out
		l.CurrentIn = &in
		l.CurrentOut = &out
	}
}

// WriteImageMap emits the clickable-area HTML fragment next to the artifacts.
func (m *Manager) WriteImageMap(ctx context.Context, mapID int64) (string, error) {
	rec, err := m.store.GetMap(ctx, mapID)
	if err != nil {
		return "", err
	}
	text, err := os.ReadFile(rec.ConfigPath)
	if err != nil {
		return "", err
	}
	d, err := wmap.Decode(string(text))
	if err != nil {
		return "", err
	}
	html := wmap.ImageMap(d, fmt.Sprintf("weathermap_%d", mapID))
	path := filepath.Join(m.outputDir, fmt.Sprintf("map-%d.html", mapID))
	if err := os.MkdirAll(m.outputDir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		return "", err
	}
	return html, nil
}
