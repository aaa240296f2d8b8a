package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"weathermapng/core-go/internal/datasource"
	"weathermapng/core-go/internal/mapstore"
	"weathermapng/core-go/internal/wmap"
)

const renderConfig = `WIDTH 200
HEIGHT 100
TITLE Render Test

NODE a
    POSITION 40 50
    SET id 1

NODE b
    POSITION 160 50
    SET id 2

LINK a-b
    NODES a b
    SET id 3
`

// countingRenderer wraps the real renderer and counts invocations.
type countingRenderer struct {
	inner Renderer
	calls int
}

func (r *countingRenderer) Render(ctx context.Context, d *wmap.Document, variant Variant, imagePath, thumbPath string) error {
	r.calls++
	return r.inner.Render(ctx, d, variant, imagePath, thumbPath)
}

type renderFixture struct {
	manager  *Manager
	renderer *countingRenderer
	store    *mapstore.MemStore
	mapID    int64
	path     string
}

func newRenderFixture(t *testing.T) *renderFixture {
	t.Helper()
	configDir := t.TempDir()
	outputDir := t.TempDir()
	path := filepath.Join(configDir, "render.conf")
	if err := os.WriteFile(path, []byte(renderConfig), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	store := mapstore.NewMemStore()
	rec, err := store.CreateMap(context.Background(), mapstore.MapRecord{
		Name: "render", Title: "Render Test", ConfigPath: path, Width: 200, Height: 100,
	})
	if err != nil {
		t.Fatalf("create map: %v", err)
	}
	r := &countingRenderer{inner: RasterRenderer{}}
	return &renderFixture{
		manager:  NewManager(store, r, nil, outputDir, zerolog.Nop()),
		renderer: r,
		store:    store,
		mapID:    rec.ID,
		path:     path,
	}
}

func TestArtifactRendersOnceWhileFresh(t *testing.T) {
	f := newRenderFixture(t)
	ctx := context.Background()

	first, err := f.manager.Artifact(ctx, f.mapID, VariantFull, false, nil)
	if err != nil {
		t.Fatalf("first Artifact: %v", err)
	}
	if first.Cached {
		t.Fatal("first render reported cached")
	}
	for _, p := range []string{first.ImagePath, first.ThumbPath} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("artifact %s missing: %v", p, err)
		}
	}

	second, err := f.manager.Artifact(ctx, f.mapID, VariantFull, false, nil)
	if err != nil {
		t.Fatalf("second Artifact: %v", err)
	}
	if !second.Cached {
		t.Fatal("fresh artifacts re-rendered")
	}
	if f.renderer.calls != 1 {
		t.Fatalf("renderer called %d times", f.renderer.calls)
	}
}

func TestArtifactRegeneratesWhenConfigNewer(t *testing.T) {
	f := newRenderFixture(t)
	ctx := context.Background()
	if _, err := f.manager.Artifact(ctx, f.mapID, VariantFull, false, nil); err != nil {
		t.Fatalf("Artifact: %v", err)
	}

	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(f.path, future, future); err != nil {
		t.Fatalf("touch config: %v", err)
	}
	res, err := f.manager.Artifact(ctx, f.mapID, VariantFull, false, nil)
	if err != nil {
		t.Fatalf("Artifact after touch: %v", err)
	}
	if res.Cached {
		t.Fatal("stale artifact served")
	}
	if f.renderer.calls != 2 {
		t.Fatalf("renderer called %d times", f.renderer.calls)
	}
}

func TestArtifactMissingThumbInvalidates(t *testing.T) {
	f := newRenderFixture(t)
	ctx := context.Background()
	first, err := f.manager.Artifact(ctx, f.mapID, VariantFull, false, nil)
	if err != nil {
		t.Fatalf("Artifact: %v", err)
	}
	if err := os.Remove(first.ThumbPath); err != nil {
		t.Fatalf("remove thumb: %v", err)
	}
	res, err := f.manager.Artifact(ctx, f.mapID, VariantFull, false, nil)
	if err != nil {
		t.Fatalf("Artifact: %v", err)
	}
	if res.Cached {
		t.Fatal("pair with missing thumbnail treated as fresh")
	}
}

func TestArtifactForceBypassesCache(t *testing.T) {
	f := newRenderFixture(t)
	ctx := context.Background()
	if _, err := f.manager.Artifact(ctx, f.mapID, VariantFull, false, nil); err != nil {
		t.Fatalf("Artifact: %v", err)
	}
	res, err := f.manager.Artifact(ctx, f.mapID, VariantFull, true, nil)
	if err != nil {
		t.Fatalf("forced Artifact: %v", err)
	}
	if res.Cached {
		t.Fatal("force served from cache")
	}
}

func TestVariantsUseSeparateArtifacts(t *testing.T) {
	f := newRenderFixture(t)
	ctx := context.Background()
	full, err := f.manager.Artifact(ctx, f.mapID, VariantFull, false, nil)
	if err != nil {
		t.Fatalf("full: %v", err)
	}
	fast, err := f.manager.Artifact(ctx, f.mapID, VariantFast, false, nil)
	if err != nil {
		t.Fatalf("fast: %v", err)
	}
	if full.ImagePath == fast.ImagePath {
		t.Fatalf("variants share %q", full.ImagePath)
	}
}

func TestOnlyFullRenderRecordsTime(t *testing.T) {
	f := newRenderFixture(t)
	ctx := context.Background()

	if _, err := f.manager.Artifact(ctx, f.mapID, VariantFast, false, nil); err != nil {
		t.Fatalf("fast: %v", err)
	}
	rec, _ := f.store.GetMap(ctx, f.mapID)
	if rec.LastRenderedAt != nil {
		t.Fatal("fast render recorded as published")
	}

	if _, err := f.manager.Artifact(ctx, f.mapID, VariantFull, false, nil); err != nil {
		t.Fatalf("full: %v", err)
	}
	rec, _ = f.store.GetMap(ctx, f.mapID)
	if rec.LastRenderedAt == nil {
		t.Fatal("full render not recorded")
	}
}

func TestSelectionForcesRegeneration(t *testing.T) {
	f := newRenderFixture(t)
	ctx := context.Background()
	if _, err := f.manager.Artifact(ctx, f.mapID, VariantFull, false, nil); err != nil {
		t.Fatalf("Artifact: %v", err)
	}
	res, err := f.manager.Artifact(ctx, f.mapID, VariantFull, false, []string{"a"})
	if err != nil {
		t.Fatalf("selected Artifact: %v", err)
	}
	if res.Cached {
		t.Fatal("highlighted render served from cache")
	}
}

// stampRenderer writes a marker into the image file recording whether any
// item carried the transient selection flag.
type stampRenderer struct{}

func (stampRenderer) Render(ctx context.Context, d *wmap.Document, variant Variant, imagePath, thumbPath string) error {
	content := "plain"
	for _, n := range d.Nodes() {
		if n.Selected {
			content = "highlighted"
		}
	}
	if err := os.WriteFile(imagePath, []byte(content), 0o644); err != nil {
		return err
	}
	return os.WriteFile(thumbPath, []byte(content), 0o644)
}

func TestSelectedRenderUsesSidePath(t *testing.T) {
	f := newRenderFixture(t)
	f.manager.renderer = stampRenderer{}
	ctx := context.Background()

	plain, err := f.manager.Artifact(ctx, f.mapID, VariantFull, false, nil)
	if err != nil {
		t.Fatalf("plain Artifact: %v", err)
	}
	sel, err := f.manager.Artifact(ctx, f.mapID, VariantFull, false, []string{"a"})
	if err != nil {
		t.Fatalf("selected Artifact: %v", err)
	}
	if sel.ImagePath == plain.ImagePath {
		t.Fatalf("highlighted render wrote the canonical artifact %q", plain.ImagePath)
	}

	again, err := f.manager.Artifact(ctx, f.mapID, VariantFull, false, nil)
	if err != nil {
		t.Fatalf("plain Artifact after highlight: %v", err)
	}
	if !again.Cached {
		t.Fatal("canonical artifact no longer fresh after a highlighted render")
	}
	got, err := os.ReadFile(again.ImagePath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(got) != "plain" {
		t.Fatalf("canonical artifact content = %q, want the un-highlighted render", got)
	}
}

func TestSelectedRenderDoesNotRecordTime(t *testing.T) {
	f := newRenderFixture(t)
	ctx := context.Background()
	if _, err := f.manager.Artifact(ctx, f.mapID, VariantFull, false, []string{"a"}); err != nil {
		t.Fatalf("selected Artifact: %v", err)
	}
	rec, _ := f.store.GetMap(ctx, f.mapID)
	if rec.LastRenderedAt != nil {
		t.Fatal("highlighted render recorded as published")
	}
}

// captureResolver records which selectors were resolved.
type captureResolver struct {
	selectors []string
	err       error
}

func (r *captureResolver) ResolveCurrent(ctx context.Context, selector string) (datasource.CurrentValues, error) {
	r.selectors = append(r.selectors, selector)
	if r.err != nil {
		return datasource.CurrentValues{}, r.err
	}
	return datasource.CurrentValues{In: 125000, Out: 250000}, nil
}

// valueCapture snapshots the live values a renderer sees on the bound link.
type valueCapture struct {
	in, out *float64
}

func (c *valueCapture) Render(ctx context.Context, d *wmap.Document, variant Variant, imagePath, thumbPath string) error {
	for _, l := range d.Links() {
		if l.CurrentIn != nil {
			c.in, c.out = l.CurrentIn, l.CurrentOut
		}
	}
	if err := os.WriteFile(imagePath, []byte("x"), 0o644); err != nil {
		return err
	}
	return os.WriteFile(thumbPath, []byte("x"), 0o644)
}

func newBoundFixture(t *testing.T, resolver BandwidthResolver, renderer Renderer) (*Manager, int64) {
	t.Helper()
	configDir := t.TempDir()
	path := filepath.Join(configDir, "bound.conf")
	config := renderConfig + "    SET datasource 7|core1|core1:eth0:in|core1:eth0:out\n"
	if err := os.WriteFile(path, []byte(config), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	store := mapstore.NewMemStore()
	rec, err := store.CreateMap(context.Background(), mapstore.MapRecord{
		Name: "bound", Title: "Bound", ConfigPath: path, Width: 200, Height: 100,
	})
	if err != nil {
		t.Fatalf("create map: %v", err)
	}
	return NewManager(store, renderer, resolver, t.TempDir(), zerolog.Nop()), rec.ID
}

func TestFullRenderResolvesBoundLinks(t *testing.T) {
	resolver := &captureResolver{}
	capture := &valueCapture{}
	m, mapID := newBoundFixture(t, resolver, capture)

	if _, err := m.Artifact(context.Background(), mapID, VariantFull, false, nil); err != nil {
		t.Fatalf("full Artifact: %v", err)
	}
	if len(resolver.selectors) != 1 || resolver.selectors[0] != "7|core1|core1:eth0:in|core1:eth0:out" {
		t.Fatalf("resolved selectors = %v", resolver.selectors)
	}
	if capture.in == nil || *capture.in != 125000 || *capture.out != 250000 {
		t.Fatalf("renderer saw in=%v out=%v", capture.in, capture.out)
	}
}

func TestFastRenderSkipsResolver(t *testing.T) {
	resolver := &captureResolver{}
	m, mapID := newBoundFixture(t, resolver, &valueCapture{})

	if _, err := m.Artifact(context.Background(), mapID, VariantFast, false, nil); err != nil {
		t.Fatalf("fast Artifact: %v", err)
	}
	if len(resolver.selectors) != 0 {
		t.Fatalf("fast render placed %d external calls", len(resolver.selectors))
	}
}

func TestResolverFailureDegradesToNoData(t *testing.T) {
	resolver := &captureResolver{err: errors.New("backend down")}
	capture := &valueCapture{}
	m, mapID := newBoundFixture(t, resolver, capture)

	res, err := m.Artifact(context.Background(), mapID, VariantFull, false, nil)
	if err != nil {
		t.Fatalf("Artifact with failing resolver: %v", err)
	}
	if res.Cached {
		t.Fatal("unexpected cache hit")
	}
	if capture.in != nil {
		t.Fatal("failed fetch still attached values")
	}
}

func TestWriteImageMap(t *testing.T) {
	f := newRenderFixture(t)
	html, err := f.manager.WriteImageMap(context.Background(), f.mapID)
	if err != nil {
		t.Fatalf("WriteImageMap: %v", err)
	}
	if html == "" || html[:5] != "<map " {
		t.Fatalf("html = %q", html)
	}
}

func TestParseVariant(t *testing.T) {
	if v, err := ParseVariant(""); err != nil || v != VariantFull {
		t.Fatalf("empty = %v, %v", v, err)
	}
	if v, err := ParseVariant("fast"); err != nil || v != VariantFast {
		t.Fatalf("fast = %v, %v", v, err)
	}
	if _, err := ParseVariant("shiny"); err == nil {
		t.Fatal("bad variant accepted")
	}
}
