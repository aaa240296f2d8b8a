package editor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"weathermapng/core-go/internal/mapstore"
	"weathermapng/core-go/internal/wmap"
)

const testConfig = `WIDTH 800
HEIGHT 600
TITLE Test Map

NODE a
    POSITION 100 100
    SET id 1

NODE b
    POSITION 300 100
    SET id 2

LINK a-b
    NODES a b
    BANDWIDTH 100M
    SET id 3
`

type fixture struct {
	engine *Engine
	store  *mapstore.MemStore
	mapID  int64
	path   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.conf")
	if err := os.WriteFile(path, []byte(testConfig), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	store := mapstore.NewMemStore()
	rec, err := store.CreateMap(context.Background(), mapstore.MapRecord{
		Name: "test", Title: "Test Map", ConfigPath: path, Width: 800, Height: 600,
	})
	if err != nil {
		t.Fatalf("create map: %v", err)
	}
	return &fixture{
		engine: NewEngine(store, zerolog.Nop()),
		store:  store,
		mapID:  rec.ID,
		path:   path,
	}
}

func (f *fixture) apply(t *testing.T, req Request) Result {
	t.Helper()
	res, err := f.engine.Apply(context.Background(), f.mapID, req)
	if err != nil {
		t.Fatalf("Apply(%s): %v", req.Action, err)
	}
	return res
}

func (f *fixture) doc(t *testing.T) *wmap.Document {
	t.Helper()
	text, err := os.ReadFile(f.path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	d, err := wmap.Decode(string(text))
	if err != nil {
		t.Fatalf("decode config: %v", err)
	}
	return d
}

func intp(v int) *int       { return &v }
func strp(v string) *string { return &v }

func TestAddNodePersists(t *testing.T) {
	f := newFixture(t)
	res := f.apply(t, Request{Action: "add_node", X: intp(420), Y: intp(333)})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if !strings.HasPrefix(res.ID, "N") || res.Name == "" {
		t.Fatalf("result = %+v", res)
	}
	d := f.doc(t)
	n, ok := d.Node(res.Name)
	if !ok {
		t.Fatalf("node %q not persisted", res.Name)
	}
	if n.X != 420 || n.Y != 333 {
		t.Fatalf("position = %d,%d", n.X, n.Y)
	}
}

func TestAddNodeSnapsToGrid(t *testing.T) {
	f := newFixture(t)
	res := f.apply(t, Request{Action: "add_node", X: intp(417), Y: intp(333), Grid: 10})
	if !res.Success || *res.X != 420 || *res.Y != 330 {
		t.Fatalf("result = %+v", res)
	}
}

func TestMoveNode(t *testing.T) {
	f := newFixture(t)
	res := f.apply(t, Request{Action: "move_node", Name: "a", X: intp(150), Y: intp(250)})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	n, _ := f.doc(t).Node("a")
	if n.X != 150 || n.Y != 250 {
		t.Fatalf("position = %d,%d", n.X, n.Y)
	}
}

func TestDeleteNodeCascadesAndPersists(t *testing.T) {
	f := newFixture(t)
	res := f.apply(t, Request{Action: "delete_node", Name: "a"})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	d := f.doc(t)
	if _, ok := d.Node("a"); ok {
		t.Fatal("node still present")
	}
	if d.LinkCount() != 0 {
		t.Fatal("link not cascaded")
	}
}

func TestUnknownTargetsReportFailureNotError(t *testing.T) {
	f := newFixture(t)
	for _, req := range []Request{
		{Action: "delete_node", Name: "ghost"},
		{Action: "move_node", Name: "ghost", X: intp(1), Y: intp(1)},
		{Action: "delete_link", Name: "ghost"},
		{Action: "link_tidy", Name: "ghost"},
		{Action: "no_such_action"},
	} {
		res := f.apply(t, req)
		if res.Success || res.Error == "" {
			t.Fatalf("%s: result = %+v", req.Action, res)
		}
	}
	// Nothing should have been written.
	d := f.doc(t)
	if d.NodeCount() != 2 || d.LinkCount() != 1 {
		t.Fatalf("document mutated: %d nodes, %d links", d.NodeCount(), d.LinkCount())
	}
}

func TestRenameCollisionKeepsOldNameButAppliesRest(t *testing.T) {
	f := newFixture(t)
	res := f.apply(t, Request{
		Action: "set_node_properties", Name: "a", NewName: "b",
		Label: strp("Core <b>Router</b>"),
	})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if res.Name != "a" {
		t.Fatalf("name = %q, want rename silently skipped", res.Name)
	}
	n, _ := f.doc(t).Node("a")
	if n.Label == nil || *n.Label != "Core bRouter/b" {
		t.Fatalf("label = %v", n.Label)
	}
}

func TestRenameRepointsPersistedLinks(t *testing.T) {
	f := newFixture(t)
	res := f.apply(t, Request{Action: "set_node_properties", Name: "a", NewName: "core1"})
	if !res.Success || res.Name != "core1" {
		t.Fatalf("result = %+v", res)
	}
	d := f.doc(t)
	l, ok := d.Link("a-b")
	if !ok {
		t.Fatal("link lost")
	}
	if l.NodeA != "core1" {
		t.Fatalf("endpoint = %q", l.NodeA)
	}
	if err := d.CheckIntegrity(); err != nil {
		t.Fatalf("integrity: %v", err)
	}
}

func TestSetLinkPropertiesBandwidth(t *testing.T) {
	f := newFixture(t)
	res := f.apply(t, Request{
		Action: "set_link_properties", Name: "a-b",
		BandwidthIn: strp("10G"), Symmetric: true,
	})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	l, _ := f.doc(t).Link("a-b")
	if l.BandwidthInCfg != "10G" || l.BandwidthOutCfg != "10G" {
		t.Fatalf("bandwidth cfg = %q / %q", l.BandwidthInCfg, l.BandwidthOutCfg)
	}
	if l.BandwidthIn != 10e9 || l.BandwidthOut != 10e9 {
		t.Fatalf("bandwidth = %v / %v", l.BandwidthIn, l.BandwidthOut)
	}
}

func TestInvalidBandwidthLeavesValueUnchanged(t *testing.T) {
	f := newFixture(t)
	res := f.apply(t, Request{
		Action: "set_link_properties", Name: "a-b",
		BandwidthIn: strp("lots"), CommentIn: strp("to core"),
	})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	l, _ := f.doc(t).Link("a-b")
	if l.BandwidthInCfg != "100M" {
		t.Fatalf("bandwidth changed to %q", l.BandwidthInCfg)
	}
	if l.CommentIn == nil || *l.CommentIn != "to core" {
		t.Fatalf("comment = %v, rest of edit should apply", l.CommentIn)
	}
}

func TestSetLinkDatasourceSelector(t *testing.T) {
	f := newFixture(t)
	sel := "3|10084|net.if.in[ifHCInOctets.2]|net.if.out[ifHCOutOctets.2]"
	res := f.apply(t, Request{Action: "set_link_properties", Name: "a-b", Selector: strp(sel)})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	l, _ := f.doc(t).Link("a-b")
	if l.Selector != sel {
		t.Fatalf("selector = %q", l.Selector)
	}
}

func TestViaLinkSetAndClear(t *testing.T) {
	f := newFixture(t)
	res := f.apply(t, Request{Action: "via_link", Name: "a-b", X: intp(200), Y: intp(50)})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	l, _ := f.doc(t).Link("a-b")
	if len(l.Via) != 1 || l.Via[0] != (wmap.Point{X: 200, Y: 50}) {
		t.Fatalf("via = %+v", l.Via)
	}

	res = f.apply(t, Request{Action: "via_link", Name: "a-b"})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	l, _ = f.doc(t).Link("a-b")
	if len(l.Via) != 0 {
		t.Fatalf("via not cleared: %+v", l.Via)
	}
}

func TestLinkTidyPersistsOffsets(t *testing.T) {
	f := newFixture(t)
	res := f.apply(t, Request{Action: "link_tidy", Name: "a-b"})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	l, _ := f.doc(t).Link("a-b")
	if !l.Tidied {
		t.Fatal("tidied flag lost on save")
	}
	if l.AOffset == (wmap.Offset{}) && l.BOffset == (wmap.Offset{}) {
		t.Fatal("offsets not computed")
	}
}

func TestSetMapProperties(t *testing.T) {
	f := newFixture(t)
	res := f.apply(t, Request{
		Action: "set_map_properties",
		Title:  strp("Backbone"), MapWidth: intp(1200), MapHeight: intp(900),
		Background: strp("images/floor.png"),
	})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	d := f.doc(t)
	if d.Title != "Backbone" || d.Width != 1200 || d.Height != 900 || d.Background != "images/floor.png" {
		t.Fatalf("doc = %q %dx%d bg=%q", d.Title, d.Width, d.Height, d.Background)
	}
	// Metadata follows the document.
	rec, err := f.store.GetMap(context.Background(), f.mapID)
	if err != nil {
		t.Fatalf("GetMap: %v", err)
	}
	if rec.Title != "Backbone" || rec.Width != 1200 {
		t.Fatalf("record = %+v", rec)
	}
}

func TestSetMapPropertiesRejectsBadBackground(t *testing.T) {
	f := newFixture(t)
	for _, bg := range []string{"evil.php", "noext", "script.svg"} {
		res := f.apply(t, Request{Action: "set_map_properties", Background: strp(bg)})
		if res.Success {
			t.Fatalf("background %q accepted", bg)
		}
	}
	if d := f.doc(t); d.Background != "" {
		t.Fatalf("background = %q", d.Background)
	}
}

func TestSetMapPropertiesRejectsBadDimensions(t *testing.T) {
	f := newFixture(t)
	for _, w := range []int{0, 50, 20000} {
		res := f.apply(t, Request{Action: "set_map_properties", MapWidth: intp(w)})
		if res.Success {
			t.Fatalf("width %d accepted", w)
		}
	}
}

func TestPlaceLegendAndStamp(t *testing.T) {
	f := newFixture(t)
	if res := f.apply(t, Request{Action: "place_legend", X: intp(20), Y: intp(30)}); !res.Success {
		t.Fatalf("place_legend = %+v", res)
	}
	if res := f.apply(t, Request{Action: "place_stamp", X: intp(10), Y: intp(590), StampText: strp("Updated %H:%M")}); !res.Success {
		t.Fatalf("place_stamp = %+v", res)
	}
	d := f.doc(t)
	if d.KeyPos[wmap.DefaultTemplate] != (wmap.Point{X: 20, Y: 30}) {
		t.Fatalf("keypos = %+v", d.KeyPos)
	}
	if d.Stamp == nil || d.Stamp.X != 10 || d.Stamp.Text != "Updated %H:%M" {
		t.Fatalf("stamp = %+v", d.Stamp)
	}
}

func TestAddLinkRequiresDistinctExistingNodes(t *testing.T) {
	f := newFixture(t)
	if res := f.apply(t, Request{Action: "add_link", NodeA: "a", NodeB: "a"}); res.Success {
		t.Fatal("self link accepted")
	}
	if res := f.apply(t, Request{Action: "add_link", NodeA: "a", NodeB: "ghost"}); res.Success {
		t.Fatal("dangling link accepted")
	}
	res := f.apply(t, Request{Action: "add_link", NodeA: "b", NodeB: "a"})
	if !res.Success || !strings.HasPrefix(res.ID, "L") {
		t.Fatalf("result = %+v", res)
	}
}

func TestApplyUnknownMap(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.Apply(context.Background(), 9999, Request{Action: "add_node", X: intp(1), Y: intp(1)})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Success {
		t.Fatal("action on missing map succeeded")
	}
}

func TestIDsSurviveEditCycles(t *testing.T) {
	f := newFixture(t)
	before, _ := f.doc(t).Node("a")
	f.apply(t, Request{Action: "move_node", Name: "a", X: intp(111), Y: intp(222)})
	f.apply(t, Request{Action: "add_node", X: intp(1), Y: intp(2)})
	after, _ := f.doc(t).Node("a")
	if after.ID != before.ID {
		t.Fatalf("id changed: %d -> %d", before.ID, after.ID)
	}
}
