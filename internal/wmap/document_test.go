package wmap

import (
	"errors"
	"testing"
)

func twoNodeDoc(t *testing.T) *Document {
	t.Helper()
	d := NewDocument()
	a := d.AddNode(100, 100)
	if ok := d.RenameNode(a.Name, "a"); !ok {
		t.Fatal("rename a")
	}
	b := d.AddNode(300, 100)
	if ok := d.RenameNode(b.Name, "b"); !ok {
		t.Fatal("rename b")
	}
	return d
}

func TestAddNodeAssignsUniqueIdentity(t *testing.T) {
	d := NewDocument()
	n1 := d.AddNode(10, 20)
	n2 := d.AddNode(30, 40)
	if n1.ID == n2.ID {
		t.Fatalf("ids collide: %d", n1.ID)
	}
	if n1.Name == n2.Name {
		t.Fatalf("names collide: %q", n1.Name)
	}
	if !n1.HasPos || n1.X != 10 || n1.Y != 20 {
		t.Fatalf("n1 = %+v", n1)
	}
	if d.NextID <= n2.ID {
		t.Fatalf("nextid %d not past %d", d.NextID, n2.ID)
	}
}

func TestRenameNodeRepointsLinks(t *testing.T) {
	d := twoNodeDoc(t)
	l, err := d.AddLink("a", "b")
	if err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	if !d.RenameNode("a", "core1") {
		t.Fatal("rename failed")
	}
	if l.NodeA != "core1" {
		t.Fatalf("endpoint not repointed: %q", l.NodeA)
	}
	if _, ok := d.Node("a"); ok {
		t.Fatal("old name still present")
	}
	if err := d.CheckIntegrity(); err != nil {
		t.Fatalf("integrity: %v", err)
	}
}

func TestRenameNodeRejects(t *testing.T) {
	d := twoNodeDoc(t)
	if d.RenameNode("a", "b") {
		t.Fatal("rename onto taken name succeeded")
	}
	if d.RenameNode("a", "") {
		t.Fatal("rename to empty succeeded")
	}
	if d.RenameNode("a", "two words") {
		t.Fatal("rename with whitespace succeeded")
	}
	if d.RenameNode("missing", "x") {
		t.Fatal("rename of missing node succeeded")
	}
	// Renaming to itself is a no-op, not an error.
	if !d.RenameNode("a", "a") {
		t.Fatal("self rename failed")
	}
}

func TestDeleteNodeCascades(t *testing.T) {
	d := twoNodeDoc(t)
	c := d.AddNode(200, 300)
	d.RenameNode(c.Name, "c")
	if _, err := d.AddLink("a", "b"); err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	if _, err := d.AddLink("a", "c"); err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	if _, err := d.AddLink("b", "c"); err != nil {
		t.Fatalf("AddLink: %v", err)
	}

	if !d.DeleteNode("a") {
		t.Fatal("delete failed")
	}
	if d.NodeCount() != 2 {
		t.Fatalf("node count = %d", d.NodeCount())
	}
	if d.LinkCount() != 1 {
		t.Fatalf("link count = %d, want only b-c left", d.LinkCount())
	}
	if _, ok := d.Link("b-c"); !ok {
		t.Fatal("unrelated link removed")
	}
	if err := d.CheckIntegrity(); err != nil {
		t.Fatalf("integrity: %v", err)
	}
}

func TestAddLinkValidation(t *testing.T) {
	d := twoNodeDoc(t)
	if _, err := d.AddLink("a", "a"); !errors.Is(err, ErrInvalidLink) {
		t.Fatalf("self link err = %v", err)
	}
	if _, err := d.AddLink("a", "ghost"); !errors.Is(err, ErrInvalidLink) {
		t.Fatalf("missing endpoint err = %v", err)
	}
	l1, err := d.AddLink("a", "b")
	if err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	l2, err := d.AddLink("a", "b")
	if err != nil {
		t.Fatalf("second AddLink: %v", err)
	}
	if l1.Name == l2.Name {
		t.Fatalf("parallel link names collide: %q", l1.Name)
	}
	if got := d.LinksBetween("b", "a"); len(got) != 2 {
		t.Fatalf("LinksBetween = %d links", len(got))
	}
}

func TestAddLinkInheritsTemplateWidth(t *testing.T) {
	d := twoNodeDoc(t)
	w := 7.0
	d.LinkTemplates[DefaultTemplate] = &Link{Name: DefaultTemplate, Width: &w}
	l, err := d.AddLink("a", "b")
	if err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	if l.Width == nil || *l.Width != 7 {
		t.Fatalf("width = %v", l.Width)
	}
}

func TestCloneNode(t *testing.T) {
	d := twoNodeDoc(t)
	label := "Core"
	na, _ := d.Node("a")
	na.Label = &label

	clone, ok := d.CloneNode("a")
	if !ok {
		t.Fatal("clone failed")
	}
	if clone.Name != "a_copy" {
		t.Fatalf("clone name = %q", clone.Name)
	}
	if clone.ID == na.ID {
		t.Fatal("clone shares id")
	}
	if clone.X != na.X+30 || clone.Y != na.Y+30 {
		t.Fatalf("clone at %d,%d", clone.X, clone.Y)
	}
	if clone.Label == nil || *clone.Label != "Core" {
		t.Fatalf("clone label = %v", clone.Label)
	}
	// Deep copy: mutating the clone's label must not touch the original.
	*clone.Label = "Changed"
	if *na.Label != "Core" {
		t.Fatal("label aliased between clone and original")
	}

	again, ok := d.CloneNode("a")
	if !ok || again.Name != "a_copy_copy" {
		t.Fatalf("second clone name = %q", again.Name)
	}
}

func TestEffectiveValuesResolveThroughTemplate(t *testing.T) {
	d := NewDocument()
	icon := "images/switch.png"
	d.NodeTemplates[DefaultTemplate] = &Node{Name: DefaultTemplate, Icon: &icon}
	n := d.AddNode(1, 1)
	if got := d.EffectiveIcon(n); got != icon {
		t.Fatalf("icon = %q", got)
	}
	own := "images/router.png"
	n.Icon = &own
	if got := d.EffectiveIcon(n); got != own {
		t.Fatalf("own icon = %q", got)
	}

	l := &Link{Name: "l", NodeA: "x", NodeB: "y"}
	if got := d.EffectiveWidth(l); got != 4 {
		t.Fatalf("builtin width = %v", got)
	}
	w := 2.5
	d.LinkTemplates[DefaultTemplate] = &Link{Name: DefaultTemplate, Width: &w}
	if got := d.EffectiveWidth(l); got != 2.5 {
		t.Fatalf("template width = %v", got)
	}
}

func TestCheckIntegrityDetectsDanglingEndpoint(t *testing.T) {
	d := twoNodeDoc(t)
	if _, err := d.AddLink("a", "b"); err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	// Corrupt the graph the way a bad hand edit would.
	l, _ := d.Link("a-b")
	l.NodeB = "ghost"
	if err := d.CheckIntegrity(); err == nil {
		t.Fatal("integrity check passed on dangling endpoint")
	}
}
