package wmap

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultTemplate is the template name nodes and links fall back to when they
// do not declare one of their own.
const DefaultTemplate = "DEFAULT"

var (
	ErrNodeExists   = errors.New("node already exists")
	ErrNodeNotFound = errors.New("node not found")
	ErrLinkNotFound = errors.New("link not found")
	ErrInvalidName  = errors.New("invalid name")
	ErrInvalidLink  = errors.New("invalid link endpoints")
)

type Point struct {
	X int
	Y int
}

type Offset struct {
	DX int
	DY int
}

// Stamp is the timestamp overlay position and format text (TIMEPOS).
type Stamp struct {
	X    int
	Y    int
	Text string
}

// Target is one monitoring target bound to a link direction pair.
type Target struct {
	Raw     string
	Metric  string
	InName  string
	OutName string
}

type Node struct {
	Name     string
	ID       int
	X        int
	Y        int
	HasPos   bool
	Label    *string
	Icon     *string
	InfoURL  *string
	Hover    []string
	ZOrder   *int
	Template string

	// Selected is a transient editor flag. It is never persisted.
	Selected bool

	// Extra holds unknown block directives verbatim for round-trip safety.
	Extra []string
}

type Link struct {
	Name    string
	ID      int
	NodeA   string
	NodeB   string
	AOffset Offset
	BOffset Offset

	Width           *float64
	BandwidthInCfg  string
	BandwidthOutCfg string
	BandwidthIn     float64
	BandwidthOut    float64

	Via     []Point
	Targets []Target

	// Selector is the opaque datasource selector hint; empty means unbound.
	Selector string

	CommentIn  *string
	CommentOut *string
	InfoURLIn  *string
	InfoURLOut *string
	HoverIn    []string
	HoverOut   []string
	ZOrder     *int
	Template   string
	Tidied     bool

	Selected bool

	// CurrentIn/CurrentOut carry live values attached at render time.
	// Like Selected they are transient and never persisted.
	CurrentIn  *float64
	CurrentOut *float64

	Extra []string
}

// Document is the in-memory graph parsed from one map configuration file.
// Node and link iteration order matches insertion order, which is the
// rendering z-order the config file expresses.
type Document struct {
	Title      string
	Width      int
	Height     int
	Background string
	KeyPos     map[string]Point
	KeyText    map[string]string
	Stamp      *Stamp
	NextID     int

	// GlobalExtra preserves unmodeled top-level directives verbatim.
	GlobalExtra []string

	// Warnings collects non-fatal decode issues.
	Warnings []string

	NodeTemplates map[string]*Node
	LinkTemplates map[string]*Link

	nodeOrder []string
	nodes     map[string]*Node
	linkOrder []string
	links     map[string]*Link
}

func NewDocument() *Document {
	return &Document{
		Width:         800,
		Height:        600,
		KeyPos:        map[string]Point{},
		KeyText:       map[string]string{},
		NextID:        1,
		NodeTemplates: map[string]*Node{},
		LinkTemplates: map[string]*Link{},
		nodes:         map[string]*Node{},
		links:         map[string]*Link{},
	}
}

func (d *Document) Node(name string) (*Node, bool) {
	n, ok := d.nodes[name]
	return n, ok
}

func (d *Document) Link(name string) (*Link, bool) {
	l, ok := d.links[name]
	return l, ok
}

// Nodes returns the node collection in insertion order.
func (d *Document) Nodes() []*Node {
	out := make([]*Node, 0, len(d.nodeOrder))
	for _, name := range d.nodeOrder {
		out = append(out, d.nodes[name])
	}
	return out
}

// Links returns the link collection in insertion order.
func (d *Document) Links() []*Link {
	out := make([]*Link, 0, len(d.linkOrder))
	for _, name := range d.linkOrder {
		out = append(out, d.links[name])
	}
	return out
}

func (d *Document) NodeCount() int { return len(d.nodes) }
func (d *Document) LinkCount() int { return len(d.links) }

func (d *Document) takeID() int {
	id := d.NextID
	d.NextID++
	return id
}

// AddNode places a new node at the given position, assigning a fresh numeric
// ID and a generated unique name.
func (d *Document) AddNode(x, y int) *Node {
	name := d.generateNodeName()
	n := &Node{
		Name:     name,
		ID:       d.takeID(),
		X:        x,
		Y:        y,
		HasPos:   true,
		Template: DefaultTemplate,
	}
	d.insertNode(n)
	return n
}

func (d *Document) generateNodeName() string {
	name := fmt.Sprintf("node%05d", time.Now().Unix()%10000)
	for {
		if _, exists := d.nodes[name]; !exists {
			return name
		}
		name += "a"
	}
}

// insertNode registers a node, keeping a single order entry when a
// hand-edited config repeats a block name. The later block wins.
func (d *Document) insertNode(n *Node) {
	if _, exists := d.nodes[n.Name]; !exists {
		d.nodeOrder = append(d.nodeOrder, n.Name)
	}
	d.nodes[n.Name] = n
}

func (d *Document) insertLink(l *Link) {
	if _, exists := d.links[l.Name]; !exists {
		d.linkOrder = append(d.linkOrder, l.Name)
	}
	d.links[l.Name] = l
}

// RenameNode moves a node under a new key and repoints every link endpoint
// that referenced the old name. Returns false without changes when the new
// name is taken, empty, or contains whitespace.
func (d *Document) RenameNode(oldName, newName string) bool {
	if newName == "" || strings.ContainsAny(newName, " \t") {
		return false
	}
	if oldName == newName {
		return true
	}
	n, ok := d.nodes[oldName]
	if !ok {
		return false
	}
	if _, taken := d.nodes[newName]; taken {
		return false
	}

	delete(d.nodes, oldName)
	n.Name = newName
	d.nodes[newName] = n
	for i, name := range d.nodeOrder {
		if name == oldName {
			d.nodeOrder[i] = newName
		}
	}

	for _, l := range d.links {
		if l.NodeA == oldName {
			l.NodeA = newName
		}
		if l.NodeB == oldName {
			l.NodeB = newName
		}
	}
	return true
}

// DeleteNode removes a node and cascades deletion to every link that uses it
// as an endpoint.
func (d *Document) DeleteNode(name string) bool {
	if _, ok := d.nodes[name]; !ok {
		return false
	}

	for _, l := range d.Links() {
		if l.NodeA == name || l.NodeB == name {
			d.DeleteLink(l.Name)
		}
	}

	delete(d.nodes, name)
	d.nodeOrder = removeString(d.nodeOrder, name)
	return true
}

// CloneNode duplicates a node with a fresh identity and a small position
// offset so the copy is visually distinguishable.
func (d *Document) CloneNode(name string) (*Node, bool) {
	src, ok := d.nodes[name]
	if !ok {
		return nil, false
	}

	newName := name
	for {
		newName += "_copy"
		if _, exists := d.nodes[newName]; !exists {
			break
		}
	}

	clone := &Node{
		Name:     newName,
		ID:       d.takeID(),
		X:        src.X + 30,
		Y:        src.Y + 30,
		HasPos:   src.HasPos,
		Label:    copyString(src.Label),
		Icon:     copyString(src.Icon),
		InfoURL:  copyString(src.InfoURL),
		Hover:    append([]string(nil), src.Hover...),
		ZOrder:   copyInt(src.ZOrder),
		Template: src.Template,
	}
	d.insertNode(clone)
	return clone, true
}

// AddLink connects two distinct existing nodes. The link name is derived from
// the endpoint names, suffixed until unique.
func (d *Document) AddLink(a, b string) (*Link, error) {
	if a == b {
		return nil, ErrInvalidLink
	}
	if _, ok := d.nodes[a]; !ok {
		return nil, ErrInvalidLink
	}
	if _, ok := d.nodes[b]; !ok {
		return nil, ErrInvalidLink
	}

	name := a + "-" + b
	for {
		if _, exists := d.links[name]; !exists {
			break
		}
		name += "a"
	}

	l := &Link{
		Name:     name,
		ID:       d.takeID(),
		NodeA:    a,
		NodeB:    b,
		Template: DefaultTemplate,
	}
	if tpl, ok := d.LinkTemplates[DefaultTemplate]; ok && tpl.Width != nil {
		w := *tpl.Width
		l.Width = &w
	}
	d.insertLink(l)
	return l, nil
}

// DeleteLink removes a link only; endpoints are untouched.
func (d *Document) DeleteLink(name string) bool {
	if _, ok := d.links[name]; !ok {
		return false
	}
	delete(d.links, name)
	d.linkOrder = removeString(d.linkOrder, name)
	return true
}

// LinksBetween returns links whose endpoints match the unordered pair (a, b),
// in insertion order.
func (d *Document) LinksBetween(a, b string) []*Link {
	var out []*Link
	for _, l := range d.Links() {
		if (l.NodeA == a && l.NodeB == b) || (l.NodeA == b && l.NodeB == a) {
			out = append(out, l)
		}
	}
	return out
}

// CheckIntegrity verifies the graph invariant that every link endpoint names
// an existing node. Run after every mutation.
func (d *Document) CheckIntegrity() error {
	for _, l := range d.links {
		if _, ok := d.nodes[l.NodeA]; !ok {
			return fmt.Errorf("link %q references missing node %q", l.Name, l.NodeA)
		}
		if _, ok := d.nodes[l.NodeB]; !ok {
			return fmt.Errorf("link %q references missing node %q", l.Name, l.NodeB)
		}
	}
	return nil
}

// nodeTemplate resolves the template chain for a node.
func (d *Document) nodeTemplate(n *Node) *Node {
	name := n.Template
	if name == "" {
		name = DefaultTemplate
	}
	if tpl, ok := d.NodeTemplates[name]; ok {
		return tpl
	}
	return nil
}

func (d *Document) linkTemplate(l *Link) *Link {
	name := l.Template
	if name == "" {
		name = DefaultTemplate
	}
	if tpl, ok := d.LinkTemplates[name]; ok {
		return tpl
	}
	return nil
}

// EffectiveLabel resolves a node's label through its template. The built-in
// fallback is the empty string.
func (d *Document) EffectiveLabel(n *Node) string {
	if n.Label != nil {
		return *n.Label
	}
	if tpl := d.nodeTemplate(n); tpl != nil && tpl.Label != nil {
		return *tpl.Label
	}
	return ""
}

func (d *Document) EffectiveIcon(n *Node) string {
	if n.Icon != nil {
		return *n.Icon
	}
	if tpl := d.nodeTemplate(n); tpl != nil && tpl.Icon != nil {
		return *tpl.Icon
	}
	return ""
}

// EffectiveWidth resolves a link's stroke width through its template. The
// built-in fallback matches the stock LINK DEFAULT.
func (d *Document) EffectiveWidth(l *Link) float64 {
	if l.Width != nil {
		return *l.Width
	}
	if tpl := d.linkTemplate(l); tpl != nil && tpl.Width != nil {
		return *tpl.Width
	}
	return 4
}

func removeString(list []string, target string) []string {
	out := list[:0]
	for _, s := range list {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	s := *p
	return &s
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	n := *p
	return &n
}
