package wmap

import (
	"fmt"
	"html"
	"sort"
	"strings"
)

// ImageMap renders the <map>/<area> HTML fragment for a document. Areas are
// emitted links first, then nodes, each group in descending z-order so the
// topmost item wins hit-testing, matching the rendered stacking order.
func ImageMap(d *Document, mapName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<map name=%q id=%q>\n", mapName, mapName)

	for _, l := range sortLinksByZ(d.Links()) {
		a, okA := d.Node(l.NodeA)
		bNode, okB := d.Node(l.NodeB)
		if !okA || !okB {
			continue
		}
		x1 := a.X + l.AOffset.DX
		y1 := a.Y + l.AOffset.DY
		x2 := bNode.X + l.BOffset.DX
		y2 := bNode.Y + l.BOffset.DY
		href := "#"
		if l.InfoURLIn != nil && *l.InfoURLIn != "" {
			href = *l.InfoURLIn
		}
		fmt.Fprintf(&b, "\t<area id=\"LINK:L%d:0\" shape=\"poly\" coords=%q href=%q alt=%q />\n",
			l.ID, linkPolyCoords(x1, y1, x2, y2, d.EffectiveWidth(l)), html.EscapeString(href), html.EscapeString(l.Name))
	}

	for _, n := range sortNodesByZ(d.Nodes()) {
		box := NodeBox(n)
		href := "#"
		if n.InfoURL != nil && *n.InfoURL != "" {
			href = *n.InfoURL
		}
		fmt.Fprintf(&b, "\t<area id=\"NODE:N%d:0\" shape=\"rect\" coords=\"%d,%d,%d,%d\" href=%q alt=%q />\n",
			n.ID, box.X1, box.Y1, box.X2, box.Y2, html.EscapeString(href), html.EscapeString(n.Name))
	}

	b.WriteString("</map>\n")
	return b.String()
}

// linkPolyCoords expands the link segment into a quad half the stroke width
// either side of the center line.
func linkPolyCoords(x1, y1, x2, y2 int, width float64) string {
	if width < 2 {
		width = 2
	}
	n := vector{dx: float64(x2 - x1), dy: float64(y2 - y1)}.normalised().normal()
	hw := width / 2
	ox := int(n.dx * hw)
	oy := int(n.dy * hw)
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d,%d,%d",
		x1+ox, y1+oy, x2+ox, y2+oy, x2-ox, y2-oy, x1-ox, y1-oy)
}

func sortNodesByZ(nodes []*Node) []*Node {
	out := append([]*Node(nil), nodes...)
	sort.SliceStable(out, func(i, j int) bool { return zOrderOf(out[i].ZOrder) > zOrderOf(out[j].ZOrder) })
	return out
}

func sortLinksByZ(links []*Link) []*Link {
	out := append([]*Link(nil), links...)
	sort.SliceStable(out, func(i, j int) bool { return zOrderOf(out[i].ZOrder) > zOrderOf(out[j].ZOrder) })
	return out
}

func zOrderOf(z *int) int {
	if z == nil {
		return 0
	}
	return *z
}
