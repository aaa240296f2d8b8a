package wmap

import "math"

// Rect is an axis-aligned bounding box in canvas pixels.
type Rect struct {
	X1, Y1, X2, Y2 int
}

// NodeBox returns a node's footprint. Without an icon-derived box the
// footprint is 40x40 centered on the node position.
func NodeBox(n *Node) Rect {
	return Rect{X1: n.X - 20, Y1: n.Y - 20, X2: n.X + 20, Y2: n.Y + 20}
}

func rangeOverlaps(aMin, aMax, bMin, bMax int) bool {
	if aMin > bMax {
		return false
	}
	if bMin > aMax {
		return false
	}
	return true
}

func commonRange(aMin, aMax, bMin, bMax int) (int, int) {
	lo := aMin
	if bMin > lo {
		lo = bMin
	}
	hi := aMax
	if bMax < hi {
		hi = bMax
	}
	return lo, hi
}

type vector struct {
	dx, dy float64
}

func (v vector) length() float64 {
	return math.Sqrt(v.dx*v.dx + v.dy*v.dy)
}

func (v vector) normalised() vector {
	l := v.length()
	if l == 0 {
		return vector{}
	}
	return vector{dx: v.dx / l, dy: v.dy / l}
}

// normal returns the perpendicular of v (rotated 90 degrees).
func (v vector) normal() vector {
	return vector{dx: -v.dy, dy: v.dx}
}
