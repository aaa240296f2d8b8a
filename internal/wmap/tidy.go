package wmap

// TidyLink recomputes the endpoint offsets of one link so that links between
// crowded nodes fan out instead of stacking. Parallel links between the same
// node pair share the fan: each gets a slot by its position among them.
// Offsets are derived purely from current node positions, so re-running with
// unchanged inputs yields identical offsets.
func (d *Document) TidyLink(name string) bool {
	l, ok := d.links[name]
	if !ok {
		return false
	}

	parallel := d.LinksBetween(l.NodeA, l.NodeB)
	index := 1
	for i, p := range parallel {
		if p.Name == name {
			index = i + 1
			break
		}
	}
	d.tidyLinkAt(l, index, len(parallel))
	return true
}

func (d *Document) tidyLinkAt(l *Link, linkNumber, linkTotal int) {
	nodeA, okA := d.nodes[l.NodeA]
	nodeB, okB := d.nodes[l.NodeB]
	if !okA || !okB {
		return
	}

	bbA := NodeBox(nodeA)
	bbB := NodeBox(nodeB)

	xOverlap := rangeOverlaps(bbA.X1, bbA.X2, bbB.X1, bbB.X2)
	yOverlap := rangeOverlaps(bbA.Y1, bbA.Y2, bbB.Y1, bbB.Y2)

	var aOff, bOff Offset

	switch {
	case !xOverlap && yOverlap:
		// Horizontally separated: route out of the facing box edges and fan
		// parallel links vertically within the shared Y band.
		if bbA.X2 < bbB.X1 {
			aOff.DX = bbA.X2 - nodeA.X
			bOff.DX = bbB.X1 - nodeB.X
		}
		if bbB.X2 < bbA.X1 {
			aOff.DX = bbA.X1 - nodeA.X
			bOff.DX = bbB.X2 - nodeB.X
		}
		lo, hi := commonRange(bbA.Y1, bbA.Y2, bbB.Y1, bbB.Y2)
		step := float64(hi-lo) / float64(linkTotal+1)
		y := float64(lo) + float64(linkNumber)*step
		aOff.DY = int(y) - nodeA.Y
		bOff.DY = int(y) - nodeB.Y

	case !yOverlap && xOverlap:
		if bbA.Y2 < bbB.Y1 {
			aOff.DY = bbA.Y2 - nodeA.Y
			bOff.DY = bbB.Y1 - nodeB.Y
		}
		if bbB.Y2 < bbA.Y1 {
			aOff.DY = bbA.Y1 - nodeA.Y
			bOff.DY = bbB.Y2 - nodeB.Y
		}
		lo, hi := commonRange(bbA.X1, bbA.X2, bbB.X1, bbB.X2)
		step := float64(hi-lo) / float64(linkTotal+1)
		x := float64(lo) + float64(linkNumber)*step
		aOff.DX = int(x) - nodeA.X
		bOff.DX = int(x) - nodeB.X

	case !yOverlap && !xOverlap:
		// Diagonally separated: fan sideways along the normal of the
		// center-to-center line, 15px per extra parallel link.
		tangent := vector{dx: float64(nodeB.X - nodeA.X), dy: float64(nodeB.Y - nodeA.Y)}.normalised()
		normal := tangent.normal()
		shift := 15 * float64(linkNumber-1)
		aOff.DX = int(normal.dx * shift)
		aOff.DY = int(normal.dy * shift)
		bOff.DX = int(normal.dx * shift)
		bOff.DY = int(normal.dy * shift)

	default:
		// Boxes intersect on both axes: leave offsets at zero, matching the
		// long-standing behavior for fully overlapping footprints.
	}

	l.AOffset = aOff
	l.BOffset = bOff
	l.Tidied = true
}
