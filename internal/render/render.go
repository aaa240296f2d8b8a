// Package render produces and caches map images. Rendering is deliberately
// simple raster output; the cache layer around it is the interesting part.
package render

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"

	"weathermapng/core-go/internal/wmap"
)

type Variant string

const (
	// VariantFull is the production-quality render.
	VariantFull Variant = "full"
	// VariantFast trades labels and anti-detail for speed, used by the
	// editor's live preview.
	VariantFast Variant = "fast"
)

func ParseVariant(s string) (Variant, error) {
	switch s {
	case "", string(VariantFull):
		return VariantFull, nil
	case string(VariantFast):
		return VariantFast, nil
	default:
		return "", fmt.Errorf("unknown render variant %q", s)
	}
}

// Renderer turns a document into an image file and its thumbnail. Both are
// written in one call so their mtimes move together.
type Renderer interface {
	Render(ctx context.Context, d *wmap.Document, variant Variant, imagePath, thumbPath string) error
}

const thumbWidth = 200

// RasterRenderer draws nodes and links onto a flat canvas with image/png.
type RasterRenderer struct{}

var (
	canvasColor   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	nodeColor     = color.RGBA{R: 60, G: 60, B: 200, A: 255}
	selectedColor = color.RGBA{R: 220, G: 60, B: 60, A: 255}
	linkColor     = color.RGBA{R: 120, G: 120, B: 120, A: 255}
)

func (RasterRenderer) Render(ctx context.Context, d *wmap.Document, variant Variant, imagePath, thumbPath string) error {
	img := image.NewRGBA(image.Rect(0, 0, d.Width, d.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: canvasColor}, image.Point{}, draw.Src)

	for _, l := range d.Links() {
		a, okA := d.Node(l.NodeA)
		b, okB := d.Node(l.NodeB)
		if !okA || !okB {
			continue
		}
		c := linkColor
		if l.Selected {
			c = selectedColor
		}
		x1, y1 := a.X+l.AOffset.DX, a.Y+l.AOffset.DY
		x2, y2 := b.X+l.BOffset.DX, b.Y+l.BOffset.DY
		if len(l.Via) > 0 && variant == VariantFull {
			px, py := x1, y1
			for _, v := range l.Via {
				drawLine(img, px, py, v.X, v.Y, c)
				px, py = v.X, v.Y
			}
			drawLine(img, px, py, x2, y2, c)
		} else {
			drawLine(img, x1, y1, x2, y2, c)
		}
	}

	for _, n := range d.Nodes() {
		c := nodeColor
		if n.Selected {
			c = selectedColor
		}
		box := wmap.NodeBox(n)
		fillRect(img, box.X1, box.Y1, box.X2, box.Y2, c)
	}

	if err := writePNG(imagePath, img); err != nil {
		return err
	}
	return writePNG(thumbPath, shrink(img, thumbWidth))
}

func drawLine(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	dx := abs(x2 - x1)
	dy := -abs(y2 - y1)
	sx, sy := 1, 1
	if x1 > x2 {
		sx = -1
	}
	if y1 > y2 {
		sy = -1
	}
	err := dx + dy
	for {
		img.SetRGBA(x1, y1, c)
		if x1 == x2 && y1 == y2 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x1 += sx
		}
		if e2 <= dx {
			err += dx
			y1 += sy
		}
	}
}

func fillRect(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	for y := y1; y <= y2; y++ {
		for x := x1; x <= x2; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

// shrink produces a nearest-neighbor thumbnail of the given width.
func shrink(src *image.RGBA, width int) *image.RGBA {
	b := src.Bounds()
	if b.Dx() <= width {
		return src
	}
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dst.Set(x, y, src.At(b.Min.X+x*b.Dx()/width, b.Min.Y+y*b.Dy()/height))
		}
	}
	return dst
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
