package fonts

import (
	"image"
	"math"

	xfont "golang.org/x/image/font"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/vector"
)

// InkBounds returns the union of the glyph boxes relative to the baseline
// origin. Glyphs without ink, such as spaces, are skipped.
func (f *Face) InkBounds(glyphs []Glyph, size float64) (minX, minY, maxX, maxY float64, err error) {
	var buf sfnt.Buffer
	first := true
	for _, g := range glyphs {
		b, _, err := f.outline.GlyphBounds(&buf, g.ID, toFixed(size), xfont.HintingNone)
		if err != nil {
			return 0, 0, 0, 0, err
		}
		if b.Empty() {
			continue
		}
		x0, y0 := g.X+fromFixed(b.Min.X), g.Y+fromFixed(b.Min.Y)
		x1, y1 := g.X+fromFixed(b.Max.X), g.Y+fromFixed(b.Max.Y)
		if first {
			minX, minY, maxX, maxY = x0, y0, x1, y1
			first = false
			continue
		}
		minX, minY = math.Min(minX, x0), math.Min(minY, y0)
		maxX, maxY = math.Max(maxX, x1), math.Max(maxY, y1)
	}
	return minX, minY, maxX, maxY, nil
}

// Rasterize fills the outlines of glyphs, with the baseline origin at
// (ox, oy), into an alpha coverage mask covering bounds.
func (f *Face) Rasterize(glyphs []Glyph, size float64, ox, oy float64, bounds image.Rectangle) (*image.Alpha, error) {
	mask := image.NewAlpha(bounds)
	z := vector.NewRasterizer(bounds.Dx(), bounds.Dy())
	var buf sfnt.Buffer
	for _, g := range glyphs {
		segs, err := f.outline.LoadGlyph(&buf, g.ID, toFixed(size), nil)
		if err != nil {
			return nil, err
		}
		dx := float32(ox + g.X - float64(bounds.Min.X))
		dy := float32(oy + g.Y - float64(bounds.Min.Y))
		pt := func(s sfnt.Segment, i int) (float32, float32) {
			return dx + float32(s.Args[i].X)/64, dy + float32(s.Args[i].Y)/64
		}
		open := false
		for _, s := range segs {
			switch s.Op {
			case sfnt.SegmentOpMoveTo:
				if open {
					z.ClosePath()
				}
				z.MoveTo(pt(s, 0))
				open = true
			case sfnt.SegmentOpLineTo:
				z.LineTo(pt(s, 0))
			case sfnt.SegmentOpQuadTo:
				bx, by := pt(s, 0)
				cx, cy := pt(s, 1)
				z.QuadTo(bx, by, cx, cy)
			case sfnt.SegmentOpCubeTo:
				bx, by := pt(s, 0)
				cx, cy := pt(s, 1)
				ex, ey := pt(s, 2)
				z.CubeTo(bx, by, cx, cy, ex, ey)
			}
		}
		if open {
			z.ClosePath()
		}
	}
	z.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})
	return mask, nil
}
