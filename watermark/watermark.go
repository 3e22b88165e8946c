// Package watermark renders a text label into a rotated, semi-transparent
// RGBA image.
package watermark

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	"golang.org/x/text/unicode/norm"

	"github.com/wudi/printmark/coords"
	"github.com/wudi/printmark/fonts"
)

const (
	// GlyphSize is the label size in pixels per em.
	GlyphSize = 256
	// Angle is the watermark rotation in radians.
	Angle = -0.45
)

// Ink is the label colour, non-premultiplied.
var Ink = color.NRGBA{R: 128, G: 128, B: 128, A: 192}

// Image is a row-major RGBA buffer with the origin at the top left.
// len(Pix) == Width*Height*4.
type Image struct {
	Width  int
	Height int
	Pix    []byte
}

// Renderer draws labels with one typeface. It holds no mutable state and
// may be shared between goroutines.
type Renderer struct {
	face *fonts.Face
	size float64
}

// NewRenderer returns a renderer for face. A nil face selects Go Bold.
func NewRenderer(face *fonts.Face) (*Renderer, error) {
	if face == nil {
		var err error
		if face, err = fonts.GoBold(); err != nil {
			return nil, fmt.Errorf("load typeface: %w", err)
		}
	}
	return &Renderer{face: face, size: GlyphSize}, nil
}

// Render draws label centred on a transparent width×height canvas and warps
// it through Transform. The output is identical for identical arguments.
func (r *Renderer) Render(label string, width, height int, mirror bool) (Image, error) {
	if width <= 0 || height <= 0 {
		return Image{}, errors.New("watermark: canvas must not be empty")
	}
	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))
	if err := r.drawLabel(canvas, norm.NFC.String(label)); err != nil {
		return Image{}, err
	}

	out := image.NewNRGBA(canvas.Bounds())
	draw.NearestNeighbor.Transform(out, affine(Transform(width, height, mirror)), canvas, canvas.Bounds(), draw.Src, nil)
	return Image{Width: width, Height: height, Pix: out.Pix}, nil
}

func (r *Renderer) drawLabel(canvas *image.NRGBA, label string) error {
	glyphs := r.face.Shape(label, r.size)
	if len(glyphs) == 0 {
		return nil
	}
	minX, minY, maxX, maxY, err := r.face.InkBounds(glyphs, r.size)
	if err != nil {
		return fmt.Errorf("measure label: %w", err)
	}
	if maxX <= minX || maxY <= minY {
		return nil
	}
	inkW, inkH := int(math.Ceil(maxX-minX)), int(math.Ceil(maxY-minY))
	mask, err := r.face.Rasterize(glyphs, r.size, -minX, -minY, image.Rect(0, 0, inkW, inkH))
	if err != nil {
		return fmt.Errorf("rasterize label: %w", err)
	}
	b := canvas.Bounds()
	left := (b.Dx() - inkW) / 2
	top := (b.Dy() - inkH) / 2
	dst := image.Rect(left, top, left+inkW, top+inkH)
	draw.DrawMask(canvas, dst, image.NewUniform(Ink), image.Point{}, mask, image.Point{}, draw.Over)
	return nil
}

// Transform returns the warp applied to the canvas: rotate by Angle about
// the canvas centre, then mirror vertically about the centre when mirror is
// set.
func Transform(width, height int, mirror bool) coords.Matrix {
	cx, cy := 0.5*float64(width), 0.5*float64(height)
	steps := []coords.Matrix{coords.Translate(-cx, -cy), coords.Rotate(Angle)}
	if mirror {
		steps = append(steps, coords.Scale(1, -1))
	}
	steps = append(steps, coords.Translate(cx, cy))
	return coords.Chain(steps...)
}

// affine converts a row-vector matrix to the column layout of f64.Aff3.
func affine(m coords.Matrix) f64.Aff3 {
	return f64.Aff3{m[0], m[2], m[4], m[1], m[3], m[5]}
}
