// Package fonts loads the watermark typeface and turns text into positioned,
// outlined glyphs.
package fonts

import (
	"bytes"
	"errors"
	"fmt"

	tsfont "github.com/go-text/typesetting/font"
	xfont "golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
)

// Face is a parsed TrueType font. It is immutable after Load and safe for
// concurrent use.
type Face struct {
	name    string
	outline *sfnt.Font
	shaping *tsfont.Font
}

// Load parses TrueType/OpenType data for both shaping and outlining.
func Load(name string, data []byte) (*Face, error) {
	if len(data) == 0 {
		return nil, errors.New("font data is empty")
	}
	outline, err := sfnt.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse outlines: %w", err)
	}
	if outline.UnitsPerEm() == 0 {
		return nil, errors.New("invalid unitsPerEm")
	}
	face, err := tsfont.ParseTTF(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse for shaping: %w", err)
	}
	if ps, err := outline.Name(nil, sfnt.NameIDPostScript); err == nil && ps != "" {
		name = ps
	}
	return &Face{name: name, outline: outline, shaping: face.Font}, nil
}

// GoBold returns the bundled Go Bold typeface.
func GoBold() (*Face, error) { return Load("GoBold", gobold.TTF) }

func (f *Face) Name() string { return f.name }

// Metrics returns ascent and descent in pixels at size, both positive.
func (f *Face) Metrics(size float64) (ascent, descent float64, err error) {
	m, err := f.outline.Metrics(&sfnt.Buffer{}, toFixed(size), xfont.HintingNone)
	if err != nil {
		return 0, 0, err
	}
	return fromFixed(m.Ascent), fromFixed(m.Descent), nil
}

func toFixed(v float64) fixed.Int26_6   { return fixed.Int26_6(v * 64) }
func fromFixed(v fixed.Int26_6) float64 { return float64(v) / 64 }
