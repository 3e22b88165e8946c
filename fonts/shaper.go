package fonts

import (
	"unicode"

	"github.com/go-text/typesetting/di"
	tsfont "github.com/go-text/typesetting/font"
	"github.com/go-text/typesetting/language"
	"github.com/go-text/typesetting/shaping"
	"golang.org/x/image/font/sfnt"
)

// Glyph is one shaped glyph placed on a baseline at y = 0, in pixels, with
// y growing downwards.
type Glyph struct {
	ID      sfnt.GlyphIndex
	X, Y    float64
	Advance float64
}

// Shape runs HarfBuzz shaping over text at size pixels per em and returns
// the glyphs in visual order with their pen positions.
func (f *Face) Shape(text string, size float64) []Glyph {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	script := DetectScript(runes)
	input := shaping.Input{
		Text:      runes,
		RunStart:  0,
		RunEnd:    len(runes),
		Direction: scriptDirection(script),
		Face:      tsfont.NewFace(f.shaping),
		Size:      toFixed(size),
		Script:    script,
		Language:  language.DefaultLanguage(),
	}
	out := (&shaping.HarfbuzzShaper{}).Shape(input)

	glyphs := make([]Glyph, 0, len(out.Glyphs))
	pen := 0.0
	for _, g := range out.Glyphs {
		adv := fromFixed(g.XAdvance)
		glyphs = append(glyphs, Glyph{
			ID:      sfnt.GlyphIndex(g.GlyphID),
			X:       pen + fromFixed(g.XOffset),
			Y:       -fromFixed(g.YOffset),
			Advance: adv,
		})
		pen += adv
	}
	return glyphs
}

func scriptDirection(script language.Script) di.Direction {
	switch script {
	case language.Arabic, language.Hebrew, language.Syriac, language.Thaana, language.Nko:
		return di.DirectionRTL
	default:
		return di.DirectionLTR
	}
}

// DetectScript returns the most frequent script among runes, Latin when
// none is recognised.
func DetectScript(runes []rune) language.Script {
	counts := make(map[language.Script]int)
	maxCount := 0
	bestScript := language.Latin

	for _, r := range runes {
		script := scriptFromRune(r)
		if script == language.Unknown {
			continue
		}
		counts[script]++
		if counts[script] > maxCount {
			maxCount = counts[script]
			bestScript = script
		}
	}
	return bestScript
}

func scriptFromRune(r rune) language.Script {
	switch {
	case unicode.Is(unicode.Arabic, r):
		return language.Arabic
	case unicode.Is(unicode.Hebrew, r):
		return language.Hebrew
	case unicode.Is(unicode.Latin, r):
		return language.Latin
	case unicode.Is(unicode.Cyrillic, r):
		return language.Cyrillic
	case unicode.Is(unicode.Greek, r):
		return language.Greek
	case unicode.Is(unicode.Han, r):
		return language.Han
	case unicode.Is(unicode.Hiragana, r):
		return language.Hiragana
	case unicode.Is(unicode.Katakana, r):
		return language.Katakana
	case unicode.Is(unicode.Hangul, r):
		return language.Hangul
	}
	return language.Unknown
}
