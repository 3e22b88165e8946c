// Package stamp paints a watermark image onto every page of a document.
package stamp

import (
	"context"
	"errors"
	"fmt"

	"github.com/wudi/printmark/contentstream"
	"github.com/wudi/printmark/coords"
	"github.com/wudi/printmark/filters"
	"github.com/wudi/printmark/ir/raw"
	"github.com/wudi/printmark/observability"
	"github.com/wudi/printmark/optimize"
	"github.com/wudi/printmark/security"
	"github.com/wudi/printmark/watermark"
)

// ErrBadImage reports an image whose buffer does not match its size.
var ErrBadImage = errors.New("image buffer does not match dimensions")

type Config struct {
	Limits   security.Limits
	Optimize optimize.Config
	Logger   observability.Logger
}

// Compositor inserts image XObjects and patches page content. It keeps no
// per-document state and may be shared.
type Compositor struct {
	filters   *filters.Pipeline
	optimizer *optimize.Optimizer
	logger    observability.Logger
}

func NewCompositor(cfg Config) *Compositor {
	limits := cfg.Limits.WithDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &Compositor{
		filters:   filters.NewDefaultPipeline(limits.Filters()),
		optimizer: optimize.New(cfg.Optimize),
		logger:    logger,
	}
}

// Apply paints img at (x, y) in default user space on every page of doc.
// The edit runs on a copy; doc is only replaced once every page has been
// patched and the copy compacted, so a failure leaves doc untouched.
func (c *Compositor) Apply(ctx context.Context, doc *raw.Document, img watermark.Image, x, y float64) error {
	if img.Width <= 0 || img.Height <= 0 || len(img.Pix) != img.Width*img.Height*4 {
		return fmt.Errorf("%w: %dx%d with %d bytes", ErrBadImage, img.Width, img.Height, len(img.Pix))
	}
	work := doc.Clone()
	dangling := doc.Dangling()

	rgb, alpha, err := Split(img.Pix)
	if err != nil {
		return err
	}
	// The soft mask goes in first so the colour image can refer to it.
	maskRef := work.Add(imageXObject(img.Width, img.Height, "DeviceGray", alpha))
	colour := imageXObject(img.Width, img.Height, "DeviceRGB", rgb)
	colour.Dict.Put("SMask", raw.RefTo(maskRef))
	imageRef := work.Add(colour)

	pages, err := work.Pages()
	if err != nil {
		return fmt.Errorf("list pages: %w", err)
	}
	place := coords.Chain(coords.Scale(float64(img.Width), float64(img.Height)), coords.Translate(x, y))
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.stampPage(ctx, work, page, imageRef, place); err != nil {
			return fmt.Errorf("page %s: %w", page, err)
		}
	}

	stats, err := c.optimizer.Optimize(ctx, work)
	if err != nil {
		return fmt.Errorf("compact: %w", err)
	}
	if err := work.ValidateExcept(dangling); err != nil {
		return err
	}
	c.logger.Debug("watermark applied",
		observability.Int("pages", len(pages)),
		observability.Int("pruned", stats.Pruned),
		observability.Int("combined", stats.Combined),
		observability.Int("compressed", stats.Compressed),
	)

	doc.Objects = work.Objects
	doc.Trailer = work.Trailer
	return nil
}

// stampPage registers image on page under a name derived from the page's
// identifier and appends the painting block to its content.
func (c *Compositor) stampPage(ctx context.Context, doc *raw.Document, page, image raw.ObjectRef, place coords.Matrix) error {
	name, err := registerXObject(doc, page, image, fmt.Sprintf("w%d-%d", page.Num, page.Gen))
	if err != nil {
		return err
	}
	ops, err := contentstream.PageOperations(ctx, doc, c.filters, page)
	if err != nil {
		return err
	}
	if leaksState(ops) {
		ops = append(append([]contentstream.Operation{contentstream.Op("q")}, ops...), contentstream.Op("Q"))
	}
	ops = append(ops,
		contentstream.Op("q"),
		contentstream.Op("cm", numbers(place[:]...)...),
		contentstream.Op("Do", raw.NameLiteral(name)),
		contentstream.Op("Q"),
	)
	_, err = contentstream.SetPageContent(doc, page, ops)
	return err
}

// leaksState reports whether ops end with a transformation or open q that
// would displace anything appended after them.
func leaksState(ops []contentstream.Operation) bool {
	state := contentstream.NewGraphicsState()
	if err := contentstream.NewProcessor().Process(ops, state); err != nil {
		return true
	}
	return state.Depth() != 0 || state.CTM != coords.Identity()
}

func imageXObject(width, height int, colorSpace string, samples []byte) *raw.StreamObj {
	d := raw.Dict()
	d.Put("Type", raw.NameLiteral("XObject"))
	d.Put("Subtype", raw.NameLiteral("Image"))
	d.Put("Width", raw.NumberInt(int64(width)))
	d.Put("Height", raw.NumberInt(int64(height)))
	d.Put("ColorSpace", raw.NameLiteral(colorSpace))
	d.Put("BitsPerComponent", raw.NumberInt(8))
	d.Put("Interpolate", raw.Bool(false))
	stm := raw.NewStream(d, nil)
	stm.SetData(samples)
	return stm
}

func numbers(vals ...float64) []raw.Object {
	out := make([]raw.Object, len(vals))
	for i, v := range vals {
		if v == float64(int64(v)) {
			out[i] = raw.NumberInt(int64(v))
		} else {
			out[i] = raw.NumberFloat(v)
		}
	}
	return out
}
