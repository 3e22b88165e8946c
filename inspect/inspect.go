// Package inspect classifies documents by the coordinate conventions their
// page content uses.
package inspect

import (
	"context"

	"github.com/wudi/printmark/contentstream"
	"github.com/wudi/printmark/coords"
	"github.com/wudi/printmark/filters"
	"github.com/wudi/printmark/ir/raw"
	"github.com/wudi/printmark/security"
)

// Analyzer inspects page content operators.
type Analyzer struct {
	Filters *filters.Pipeline
}

func NewAnalyzer(limits security.Limits) *Analyzer {
	return &Analyzer{Filters: filters.NewDefaultPipeline(limits.WithDefaults().Filters())}
}

// FlippedYAxis reports whether any page applies a cm operator whose vertical
// scale (fourth operand) is negative. Renderers that draw in a top-left
// origin space emit such a matrix up front.
//
// This is a heuristic over the operator stream only: a mirror hidden inside
// a form XObject, or undone by a later cm, is not accounted for.
func (a *Analyzer) FlippedYAxis(ctx context.Context, doc *raw.Document) (bool, error) {
	pages, err := doc.Pages()
	if err != nil {
		return false, err
	}
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		ops, err := contentstream.PageOperations(ctx, doc, a.Filters, page)
		if err != nil {
			return false, err
		}
		for _, op := range ops {
			if op.Operator != "cm" {
				continue
			}
			nums, ok := op.Numbers()
			if ok && len(nums) == 6 && (coords.Matrix{nums[0], nums[1], nums[2], nums[3], nums[4], nums[5]}).FlipsY() {
				return true, nil
			}
		}
	}
	return false, nil
}

// FlippedYAxis runs a default Analyzer.
func FlippedYAxis(ctx context.Context, doc *raw.Document) (bool, error) {
	return NewAnalyzer(security.DefaultLimits()).FlippedYAxis(ctx, doc)
}
