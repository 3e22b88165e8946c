package contentstream

import (
	"context"
	"fmt"

	"github.com/wudi/printmark/filters"
	"github.com/wudi/printmark/ir/raw"
)

// PageContent returns the decoded content of a page. When /Contents is an
// array its streams are joined with a newline, as a viewer would.
func PageContent(ctx context.Context, doc *raw.Document, pipeline *filters.Pipeline, page raw.ObjectRef) ([]byte, error) {
	dict, ok := doc.Objects[page].(*raw.DictObj)
	if !ok {
		return nil, fmt.Errorf("page %s: %w", page, raw.ErrDanglingReference)
	}
	contents, ok := dict.Lookup("Contents")
	if !ok {
		return nil, nil
	}
	var streams []raw.Object
	switch t := doc.Resolve(contents).(type) {
	case *raw.ArrayObj:
		streams = t.Items
	case *raw.StreamObj:
		streams = []raw.Object{t}
	case raw.NullObj:
		return nil, nil
	default:
		return nil, fmt.Errorf("page %s: /Contents is a %s", page, t.Type())
	}
	var out []byte
	for i, item := range streams {
		stm, ok := doc.Resolve(item).(*raw.StreamObj)
		if !ok {
			continue
		}
		data, err := pipeline.DecodeStream(ctx, stm)
		if err != nil {
			return nil, fmt.Errorf("page %s content %d: %w", page, i, err)
		}
		if len(out) > 0 {
			out = append(out, '\n')
		}
		out = append(out, data...)
	}
	return out, nil
}

// PageOperations parses the decoded content of a page.
func PageOperations(ctx context.Context, doc *raw.Document, pipeline *filters.Pipeline, page raw.ObjectRef) ([]Operation, error) {
	data, err := PageContent(ctx, doc, pipeline, page)
	if err != nil {
		return nil, err
	}
	ops, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("page %s: %w", page, err)
	}
	return ops, nil
}

// SetPageContent stores ops as a new uncompressed stream object and points
// the page's /Contents at it. The previous streams stay in the arena until
// unreachable objects are pruned.
func SetPageContent(doc *raw.Document, page raw.ObjectRef, ops []Operation) (raw.ObjectRef, error) {
	dict, ok := doc.Objects[page].(*raw.DictObj)
	if !ok {
		return raw.ObjectRef{}, fmt.Errorf("page %s: %w", page, raw.ErrDanglingReference)
	}
	stm := raw.NewStream(raw.Dict(), nil)
	stm.SetData(Encode(ops))
	ref := doc.Add(stm)
	dict.Put("Contents", raw.RefTo(ref))
	return ref, nil
}
