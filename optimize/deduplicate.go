package optimize

import (
	"context"

	"github.com/wudi/printmark/ir/raw"
)

// Page tree nodes keep their identity even when two of them are equal:
// merging them would list the same page twice.
var structural = map[string]bool{"Catalog": true, "Pages": true, "Page": true}

// combineIdenticalObjects folds byte-identical indirect objects into the
// lowest-numbered copy and rewrites references. It repeats until stable
// because merging children can make parents identical.
func (o *Optimizer) combineIdenticalObjects(ctx context.Context, doc *raw.Document) (int, error) {
	total := 0
	changed := true
	for changed {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		changed = false
		seen := make(map[string]raw.ObjectRef)
		replacements := make(map[raw.ObjectRef]raw.ObjectRef)

		refs := make([]raw.ObjectRef, 0, len(doc.Objects))
		for ref := range doc.Objects {
			refs = append(refs, ref)
		}
		raw.SortRefs(refs)

		for _, ref := range refs {
			obj := doc.Objects[ref]
			if isStructural(obj) {
				continue
			}
			h := hashObject(obj)
			if original, ok := seen[h]; ok {
				replacements[ref] = original
				changed = true
			} else {
				seen[h] = ref
			}
		}

		if len(replacements) > 0 {
			o.applyReplacements(doc, replacements)
			for dup := range replacements {
				delete(doc.Objects, dup)
			}
			total += len(replacements)
		}
	}
	return total, nil
}

func isStructural(obj raw.Object) bool {
	var dict *raw.DictObj
	switch t := obj.(type) {
	case *raw.DictObj:
		dict = t
	case *raw.StreamObj:
		dict = t.Dict
	default:
		return false
	}
	typ, _ := dict.NameValue("Type")
	return structural[typ]
}

func (o *Optimizer) applyReplacements(doc *raw.Document, replacements map[raw.ObjectRef]raw.ObjectRef) {
	for _, obj := range doc.Objects {
		o.replaceRefsInObject(obj, replacements)
	}
	if doc.Trailer != nil {
		o.replaceRefsInObject(doc.Trailer, replacements)
	}
}

func (o *Optimizer) replaceRefsInObject(obj raw.Object, replacements map[raw.ObjectRef]raw.ObjectRef) {
	switch t := obj.(type) {
	case *raw.ArrayObj:
		for i, val := range t.Items {
			if ref, ok := val.(raw.RefObj); ok {
				if newRef, found := replacements[ref.R]; found {
					t.Items[i] = raw.RefTo(newRef)
				}
			} else {
				o.replaceRefsInObject(val, replacements)
			}
		}
	case *raw.DictObj:
		if t == nil {
			return
		}
		for key, val := range t.KV {
			if ref, ok := val.(raw.RefObj); ok {
				if newRef, found := replacements[ref.R]; found {
					t.KV[key] = raw.RefTo(newRef)
				}
			} else {
				o.replaceRefsInObject(val, replacements)
			}
		}
	case *raw.StreamObj:
		o.replaceRefsInObject(t.Dict, replacements)
	}
}
