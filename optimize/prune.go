package optimize

import "github.com/wudi/printmark/ir/raw"

// pruneUnreachable deletes every object that cannot be reached from the
// trailer and returns how many were removed.
func (o *Optimizer) pruneUnreachable(doc *raw.Document) int {
	reachable := make(map[raw.ObjectRef]bool)
	if doc.Trailer != nil {
		o.markReachable(doc, doc.Trailer, reachable)
	}

	removed := 0
	for ref := range doc.Objects {
		if !reachable[ref] {
			delete(doc.Objects, ref)
			removed++
		}
	}
	return removed
}

func (o *Optimizer) markReachable(doc *raw.Document, obj raw.Object, reachable map[raw.ObjectRef]bool) {
	raw.Walk(obj, func(ref raw.ObjectRef) {
		if reachable[ref] {
			return
		}
		reachable[ref] = true
		if target, ok := doc.Objects[ref]; ok {
			o.markReachable(doc, target, reachable)
		}
	})
}
