package raw

import (
	"errors"
	"fmt"
)

var (
	// ErrDanglingReference reports a reference to an object missing from the arena.
	ErrDanglingReference = errors.New("dangling reference")
	// ErrNoCatalog reports a trailer without a usable /Root.
	ErrNoCatalog = errors.New("document catalog not found")
)

const maxResolveDepth = 32

// MaxObjectNumber returns the highest object number in use.
func (d *Document) MaxObjectNumber() int {
	max := 0
	for ref := range d.Objects {
		if ref.Num > max {
			max = ref.Num
		}
	}
	return max
}

// Add inserts obj under a fresh identifier and returns it.
func (d *Document) Add(obj Object) ObjectRef {
	if d.Objects == nil {
		d.Objects = make(map[ObjectRef]Object)
	}
	ref := ObjectRef{Num: d.MaxObjectNumber() + 1}
	d.Objects[ref] = obj
	return ref
}

// Resolve follows indirect references until a direct object is reached.
// A reference to a missing object resolves to NullObj, as PDF requires.
func (d *Document) Resolve(obj Object) Object {
	for i := 0; i < maxResolveDepth; i++ {
		ref, ok := obj.(RefObj)
		if !ok {
			return obj
		}
		target, ok := d.Objects[ref.R]
		if !ok {
			return NullObj{}
		}
		obj = target
	}
	return NullObj{}
}

// ResolveDict resolves obj and returns it as a dictionary. Stream
// dictionaries are not returned.
func (d *Document) ResolveDict(obj Object) (*DictObj, bool) {
	dict, ok := d.Resolve(obj).(*DictObj)
	return dict, ok
}

// Catalog returns the document catalog.
func (d *Document) Catalog() (*DictObj, error) {
	if d.Trailer == nil {
		return nil, ErrNoCatalog
	}
	root, ok := d.Trailer.Lookup("Root")
	if !ok {
		return nil, ErrNoCatalog
	}
	cat, ok := d.ResolveDict(root)
	if !ok {
		return nil, ErrNoCatalog
	}
	return cat, nil
}

// Pages returns the page objects in document order by walking the page tree.
func (d *Document) Pages() ([]ObjectRef, error) {
	cat, err := d.Catalog()
	if err != nil {
		return nil, err
	}
	rootObj, ok := cat.Lookup("Pages")
	if !ok {
		return nil, errors.New("catalog has no /Pages")
	}
	rootRef, ok := rootObj.(RefObj)
	if !ok {
		return nil, errors.New("/Pages is not an indirect reference")
	}
	var pages []ObjectRef
	visited := make(map[ObjectRef]bool)
	var walk func(ref ObjectRef) error
	walk = func(ref ObjectRef) error {
		if visited[ref] {
			return fmt.Errorf("page tree cycle at %s", ref)
		}
		visited[ref] = true
		node, ok := d.Objects[ref].(*DictObj)
		if !ok {
			return fmt.Errorf("page tree node %s: %w", ref, ErrDanglingReference)
		}
		typ, _ := node.NameValue("Type")
		kidsObj, hasKids := node.Lookup("Kids")
		if typ == "Page" || (!hasKids && typ != "Pages") {
			pages = append(pages, ref)
			return nil
		}
		kids, ok := d.Resolve(kidsObj).(*ArrayObj)
		if !ok {
			return fmt.Errorf("page tree node %s has no /Kids array", ref)
		}
		for _, kid := range kids.Items {
			kidRef, ok := kid.(RefObj)
			if !ok {
				return fmt.Errorf("page tree node %s has a direct kid", ref)
			}
			if err := walk(kidRef.R); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(rootRef.R); err != nil {
		return nil, err
	}
	return pages, nil
}

// Inherited looks key up on the page and then on its ancestors, following
// the inheritable-attribute rule of the page tree.
func (d *Document) Inherited(page ObjectRef, key string) (Object, bool) {
	node, ok := d.Objects[page].(*DictObj)
	for depth := 0; ok && depth < maxResolveDepth; depth++ {
		if v, found := node.Lookup(key); found {
			return v, true
		}
		parent, found := node.Lookup("Parent")
		if !found {
			break
		}
		node, ok = d.ResolveDict(parent)
	}
	return nil, false
}

// Clone returns a deep copy of the document. Mutations on the clone never
// reach the original.
func (d *Document) Clone() *Document {
	out := &Document{Objects: make(map[ObjectRef]Object, len(d.Objects)), Version: d.Version}
	for ref, obj := range d.Objects {
		out.Objects[ref] = Copy(obj)
	}
	if d.Trailer != nil {
		out.Trailer = copyDict(d.Trailer)
	}
	return out
}

// Validate reports the first reference that does not resolve inside the arena.
func (d *Document) Validate() error { return d.ValidateExcept(nil) }

// ValidateExcept is Validate ignoring references to the targets in known.
// Readers treat a reference to a missing object as null, so callers editing
// a document pass the set returned by Dangling before the edit.
func (d *Document) ValidateExcept(known map[ObjectRef]bool) error {
	refs := make([]ObjectRef, 0, len(d.Objects))
	for ref := range d.Objects {
		refs = append(refs, ref)
	}
	SortRefs(refs)
	var missing *ObjectRef
	check := func(r ObjectRef) {
		if missing != nil || known[r] {
			return
		}
		if _, ok := d.Objects[r]; !ok {
			missing = &r
		}
	}
	for _, ref := range refs {
		Walk(d.Objects[ref], check)
		if missing != nil {
			return fmt.Errorf("object %s -> %s: %w", ref, *missing, ErrDanglingReference)
		}
	}
	if d.Trailer != nil {
		for _, key := range []string{"Root", "Info"} {
			if v, ok := d.Trailer.Lookup(key); ok {
				Walk(v, check)
			}
		}
		if missing != nil {
			return fmt.Errorf("trailer -> %s: %w", *missing, ErrDanglingReference)
		}
	}
	return nil
}

// Dangling returns every referenced object missing from the arena.
func (d *Document) Dangling() map[ObjectRef]bool {
	out := make(map[ObjectRef]bool)
	check := func(r ObjectRef) {
		if _, ok := d.Objects[r]; !ok {
			out[r] = true
		}
	}
	for _, obj := range d.Objects {
		Walk(obj, check)
	}
	if d.Trailer != nil {
		Walk(d.Trailer, check)
	}
	return out
}
