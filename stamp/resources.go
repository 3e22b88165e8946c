package stamp

import (
	"fmt"

	"github.com/wudi/printmark/ir/raw"
)

// registerXObject adds image to the page's /XObject resources and returns
// the name it was registered under. Inherited resources are copied onto the
// page first so siblings are not affected.
func registerXObject(doc *raw.Document, page, image raw.ObjectRef, base string) (string, error) {
	dict, ok := doc.Objects[page].(*raw.DictObj)
	if !ok {
		return "", fmt.Errorf("page %s: %w", page, raw.ErrDanglingReference)
	}
	res, err := pageResources(doc, dict, page)
	if err != nil {
		return "", err
	}
	xobjects, ok := subDict(doc, res, "XObject")
	if !ok {
		return "", fmt.Errorf("page %s: /XObject is not a dictionary", page)
	}

	name := base
	for i := 1; ; i++ {
		cur, taken := xobjects.Lookup(name)
		if !taken {
			break
		}
		if r, ok := cur.(raw.RefObj); ok && r.R == image {
			return name, nil
		}
		name = fmt.Sprintf("%s-%d", base, i)
	}
	xobjects.Put(name, raw.RefTo(image))
	return name, nil
}

func pageResources(doc *raw.Document, page *raw.DictObj, ref raw.ObjectRef) (*raw.DictObj, error) {
	if v, ok := page.Lookup("Resources"); ok {
		if res, ok := doc.ResolveDict(v); ok {
			return res, nil
		}
		return nil, fmt.Errorf("page %s: /Resources is not a dictionary", ref)
	}
	res := raw.Dict()
	if v, ok := doc.Inherited(ref, "Resources"); ok {
		if inherited, ok := doc.ResolveDict(v); ok {
			res = raw.Copy(inherited).(*raw.DictObj)
		}
	}
	page.Put("Resources", res)
	return res, nil
}

// subDict returns res[key] as a dictionary, creating it when absent.
func subDict(doc *raw.Document, res *raw.DictObj, key string) (*raw.DictObj, bool) {
	v, ok := res.Lookup(key)
	if !ok {
		d := raw.Dict()
		res.Put(key, d)
		return d, true
	}
	return doc.ResolveDict(v)
}
