package parser

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/wudi/printmark/filters"
	"github.com/wudi/printmark/ir/raw"
	"github.com/wudi/printmark/recovery"
	"github.com/wudi/printmark/security"
	"github.com/wudi/printmark/xref"
)

var (
	// ErrNotPDF reports input without a %PDF- header.
	ErrNotPDF = errors.New("not a PDF document")
	// ErrEncrypted reports a document carrying an /Encrypt dictionary.
	ErrEncrypted = errors.New("encrypted documents are not supported")
	// ErrTooLarge reports input beyond Limits.MaxJobSize.
	ErrTooLarge = errors.New("document exceeds size limit")
)

// Config controls high-level PDF parsing (xref resolution + object loading).
type Config struct {
	Recovery recovery.Strategy
	XRef     xref.ResolverConfig
	Limits   security.Limits
}

// DocumentParser builds a raw.Document using xref tables/streams and the object loader.
type DocumentParser struct {
	cfg Config
}

func NewDocumentParser(cfg Config) *DocumentParser {
	cfg.Limits = cfg.Limits.WithDefaults()
	if cfg.XRef.Recovery == nil {
		cfg.XRef.Recovery = cfg.Recovery
	}
	if cfg.XRef.MaxXRefDepth == 0 {
		cfg.XRef.MaxXRefDepth = cfg.Limits.MaxXRefDepth
	}
	if cfg.XRef.Filters == nil {
		cfg.XRef.Filters = filters.NewDefaultPipeline(cfg.Limits.Filters())
	}
	return &DocumentParser{cfg: cfg}
}

// Parse loads every live object of data into an in-memory document.
// Object streams are expanded and cross-reference streams dropped, so the
// result can be written back with a classic table.
func (p *DocumentParser) Parse(ctx context.Context, data []byte) (*raw.Document, error) {
	if int64(len(data)) > p.cfg.Limits.MaxJobSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	version, ok := detectHeaderVersion(data)
	if !ok {
		return nil, ErrNotPDF
	}

	resolver := xref.NewResolver(p.cfg.XRef)
	table, err := resolver.Resolve(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("resolve xref: %w", err)
	}
	trailer := table.Trailer()
	if trailer == nil {
		return nil, fmt.Errorf("resolve xref: %w", raw.ErrNoCatalog)
	}
	if _, ok := trailer.Lookup("Encrypt"); ok {
		return nil, ErrEncrypted
	}

	loader := newObjectLoader(data, table, p.cfg.XRef.Filters, p.cfg.Limits, p.cfg.Recovery)
	doc := &raw.Document{
		Objects: make(map[raw.ObjectRef]raw.Object),
		Trailer: cleanTrailer(trailer),
		Version: version,
	}
	for _, objNum := range table.Objects() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if objNum == 0 {
			continue
		}
		ref, obj, err := loader.Load(ctx, objNum)
		if err != nil {
			if p.recover(ctx, err, objNum) {
				continue
			}
			return nil, fmt.Errorf("load object %d: %w", objNum, err)
		}
		if isStructural(obj) {
			continue
		}
		doc.Objects[ref] = obj
	}
	if _, err := doc.Catalog(); err != nil {
		return nil, err
	}
	if v := catalogVersion(doc); v > doc.Version {
		doc.Version = v
	}
	return doc, nil
}

func (p *DocumentParser) recover(ctx context.Context, err error, objNum int) bool {
	if p.cfg.Recovery == nil {
		return false
	}
	return p.cfg.Recovery.OnError(ctx, err, recovery.Location{ObjectNum: objNum, Component: "object"}) != recovery.ActionFail
}

// isStructural reports objects that only describe the old file layout.
func isStructural(obj raw.Object) bool {
	stm, ok := obj.(*raw.StreamObj)
	if !ok {
		return false
	}
	typ, _ := stm.Dict.NameValue("Type")
	return typ == "XRef" || typ == "ObjStm"
}

// cleanTrailer keeps the trailer entries that survive a full rewrite.
func cleanTrailer(t *raw.DictObj) *raw.DictObj {
	out := raw.Dict()
	for _, key := range []string{"Root", "Info", "ID"} {
		if v, ok := t.Lookup(key); ok {
			out.Put(key, raw.Copy(v))
		}
	}
	return out
}

var headerRE = regexp.MustCompile(`%PDF-(\d\.\d)`)

func detectHeaderVersion(data []byte) (string, bool) {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	m := headerRE.FindSubmatch(head)
	if m == nil {
		return "", false
	}
	return string(m[1]), true
}

// catalogVersion returns the /Version override of the catalog, if any.
func catalogVersion(doc *raw.Document) string {
	cat, err := doc.Catalog()
	if err != nil {
		return ""
	}
	v, ok := cat.NameValue("Version")
	if !ok || !strings.Contains(v, ".") {
		return ""
	}
	return v
}
