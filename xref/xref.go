package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/wudi/printmark/filters"
	"github.com/wudi/printmark/ir/raw"
	"github.com/wudi/printmark/recovery"
	"github.com/wudi/printmark/scanner"
)

var (
	// ErrNoStartXRef reports a file without a usable startxref pointer.
	ErrNoStartXRef = errors.New("startxref not found")
	// ErrBadSection reports a cross-reference section that cannot be parsed.
	ErrBadSection = errors.New("malformed cross-reference section")
)

// EntryKind classifies a cross-reference entry.
type EntryKind int

const (
	EntryFree EntryKind = iota
	EntryInUse
	EntryCompressed
)

// Entry locates one object. InUse entries carry a byte offset, compressed
// entries the object stream number and the index inside it.
type Entry struct {
	Kind   EntryKind
	Offset int64
	Gen    int
	Stream int
	Index  int
}

// Table is the merged view over every cross-reference section in a file,
// newest revision first.
type Table struct {
	entries map[int]Entry
	trailer *raw.DictObj
	kind    string
}

func newTable(kind string) *Table {
	return &Table{entries: make(map[int]Entry), kind: kind}
}

// Lookup returns the offset and generation of an uncompressed object.
func (t *Table) Lookup(objNum int) (offset int64, gen int, found bool) {
	e, ok := t.entries[objNum]
	if !ok || e.Kind != EntryInUse {
		return 0, 0, false
	}
	return e.Offset, e.Gen, true
}

// ObjStream returns the object stream holding objNum.
func (t *Table) ObjStream(objNum int) (stream int, index int, found bool) {
	e, ok := t.entries[objNum]
	if !ok || e.Kind != EntryCompressed {
		return 0, 0, false
	}
	return e.Stream, e.Index, true
}

// Entry returns the raw entry for objNum.
func (t *Table) Entry(objNum int) (Entry, bool) {
	e, ok := t.entries[objNum]
	return e, ok
}

// Objects lists the numbers of all objects that are not free.
func (t *Table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for k, e := range t.entries {
		if e.Kind != EntryFree {
			out = append(out, k)
		}
	}
	sort.Ints(out)
	return out
}

// Type names the form of the newest section: "table", "xref-stream" or
// "repaired".
func (t *Table) Type() string { return t.kind }

// Trailer returns the trailer dictionary of the newest revision.
func (t *Table) Trailer() *raw.DictObj { return t.trailer }

// add records e unless a newer section already defined objNum.
func (t *Table) add(objNum int, e Entry) {
	if _, ok := t.entries[objNum]; ok {
		return
	}
	t.entries[objNum] = e
}

type ResolverConfig struct {
	MaxXRefDepth int
	Recovery     recovery.Strategy
	Filters      *filters.Pipeline
}

// Resolver locates and parses the cross-reference data of a file.
type Resolver interface {
	Resolve(ctx context.Context, data []byte) (*Table, error)
	Linearized() bool
	Trailer() *raw.DictObj
}

// NewResolver returns a resolver for classic tables, cross-reference
// streams and hybrid files. When the chain cannot be followed and the
// recovery strategy allows it, the file is rescanned object by object.
func NewResolver(cfg ResolverConfig) Resolver {
	if cfg.MaxXRefDepth <= 0 {
		cfg.MaxXRefDepth = 50
	}
	if cfg.Filters == nil {
		cfg.Filters = filters.NewDefaultPipeline(filters.Limits{})
	}
	return &resolver{cfg: cfg}
}

type resolver struct {
	cfg        ResolverConfig
	linearized bool
	trailer    *raw.DictObj
}

func (r *resolver) Linearized() bool      { return r.linearized }
func (r *resolver) Trailer() *raw.DictObj { return r.trailer }

func (r *resolver) Resolve(ctx context.Context, data []byte) (*Table, error) {
	r.linearized = detectLinearized(data)
	table, err := r.follow(ctx, data)
	if err != nil {
		if r.cfg.Recovery == nil || r.cfg.Recovery.OnError(ctx, err, recovery.Location{Component: "xref"}) == recovery.ActionFail {
			return nil, err
		}
		table, err = Repair(ctx, data, r.cfg.Filters)
		if err != nil {
			return nil, err
		}
	}
	r.trailer = table.trailer
	return table, nil
}

func (r *resolver) follow(ctx context.Context, data []byte) (*Table, error) {
	offset, err := findStartXRef(data)
	if err != nil {
		return nil, err
	}
	var table *Table
	visited := make(map[int64]bool)
	for depth := 0; offset >= 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if depth >= r.cfg.MaxXRefDepth {
			return nil, fmt.Errorf("%w: more than %d sections", ErrBadSection, r.cfg.MaxXRefDepth)
		}
		if visited[offset] {
			return nil, fmt.Errorf("%w: /Prev loop at %d", ErrBadSection, offset)
		}
		visited[offset] = true
		if offset >= int64(len(data)) {
			return nil, fmt.Errorf("%w: offset %d out of range", ErrBadSection, offset)
		}

		kind := sectionKind(data, offset)
		if table == nil {
			table = newTable(kind)
		}
		var trailer *raw.DictObj
		switch kind {
		case "table":
			trailer, err = r.readTable(data, offset, table)
			if err == nil {
				if stm, ok := trailer.IntValue("XRefStm"); ok {
					if _, err = r.readStream(ctx, data, stm, table); err != nil {
						return nil, err
					}
				}
			}
		default:
			trailer, err = r.readStream(ctx, data, offset, table)
		}
		if err != nil {
			return nil, err
		}
		if table.trailer == nil {
			table.trailer = trailer
		}
		prev, ok := trailer.IntValue("Prev")
		if !ok {
			break
		}
		offset = prev
	}
	if err := validateSize(table); err != nil {
		return nil, err
	}
	return table, nil
}

func findStartXRef(data []byte) (int64, error) {
	idx := bytes.LastIndex(data, []byte("startxref"))
	if idx < 0 {
		return 0, ErrNoStartXRef
	}
	s := scanner.New(data[idx+len("startxref"):], scanner.Config{})
	tok, err := s.Next()
	if err != nil || tok.Type != scanner.TokenNumber || !tok.IsInt || tok.Int < 0 {
		return 0, fmt.Errorf("%w: no offset after keyword", ErrNoStartXRef)
	}
	return tok.Int, nil
}

func sectionKind(data []byte, offset int64) string {
	rest := bytes.TrimLeft(data[offset:], " \t\r\n\f\x00")
	if bytes.HasPrefix(rest, []byte("xref")) {
		return "table"
	}
	return "xref-stream"
}

// readTable parses a classic "xref ... trailer <<>>" section.
func (r *resolver) readTable(data []byte, offset int64, table *Table) (*raw.DictObj, error) {
	s := scanner.New(data, scanner.Config{})
	if err := s.Seek(offset); err != nil {
		return nil, err
	}
	if tok, err := s.Next(); err != nil || tok.Str != "xref" {
		return nil, fmt.Errorf("%w: xref keyword missing at %d", ErrBadSection, offset)
	}
	for {
		tok, err := s.Next()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadSection, err)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			break
		}
		countTok, err := s.Next()
		if err != nil || tok.Type != scanner.TokenNumber || countTok.Type != scanner.TokenNumber {
			return nil, fmt.Errorf("%w: bad subsection header at %d", ErrBadSection, tok.Pos)
		}
		start, count := int(tok.Int), int(countTok.Int)
		for i := 0; i < count; i++ {
			offTok, err1 := s.Next()
			genTok, err2 := s.Next()
			kindTok, err3 := s.Next()
			if err := errors.Join(err1, err2, err3); err != nil {
				return nil, fmt.Errorf("%w: truncated subsection: %v", ErrBadSection, err)
			}
			if offTok.Type != scanner.TokenNumber || genTok.Type != scanner.TokenNumber {
				return nil, fmt.Errorf("%w: bad entry at %d", ErrBadSection, offTok.Pos)
			}
			num := start + i
			// Some writers number the first subsection from 1 while still
			// listing the free head entry.
			if start == 1 && i == 0 && kindTok.Str == "f" && offTok.Int == 0 && genTok.Int == 65535 {
				start = 0
				num = 0
			}
			switch kindTok.Str {
			case "n":
				table.add(num, Entry{Kind: EntryInUse, Offset: offTok.Int, Gen: int(genTok.Int)})
			case "f":
				table.add(num, Entry{Kind: EntryFree, Gen: int(genTok.Int)})
			default:
				return nil, fmt.Errorf("%w: entry type %q", ErrBadSection, kindTok.Str)
			}
		}
	}
	obj, err := s.ReadObject()
	if err != nil {
		return nil, fmt.Errorf("%w: trailer: %v", ErrBadSection, err)
	}
	trailer, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, fmt.Errorf("%w: trailer is not a dictionary", ErrBadSection)
	}
	return trailer, nil
}

// readStream parses a cross-reference stream object at offset.
func (r *resolver) readStream(ctx context.Context, data []byte, offset int64, table *Table) (*raw.DictObj, error) {
	s := scanner.New(data, scanner.Config{})
	if err := s.Seek(offset); err != nil {
		return nil, err
	}
	_, obj, err := s.ReadIndirect(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSection, err)
	}
	stm, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, fmt.Errorf("%w: object at %d is not a stream", ErrBadSection, offset)
	}
	if typ, _ := stm.Dict.NameValue("Type"); typ != "XRef" {
		return nil, fmt.Errorf("%w: stream at %d is not /Type /XRef", ErrBadSection, offset)
	}
	payload, err := r.cfg.Filters.DecodeStream(ctx, stm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSection, err)
	}
	if err := decodeStreamEntries(stm.Dict, payload, table); err != nil {
		return nil, err
	}
	return stm.Dict, nil
}

func decodeStreamEntries(dict *raw.DictObj, payload []byte, table *Table) error {
	widths, err := intArray(dict, "W")
	if err != nil || len(widths) != 3 {
		return fmt.Errorf("%w: /W must hold three widths", ErrBadSection)
	}
	for _, w := range widths {
		if w < 0 || w > 8 {
			return fmt.Errorf("%w: field width %d", ErrBadSection, w)
		}
	}
	size, _ := dict.IntValue("Size")
	index, err := intArray(dict, "Index")
	if err != nil || len(index) == 0 {
		index = []int64{0, size}
	}
	if len(index)%2 != 0 {
		return fmt.Errorf("%w: odd /Index length", ErrBadSection)
	}
	rowLen := int(widths[0] + widths[1] + widths[2])
	if rowLen == 0 {
		return fmt.Errorf("%w: zero row width", ErrBadSection)
	}
	pos := 0
	for i := 0; i < len(index); i += 2 {
		start, count := index[i], index[i+1]
		for j := int64(0); j < count; j++ {
			if pos+rowLen > len(payload) {
				return fmt.Errorf("%w: stream ends inside row %d", ErrBadSection, start+j)
			}
			row := payload[pos : pos+rowLen]
			pos += rowLen
			typ := int64(1)
			if widths[0] > 0 {
				typ = field(row[:widths[0]])
			}
			f2 := field(row[widths[0] : widths[0]+widths[1]])
			f3 := field(row[widths[0]+widths[1]:])
			num := int(start + j)
			switch typ {
			case 0:
				table.add(num, Entry{Kind: EntryFree, Gen: int(f3)})
			case 1:
				table.add(num, Entry{Kind: EntryInUse, Offset: f2, Gen: int(f3)})
			case 2:
				table.add(num, Entry{Kind: EntryCompressed, Stream: int(f2), Index: int(f3)})
			}
		}
	}
	return nil
}

func field(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

func intArray(dict *raw.DictObj, key string) ([]int64, error) {
	v, ok := dict.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("missing /%s", key)
	}
	arr, ok := v.(*raw.ArrayObj)
	if !ok {
		return nil, fmt.Errorf("/%s is not an array", key)
	}
	out := make([]int64, 0, arr.Len())
	for _, it := range arr.Items {
		n, ok := it.(raw.NumberObj)
		if !ok {
			return nil, fmt.Errorf("/%s holds a %s", key, it.Type())
		}
		out = append(out, n.Int())
	}
	return out, nil
}

func validateSize(t *Table) error {
	size, ok := t.trailer.IntValue("Size")
	if !ok {
		return fmt.Errorf("%w: trailer has no /Size", ErrBadSection)
	}
	for num, e := range t.entries {
		if e.Kind != EntryFree && int64(num) >= size {
			return fmt.Errorf("%w: object %d beyond /Size %d", ErrBadSection, num, size)
		}
	}
	return nil
}

// detectLinearized reports whether the first object in the file carries a
// /Linearized entry.
func detectLinearized(data []byte) bool {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	idx := bytes.Index(head, []byte(" obj"))
	if idx < 0 {
		return false
	}
	start := bytes.LastIndexAny(head[:idx], "\r\n")
	s := scanner.New(data, scanner.Config{})
	if err := s.Seek(int64(start + 1)); err != nil {
		return false
	}
	_, obj, err := s.ReadIndirect(nil)
	if err != nil {
		return false
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return false
	}
	_, ok = dict.Lookup("Linearized")
	return ok
}

