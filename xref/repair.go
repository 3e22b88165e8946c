package xref

import (
	"context"
	"errors"
	"io"

	"github.com/wudi/printmark/filters"
	"github.com/wudi/printmark/ir/raw"
	"github.com/wudi/printmark/recovery"
	"github.com/wudi/printmark/scanner"
)

// Repair rebuilds a table by scanning the file for "num gen obj" headers.
// Later definitions win, matching incremental update order. Objects held in
// object streams are indexed from the streams' headers.
func Repair(ctx context.Context, data []byte, pipeline *filters.Pipeline) (*Table, error) {
	if pipeline == nil {
		pipeline = filters.NewDefaultPipeline(filters.Limits{})
	}
	s := scanner.New(data, scanner.Config{Recovery: recovery.NewLenientStrategy()})
	table := newTable("repaired")
	var trailer, xrefDict, catalog *raw.DictObj
	var catalogRef raw.ObjectRef
	var objStreams []*raw.StreamObj
	var objStreamNums []int

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tok, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			continue
		}
		switch {
		case tok.Type == scanner.TokenNumber && tok.IsInt:
			genTok, err := s.Next()
			if err != nil {
				continue
			}
			if genTok.Type != scanner.TokenNumber || !genTok.IsInt {
				_ = s.Seek(genTok.Pos)
				continue
			}
			objTok, err := s.Next()
			if err != nil {
				continue
			}
			if objTok.Type != scanner.TokenKeyword || objTok.Str != "obj" {
				// "999 1 0 obj": the generation token may start the real header.
				_ = s.Seek(genTok.Pos)
				continue
			}
			num := int(tok.Int)
			table.entries[num] = Entry{Kind: EntryInUse, Offset: tok.Pos, Gen: int(genTok.Int)}
			if err := s.Seek(tok.Pos); err != nil {
				return nil, err
			}
			ref, obj, err := s.ReadIndirect(nil)
			if err != nil {
				_ = s.Seek(objTok.Pos + 3)
				continue
			}
			switch t := obj.(type) {
			case *raw.DictObj:
				if typ, _ := t.NameValue("Type"); typ == "Catalog" {
					catalog, catalogRef = t, ref
				}
			case *raw.StreamObj:
				switch typ, _ := t.Dict.NameValue("Type"); typ {
				case "XRef":
					xrefDict = t.Dict
				case "ObjStm":
					objStreams = append(objStreams, t)
					objStreamNums = append(objStreamNums, num)
				}
			}
		case tok.Type == scanner.TokenKeyword && tok.Str == "trailer":
			obj, err := s.ReadObject()
			if err != nil {
				continue
			}
			if dict, ok := obj.(*raw.DictObj); ok {
				trailer = dict
			}
		}
	}

	for i, stm := range objStreams {
		nums, err := objStreamMembers(ctx, pipeline, stm)
		if err != nil {
			continue
		}
		for idx, num := range nums {
			if _, ok := table.entries[num]; ok {
				continue
			}
			table.entries[num] = Entry{Kind: EntryCompressed, Stream: objStreamNums[i], Index: idx}
		}
	}

	if len(table.entries) == 0 {
		return nil, errors.New("repair failed: no objects found")
	}
	switch {
	case trailer != nil:
	case xrefDict != nil:
		trailer = raw.Dict()
		for _, key := range []string{"Root", "Info", "ID", "Encrypt"} {
			if v, ok := xrefDict.Lookup(key); ok {
				trailer.Put(key, v)
			}
		}
	default:
		trailer = raw.Dict()
		if catalog != nil {
			trailer.Put("Root", raw.RefTo(catalogRef))
		}
	}
	max := 0
	for num := range table.entries {
		if num > max {
			max = num
		}
	}
	trailer.Put("Size", raw.NumberInt(int64(max+1)))
	trailer.Delete("Prev")
	trailer.Delete("XRefStm")
	table.trailer = trailer
	return table, nil
}

// objStreamMembers returns the object numbers listed in an object stream
// header, in index order.
func objStreamMembers(ctx context.Context, pipeline *filters.Pipeline, stm *raw.StreamObj) ([]int, error) {
	n, _ := stm.Dict.IntValue("N")
	first, _ := stm.Dict.IntValue("First")
	payload, err := pipeline.DecodeStream(ctx, stm)
	if err != nil {
		return nil, err
	}
	if first > int64(len(payload)) {
		return nil, errors.New("object stream /First beyond payload")
	}
	hs := scanner.New(payload[:first], scanner.Config{})
	nums := make([]int, 0, n)
	for i := int64(0); i < n; i++ {
		numTok, err1 := hs.Next()
		_, err2 := hs.Next()
		if err := errors.Join(err1, err2); err != nil {
			return nil, err
		}
		nums = append(nums, int(numTok.Int))
	}
	return nums, nil
}
