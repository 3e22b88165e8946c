package parser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wudi/printmark/filters"
	"github.com/wudi/printmark/ir/raw"
	"github.com/wudi/printmark/recovery"
	"github.com/wudi/printmark/scanner"
	"github.com/wudi/printmark/security"
	"github.com/wudi/printmark/xref"
)

// objectLoader reads objects from an in-memory file through its xref table.
type objectLoader struct {
	data     []byte
	table    *xref.Table
	pipeline *filters.Pipeline
	limits   security.Limits
	recovery recovery.Strategy

	mu     sync.Mutex
	objstm map[int][]raw.Object
}

func newObjectLoader(data []byte, table *xref.Table, pipeline *filters.Pipeline, limits security.Limits, rec recovery.Strategy) *objectLoader {
	return &objectLoader{
		data:     data,
		table:    table,
		pipeline: pipeline,
		limits:   limits,
		recovery: rec,
		objstm:   make(map[int][]raw.Object),
	}
}

func (o *objectLoader) scanner() *scanner.Scanner {
	return scanner.New(o.data, scanner.Config{
		MaxStringLength: o.limits.MaxStringLength,
		MaxStreamLength: o.limits.MaxStreamLength,
		Recovery:        o.recovery,
	})
}

// Load returns the object numbered objNum together with its full reference.
func (o *objectLoader) Load(ctx context.Context, objNum int) (raw.ObjectRef, raw.Object, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.table.Entry(objNum)
	if !ok {
		return raw.ObjectRef{}, nil, errors.New("object not found in xref")
	}
	switch entry.Kind {
	case xref.EntryInUse:
		return o.loadAtOffset(objNum, entry.Offset, entry.Gen, 0)
	case xref.EntryCompressed:
		obj, err := o.loadFromObjectStream(ctx, entry.Stream, entry.Index)
		return raw.ObjectRef{Num: objNum}, obj, err
	}
	return raw.ObjectRef{}, nil, fmt.Errorf("object %d is free", objNum)
}

func (o *objectLoader) loadAtOffset(objNum int, offset int64, gen int, depth int) (raw.ObjectRef, raw.Object, error) {
	if depth > o.limits.MaxIndirectDepth {
		return raw.ObjectRef{}, nil, errors.New("max depth exceeded")
	}
	s := o.scanner()
	if err := s.Seek(offset); err != nil {
		return raw.ObjectRef{}, nil, err
	}
	ref, obj, err := s.ReadIndirect(func(r raw.ObjectRef) (int64, bool) {
		return o.lengthOf(r, depth+1)
	})
	if err != nil {
		return ref, nil, err
	}
	if ref.Num != objNum || ref.Gen != gen {
		return ref, nil, fmt.Errorf("object header %s does not match xref entry %d %d", ref, objNum, gen)
	}
	return ref, obj, nil
}

// lengthOf resolves an indirect /Length without taking the loader lock.
func (o *objectLoader) lengthOf(ref raw.ObjectRef, depth int) (int64, bool) {
	offset, gen, ok := o.table.Lookup(ref.Num)
	if !ok || gen != ref.Gen {
		return 0, false
	}
	_, obj, err := o.loadAtOffset(ref.Num, offset, gen, depth)
	if err != nil {
		return 0, false
	}
	n, ok := obj.(raw.NumberObj)
	if !ok {
		return 0, false
	}
	return n.Int(), true
}

func (o *objectLoader) loadFromObjectStream(ctx context.Context, streamNum, index int) (raw.Object, error) {
	objs, ok := o.objstm[streamNum]
	if !ok {
		var err error
		objs, err = o.expandObjectStream(ctx, streamNum)
		if err != nil {
			return nil, fmt.Errorf("object stream %d: %w", streamNum, err)
		}
		o.objstm[streamNum] = objs
	}
	if index < 0 || index >= len(objs) {
		return nil, fmt.Errorf("object stream %d has no index %d", streamNum, index)
	}
	return objs[index], nil
}

func (o *objectLoader) expandObjectStream(ctx context.Context, streamNum int) ([]raw.Object, error) {
	offset, gen, ok := o.table.Lookup(streamNum)
	if !ok {
		return nil, errors.New("not an uncompressed object")
	}
	_, obj, err := o.loadAtOffset(streamNum, offset, gen, 0)
	if err != nil {
		return nil, err
	}
	stm, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, errors.New("not a stream")
	}
	n, _ := stm.Dict.IntValue("N")
	first, _ := stm.Dict.IntValue("First")
	payload, err := o.pipeline.DecodeStream(ctx, stm)
	if err != nil {
		return nil, err
	}
	if first < 0 || first > int64(len(payload)) {
		return nil, errors.New("/First beyond payload")
	}
	header := scanner.New(payload[:first], scanner.Config{})
	offsets := make([]int64, 0, n)
	for i := int64(0); i < n; i++ {
		_, err1 := header.Next()
		offTok, err2 := header.Next()
		if err := errors.Join(err1, err2); err != nil {
			return nil, fmt.Errorf("header entry %d: %w", i, err)
		}
		offsets = append(offsets, offTok.Int)
	}
	body := scanner.New(payload, scanner.Config{Recovery: o.recovery})
	objs := make([]raw.Object, 0, n)
	for i, off := range offsets {
		if err := body.Seek(first + off); err != nil {
			return nil, fmt.Errorf("member %d: %w", i, err)
		}
		member, err := body.ReadObject()
		if err != nil {
			return nil, fmt.Errorf("member %d: %w", i, err)
		}
		objs = append(objs, member)
	}
	return objs, nil
}
