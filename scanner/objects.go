package scanner

import (
	"errors"
	"fmt"
	"io"

	"github.com/wudi/printmark/ir/raw"
)

// ErrUnexpectedToken reports syntax that cannot start or continue an object.
var ErrUnexpectedToken = errors.New("unexpected token")

const maxNesting = 256

// LengthResolver returns the value of an indirect /Length entry.
type LengthResolver func(ref raw.ObjectRef) (int64, bool)

// ReadObject parses one direct object at the current position. "n g R"
// sequences become references.
func (s *Scanner) ReadObject() (raw.Object, error) {
	return s.readObject(0)
}

func (s *Scanner) readObject(depth int) (raw.Object, error) {
	if depth > maxNesting {
		return nil, errors.New("object nesting too deep")
	}
	tok, err := s.Next()
	if err != nil {
		return nil, err
	}
	return s.objectFrom(tok, depth)
}

func (s *Scanner) objectFrom(tok Token, depth int) (raw.Object, error) {
	switch tok.Type {
	case TokenDict:
		return s.readDict(tok, depth)
	case TokenArray:
		return s.readArray(tok, depth)
	case TokenName:
		return raw.NameObj{Val: tok.Str}, nil
	case TokenString:
		return raw.StringObj{Bytes: tok.Bytes, Hex: tok.Hex}, nil
	case TokenBoolean:
		return raw.Bool(tok.Bool), nil
	case TokenNull:
		return raw.NullObj{}, nil
	case TokenNumber:
		if tok.IsInt {
			if ref, ok := s.tryReference(tok); ok {
				return ref, nil
			}
			return raw.NumberInt(tok.Int), nil
		}
		return raw.NumberFloat(tok.Float), nil
	}
	return nil, fmt.Errorf("%w %q at %d", ErrUnexpectedToken, tok.Str, tok.Pos)
}

// tryReference looks two tokens ahead for "gen R" and rewinds when the
// pattern does not match.
func (s *Scanner) tryReference(num Token) (raw.RefObj, bool) {
	mark := s.pos
	saved := s.nextStreamLen
	rec := s.cfg.Recovery
	s.cfg.Recovery = nil
	defer func() { s.cfg.Recovery = rec }()

	gen, err := s.Next()
	if err == nil && gen.Type == TokenNumber && gen.IsInt && gen.Int >= 0 {
		kw, err := s.Next()
		if err == nil && kw.Type == TokenKeyword && kw.Str == "R" {
			return raw.Ref(int(num.Int), int(gen.Int)), true
		}
	}
	s.pos = mark
	s.nextStreamLen = saved
	return raw.RefObj{}, false
}

func (s *Scanner) readArray(open Token, depth int) (raw.Object, error) {
	arr := raw.NewArray()
	for {
		tok, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if rerr := s.recover(errors.New("unterminated array"), open.Pos, "array"); rerr == nil {
					return arr, nil
				}
			}
			return nil, err
		}
		if tok.Type == TokenKeyword {
			switch tok.Str {
			case "]":
				return arr, nil
			case "endobj", ">>":
				if err := s.recover(errors.New("array missing ]"), tok.Pos, "array"); err != nil {
					return nil, err
				}
				s.pos = tok.Pos
				return arr, nil
			}
		}
		if tok.Type == TokenStream {
			if err := s.recover(errors.New("array missing ]"), tok.Pos, "array"); err != nil {
				return nil, err
			}
			s.pos = tok.Pos
			return arr, nil
		}
		item, err := s.objectFrom(tok, depth+1)
		if err != nil {
			if rerr := s.recover(err, tok.Pos, "array"); rerr != nil {
				return nil, err
			}
			continue
		}
		arr.Append(item)
	}
}

func (s *Scanner) readDict(open Token, depth int) (raw.Object, error) {
	dict := raw.Dict()
	for {
		tok, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if rerr := s.recover(errors.New("unterminated dictionary"), open.Pos, "dict"); rerr == nil {
					return dict, nil
				}
			}
			return nil, err
		}
		if tok.Type == TokenKeyword && tok.Str == ">>" {
			return dict, nil
		}
		if tok.Type == TokenStream || (tok.Type == TokenKeyword && (tok.Str == "endobj" || tok.Str == "obj")) {
			if err := s.recover(errors.New("dictionary missing >>"), tok.Pos, "dict"); err != nil {
				return nil, err
			}
			s.pos = tok.Pos
			return dict, nil
		}
		if tok.Type != TokenName {
			if err := s.recover(fmt.Errorf("dictionary key is a %s", tok.Type), tok.Pos, "dict"); err != nil {
				return nil, err
			}
			continue
		}
		val, err := s.readObject(depth + 1)
		if err != nil {
			if rerr := s.recover(err, tok.Pos, "dict"); rerr != nil {
				return nil, err
			}
			continue
		}
		// A null value is equivalent to an absent key.
		if _, isNull := val.(raw.NullObj); isNull {
			continue
		}
		dict.Put(tok.Str, val)
	}
}

// ReadIndirect parses "num gen obj <object> endobj" at the current position,
// attaching the stream payload when one follows the object's dictionary.
func (s *Scanner) ReadIndirect(lengths LengthResolver) (raw.ObjectRef, raw.Object, error) {
	var ref raw.ObjectRef
	num, err := s.Next()
	if err != nil {
		return ref, nil, err
	}
	gen, err := s.Next()
	if err != nil {
		return ref, nil, err
	}
	kw, err := s.Next()
	if err != nil {
		return ref, nil, err
	}
	if num.Type != TokenNumber || !num.IsInt || gen.Type != TokenNumber || !gen.IsInt || kw.Type != TokenKeyword || kw.Str != "obj" {
		return ref, nil, fmt.Errorf("%w: no object header at %d", ErrUnexpectedToken, num.Pos)
	}
	ref = raw.ObjectRef{Num: int(num.Int), Gen: int(gen.Int)}
	s.recLoc.ObjectNum, s.recLoc.ObjectGen = ref.Num, ref.Gen
	defer func() { s.recLoc.ObjectNum, s.recLoc.ObjectGen = 0, 0 }()

	obj, err := s.ReadObject()
	if err != nil {
		return ref, nil, err
	}
	if dict, ok := obj.(*raw.DictObj); ok {
		s.SetNextStreamLength(streamLength(dict, lengths))
	}
	tok, err := s.Next()
	s.SetNextStreamLength(-1)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return ref, obj, s.recover(errors.New("missing endobj"), s.pos, "object")
		}
		return ref, nil, err
	}
	if tok.Type == TokenStream {
		dict, ok := obj.(*raw.DictObj)
		if !ok {
			return ref, nil, fmt.Errorf("stream after non-dictionary in %s", ref)
		}
		obj = raw.NewStream(dict, tok.Bytes)
		tok, err = s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ref, obj, s.recover(errors.New("missing endobj"), s.pos, "object")
			}
			return ref, nil, err
		}
	}
	if tok.Type != TokenKeyword || tok.Str != "endobj" {
		if err := s.recover(fmt.Errorf("expected endobj, found %s", tok.Type), tok.Pos, "object"); err != nil {
			return ref, nil, err
		}
		s.pos = tok.Pos
	}
	return ref, obj, nil
}

func streamLength(dict *raw.DictObj, lengths LengthResolver) int64 {
	v, ok := dict.Lookup("Length")
	if !ok {
		return -1
	}
	switch t := v.(type) {
	case raw.NumberObj:
		if t.IsInt && t.I >= 0 {
			return t.I
		}
	case raw.RefObj:
		if lengths != nil {
			if n, ok := lengths(t.R); ok && n >= 0 {
				return n
			}
		}
	}
	return -1
}
