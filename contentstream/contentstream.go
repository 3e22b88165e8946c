// Package contentstream parses, edits and re-encodes page content streams.
package contentstream

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/wudi/printmark/coords"
	"github.com/wudi/printmark/ir/raw"
	"github.com/wudi/printmark/scanner"
	"github.com/wudi/printmark/writer"
)

// Operation is one operator with the operands that precede it. Inline
// images carry their parameter dictionary and data in InlineImage.
type Operation struct {
	Operator    string
	Operands    []raw.Object
	InlineImage *InlineImage
}

type InlineImage struct {
	Params *raw.DictObj
	Data   []byte
}

// Numbers returns the operands as floats when every operand is numeric.
func (op Operation) Numbers() ([]float64, bool) {
	out := make([]float64, len(op.Operands))
	for i, o := range op.Operands {
		n, ok := o.(raw.NumberObj)
		if !ok {
			return nil, false
		}
		out[i] = n.Float()
	}
	return out, true
}

// Op builds an operation from numeric or object operands.
func Op(operator string, operands ...raw.Object) Operation {
	return Operation{Operator: operator, Operands: operands}
}

// Parse decodes a content stream into operations.
func Parse(data []byte) ([]Operation, error) {
	s := scanner.New(data, scanner.Config{})
	var ops []Operation
	var operands []raw.Object
	for {
		tok, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && !isClosing(tok.Str) {
			if tok.Str == "BI" {
				img, err := readInlineImage(s)
				if err != nil {
					return nil, fmt.Errorf("inline image at %d: %w", tok.Pos, err)
				}
				ops = append(ops, Operation{Operator: "BI", InlineImage: img})
				operands = nil
				continue
			}
			ops = append(ops, Operation{Operator: tok.Str, Operands: operands})
			operands = nil
			continue
		}
		if err := s.Seek(tok.Pos); err != nil {
			return nil, err
		}
		obj, err := s.ReadObject()
		if err != nil {
			return nil, fmt.Errorf("operand at %d: %w", tok.Pos, err)
		}
		operands = append(operands, obj)
	}
	if len(operands) > 0 {
		return nil, fmt.Errorf("dangling operands: %d", len(operands))
	}
	return ops, nil
}

func isClosing(kw string) bool {
	switch kw {
	case ">>", "]", ")", ">", "}":
		return true
	}
	return false
}

func readInlineImage(s *scanner.Scanner) (*InlineImage, error) {
	params := raw.Dict()
	for {
		tok, err := s.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "ID" {
			break
		}
		if tok.Type != scanner.TokenName {
			return nil, fmt.Errorf("parameter key is a %s", tok.Type)
		}
		val, err := s.ReadObject()
		if err != nil {
			return nil, err
		}
		params.Put(tok.Str, val)
	}
	data, err := s.ReadInlineImage()
	if err != nil {
		return nil, err
	}
	return &InlineImage{Params: params, Data: data.Bytes}, nil
}

// Encode writes operations back to content stream syntax, one per line.
func Encode(ops []Operation) []byte {
	var buf bytes.Buffer
	for _, op := range ops {
		if op.InlineImage != nil {
			buf.WriteString("BI")
			for _, k := range op.InlineImage.Params.SortedKeys() {
				v, _ := op.InlineImage.Params.Lookup(k)
				buf.WriteString(" /" + k + " ")
				buf.Write(writer.SerializeValue(v))
			}
			buf.WriteString(" ID ")
			buf.Write(op.InlineImage.Data)
			buf.WriteString("\nEI\n")
			continue
		}
		for _, o := range op.Operands {
			buf.Write(writer.SerializeValue(o))
			buf.WriteByte(' ')
		}
		buf.WriteString(op.Operator)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// GraphicsState tracks the current transformation matrix through q/Q/cm.
type GraphicsState struct {
	CTM   coords.Matrix
	stack []coords.Matrix
}

func NewGraphicsState() *GraphicsState { return &GraphicsState{CTM: coords.Identity()} }

func (gs *GraphicsState) Save() { gs.stack = append(gs.stack, gs.CTM) }
func (gs *GraphicsState) Restore() error {
	n := len(gs.stack)
	if n == 0 {
		return errors.New("state stack empty")
	}
	gs.CTM = gs.stack[n-1]
	gs.stack = gs.stack[:n-1]
	return nil
}

// Depth is the number of unmatched q operators.
func (gs *GraphicsState) Depth() int { return len(gs.stack) }

// Concat applies a cm operator.
func (gs *GraphicsState) Concat(m coords.Matrix) { gs.CTM = m.Multiply(gs.CTM) }

// OperatorHandler observes one operator during Process.
type OperatorHandler interface {
	Handle(state *GraphicsState, op Operation) error
}

// HandlerFunc adapts a function to OperatorHandler.
type HandlerFunc func(state *GraphicsState, op Operation) error

func (f HandlerFunc) Handle(state *GraphicsState, op Operation) error { return f(state, op) }

// ErrStop ends Process early without reporting a failure.
var ErrStop = errors.New("stop processing")

type Processor struct{ handlers map[string]OperatorHandler }

func NewProcessor() *Processor { return &Processor{handlers: make(map[string]OperatorHandler)} }

func (p *Processor) RegisterHandler(op string, h OperatorHandler) { p.handlers[op] = h }

// Process runs ops, maintaining the graphics state and dispatching to the
// registered handlers before each operator takes effect.
func (p *Processor) Process(ops []Operation, state *GraphicsState) error {
	for _, op := range ops {
		if h, ok := p.handlers[op.Operator]; ok {
			if err := h.Handle(state, op); err != nil {
				if errors.Is(err, ErrStop) {
					return nil
				}
				return err
			}
		}
		switch op.Operator {
		case "q":
			state.Save()
		case "Q":
			// Unbalanced Q is common in the wild and ignored.
			_ = state.Restore()
		case "cm":
			if nums, ok := op.Numbers(); ok && len(nums) == 6 {
				state.Concat(coords.Matrix{nums[0], nums[1], nums[2], nums[3], nums[4], nums[5]})
			}
		}
	}
	return nil
}
