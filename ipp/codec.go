// Package ipp implements the subset of the Internet Printing Protocol used
// to accept jobs from clients and forward them to a downstream printer.
package ipp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Operation ids.
const (
	OpPrintJob             uint16 = 0x0002
	OpValidateJob          uint16 = 0x0004
	OpCancelJob            uint16 = 0x0008
	OpGetJobAttributes     uint16 = 0x0009
	OpGetJobs              uint16 = 0x000A
	OpGetPrinterAttributes uint16 = 0x000B
)

// Status codes.
const (
	StatusOK                         uint16 = 0x0000
	StatusBadRequest                 uint16 = 0x0400
	StatusNotFound                   uint16 = 0x0406
	StatusRequestEntityTooLarge      uint16 = 0x0409
	StatusDocumentFormatNotSupported uint16 = 0x040A
	StatusInternalError              uint16 = 0x0500
	StatusOperationNotSupported      uint16 = 0x0501
	StatusVersionNotSupported        uint16 = 0x0503
)

// Tag is a delimiter or value tag.
type Tag byte

// Delimiter tags.
const (
	TagOperation   Tag = 0x01
	TagJob         Tag = 0x02
	TagEnd         Tag = 0x03
	TagPrinter     Tag = 0x04
	TagUnsupported Tag = 0x05
)

// Value tags.
const (
	TagUnsupportedValue Tag = 0x10
	TagUnknown          Tag = 0x12
	TagNoValue          Tag = 0x13
	TagInteger          Tag = 0x21
	TagBoolean          Tag = 0x22
	TagEnum             Tag = 0x23
	TagOctetString      Tag = 0x30
	TagDateTime         Tag = 0x31
	TagResolution       Tag = 0x32
	TagRangeOfInteger   Tag = 0x33
	TagText             Tag = 0x41
	TagName             Tag = 0x42
	TagKeyword          Tag = 0x44
	TagURI              Tag = 0x45
	TagURIScheme        Tag = 0x46
	TagCharset          Tag = 0x47
	TagLanguage         Tag = 0x48
	TagMimeType         Tag = 0x49
)

func (t Tag) isDelimiter() bool { return t < 0x10 }

// ErrMalformed reports a message that does not follow the IPP encoding.
var ErrMalformed = errors.New("ipp: malformed message")

// Value is one attribute value in wire form.
type Value struct {
	Tag  Tag
	Data []byte
}

func Integer(n int32) Value   { return Value{Tag: TagInteger, Data: be32(n)} }
func Enum(n int32) Value      { return Value{Tag: TagEnum, Data: be32(n)} }
func Keyword(s string) Value  { return Value{Tag: TagKeyword, Data: []byte(s)} }
func Text(s string) Value     { return Value{Tag: TagText, Data: []byte(s)} }
func Name(s string) Value     { return Value{Tag: TagName, Data: []byte(s)} }
func URI(s string) Value      { return Value{Tag: TagURI, Data: []byte(s)} }
func Charset(s string) Value  { return Value{Tag: TagCharset, Data: []byte(s)} }
func Language(s string) Value { return Value{Tag: TagLanguage, Data: []byte(s)} }
func MimeType(s string) Value { return Value{Tag: TagMimeType, Data: []byte(s)} }
func NoValue() Value          { return Value{Tag: TagNoValue} }

func Boolean(b bool) Value {
	if b {
		return Value{Tag: TagBoolean, Data: []byte{1}}
	}
	return Value{Tag: TagBoolean, Data: []byte{0}}
}

func be32(n int32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(n))
	return b
}

// Int returns integer and enum values.
func (v Value) Int() (int32, bool) {
	if (v.Tag != TagInteger && v.Tag != TagEnum) || len(v.Data) != 4 {
		return 0, false
	}
	return int32(binary.BigEndian.Uint32(v.Data)), true
}

// Bool returns boolean values.
func (v Value) Bool() (bool, bool) {
	if v.Tag != TagBoolean || len(v.Data) != 1 {
		return false, false
	}
	return v.Data[0] != 0, true
}

// String returns the value as text. Non-string values are rendered in a
// readable form for logs.
func (v Value) String() string {
	if n, ok := v.Int(); ok {
		return fmt.Sprint(n)
	}
	if b, ok := v.Bool(); ok {
		return fmt.Sprint(b)
	}
	return string(v.Data)
}

type Attribute struct {
	Name   string
	Values []Value
}

// Attr builds an attribute from one or more values.
func Attr(name string, values ...Value) Attribute { return Attribute{Name: name, Values: values} }

type Group struct {
	Tag        Tag
	Attributes []Attribute
}

// Get returns the first attribute called name.
func (g Group) Get(name string) (Attribute, bool) {
	for _, a := range g.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// Message is an IPP request or response. Code is the operation id of a
// request or the status code of a response.
type Message struct {
	Major, Minor byte
	Code         uint16
	RequestID    int32
	Groups       []Group
}

// Group returns the first group with tag, adding an empty one if missing.
func (m *Message) Group(tag Tag) *Group {
	for i := range m.Groups {
		if m.Groups[i].Tag == tag {
			return &m.Groups[i]
		}
	}
	m.Groups = append(m.Groups, Group{Tag: tag})
	return &m.Groups[len(m.Groups)-1]
}

// Lookup finds name in the first group with tag.
func (m *Message) Lookup(tag Tag, name string) (Value, bool) {
	for _, g := range m.Groups {
		if g.Tag != tag {
			continue
		}
		if a, ok := g.Get(name); ok && len(a.Values) > 0 {
			return a.Values[0], true
		}
		return Value{}, false
	}
	return Value{}, false
}

// Encode writes the message header, its groups and the end tag. Document
// data, if any, follows on the same writer.
func (m *Message) Encode(w io.Writer) error {
	var buf []byte
	buf = append(buf, m.Major, m.Minor)
	buf = binary.BigEndian.AppendUint16(buf, m.Code)
	buf = binary.BigEndian.AppendUint32(buf, uint32(m.RequestID))
	for _, g := range m.Groups {
		buf = append(buf, byte(g.Tag))
		for _, a := range g.Attributes {
			for i, v := range a.Values {
				name := a.Name
				if i > 0 {
					name = ""
				}
				if len(name) > 0xFFFF || len(v.Data) > 0xFFFF {
					return fmt.Errorf("ipp: attribute %q too long", a.Name)
				}
				buf = append(buf, byte(v.Tag))
				buf = binary.BigEndian.AppendUint16(buf, uint16(len(name)))
				buf = append(buf, name...)
				buf = binary.BigEndian.AppendUint16(buf, uint16(len(v.Data)))
				buf = append(buf, v.Data...)
			}
		}
	}
	buf = append(buf, byte(TagEnd))
	_, err := w.Write(buf)
	return err
}

// Decode reads one message up to and including the end-of-attributes tag.
// r is left positioned at the first byte of document data.
func Decode(r io.Reader) (*Message, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}
	m := &Message{
		Major:     hdr[0],
		Minor:     hdr[1],
		Code:      binary.BigEndian.Uint16(hdr[2:4]),
		RequestID: int32(binary.BigEndian.Uint32(hdr[4:8])),
	}
	var group *Group
	var one [1]byte
	for {
		if _, err := io.ReadFull(r, one[:]); err != nil {
			return nil, fmt.Errorf("%w: missing end-of-attributes tag", ErrMalformed)
		}
		tag := Tag(one[0])
		if tag == TagEnd {
			return m, nil
		}
		if tag.isDelimiter() {
			m.Groups = append(m.Groups, Group{Tag: tag})
			group = &m.Groups[len(m.Groups)-1]
			continue
		}
		if group == nil {
			return nil, fmt.Errorf("%w: value tag 0x%02x outside a group", ErrMalformed, byte(tag))
		}
		name, err := readField(r)
		if err != nil {
			return nil, err
		}
		data, err := readField(r)
		if err != nil {
			return nil, err
		}
		v := Value{Tag: tag, Data: data}
		if len(name) == 0 {
			if len(group.Attributes) == 0 {
				return nil, fmt.Errorf("%w: additional value without attribute", ErrMalformed)
			}
			last := &group.Attributes[len(group.Attributes)-1]
			last.Values = append(last.Values, v)
			continue
		}
		group.Attributes = append(group.Attributes, Attribute{Name: string(name), Values: []Value{v}})
	}
}

func readField(r io.Reader) ([]byte, error) {
	var n [2]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated attribute", ErrMalformed)
	}
	b := make([]byte, binary.BigEndian.Uint16(n[:]))
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("%w: truncated attribute", ErrMalformed)
	}
	return b, nil
}
