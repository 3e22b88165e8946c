package writer

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/wudi/printmark/ir/raw"
)

// SerializeObject renders "num gen obj ... endobj" for one indirect object.
func SerializeObject(ref raw.ObjectRef, obj raw.Object) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
	buf.Write(SerializeValue(obj))
	buf.WriteString("\nendobj\n")
	return buf.Bytes()
}

// SerializeValue renders a direct object in file syntax.
func SerializeValue(o raw.Object) []byte {
	switch v := o.(type) {
	case raw.NameObj:
		return []byte("/" + pdfNameLiteral(v.Val))
	case raw.NumberObj:
		if v.IsInt {
			return []byte(strconv.FormatInt(v.I, 10))
		}
		return []byte(formatFloat(v.F))
	case raw.BoolObj:
		if v.V {
			return []byte("true")
		}
		return []byte("false")
	case raw.NullObj:
		return []byte("null")
	case raw.StringObj:
		if v.Hex {
			return []byte("<" + strings.ToUpper(hex.EncodeToString(v.Bytes)) + ">")
		}
		return escapeLiteralString(v.Bytes)
	case *raw.ArrayObj:
		var b bytes.Buffer
		b.WriteByte('[')
		for i, it := range v.Items {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.Write(SerializeValue(it))
		}
		b.WriteByte(']')
		return b.Bytes()
	case *raw.DictObj:
		return serializeDict(v, nil)
	case *raw.StreamObj:
		var b bytes.Buffer
		b.Write(serializeDict(v.Dict, map[string]raw.Object{"Length": raw.NumberInt(int64(len(v.Data)))}))
		b.WriteString("\nstream\n")
		b.Write(v.Data)
		b.WriteString("\nendstream")
		return b.Bytes()
	case raw.RefObj:
		return []byte(fmt.Sprintf("%d %d R", v.R.Num, v.R.Gen))
	default:
		return []byte("null")
	}
}

func serializeDict(d *raw.DictObj, override map[string]raw.Object) []byte {
	var b bytes.Buffer
	b.WriteString("<<")
	keys := d.SortedKeys()
	for k := range override {
		if _, ok := d.Lookup(k); !ok {
			keys = append(keys, k)
		}
	}
	if len(override) > 0 {
		sort.Strings(keys)
	}
	for _, k := range keys {
		val, ok := override[k]
		if !ok {
			val, _ = d.Lookup(k)
		}
		b.WriteString("/" + pdfNameLiteral(k) + " ")
		b.Write(SerializeValue(val))
		b.WriteByte(' ')
	}
	b.WriteString(">>")
	return b.Bytes()
}

// formatFloat writes at most six decimals and never uses an exponent.
func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "0"
	}
	r := math.Round(f*1e6) / 1e6
	if r == 0 {
		return "0"
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}

func escapeLiteralString(rawBytes []byte) []byte {
	var b bytes.Buffer
	b.WriteByte('(')
	for _, ch := range rawBytes {
		switch ch {
		case '\\', '(', ')':
			b.WriteByte('\\')
			b.WriteByte(ch)
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case '\t':
			b.WriteString("\\t")
		case '\b':
			b.WriteString("\\b")
		case '\f':
			b.WriteString("\\f")
		default:
			if ch < 0x20 || ch >= 0x80 {
				fmt.Fprintf(&b, "\\%03o", ch)
			} else {
				b.WriteByte(ch)
			}
		}
	}
	b.WriteByte(')')
	return b.Bytes()
}

func pdfNameLiteral(value string) string {
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if ch > 0x20 && ch < 0x7F && ch != '#' && !strings.ContainsRune("()<>[]{}/%", rune(ch)) {
			b.WriteByte(ch)
			continue
		}
		fmt.Fprintf(&b, "#%02X", ch)
	}
	return b.String()
}
