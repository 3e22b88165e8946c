package writer_test

import (
	"bytes"
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wudi/printmark/ir/raw"
	"github.com/wudi/printmark/parser"
	"github.com/wudi/printmark/writer"
)

func samplePDF() *raw.Document {
	doc := raw.NewDocument()
	doc.Version = "1.4"
	content := raw.NewStream(raw.Dict(), nil)
	content.SetData([]byte("0 0 m 100 100 l S"))
	doc.Objects[raw.ObjectRef{Num: 4}] = content
	page := raw.Dict()
	page.Put("Type", raw.NameLiteral("Page"))
	page.Put("Parent", raw.Ref(2, 0))
	page.Put("MediaBox", raw.NewArray(raw.NumberInt(0), raw.NumberInt(0), raw.NumberFloat(612.5), raw.NumberInt(792)))
	page.Put("Contents", raw.Ref(4, 0))
	doc.Objects[raw.ObjectRef{Num: 3}] = page
	pages := raw.Dict()
	pages.Put("Type", raw.NameLiteral("Pages"))
	pages.Put("Kids", raw.NewArray(raw.Ref(3, 0)))
	pages.Put("Count", raw.NumberInt(1))
	doc.Objects[raw.ObjectRef{Num: 2}] = pages
	cat := raw.Dict()
	cat.Put("Type", raw.NameLiteral("Catalog"))
	cat.Put("Pages", raw.Ref(2, 0))
	doc.Objects[raw.ObjectRef{Num: 1}] = cat
	info := raw.Dict()
	info.Put("Title", raw.Str([]byte("a (tricky)\\ title\n")))
	info.Put("Odd Name", raw.HexStr([]byte{0xde, 0xad}))
	doc.Objects[raw.ObjectRef{Num: 7}] = info
	doc.Trailer.Put("Root", raw.Ref(1, 0))
	doc.Trailer.Put("Info", raw.Ref(7, 0))
	return doc
}

func TestWriteRoundTrip(t *testing.T) {
	doc := samplePDF()
	var buf bytes.Buffer
	if err := writer.Write(context.Background(), doc, &buf, writer.Config{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF-1.4\n")) {
		t.Fatalf("unexpected header %q", buf.Bytes()[:12])
	}
	got, err := parser.NewDocumentParser(parser.Config{}).Parse(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatalf("parse written file: %v", err)
	}
	if diff := cmp.Diff(doc.Objects, got.Objects); diff != "" {
		t.Fatalf("objects changed across a round trip (-want +got):\n%s", diff)
	}
	if _, ok := got.Trailer.Lookup("ID"); !ok {
		t.Fatal("trailer lacks /ID")
	}
}

func TestWriteIsDeterministic(t *testing.T) {
	var a, b bytes.Buffer
	if err := writer.Write(context.Background(), samplePDF(), &a, writer.Config{}); err != nil {
		t.Fatal(err)
	}
	if err := writer.Write(context.Background(), samplePDF(), &b, writer.Config{}); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatal("identical documents produced different bytes")
	}
}

func TestWriteFreeListCoversGaps(t *testing.T) {
	var buf bytes.Buffer
	if err := writer.Write(context.Background(), samplePDF(), &buf, writer.Config{}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	start := strings.Index(out, "xref\n")
	section := out[start:strings.Index(out, "trailer")]
	want := []string{
		"xref",
		"0 8",
		"0000000005 65535 f ",
		"n", "n", "n", "n",
		"0000000006 00001 f ",
		"0000000000 00001 f ",
		"n",
	}
	lines := strings.Split(strings.TrimSuffix(section, "\n"), "\n")
	if len(lines) != len(want) {
		t.Fatalf("xref has %d lines, want %d:\n%s", len(lines), len(want), section)
	}
	for i, w := range want {
		if w == "n" {
			if !strings.HasSuffix(lines[i], " n ") {
				t.Fatalf("line %d = %q, want an in-use entry", i, lines[i])
			}
			continue
		}
		if lines[i] != w {
			t.Fatalf("line %d = %q, want %q", i, lines[i], w)
		}
	}
}

func TestWriteKeepsFirstFileID(t *testing.T) {
	doc := samplePDF()
	doc.Trailer.Put("ID", raw.NewArray(raw.HexStr([]byte{1, 2, 3}), raw.HexStr([]byte{4, 5, 6})))
	var buf bytes.Buffer
	if err := writer.Write(context.Background(), doc, &buf, writer.Config{}); err != nil {
		t.Fatal(err)
	}
	if !regexp.MustCompile(`/ID \[<010203> <[0-9A-F]{32}>\]`).Match(buf.Bytes()) {
		t.Fatalf("trailer ID not preserved:\n%s", buf.String()[strings.Index(buf.String(), "trailer"):])
	}
}

func TestWriteRejectsMissingRoot(t *testing.T) {
	doc := raw.NewDocument()
	if err := writer.Write(context.Background(), doc, &bytes.Buffer{}, writer.Config{}); err == nil {
		t.Fatal("expected an error for a document without /Root")
	}
}

func TestSerializeObjectEscapes(t *testing.T) {
	d := raw.Dict()
	d.Put("A B", raw.NumberFloat(-0.0000001))
	d.Put("S", raw.Str([]byte("x(y)\\\x01")))
	got := string(writer.SerializeObject(raw.ObjectRef{Num: 9}, d))
	want := "9 0 obj\n<</A#20B 0 /S (x\\(y\\)\\\\\\001) >>\nendobj\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
