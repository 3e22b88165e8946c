package contentstream

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wudi/printmark/coords"
	"github.com/wudi/printmark/filters"
	"github.com/wudi/printmark/ir/raw"
)

func TestParseOperators(t *testing.T) {
	ops, err := Parse([]byte("q 1 0 0 -1 0 792 cm /Im1 Do Q\nBT /F1 12 Tf [(A) -20 (B)] TJ ET"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var names []string
	for _, op := range ops {
		names = append(names, op.Operator)
	}
	if diff := cmp.Diff([]string{"q", "cm", "Do", "Q", "BT", "Tf", "TJ", "ET"}, names); diff != "" {
		t.Fatalf("operators (-want +got):\n%s", diff)
	}
	nums, ok := ops[1].Numbers()
	if !ok || len(nums) != 6 || nums[3] != -1 {
		t.Fatalf("cm operands = %v %v", nums, ok)
	}
	if arr, ok := ops[6].Operands[0].(*raw.ArrayObj); !ok || arr.Len() != 3 {
		t.Fatalf("TJ operand = %#v", ops[6].Operands[0])
	}
}

func TestParseRejectsDanglingOperands(t *testing.T) {
	if _, err := Parse([]byte("q 1 2 3")); err == nil {
		t.Fatal("expected error for operands without an operator")
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	src := []Operation{
		Op("q"),
		Op("cm", raw.NumberInt(595), raw.NumberInt(0), raw.NumberInt(0), raw.NumberInt(595), raw.NumberInt(0), raw.NumberFloat(100.5)),
		Op("Do", raw.NameLiteral("w12-0")),
		Op("Q"),
		{Operator: "BI", InlineImage: &InlineImage{Params: paramsDict(), Data: []byte{0, 0xff, 'E', 'I'}}},
		Op("Tj", raw.Str([]byte("a)b"))),
	}
	got, err := Parse(Encode(src))
	if err != nil {
		t.Fatalf("parse encoded: %v", err)
	}
	if diff := cmp.Diff(src, got); diff != "" {
		t.Fatalf("round trip (-want +got):\n%s", diff)
	}
}

func paramsDict() *raw.DictObj {
	d := raw.Dict()
	d.Put("W", raw.NumberInt(2))
	d.Put("H", raw.NumberInt(1))
	d.Put("BPC", raw.NumberInt(8))
	d.Put("CS", raw.NameLiteral("G"))
	return d
}

func TestProcessorTracksCTM(t *testing.T) {
	ops, err := Parse([]byte("2 0 0 2 0 0 cm q 1 0 0 1 10 20 cm /X Do Q /Y Do"))
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]coords.Matrix{}
	p := NewProcessor()
	p.RegisterHandler("Do", HandlerFunc(func(gs *GraphicsState, op Operation) error {
		seen[op.Operands[0].(raw.NameObj).Val] = gs.CTM
		return nil
	}))
	gs := NewGraphicsState()
	if err := p.Process(ops, gs); err != nil {
		t.Fatal(err)
	}
	if got := seen["X"]; got != (coords.Matrix{2, 0, 0, 2, 20, 40}) {
		t.Fatalf("CTM at X = %v", got)
	}
	if got := seen["Y"]; got != (coords.Matrix{2, 0, 0, 2, 0, 0}) {
		t.Fatalf("CTM at Y = %v", got)
	}
	if gs.Depth() != 0 {
		t.Fatalf("depth = %d", gs.Depth())
	}
}

func TestProcessorStops(t *testing.T) {
	ops, _ := Parse([]byte("q q q"))
	calls := 0
	p := NewProcessor()
	p.RegisterHandler("q", HandlerFunc(func(*GraphicsState, Operation) error {
		calls++
		if calls == 2 {
			return ErrStop
		}
		return nil
	}))
	if err := p.Process(ops, NewGraphicsState()); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestPageContentJoinsArrays(t *testing.T) {
	doc := raw.NewDocument()
	z, err := filters.FlateEncode([]byte("/A Do"), 9)
	if err != nil {
		t.Fatal(err)
	}
	first := raw.NewStream(raw.Dict(), nil)
	first.Dict.Put("Filter", raw.NameLiteral("FlateDecode"))
	first.SetData(z)
	second := raw.NewStream(raw.Dict(), nil)
	second.SetData([]byte("/B Do"))
	r1, r2 := doc.Add(first), doc.Add(second)
	page := raw.Dict()
	page.Put("Contents", raw.NewArray(raw.RefTo(r1), raw.RefTo(r2)))
	pageRef := doc.Add(page)

	pipeline := filters.NewDefaultPipeline(filters.Limits{})
	got, err := PageContent(context.Background(), doc, pipeline, pageRef)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "/A Do\n/B Do" {
		t.Fatalf("content = %q", got)
	}

	ops, err := PageOperations(context.Background(), doc, pipeline, pageRef)
	if err != nil {
		t.Fatal(err)
	}
	newRef, err := SetPageContent(doc, pageRef, append(ops, Op("Q")))
	if err != nil {
		t.Fatal(err)
	}
	if c, _ := page.Lookup("Contents"); c != raw.RefTo(newRef) {
		t.Fatalf("/Contents = %v", c)
	}
	got, _ = PageContent(context.Background(), doc, pipeline, pageRef)
	if string(got) != "/A Do\n/B Do\nQ\n" {
		t.Fatalf("replaced content = %q", got)
	}
}
