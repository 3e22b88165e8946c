package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wudi/printmark/contentstream"
	"github.com/wudi/printmark/filters"
	"github.com/wudi/printmark/ipp"
	"github.com/wudi/printmark/ir/raw"
	"github.com/wudi/printmark/observability"
	"github.com/wudi/printmark/parser"
	"github.com/wudi/printmark/pjl"
	"github.com/wudi/printmark/policy"
	"github.com/wudi/printmark/storage"
	"github.com/wudi/printmark/watermark"
	"github.com/wudi/printmark/writer"
)

var (
	testRenderer     *watermark.Renderer
	testRendererOnce sync.Once
)

func renderer(t *testing.T) *watermark.Renderer {
	t.Helper()
	var err error
	testRendererOnce.Do(func() {
		testRenderer, err = watermark.NewRenderer(nil)
	})
	if err != nil {
		t.Fatal(err)
	}
	return testRenderer
}

// samplePDF serialises a document with one page per content string.
func samplePDF(t *testing.T, contents ...string) []byte {
	t.Helper()
	return encodePDF(t, sampleDoc(contents...))
}

func sampleDoc(contents ...string) *raw.Document {
	doc := raw.NewDocument()
	pagesRef := doc.Add(raw.Dict())
	kids := raw.NewArray()
	for _, c := range contents {
		stm := raw.NewStream(raw.Dict(), nil)
		stm.SetData([]byte(c))
		page := raw.Dict()
		page.Put("Type", raw.NameLiteral("Page"))
		page.Put("Parent", raw.RefTo(pagesRef))
		page.Put("MediaBox", raw.NewArray(raw.NumberInt(0), raw.NumberInt(0), raw.NumberInt(595), raw.NumberInt(842)))
		page.Put("Contents", raw.RefTo(doc.Add(stm)))
		kids.Append(raw.RefTo(doc.Add(page)))
	}
	pages := doc.Objects[pagesRef].(*raw.DictObj)
	pages.Put("Type", raw.NameLiteral("Pages"))
	pages.Put("Kids", kids)
	pages.Put("Count", raw.NumberInt(int64(kids.Len())))
	cat := raw.Dict()
	cat.Put("Type", raw.NameLiteral("Catalog"))
	cat.Put("Pages", raw.RefTo(pagesRef))
	doc.Trailer.Put("Root", raw.RefTo(doc.Add(cat)))
	return doc
}

func encodePDF(t *testing.T, doc *raw.Document) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := writer.Write(context.Background(), doc, &buf, writer.Config{Version: "1.4"}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func envelope(payload []byte) []byte {
	var buf bytes.Buffer
	buf.Write(pjl.Magic)
	buf.WriteString("@PJL JOB NAME = \"report\"\r\n")
	buf.WriteString("@PJL ENTER LANGUAGE = PDF\r\n")
	buf.Write(payload)
	buf.Write(pjl.Magic)
	buf.WriteString("@PJL EOJ\r\n")
	buf.Write(pjl.Magic)
	return buf.Bytes()
}

type captured struct {
	Title string
	Data  []byte
}

type captureForwarder struct {
	mu   sync.Mutex
	docs []captured
	err  error
}

func (f *captureForwarder) Forward(_ context.Context, title string, doc io.Reader) error {
	data, err := io.ReadAll(doc)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.docs = append(f.docs, captured{Title: title, Data: data})
	return nil
}

func (f *captureForwarder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

func newPipeline(t *testing.T, resolver policy.Resolver, fwd Forwarder, opts ...func(*Config)) (*Pipeline, string) {
	t.Helper()
	root := t.TempDir()
	cfg := Config{
		Store:     storage.New(root),
		Resolver:  resolver,
		Forwarder: fwd,
		Renderer:  renderer(t),
		OffsetY:   100,
	}
	for _, o := range opts {
		o(&cfg)
	}
	p, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return p, root
}

var office = netip.MustParseAddr("10.1.42.7")

func jobPath(root string, client netip.Addr, id, suffix string) string {
	return filepath.Join(root, client.String(), id+suffix)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// checkStamped parses data and verifies every page ends with exactly one
// q cm Do Q block painting a registered image.
func checkStamped(t *testing.T, data []byte, wantPages int) {
	t.Helper()
	ctx := context.Background()
	doc, err := parser.NewDocumentParser(parser.Config{}).Parse(ctx, data)
	if err != nil {
		t.Fatalf("forwarded document does not parse: %v", err)
	}
	pages, err := doc.Pages()
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != wantPages {
		t.Fatalf("pages = %d, want %d", len(pages), wantPages)
	}
	pipe := filters.NewDefaultPipeline(filters.Limits{})
	for _, page := range pages {
		ops, err := contentstream.PageOperations(ctx, doc, pipe, page)
		if err != nil {
			t.Fatal(err)
		}
		var dos int
		for _, op := range ops {
			if op.Operator == "Do" {
				dos++
			}
		}
		if dos != 1 {
			t.Fatalf("page %s paints %d XObjects, want 1", page, dos)
		}
		n := len(ops)
		if n < 4 || ops[n-4].Operator != "q" || ops[n-3].Operator != "cm" || ops[n-2].Operator != "Do" || ops[n-1].Operator != "Q" {
			t.Fatalf("page %s does not end with the watermark block: %v", page, ops)
		}
		res, ok := doc.ResolveDict(doc.Objects[page].(*raw.DictObj).KV["Resources"])
		if !ok {
			t.Fatalf("page %s has no resources", page)
		}
		xo, ok := doc.ResolveDict(res.KV["XObject"])
		if !ok || len(xo.KV) != 1 {
			t.Fatalf("page %s XObjects = %v", page, xo)
		}
		name, _ := ops[n-2].Operands[0].(raw.NameObj)
		img, ok := doc.Resolve(xo.KV[name.Value()]).(*raw.StreamObj)
		if !ok {
			t.Fatalf("page %s: %s is not a stream", page, name.Value())
		}
		if _, ok := img.Dict.Lookup("SMask"); !ok {
			t.Fatalf("page %s image has no soft mask", page)
		}
	}
}

func TestHandleForwardsWatermarkedDocument(t *testing.T) {
	fwd := &captureForwarder{}
	p, root := newPipeline(t, policy.NewStatic(), fwd)

	out, err := p.Handle(context.Background(), office, bytes.NewReader(samplePDF(t, "0 0 m 100 100 l S", "BT ET")))
	if err != nil {
		t.Fatal(err)
	}
	if out.State != Done || !out.Forwarded || out.Label != "042" || out.Pages != 2 || out.Mirrored {
		t.Fatalf("outcome %+v", out)
	}
	if fwd.count() != 1 {
		t.Fatalf("forwarded %d documents", fwd.count())
	}
	got := fwd.docs[0]
	if got.Title != out.JobID {
		t.Fatalf("title %q, want job id %q", got.Title, out.JobID)
	}
	checkStamped(t, got.Data, 2)

	if exists(jobPath(root, office, out.JobID, ".raw.pdf")) {
		t.Fatal("raw snapshot left behind")
	}
	final, err := os.ReadFile(jobPath(root, office, out.JobID, ".pdf"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(final, got.Data) {
		t.Fatal("persisted document differs from forwarded one")
	}
}

func TestHandleEnvelopedDocument(t *testing.T) {
	fwd := &captureForwarder{}
	p, _ := newPipeline(t, policy.NewStatic(), fwd)

	out, err := p.Handle(context.Background(), office, bytes.NewReader(envelope(samplePDF(t, "1 0 0 -1 0 842 cm 0 0 m 5 5 l S"))))
	if err != nil {
		t.Fatal(err)
	}
	if out.State != Done || !out.Mirrored {
		t.Fatalf("outcome %+v", out)
	}
	checkStamped(t, fwd.docs[0].Data, 1)
}

type logLine struct {
	msg    string
	fields map[string]interface{}
}

type captureLogger struct {
	mu    *sync.Mutex
	lines *[]logLine
	with  []observability.Field
}

func newCaptureLogger() captureLogger {
	return captureLogger{mu: &sync.Mutex{}, lines: &[]logLine{}}
}

func (l captureLogger) add(msg string, fields []observability.Field) {
	line := logLine{msg: msg, fields: map[string]interface{}{}}
	for _, f := range append(append([]observability.Field{}, l.with...), fields...) {
		line.fields[f.Key()] = f.Value()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.lines = append(*l.lines, line)
}

func (l captureLogger) Debug(msg string, f ...observability.Field) { l.add(msg, f) }
func (l captureLogger) Info(msg string, f ...observability.Field)  { l.add(msg, f) }
func (l captureLogger) Warn(msg string, f ...observability.Field)  { l.add(msg, f) }
func (l captureLogger) Error(msg string, f ...observability.Field) { l.add(msg, f) }
func (l captureLogger) With(f ...observability.Field) observability.Logger {
	l.with = append(append([]observability.Field{}, l.with...), f...)
	return l
}

func (l captureLogger) find(msg string) (logLine, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range *l.lines {
		if line.msg == msg {
			return line, true
		}
	}
	return logLine{}, false
}

func TestHandleLogsEnvelopeJobName(t *testing.T) {
	logs := newCaptureLogger()
	p, _ := newPipeline(t, policy.NewStatic(), &captureForwarder{}, func(c *Config) {
		c.Logger = logs
	})
	out, err := p.Handle(context.Background(), office, bytes.NewReader(envelope(samplePDF(t, "BT ET"))))
	if err != nil {
		t.Fatal(err)
	}
	line, ok := logs.find("pjl job")
	if !ok {
		t.Fatal("envelope job name not logged")
	}
	if line.fields["name"] != "report" || line.fields["job"] != out.JobID {
		t.Fatalf("fields %v", line.fields)
	}
	if _, ok := logs.find("job finished"); !ok {
		t.Fatal("completion not logged")
	}
}

func TestHandleRejectsEnvelopeWithoutEntry(t *testing.T) {
	fwd := &captureForwarder{}
	p, root := newPipeline(t, policy.NewStatic(), fwd)

	data := append(append([]byte{}, pjl.Magic...), "@PJL SET COPIES = 1\r\n%PDF-1.4\n"...)
	out, err := p.Handle(context.Background(), office, bytes.NewReader(data))
	if err == nil {
		t.Fatal("expected an error")
	}
	if out.State != Failed {
		t.Fatalf("state %s", out.State)
	}
	if !IsFormatError(err) || !errors.Is(err, pjl.ErrUnsupportedEnvelope) {
		t.Fatalf("error %v", err)
	}
	var se *StateError
	if !errors.As(err, &se) || se.State != Unwrapped {
		t.Fatalf("state error %v", err)
	}
	var status ipp.StatusError
	if !errors.As(err, &status) || status.Status() != ipp.StatusDocumentFormatNotSupported {
		t.Fatalf("status %v", err)
	}
	if fwd.count() != 0 {
		t.Fatal("rejected job was forwarded")
	}
	if !exists(jobPath(root, office, out.JobID, ".raw.pdf")) {
		t.Fatal("raw snapshot of a failed job should be kept")
	}
}

func TestHandleKeepsExistingDanglingReferences(t *testing.T) {
	doc := sampleDoc("0 0 m 10 10 l S")
	pages, err := doc.Pages()
	if err != nil {
		t.Fatal(err)
	}
	missing := raw.ObjectRef{Num: 99}
	doc.Objects[pages[0]].(*raw.DictObj).Put("Annots", raw.NewArray(raw.RefTo(missing)))

	fwd := &captureForwarder{}
	p, _ := newPipeline(t, policy.NewStatic(), fwd)
	out, err := p.Handle(context.Background(), office, bytes.NewReader(encodePDF(t, doc)))
	if err != nil {
		t.Fatal(err)
	}
	if out.State != Done || fwd.count() != 1 {
		t.Fatalf("outcome %+v, forwarded %d", out, fwd.count())
	}
	checkStamped(t, fwd.docs[0].Data, 1)
}

func TestHandleRejectsUnparsableDocument(t *testing.T) {
	fwd := &captureForwarder{}
	p, _ := newPipeline(t, policy.NewStatic(), fwd)

	_, err := p.Handle(context.Background(), office, bytes.NewReader([]byte("plain text, not a document")))
	if !IsFormatError(err) || !errors.Is(err, parser.ErrNotPDF) {
		t.Fatalf("error %v", err)
	}
	var se *StateError
	if !errors.As(err, &se) || se.State != Parsed {
		t.Fatalf("state error %v", err)
	}
	if fwd.count() != 0 {
		t.Fatal("rejected job was forwarded")
	}
}

func TestHandleDropsUnknownClients(t *testing.T) {
	never, err := policy.NewScripted(context.Background(), "function get_team_id(addr) { return null; }", nil)
	if err != nil {
		t.Fatal(err)
	}
	tests := map[string]struct {
		resolver policy.Resolver
		client   netip.Addr
	}{
		"script says unknown": {never, office},
		"ipv6 with static":    {policy.NewStatic(), netip.MustParseAddr("2001:db8::1")},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			fwd := &captureForwarder{}
			p, _ := newPipeline(t, tt.resolver, fwd)
			for i := 0; i < 3; i++ {
				out, err := p.Handle(context.Background(), tt.client, bytes.NewReader(samplePDF(t, "BT ET")))
				if err != nil {
					t.Fatal(err)
				}
				if out.State != Dropped || out.Label != "" {
					t.Fatalf("outcome %+v", out)
				}
			}
			if fwd.count() != 0 {
				t.Fatalf("forwarded %d dropped jobs", fwd.count())
			}
		})
	}
}

func TestHandleForwardFailureIsNotFatal(t *testing.T) {
	for _, keep := range []bool{false, true} {
		t.Run(fmt.Sprintf("keep=%v", keep), func(t *testing.T) {
			fwd := &captureForwarder{err: errors.New("printer offline")}
			p, root := newPipeline(t, policy.NewStatic(), fwd, func(c *Config) {
				c.KeepRawOnForwardFailure = keep
			})
			out, err := p.Handle(context.Background(), office, bytes.NewReader(samplePDF(t, "BT ET")))
			if err != nil {
				t.Fatal(err)
			}
			if out.State != Done || out.Forwarded {
				t.Fatalf("outcome %+v", out)
			}
			if got := exists(jobPath(root, office, out.JobID, ".raw.pdf")); got != keep {
				t.Fatalf("raw snapshot present = %v, want %v", got, keep)
			}
			if !exists(jobPath(root, office, out.JobID, ".pdf")) {
				t.Fatal("final document not persisted")
			}
		})
	}
}

func TestHandleRejectsOversizedJobs(t *testing.T) {
	fwd := &captureForwarder{}
	p, _ := newPipeline(t, policy.NewStatic(), fwd, func(c *Config) {
		c.Limits.MaxJobSize = 64
	})
	_, err := p.Handle(context.Background(), office, bytes.NewReader(samplePDF(t, "BT ET")))
	if !errors.Is(err, parser.ErrTooLarge) {
		t.Fatalf("error %v", err)
	}
}

func TestHandleConcurrentJobs(t *testing.T) {
	fwd := &captureForwarder{}
	p, root := newPipeline(t, policy.NewStatic(), fwd)
	data := samplePDF(t, "BT ET")

	const jobs = 8
	ids := make([]string, jobs)
	errs := make([]error, jobs)
	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := p.Handle(context.Background(), office, bytes.NewReader(data))
			ids[i], errs[i] = out.JobID, err
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := range ids {
		if errs[i] != nil {
			t.Fatal(errs[i])
		}
		if seen[ids[i]] {
			t.Fatalf("duplicate job id %s", ids[i])
		}
		seen[ids[i]] = true
		if !exists(jobPath(root, office, ids[i], ".pdf")) {
			t.Fatalf("job %s not persisted", ids[i])
		}
	}
	if fwd.count() != jobs {
		t.Fatalf("forwarded %d of %d", fwd.count(), jobs)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	store := storage.New(t.TempDir())
	fwd := &captureForwarder{}
	tests := map[string]Config{
		"no store":     {Resolver: policy.NewStatic(), Forwarder: fwd},
		"no resolver":  {Store: store, Forwarder: fwd},
		"no forwarder": {Store: store, Resolver: policy.NewStatic()},
	}
	for name, cfg := range tests {
		if _, err := New(cfg); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

// TestIPPEndToEnd submits through the IPP front end and forwards to a
// second IPP endpoint standing in for the real printer.
func TestIPPEndToEnd(t *testing.T) {
	var (
		mu       sync.Mutex
		received []captured
	)
	printer := httptest.NewServer(&ipp.Server{
		Name: "downstream",
		Handler: ipp.JobHandlerFunc(func(_ context.Context, job ipp.Job) error {
			data, err := io.ReadAll(job.Document)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			received = append(received, captured{Title: job.Name, Data: data})
			return nil
		}),
	})
	defer printer.Close()

	downstream := ipp.NewClient(printer.URL + "/ipp/print")
	downstream.HTTP = printer.Client()
	p, _ := newPipeline(t, policy.NewStatic(), IPPForwarder{Client: downstream})

	gateway := httptest.NewServer(&ipp.Server{Name: "printmark", Handler: p})
	defer gateway.Close()
	client := ipp.NewClient(gateway.URL + "/ipp/print")
	client.HTTP = gateway.Client()
	ctx := context.Background()

	if _, err := client.PrintJob(ctx, "report", "application/pdf", bytes.NewReader(samplePDF(t, "0 0 m 1 1 l S"))); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	if len(received) != 1 {
		t.Fatalf("printer received %d jobs", len(received))
	}
	checkStamped(t, received[0].Data, 1)
	if received[0].Title == "report" || received[0].Title == "" {
		t.Fatalf("forwarded title %q", received[0].Title)
	}
	mu.Unlock()

	bad := append(append([]byte{}, pjl.Magic...), "@PJL JOB\r\n"...)
	_, err := client.PrintJob(ctx, "bad", "application/pdf", bytes.NewReader(bad))
	var re *ipp.ResponseError
	if !errors.As(err, &re) || re.Code != ipp.StatusDocumentFormatNotSupported {
		t.Fatalf("error %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("rejected job reached the printer")
	}
}

type recorded struct {
	mu     sync.Mutex
	states []State
}

func (r *recorded) Record(_ netip.Addr, out Outcome, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, out.State)
}

func TestRecorderSeesEveryOutcome(t *testing.T) {
	rec := &recorded{}
	p, _ := newPipeline(t, policy.NewStatic(), &captureForwarder{}, func(c *Config) {
		c.Recorder = rec
	})
	ctx := context.Background()
	p.Handle(ctx, office, bytes.NewReader(samplePDF(t, "BT ET")))
	p.Handle(ctx, netip.MustParseAddr("::1"), bytes.NewReader(samplePDF(t, "BT ET")))
	p.Handle(ctx, office, strings.NewReader("junk"))

	want := []State{Done, Dropped, Failed}
	if diff := cmp.Diff(want, rec.states); diff != "" {
		t.Fatalf("recorded states (-want +got):\n%s", diff)
	}
}
