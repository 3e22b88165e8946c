// Package gateway runs the per-job state machine: unwrap, parse, resolve
// the label, watermark, persist, forward and clean up.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"time"

	"github.com/wudi/printmark/inspect"
	"github.com/wudi/printmark/ir/raw"
	"github.com/wudi/printmark/ipp"
	"github.com/wudi/printmark/observability"
	"github.com/wudi/printmark/optimize"
	"github.com/wudi/printmark/parser"
	"github.com/wudi/printmark/pjl"
	"github.com/wudi/printmark/policy"
	"github.com/wudi/printmark/recovery"
	"github.com/wudi/printmark/security"
	"github.com/wudi/printmark/stamp"
	"github.com/wudi/printmark/storage"
	"github.com/wudi/printmark/watermark"
	"github.com/wudi/printmark/writer"
)

// DocumentExt is the extension of stored job files.
const DocumentExt = "pdf"

// Forwarder delivers a finished document downstream.
type Forwarder interface {
	Forward(ctx context.Context, title string, doc io.Reader) error
}

// IPPForwarder forwards through an IPP Print-Job.
type IPPForwarder struct {
	Client *ipp.Client
}

func (f IPPForwarder) Forward(ctx context.Context, title string, doc io.Reader) error {
	_, err := f.Client.PrintJob(ctx, title, "application/pdf", doc)
	return err
}

// Recorder is told how every job ended.
type Recorder interface {
	Record(client netip.Addr, out Outcome, err error)
}

type Config struct {
	Store      *storage.Store
	Resolver   policy.Resolver
	Forwarder  Forwarder
	Renderer   *watermark.Renderer
	Compositor *stamp.Compositor
	Analyzer   *inspect.Analyzer
	Limits     security.Limits
	Logger     observability.Logger
	Tracer     observability.Tracer
	Recorder   Recorder

	// CanvasSize is the edge of the square watermark canvas in pixels.
	CanvasSize int
	// OffsetX and OffsetY place the watermark in default user space.
	OffsetX, OffsetY float64
	// KeepRawOnForwardFailure keeps the raw snapshot when forwarding fails
	// instead of removing it.
	KeepRawOnForwardFailure bool
}

// Outcome is how a job ended when it did not fail.
type Outcome struct {
	State    State
	JobID    string
	Label    string
	Mirrored bool
	Pages    int
	// Forwarded is false when the downstream printer rejected the job.
	Forwarded bool
}

// Pipeline processes jobs. It is safe for concurrent use; each call to
// Handle owns its document exclusively.
type Pipeline struct {
	cfg Config
	log observability.Logger
}

func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("gateway: store is required")
	case cfg.Resolver == nil:
		return nil, errors.New("gateway: resolver is required")
	case cfg.Forwarder == nil:
		return nil, errors.New("gateway: forwarder is required")
	}
	cfg.Limits = cfg.Limits.WithDefaults()
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NopTracer()
	}
	if cfg.Renderer == nil {
		r, err := watermark.NewRenderer(nil)
		if err != nil {
			return nil, err
		}
		cfg.Renderer = r
	}
	if cfg.Compositor == nil {
		cfg.Compositor = stamp.NewCompositor(stamp.Config{Limits: cfg.Limits, Logger: cfg.Logger, Optimize: optimize.DefaultConfig()})
	}
	if cfg.Analyzer == nil {
		cfg.Analyzer = inspect.NewAnalyzer(cfg.Limits)
	}
	if cfg.CanvasSize <= 0 {
		cfg.CanvasSize = 595
	}
	return &Pipeline{cfg: cfg, log: cfg.Logger}, nil
}

// HandleJob adapts Handle to ipp.JobHandler. Dropped jobs are acknowledged
// like completed ones.
func (p *Pipeline) HandleJob(ctx context.Context, job ipp.Job) error {
	_, err := p.Handle(ctx, job.Client, job.Document)
	return err
}

// Handle runs one job from client to a terminal state. Done and Dropped
// return a nil error; Failed returns a *StateError, wrapping a
// *FormatError when the document could not be read.
func (p *Pipeline) Handle(ctx context.Context, client netip.Addr, r io.Reader) (Outcome, error) {
	start := time.Now()
	ctx, span := p.cfg.Tracer.StartSpan(ctx, observability.SpanJob)
	defer span.Finish()

	j := &run{p: p, client: client}
	out, err := j.execute(ctx, r)
	if err != nil {
		out = Outcome{State: Failed, JobID: j.job.ID}
	}
	if p.cfg.Recorder != nil {
		p.cfg.Recorder.Record(client, out, err)
	}
	if err != nil {
		span.SetError(err)
		j.log.Error("job failed", observability.Error("error", err), observability.Duration("took", time.Since(start)))
		return out, err
	}
	span.SetTag("state", out.State.String())
	j.log.Info("job finished",
		observability.String("state", out.State.String()),
		observability.Bool("forwarded", out.Forwarded),
		observability.Duration("took", time.Since(start)),
	)
	return out, nil
}

// run is the state of one job.
type run struct {
	p      *Pipeline
	client netip.Addr
	job    storage.Job
	log    observability.Logger
	state  State
}

func (j *run) enter(s State) {
	j.state = s
	j.log.Debug("job state", observability.String("state", s.String()))
}

func (j *run) fail(target State, err error) error {
	j.state = Failed
	return &StateError{State: target, Err: err}
}

func (j *run) execute(ctx context.Context, r io.Reader) (Outcome, error) {
	cfg := j.p.cfg
	j.log = j.p.log.With(observability.String("client", j.client.String()))

	data, err := readJob(r, cfg.Limits.MaxJobSize)
	if err != nil {
		return Outcome{}, j.fail(Received, err)
	}
	j.job, err = cfg.Store.NewJob(j.client.String(), DocumentExt)
	if err != nil {
		return Outcome{}, j.fail(Received, err)
	}
	j.log = j.log.With(observability.String("job", j.job.ID))
	j.enter(Received)
	if err := j.job.WriteRaw(data); err != nil {
		j.log.Warn("raw snapshot not saved", observability.Error("error", err))
	}
	out := Outcome{JobID: j.job.ID}

	env, err := pjl.Unwrap(data)
	if err != nil {
		return out, j.fail(Unwrapped, &FormatError{Err: err})
	}
	if name, ok := env.JobName(); ok {
		j.log.Debug("pjl job", observability.String("name", name), observability.Int("commands", len(env.Commands)))
	}
	payload := env.Payload
	j.enter(Unwrapped)

	doc, err := j.parse(ctx, payload)
	if err != nil {
		return out, j.fail(Parsed, err)
	}
	pages, err := doc.Pages()
	if err != nil {
		return out, j.fail(Parsed, &FormatError{Err: err})
	}
	out.Pages = len(pages)
	j.enter(Parsed)

	label, err := cfg.Resolver.Resolve(ctx, j.client)
	if policy.IsDrop(err) {
		j.log.Warn("job dropped", observability.Error("reason", err))
		j.enter(Dropped)
		if err := j.job.RemoveRaw(); err != nil {
			j.log.Warn("raw snapshot not removed", observability.Error("error", err))
		}
		out.State = Dropped
		return out, nil
	}
	if err != nil {
		return out, j.fail(PolicyResolved, err)
	}
	out.Label = label
	j.log = j.log.With(observability.String("label", label))
	j.enter(PolicyResolved)

	wctx, wspan := cfg.Tracer.StartSpan(ctx, observability.SpanWatermark)
	out.Mirrored, err = j.watermark(wctx, doc, label)
	if err != nil {
		wspan.SetError(err)
	}
	wspan.Finish()
	if err != nil {
		return out, j.fail(Watermarked, err)
	}
	j.enter(Watermarked)

	var buf bytes.Buffer
	if err := writer.Write(ctx, doc, &buf, writer.Config{Version: doc.Version}); err != nil {
		return out, j.fail(Persisted, err)
	}
	if err := j.job.WriteFinal(buf.Bytes()); err != nil {
		return out, j.fail(Persisted, err)
	}
	j.enter(Persisted)

	fctx, fspan := cfg.Tracer.StartSpan(ctx, observability.SpanForward)
	ferr := cfg.Forwarder.Forward(fctx, j.job.ID, bytes.NewReader(buf.Bytes()))
	out.Forwarded = ferr == nil
	if ferr != nil {
		fspan.SetError(ferr)
	}
	fspan.Finish()
	if ferr != nil {
		j.log.Warn("forward failed", observability.Error("error", ferr))
	}
	j.enter(Forwarded)

	if ferr != nil && cfg.KeepRawOnForwardFailure {
		j.log.Info("raw snapshot kept", observability.String("path", j.job.RawPath()))
	} else if err := j.job.RemoveRaw(); err != nil {
		j.log.Warn("raw snapshot not removed", observability.Error("error", err))
	}
	j.enter(Done)
	out.State = Done
	return out, nil
}

func (j *run) parse(ctx context.Context, payload []byte) (*raw.Document, error) {
	ctx, span := j.p.cfg.Tracer.StartSpan(ctx, observability.SpanParse)
	defer span.Finish()
	strategy := recovery.NewLenientStrategy()
	doc, err := parser.NewDocumentParser(parser.Config{Recovery: strategy, Limits: j.p.cfg.Limits}).Parse(ctx, payload)
	if problems := strategy.Problems(); len(problems) > 0 {
		j.log.Debug("document repaired", observability.Int("problems", len(problems)), observability.Error("first", problems[0]))
	}
	if err != nil {
		span.SetError(err)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &FormatError{Err: err}
	}
	return doc, nil
}

func (j *run) watermark(ctx context.Context, doc *raw.Document, label string) (bool, error) {
	cfg := j.p.cfg
	mirror, err := cfg.Analyzer.FlippedYAxis(ctx, doc)
	if err != nil {
		return false, fmt.Errorf("inspect coordinates: %w", err)
	}
	img, err := cfg.Renderer.Render(label, cfg.CanvasSize, cfg.CanvasSize, mirror)
	if err != nil {
		return mirror, err
	}
	if err := cfg.Compositor.Apply(ctx, doc, img, cfg.OffsetX, cfg.OffsetY); err != nil {
		return mirror, fmt.Errorf("composite: %w", err)
	}
	return mirror, nil
}

// readJob reads the whole job, failing when it exceeds max bytes.
func readJob(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, fmt.Errorf("read job: %w", err)
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: more than %d bytes", parser.ErrTooLarge, max)
	}
	return data, nil
}
