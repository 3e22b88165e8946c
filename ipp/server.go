package ipp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/net/netutil"

	"github.com/wudi/printmark/observability"
)

// ContentType is the media type of IPP messages.
const ContentType = "application/ipp"

// Job states.
const (
	JobCompleted = 9
	JobAborted   = 8
)

// Job is one submitted document as seen by the handler.
type Job struct {
	ID       int32
	Client   netip.Addr
	Name     string
	User     string
	Format   string
	Document io.Reader
}

// JobHandler processes a Print-Job. Returning nil acknowledges the job as
// completed; errors carrying a Status method choose the response status,
// any other error becomes server-error-internal-error.
type JobHandler interface {
	HandleJob(ctx context.Context, job Job) error
}

// JobHandlerFunc adapts a function to JobHandler.
type JobHandlerFunc func(ctx context.Context, job Job) error

func (f JobHandlerFunc) HandleJob(ctx context.Context, job Job) error { return f(ctx, job) }

// StatusError is implemented by errors that map to a specific IPP status.
type StatusError interface {
	error
	Status() uint16
}

// Server is an IPP printer endpoint served over HTTP.
type Server struct {
	Name    string
	UUID    string
	Handler JobHandler
	Logger  observability.Logger
	// Formats lists accepted document-format values. The first entry is
	// the default.
	Formats []string
	// MaxDocumentSize caps the request body; zero means no cap.
	MaxDocumentSize int64
	// MaxConnections caps concurrent connections in Serve; zero means no
	// cap.
	MaxConnections int
	// Info serves GET requests and is advertised as printer-more-info.
	Info http.Handler

	nextJobID atomic.Int32
	started   time.Time
}

func (s *Server) logger() observability.Logger {
	if s.Logger == nil {
		return observability.NopLogger{}
	}
	return s.Logger
}

func (s *Server) formats() []string {
	if len(s.Formats) == 0 {
		return []string{"application/pdf", "application/octet-stream"}
	}
	return s.Formats
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.started = time.Now()
	if s.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.MaxConnections)
	}
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 30 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger().Info("ipp server listening", observability.String("addr", ln.Addr().String()))
	return s.Serve(ctx, ln)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.Info != nil && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
		s.Info.ServeHTTP(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "IPP requires POST", http.StatusMethodNotAllowed)
		return
	}
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, ContentType) {
		http.Error(w, "unsupported content type", http.StatusUnsupportedMediaType)
		return
	}
	body := io.Reader(r.Body)
	if s.MaxDocumentSize > 0 {
		body = http.MaxBytesReader(w, r.Body, s.MaxDocumentSize)
	}
	br := bufio.NewReader(body)
	req, err := Decode(br)
	if err != nil {
		s.logger().Warn("bad ipp request", observability.Error("error", err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := s.dispatch(r.Context(), r, req, br)
	w.Header().Set("Content-Type", ContentType)
	if err := resp.Encode(w); err != nil {
		s.logger().Warn("write ipp response", observability.Error("error", err))
	}
}

func (s *Server) dispatch(ctx context.Context, r *http.Request, req *Message, doc io.Reader) *Message {
	resp := newResponse(req, StatusOK)
	if req.Major < 1 || req.Major > 2 {
		resp.Code = StatusVersionNotSupported
		return resp
	}
	switch req.Code {
	case OpGetPrinterAttributes:
		s.printerAttributes(r, resp.Group(TagPrinter))
	case OpValidateJob:
		if st := s.checkFormat(req, resp); st != StatusOK {
			resp.Code = st
		}
	case OpGetJobs:
		// Jobs complete before Print-Job returns, so there is never
		// anything to list.
	case OpPrintJob:
		s.printJob(ctx, r, req, resp, doc)
	default:
		resp.Code = StatusOperationNotSupported
	}
	return resp
}

func (s *Server) checkFormat(req *Message, resp *Message) uint16 {
	v, ok := req.Lookup(TagOperation, "document-format")
	if !ok {
		return StatusOK
	}
	for _, f := range s.formats() {
		if v.String() == f {
			return StatusOK
		}
	}
	resp.Group(TagUnsupported).Attributes = append(resp.Group(TagUnsupported).Attributes, Attr("document-format", v))
	return StatusDocumentFormatNotSupported
}

func (s *Server) printJob(ctx context.Context, r *http.Request, req, resp *Message, doc io.Reader) {
	if st := s.checkFormat(req, resp); st != StatusOK {
		resp.Code = st
		return
	}
	job := Job{ID: s.nextJobID.Add(1), Document: doc, Format: s.formats()[0]}
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		job.Client = ap.Addr().Unmap()
	}
	if v, ok := req.Lookup(TagOperation, "job-name"); ok {
		job.Name = v.String()
	}
	if v, ok := req.Lookup(TagOperation, "requesting-user-name"); ok {
		job.User = v.String()
	}
	if v, ok := req.Lookup(TagOperation, "document-format"); ok {
		job.Format = v.String()
	}

	state := int32(JobCompleted)
	if s.Handler == nil {
		resp.Code = StatusInternalError
		state = JobAborted
	} else if err := s.Handler.HandleJob(ctx, job); err != nil {
		resp.Code = StatusInternalError
		var se StatusError
		if errors.As(err, &se) {
			resp.Code = se.Status()
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			resp.Code = StatusRequestEntityTooLarge
		}
		resp.Group(TagOperation).Attributes = append(resp.Group(TagOperation).Attributes,
			Attr("status-message", Text(truncate(err.Error(), 255))))
		state = JobAborted
	}
	g := resp.Group(TagJob)
	g.Attributes = append(g.Attributes,
		Attr("job-id", Integer(job.ID)),
		Attr("job-uri", URI(fmt.Sprintf("%s/jobs/%d", printerURI(r), job.ID))),
		Attr("job-state", Enum(state)),
		Attr("job-state-reasons", Keyword(stateReason(state))),
	)
}

func stateReason(state int32) string {
	if state == JobCompleted {
		return "job-completed-successfully"
	}
	return "aborted-by-system"
}

func (s *Server) printerAttributes(r *http.Request, g *Group) {
	formats := make([]Value, 0, len(s.formats()))
	for _, f := range s.formats() {
		formats = append(formats, MimeType(f))
	}
	uptime := int32(1)
	if !s.started.IsZero() {
		if d := int32(time.Since(s.started) / time.Second); d > 1 {
			uptime = d
		}
	}
	g.Attributes = append(g.Attributes,
		Attr("printer-uri-supported", URI(printerURI(r))),
		Attr("uri-security-supported", Keyword("none")),
		Attr("uri-authentication-supported", Keyword("none")),
		Attr("printer-name", Name(s.Name)),
		Attr("printer-state", Enum(3)),
		Attr("printer-state-reasons", Keyword("none")),
		Attr("printer-is-accepting-jobs", Boolean(true)),
		Attr("queued-job-count", Integer(0)),
		Attr("ipp-versions-supported", Keyword("1.1"), Keyword("2.0")),
		Attr("operations-supported",
			Enum(int32(OpPrintJob)), Enum(int32(OpValidateJob)),
			Enum(int32(OpGetJobs)), Enum(int32(OpGetPrinterAttributes))),
		Attr("charset-configured", Charset("utf-8")),
		Attr("charset-supported", Charset("utf-8")),
		Attr("natural-language-configured", Language("en")),
		Attr("generated-natural-language-supported", Language("en")),
		Attr("document-format-default", formats[0]),
		Attr("document-format-supported", formats...),
		Attr("pdl-override-supported", Keyword("not-attempted")),
		Attr("compression-supported", Keyword("none")),
		Attr("printer-up-time", Integer(uptime)),
	)
	if s.UUID != "" {
		g.Attributes = append(g.Attributes, Attr("printer-uuid", URI("urn:uuid:"+s.UUID)))
	}
	if s.Info != nil {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		g.Attributes = append(g.Attributes, Attr("printer-more-info", URI(scheme+"://"+r.Host+"/")))
	}
}

func printerURI(r *http.Request) string {
	scheme := "ipp"
	if r.TLS != nil {
		scheme = "ipps"
	}
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	return scheme + "://" + r.Host + path
}

func newResponse(req *Message, status uint16) *Message {
	resp := &Message{Major: 1, Minor: 1, Code: status, RequestID: req.RequestID}
	resp.Group(TagOperation).Attributes = []Attribute{
		Attr("attributes-charset", Charset("utf-8")),
		Attr("attributes-natural-language", Language("en")),
	}
	return resp
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
