// Package status keeps a summary of recent jobs and serves it as the
// printer's more-info page.
package status

import (
	"bytes"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/wudi/printmark/gateway"
)

// DefaultHistory is the number of jobs a Board lists when History is zero.
const DefaultHistory = 20

// Entry is one finished job.
type Entry struct {
	Time   time.Time
	Client netip.Addr
	JobID  string
	Label  string
	State  gateway.State
	Error  string
}

// Board counts jobs per terminal state and remembers the most recent ones.
// It implements gateway.Recorder and http.Handler.
type Board struct {
	Title      string
	Downstream string
	History    int
	Now        func() time.Time

	mu      sync.Mutex
	started time.Time
	counts  map[gateway.State]int
	recent  []Entry
}

func NewBoard(title, downstream string) *Board {
	return &Board{Title: title, Downstream: downstream, started: time.Now()}
}

func (b *Board) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// Record stores the outcome of one job.
func (b *Board) Record(client netip.Addr, out gateway.Outcome, err error) {
	e := Entry{Time: b.now().UTC(), Client: client, JobID: out.JobID, Label: out.Label, State: out.State}
	if err != nil {
		e.Error = err.Error()
	}
	limit := b.History
	if limit <= 0 {
		limit = DefaultHistory
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.counts == nil {
		b.counts = make(map[gateway.State]int)
	}
	b.counts[out.State]++
	b.recent = append(b.recent, e)
	if len(b.recent) > limit {
		b.recent = append(b.recent[:0], b.recent[len(b.recent)-limit:]...)
	}
}

// Count returns how many jobs ended in state.
func (b *Board) Count(state gateway.State) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[state]
}

// Recent returns the remembered jobs, newest first.
func (b *Board) Recent() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, len(b.recent))
	for i, e := range b.recent {
		out[len(out)-1-i] = e
	}
	return out
}

// Markdown renders the board.
func (b *Board) Markdown() string {
	recent := b.Recent()
	b.mu.Lock()
	counts := make(map[gateway.State]int, len(b.counts))
	for k, v := range b.counts {
		counts[k] = v
	}
	started := b.started
	b.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", escape(b.Title))
	if b.Downstream != "" {
		fmt.Fprintf(&sb, "Forwarding to `%s`.\n\n", strings.ReplaceAll(b.Downstream, "`", ""))
	}
	if !started.IsZero() {
		fmt.Fprintf(&sb, "Up since %s.\n\n", started.UTC().Format(time.RFC3339))
	}
	sb.WriteString("## Jobs\n\n| State | Jobs |\n| --- | ---: |\n")
	for s := gateway.Received; s <= gateway.Failed; s++ {
		if s.Terminal() {
			fmt.Fprintf(&sb, "| %s | %d |\n", s, counts[s])
		}
	}
	sb.WriteString("\n## Recent\n\n")
	if len(recent) == 0 {
		sb.WriteString("No jobs yet.\n")
		return sb.String()
	}
	sb.WriteString("| Time | Client | Job | Label | State | Error |\n| --- | --- | --- | --- | --- | --- |\n")
	for _, e := range recent {
		fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s | %s |\n",
			e.Time.Format(time.RFC3339), e.Client, escape(e.JobID), escape(e.Label), e.State, escape(e.Error))
	}
	return sb.String()
}

// HTML renders the board as a complete page.
func (b *Board) HTML() ([]byte, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	var body bytes.Buffer
	if err := md.Convert([]byte(b.Markdown()), &body); err != nil {
		return nil, err
	}
	var page bytes.Buffer
	page.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>")
	page.WriteString(htmlEscaper.Replace(b.Title))
	page.WriteString("</title></head><body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body></html>\n")
	return page.Bytes(), nil
}

func (b *Board) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	page, err := b.HTML()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if r.Method == http.MethodHead {
		return
	}
	w.Write(page)
}

var mdEscaper = strings.NewReplacer(
	"&", "&amp;", `\`, `\\`, "|", `\|`, "`", "\\`", "*", `\*`, "_", `\_`,
	"[", `\[`, "]", `\]`, "<", "&lt;", ">", "&gt;", "\n", " ", "\r", " ",
)

// escape keeps user-controlled text inside one table cell as plain text.
func escape(s string) string { return mdEscaper.Replace(s) }

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
