package status

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/wudi/printmark/gateway"
)

var client = netip.MustParseAddr("10.1.42.7")

func fixedBoard() *Board {
	b := NewBoard("Floor 3", "ipp://printer.local/ipp/print")
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b.Now = func() time.Time { return at }
	return b
}

func TestRecordCountsAndHistory(t *testing.T) {
	b := fixedBoard()
	b.History = 2
	b.Record(client, gateway.Outcome{State: gateway.Done, JobID: "a", Label: "042"}, nil)
	b.Record(client, gateway.Outcome{State: gateway.Dropped, JobID: "b"}, nil)
	b.Record(client, gateway.Outcome{State: gateway.Failed, JobID: "c"}, errors.New("boom"))

	for state, want := range map[gateway.State]int{gateway.Done: 1, gateway.Dropped: 1, gateway.Failed: 1, gateway.Forwarded: 0} {
		if got := b.Count(state); got != want {
			t.Errorf("%s = %d, want %d", state, got, want)
		}
	}
	recent := b.Recent()
	if len(recent) != 2 || recent[0].JobID != "c" || recent[1].JobID != "b" {
		t.Fatalf("recent %+v", recent)
	}
	if recent[0].Error != "boom" {
		t.Fatalf("error %q", recent[0].Error)
	}
}

func TestMarkdownEscapesCells(t *testing.T) {
	b := fixedBoard()
	b.Record(client, gateway.Outcome{State: gateway.Done, JobID: "j1", Label: "a|b<script>"}, nil)
	md := b.Markdown()
	if !strings.Contains(md, `a\|b&lt;script&gt;`) {
		t.Fatalf("label not escaped:\n%s", md)
	}
	if !strings.Contains(md, "| done | 1 |") {
		t.Fatalf("missing count row:\n%s", md)
	}
	if !strings.Contains(md, "2024-05-01T12:00:00Z") {
		t.Fatalf("missing timestamp:\n%s", md)
	}
}

func TestServeHTML(t *testing.T) {
	b := fixedBoard()
	b.Record(client, gateway.Outcome{State: gateway.Done, JobID: "j1", Label: "042"}, nil)
	ts := httptest.NewServer(b)
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content type %q", ct)
	}
	page := string(body)
	for _, want := range []string{"<title>Floor 3</title>", "<h1>Floor 3</h1>", "<table>", "<td>042</td>", "<td>10.1.42.7</td>"} {
		if !strings.Contains(page, want) {
			t.Errorf("page lacks %q", want)
		}
	}
	if strings.Contains(page, "<script>") {
		t.Fatal("unescaped markup in page")
	}

	post, err := http.Post(ts.URL, "text/plain", strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST status %d", post.StatusCode)
	}
}

func TestMarkdownCountsTerminalStates(t *testing.T) {
	md := fixedBoard().Markdown()
	for _, row := range []string{"| done | 0 |", "| dropped | 0 |", "| failed | 0 |"} {
		if !strings.Contains(md, row) {
			t.Errorf("missing %q", row)
		}
	}
	for _, s := range []string{"received", "parsed", "forwarded"} {
		if strings.Contains(md, "| "+s+" |") {
			t.Errorf("non-terminal state %q listed", s)
		}
	}
}

func TestEmptyBoard(t *testing.T) {
	if md := fixedBoard().Markdown(); !strings.Contains(md, "No jobs yet.") {
		t.Fatalf("markdown:\n%s", md)
	}
}
