package ipp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
)

// ResponseError is a non-successful IPP status from a remote printer.
type ResponseError struct {
	Code    uint16
	Message string
}

func (e *ResponseError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("ipp status 0x%04x: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("ipp status 0x%04x", e.Code)
}

// Client submits jobs to one printer.
type Client struct {
	// URI is the printer URI, e.g. ipp://printer.local/ipp/print.
	URI  string
	User string
	HTTP *http.Client

	requestID atomic.Int32
}

func NewClient(uri string) *Client {
	return &Client{URI: uri, User: "printmark", HTTP: http.DefaultClient}
}

// PrintJob sends doc as a Print-Job titled name and returns the job id the
// printer assigned.
func (c *Client) PrintJob(ctx context.Context, name, format string, doc io.Reader) (int32, error) {
	endpoint, err := HTTPURL(c.URI)
	if err != nil {
		return 0, err
	}
	req := &Message{Major: 1, Minor: 1, Code: OpPrintJob, RequestID: c.requestID.Add(1)}
	req.Group(TagOperation).Attributes = []Attribute{
		Attr("attributes-charset", Charset("utf-8")),
		Attr("attributes-natural-language", Language("en")),
		Attr("printer-uri", URI(c.URI)),
		Attr("requesting-user-name", Name(c.User)),
		Attr("job-name", Name(name)),
		Attr("document-format", MimeType(format)),
	}
	resp, err := c.do(ctx, endpoint, req, doc)
	if err != nil {
		return 0, err
	}
	id, _ := resp.Lookup(TagJob, "job-id")
	n, _ := id.Int()
	return n, nil
}

// PrinterAttributes fetches the printer description attributes.
func (c *Client) PrinterAttributes(ctx context.Context) (Group, error) {
	endpoint, err := HTTPURL(c.URI)
	if err != nil {
		return Group{}, err
	}
	req := &Message{Major: 1, Minor: 1, Code: OpGetPrinterAttributes, RequestID: c.requestID.Add(1)}
	req.Group(TagOperation).Attributes = []Attribute{
		Attr("attributes-charset", Charset("utf-8")),
		Attr("attributes-natural-language", Language("en")),
		Attr("printer-uri", URI(c.URI)),
	}
	resp, err := c.do(ctx, endpoint, req, nil)
	if err != nil {
		return Group{}, err
	}
	return *resp.Group(TagPrinter), nil
}

func (c *Client) do(ctx context.Context, endpoint string, req *Message, doc io.Reader) (*Message, error) {
	var hdr bytes.Buffer
	if err := req.Encode(&hdr); err != nil {
		return nil, err
	}
	body := io.Reader(&hdr)
	if doc != nil {
		body = io.MultiReader(&hdr, doc)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", ContentType)
	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	hresp, err := client.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer hresp.Body.Close()
	if hresp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ipp: http status %s", hresp.Status)
	}
	resp, err := Decode(hresp.Body)
	if err != nil {
		return nil, err
	}
	if resp.Code >= 0x0100 {
		msg, _ := resp.Lookup(TagOperation, "status-message")
		return nil, &ResponseError{Code: resp.Code, Message: msg.String()}
	}
	return resp, nil
}

// HTTPURL maps an ipp or ipps printer URI to the HTTP URL it is served at.
// IPP URIs without a port use 631. http and https URLs pass through.
func HTTPURL(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ipp":
		u.Scheme = "http"
	case "ipps":
		u.Scheme = "https"
	case "http", "https":
		return u.String(), nil
	default:
		return "", fmt.Errorf("ipp: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("ipp: %q has no host", uri)
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), "631")
	}
	return u.String(), nil
}
