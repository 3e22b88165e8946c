// Package pjl unwraps documents framed in a Printer Job Language envelope.
//
// An envelope starts with the Universal Exit Language sequence, carries
// "@PJL" command lines, switches language with an ENTER LANGUAGE line and
// ends with another exit sequence:
//
//	ESC%-12345X@PJL JOB NAME = "report"
//	@PJL ENTER LANGUAGE = PDF
//	%PDF-1.7 ...
//	ESC%-12345X@PJL EOJ
package pjl

import (
	"bytes"
	"errors"
	"regexp"
)

// Magic is the Universal Exit Language sequence that opens and closes an
// envelope.
var Magic = []byte("\x1b%-12345X")

var enterPDF = []byte("@PJL ENTER LANGUAGE = PDF")

var (
	// ErrNotEnvelope reports data that does not start with Magic. Callers
	// treat the data as the payload itself.
	ErrNotEnvelope = errors.New("pjl: not an envelope")
	// ErrUnsupportedEnvelope reports an envelope that never enters PDF.
	ErrUnsupportedEnvelope = errors.New("pjl: envelope does not contain a PDF payload")
)

// Envelope is a parsed PJL job.
type Envelope struct {
	// Commands holds the @PJL lines seen before the payload, without
	// line terminators.
	Commands []string
	Payload  []byte
}

// IsEnvelope reports whether data starts with Magic.
func IsEnvelope(data []byte) bool { return bytes.HasPrefix(data, Magic) }

// Parse splits data into its PJL commands and the PDF payload. The payload
// runs from the line after ENTER LANGUAGE = PDF up to the next Magic, or to
// the end of data when there is none. A payload containing Magic is cut
// there.
func Parse(data []byte) (*Envelope, error) {
	if !IsEnvelope(data) {
		return nil, ErrNotEnvelope
	}
	env := &Envelope{}
	rest := data
	entered := false
	for len(rest) > 0 {
		line, next, _ := bytes.Cut(rest, []byte{'\n'})
		rest = next
		cmd := bytes.TrimRight(bytes.TrimPrefix(line, Magic), "\r")
		if bytes.HasPrefix(cmd, enterPDF) {
			entered = true
			break
		}
		if bytes.HasPrefix(cmd, []byte("@PJL")) {
			env.Commands = append(env.Commands, string(cmd))
		}
	}
	if !entered {
		return nil, ErrUnsupportedEnvelope
	}
	if i := bytes.Index(rest, Magic); i >= 0 {
		rest = rest[:i]
	}
	env.Payload = rest
	return env, nil
}

// Unwrap parses data as an envelope. Data that is not an envelope is
// returned as the payload of an envelope without commands.
func Unwrap(data []byte) (*Envelope, error) {
	env, err := Parse(data)
	if errors.Is(err, ErrNotEnvelope) {
		return &Envelope{Payload: data}, nil
	}
	return env, err
}

var jobName = regexp.MustCompile(`^@PJL\s+JOB\b.*\bNAME\s*=\s*"([^"]*)"`)

// JobName returns the NAME of the first @PJL JOB command, if any.
func (e *Envelope) JobName() (string, bool) {
	for _, cmd := range e.Commands {
		if m := jobName.FindStringSubmatch(cmd); m != nil {
			return m[1], true
		}
	}
	return "", false
}
