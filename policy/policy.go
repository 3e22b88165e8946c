// Package policy maps a client's network address to the label printed in
// its watermark.
package policy

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
)

var (
	// ErrUnknownClient reports a client the policy has no label for. Jobs
	// from such clients are dropped, not failed.
	ErrUnknownClient = errors.New("policy: unknown client")
	// ErrUnsupportedFamily reports an address the policy cannot classify.
	// Jobs from such clients are dropped, not failed.
	ErrUnsupportedFamily = errors.New("policy: unsupported address family")
)

// Resolver returns the label for a client. Implementations are safe for
// concurrent use.
type Resolver interface {
	Resolve(ctx context.Context, client netip.Addr) (string, error)
}

// IsDrop reports whether err means the job should be skipped silently.
func IsDrop(err error) bool {
	return errors.Is(err, ErrUnknownClient) || errors.Is(err, ErrUnsupportedFamily)
}

// Static labels IPv4 clients with one octet of their address, zero padded
// to three digits.
type Static struct {
	// Octet is the 0-based index of the octet to use.
	Octet int
}

// NewStatic returns a Static resolver using the third octet.
func NewStatic() Static { return Static{Octet: 2} }

func (s Static) Resolve(_ context.Context, client netip.Addr) (string, error) {
	client = client.Unmap()
	if !client.Is4() {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFamily, client)
	}
	if s.Octet < 0 || s.Octet > 3 {
		return "", fmt.Errorf("policy: octet index %d out of range", s.Octet)
	}
	return fmt.Sprintf("%03d", client.As4()[s.Octet]), nil
}
