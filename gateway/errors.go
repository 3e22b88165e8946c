package gateway

import (
	"errors"
	"fmt"

	"github.com/wudi/printmark/ipp"
)

// FormatError reports a job whose document cannot be read: an envelope
// without a PDF payload or a payload that does not parse. The transport
// answers it with client-error-document-format-not-supported.
type FormatError struct {
	Err error
}

func (e *FormatError) Error() string  { return fmt.Sprintf("unsupported document: %v", e.Err) }
func (e *FormatError) Unwrap() error  { return e.Err }
func (e *FormatError) Status() uint16 { return ipp.StatusDocumentFormatNotSupported }

// IsFormatError reports whether err carries a FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// StateError records the state a failed job was moving to.
type StateError struct {
	State State
	Err   error
}

func (e *StateError) Error() string { return fmt.Sprintf("%s: %v", e.State, e.Err) }
func (e *StateError) Unwrap() error { return e.Err }
