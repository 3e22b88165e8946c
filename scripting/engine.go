// Package scripting runs user-supplied JavaScript in an embedded goja
// runtime.
package scripting

import (
	"context"
	"errors"
)

// ErrNotFunction reports a Call to a global that is not a function.
var ErrNotFunction = errors.New("scripting: global is not a function")

// Engine evaluates scripts and calls the functions they define. An Engine
// serializes its own calls and may be shared.
type Engine interface {
	// Execute runs script in the global scope and returns its completion
	// value.
	Execute(ctx context.Context, script string) (interface{}, error)

	// Call invokes the global function name. A null or undefined result
	// is returned as nil.
	Call(ctx context.Context, name string, args ...interface{}) (interface{}, error)

	// RegisterHost exposes host services to scripts.
	RegisterHost(host Host) error
}

// Host is what scripts can reach outside the runtime.
type Host interface {
	// Log receives the arguments of a script's log() call joined by spaces.
	Log(message string)
}
