package policy

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"

	"github.com/wudi/printmark/observability"
	"github.com/wudi/printmark/scripting"
)

// FunctionName is the global a policy script must define.
const FunctionName = "get_team_id"

// DefaultScript labels IPv4 clients with their third octet and returns
// null for everything else.
//
//go:embed default_policy.js
var DefaultScript string

// Scripted asks a JavaScript function for the label. The function takes the
// client address as a string and returns a label, or null or undefined when
// the client is unknown.
type Scripted struct {
	engine scripting.Engine
}

// NewScripted loads source into a fresh engine and checks that it defines
// FunctionName. Script log() calls go to logger at debug level.
func NewScripted(ctx context.Context, source string, logger observability.Logger) (*Scripted, error) {
	engine := scripting.NewEngine()
	if logger != nil {
		if err := engine.RegisterHost(logHost{logger}); err != nil {
			return nil, err
		}
	}
	if _, err := engine.Execute(ctx, source); err != nil {
		return nil, fmt.Errorf("policy script: %w", err)
	}
	kind, err := engine.Execute(ctx, "typeof "+FunctionName)
	if err != nil {
		return nil, err
	}
	if kind != "function" {
		return nil, fmt.Errorf("%w: policy script does not define %s()", scripting.ErrNotFunction, FunctionName)
	}
	return &Scripted{engine: engine}, nil
}

// LoadScripted reads the script at path, or uses DefaultScript when path
// is empty.
func LoadScripted(ctx context.Context, path string, logger observability.Logger) (*Scripted, error) {
	source := DefaultScript
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		source = string(data)
	}
	return NewScripted(ctx, source, logger)
}

func (s *Scripted) Resolve(ctx context.Context, client netip.Addr) (string, error) {
	out, err := s.engine.Call(ctx, FunctionName, client.Unmap().String())
	if err != nil {
		if errors.Is(err, scripting.ErrNotFunction) {
			return "", err
		}
		return "", fmt.Errorf("%s(%s): %w", FunctionName, client, err)
	}
	switch v := out.(type) {
	case nil:
		return "", fmt.Errorf("%w: %s", ErrUnknownClient, client)
	case string:
		return v, nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("%s(%s) returned %T", FunctionName, client, out)
	}
}

type logHost struct{ logger observability.Logger }

func (h logHost) Log(msg string) { h.logger.Debug("policy script", observability.String("message", msg)) }
