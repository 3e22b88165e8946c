package scripting

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"
)

// GojaEngine is an Engine backed by one goja.Runtime. goja runtimes are not
// safe for concurrent use, so every entry point holds mu.
type GojaEngine struct {
	mu sync.Mutex
	vm *goja.Runtime
}

func NewEngine() *GojaEngine {
	vm := goja.New()
	return &GojaEngine{vm: vm}
}

func (e *GojaEngine) Execute(ctx context.Context, script string) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	val, err := e.run(ctx, func() (goja.Value, error) { return e.vm.RunString(script) })
	if err != nil {
		return nil, err
	}
	return export(val), nil
}

func (e *GojaEngine) Call(ctx context.Context, name string, args ...interface{}) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn, ok := goja.AssertFunction(e.vm.Get(name))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFunction, name)
	}
	jsArgs := make([]goja.Value, len(args))
	for i, a := range args {
		jsArgs[i] = e.vm.ToValue(a)
	}
	val, err := e.run(ctx, func() (goja.Value, error) { return fn(goja.Undefined(), jsArgs...) })
	if err != nil {
		return nil, err
	}
	return export(val), nil
}

// run executes fn, interrupting the runtime when ctx ends first.
func (e *GojaEngine) run(ctx context.Context, fn func() (goja.Value, error)) (goja.Value, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	defer close(done)
	defer e.vm.ClearInterrupt()

	go func() {
		select {
		case <-ctx.Done():
			e.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	val, err := fn()
	if err != nil {
		if interruptedErr, ok := err.(*goja.InterruptedError); ok {
			if cause := interruptedErr.Unwrap(); cause != nil {
				return nil, cause
			}
			return nil, context.Canceled
		}
		return nil, err
	}
	return val, nil
}

func export(v goja.Value) interface{} {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}

func (e *GojaEngine) RegisterHost(host Host) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vm.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		host.Log(strings.Join(parts, " "))
		return goja.Undefined()
	})
}
