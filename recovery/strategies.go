package recovery

import (
	"fmt"
	"sync"
)

// StrictStrategy implements a fail-fast recovery strategy.
type StrictStrategy struct{}

func NewStrictStrategy() *StrictStrategy {
	return &StrictStrategy{}
}

func (s *StrictStrategy) OnError(ctx Context, err error, location Location) Action {
	return ActionFail
}

// LenientStrategy records every problem and asks the caller to carry on.
// Print drivers routinely emit off-by-a-few stream lengths and stale xref
// offsets, so this is the default for job documents.
type LenientStrategy struct {
	mu     sync.Mutex
	Errors []error
}

func NewLenientStrategy() *LenientStrategy {
	return &LenientStrategy{}
}

func (s *LenientStrategy) OnError(ctx Context, err error, location Location) Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Errors = append(s.Errors, fmt.Errorf("[%s] offset %d: %w", location.Component, location.ByteOffset, err))
	return ActionWarn
}

// Problems returns a snapshot of the recorded errors.
func (s *LenientStrategy) Problems() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]error, len(s.Errors))
	copy(out, s.Errors)
	return out
}
