// Package instructions provides the concrete Instruction implementations:
// Call, Set, the Wait* family, Parallel and the Repeat* family.
package instructions

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/hedgehog/pluto/internal/component"
	"github.com/hedgehog/pluto/internal/eventbus"
)

// Call invokes a single method on a registered component and returns its
// result.
type Call struct {
	component string
	method    string
	args      []any
}

// NewCall builds a Call instruction targeting component.method(args...).
func NewCall(comp, method string, args ...any) *Call {
	return &Call{component: comp, method: method, args: args}
}

func (c *Call) Description() string {
	return fmt.Sprintf("Call %s.%s(args=%v)", c.component, c.method, c.args)
}

func (c *Call) Run(ctx context.Context, bus *eventbus.Bus) (any, error) {
	log.Printf("instructions: calling %s.%s(%v)", c.component, c.method, c.args)
	result, err := component.CallMethodViaBus(ctx, bus, c.component, c.method, c.args)
	if err != nil {
		return nil, err
	}
	log.Printf("instructions: called %s.%s, returned %v", c.component, c.method, result)
	return result, nil
}

// Stop is a no-op: there is no general way to interrupt an in-flight method
// call without the target component itself exposing a cancellation hook.
func (c *Call) Stop() {}

// Attr is one (variable, value) pair a Set instruction writes, in order.
type Attr struct {
	Name  string
	Value any
}

// Set writes a sequence of public variables on a component, in order,
// stopping before the next write (but not undoing the ones already made) if
// Stop is called mid-way.
type Set struct {
	component string
	attrs     []Attr

	mu   sync.Mutex
	stop chan struct{}
}

// NewSet builds a Set instruction writing attrs to component in order.
func NewSet(comp string, attrs ...Attr) *Set {
	return &Set{component: comp, attrs: attrs}
}

func (s *Set) Description() string {
	return fmt.Sprintf("Set: component=%s attrs=%v", s.component, s.attrs)
}

func (s *Set) Run(ctx context.Context, bus *eventbus.Bus) (any, error) {
	stop := make(chan struct{})
	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()

	for _, attr := range s.attrs {
		select {
		case <-stop:
			log.Printf("instructions: Set[%s] stopping before %s", s.component, attr.Name)
			return nil, nil
		default:
		}
		log.Printf("instructions: %s.%s = %v", s.component, attr.Name, attr.Value)
		if err := component.SetVariableViaBus(ctx, bus, s.component, attr.Name, attr.Value); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (s *Set) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		select {
		case <-s.stop:
		default:
			close(s.stop)
		}
	}
}
