// Package component implements the Pluto component base contract and the
// process-wide registry that brokers attribute and method access across
// components without callers needing a direct reference to each other.
package component

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/hedgehog/pluto/internal/errs"
	"github.com/hedgehog/pluto/internal/event"
	"github.com/hedgehog/pluto/internal/eventbus"
)

// Component is the contract every registrable unit of Pluto implements.
// Describe replaces the dynamic attribute interception the source project
// relied on: there is no reflection-based discovery of "public" members,
// a component states its own surface explicitly.
type Component interface {
	// Name returns the component's process-wide unique name.
	Name() string

	// Describe lists the method and variable names this component exposes
	// to the registry. Names not listed here are not callable/readable
	// through the registry even if the underlying Go method/field exists.
	Describe() (methods []string, variables []string)

	// Stop releases any resources the component holds (goroutines,
	// connections, timers). Called once, from the application shutdown
	// sequence.
	Stop()
}

// Base is embedded by concrete components to satisfy the Name half of the
// Component contract and hold the bus reference constructors need to post
// and subscribe to events.
type Base struct {
	name string
	bus  *eventbus.Bus
}

// NewBase constructs the embeddable base. Concrete constructors call this
// first, then Registry.Register(self) once they're otherwise ready.
func NewBase(name string, bus *eventbus.Bus) Base {
	return Base{name: name, bus: bus}
}

func (b *Base) Name() string        { return b.name }
func (b *Base) Bus() *eventbus.Bus  { return b.bus }

// Registry is the single owner of the process's live component set. It is
// the only writer of public variables (SetVariable emits VariableUpdate
// after the write succeeds) and answers GetComponent lookups posted to the
// bus, so instructions never need a direct registry reference of their own,
// only the bus.
type Registry struct {
	mu         sync.RWMutex
	components map[string]Component
	bus        *eventbus.Bus
}

// NewRegistry creates a Registry and subscribes it to event.GetComponent so
// any holder of the bus can resolve a component by name.
func NewRegistry(bus *eventbus.Bus) *Registry {
	r := &Registry{
		components: make(map[string]Component),
		bus:        bus,
	}
	bus.On(event.GetComponent{}, r.handleGetComponent)
	return r
}

func (r *Registry) handleGetComponent(_ context.Context, e event.Event) error {
	req := e.(event.GetComponent)
	r.mu.RLock()
	c, ok := r.components[req.Name]
	r.mu.RUnlock()
	if !ok {
		req.Reply(nil)
		return nil
	}
	req.Reply(c)
	return nil
}

// Register adds c to the live set under its own name. Returns
// ErrDuplicateRegistration if the name is already taken.
func (r *Registry) Register(c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.components[c.Name()]; exists {
		return errs.Wrap(errs.ErrDuplicateRegistration, "component %q already registered", c.Name())
	}
	r.components[c.Name()] = c
	return nil
}

// Deregister removes a component from the live set. A no-op if the name
// isn't registered.
func (r *Registry) Deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.components, name)
}

// Get resolves a component by name directly (used by in-process callers
// that already hold the registry, such as the application bootstrap and the
// access surface). Returns ErrUnknownComponent if name isn't registered.
func (r *Registry) Get(name string) (Component, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.components[name]
	if !ok {
		return nil, errs.Wrap(errs.ErrUnknownComponent, "no component named %q", name)
	}
	return c, nil
}

// ListComponents returns every registered component name.
func (r *Registry) ListComponents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.components))
	for name := range r.components {
		names = append(names, name)
	}
	return names
}

// ListMethods returns the method names component declares via Describe.
func (r *Registry) ListMethods(name string) ([]string, error) {
	c, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	methods, _ := c.Describe()
	return methods, nil
}

// ListVariables returns the variable names component declares via Describe.
func (r *Registry) ListVariables(name string) ([]string, error) {
	c, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	_, variables := c.Describe()
	return variables, nil
}

// CallMethod invokes method on component with args, after checking method
// is one Describe() declared. Supports Go methods returning any combination
// of (), (T), (error), or (T, error).
func (r *Registry) CallMethod(name, method string, args []any) (any, error) {
	c, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return callMethodOn(c, method, args)
}

// GetVariable reads a public variable, after checking it's one Describe()
// declared.
func (r *Registry) GetVariable(name, variable string) (any, error) {
	c, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return getVariableOn(c, variable)
}

// SetVariable writes a public variable and, on success, posts a
// VariableUpdate event. This is the only code path in the framework that
// emits VariableUpdate: components never post it themselves.
func (r *Registry) SetVariable(ctx context.Context, name, variable string, value any) error {
	c, err := r.Get(name)
	if err != nil {
		return err
	}
	return setVariableOn(ctx, r.bus, c, variable, value)
}

func callMethodOn(c Component, method string, args []any) (any, error) {
	methods, _ := c.Describe()
	if !contains(methods, method) {
		return nil, errs.Wrap(errs.ErrAttribute, "component %q has no callable method %q", c.Name(), method)
	}

	fn := reflect.ValueOf(c).MethodByName(method)
	if !fn.IsValid() {
		return nil, errs.Wrap(errs.ErrAttribute, "component %q does not implement method %q", c.Name(), method)
	}

	in, err := buildArgs(fn, args)
	if err != nil {
		return nil, errs.Wrap(errs.ErrBadParameters, "%s.%s: %v", c.Name(), method, err)
	}

	out := fn.Call(in)
	return splitResult(out)
}

func getVariableOn(c Component, variable string) (any, error) {
	_, variables := c.Describe()
	if !contains(variables, variable) {
		return nil, errs.Wrap(errs.ErrAttribute, "component %q has no public variable %q", c.Name(), variable)
	}

	field := reflect.ValueOf(c).Elem().FieldByName(variable)
	if !field.IsValid() {
		return nil, errs.Wrap(errs.ErrAttribute, "component %q does not expose field %q", c.Name(), variable)
	}
	return field.Interface(), nil
}

// setVariableOn is the single implementation of "write a component variable
// and notify observers" shared by Registry.SetVariable and SetVariableViaBus
// (the bus-only helper instructions use, since they never hold a *Registry).
func setVariableOn(ctx context.Context, bus *eventbus.Bus, c Component, variable string, value any) error {
	_, variables := c.Describe()
	if !contains(variables, variable) {
		return errs.Wrap(errs.ErrAttribute, "component %q has no public variable %q", c.Name(), variable)
	}

	field := reflect.ValueOf(c).Elem().FieldByName(variable)
	if !field.IsValid() || !field.CanSet() {
		return errs.Wrap(errs.ErrAttribute, "component %q variable %q is not settable", c.Name(), variable)
	}

	v := reflect.ValueOf(value)
	if !v.Type().AssignableTo(field.Type()) {
		if !v.Type().ConvertibleTo(field.Type()) {
			return errs.Wrap(errs.ErrBadParameters, "cannot assign %T to %s.%s (%s)", value, c.Name(), variable, field.Type())
		}
		v = v.Convert(field.Type())
	}
	field.Set(v)

	return bus.Post(ctx, event.VariableUpdate{Component: c.Name(), Variable: variable, Value: value}, false)
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

func buildArgs(fn reflect.Value, args []any) ([]reflect.Value, error) {
	t := fn.Type()
	if t.NumIn() != len(args) {
		return nil, fmt.Errorf("expected %d arguments, got %d", t.NumIn(), len(args))
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		want := t.In(i)
		v := reflect.ValueOf(a)
		if !v.IsValid() {
			in[i] = reflect.Zero(want)
			continue
		}
		if !v.Type().AssignableTo(want) {
			if !v.Type().ConvertibleTo(want) {
				return nil, fmt.Errorf("argument %d: cannot use %T as %s", i, a, want)
			}
			v = v.Convert(want)
		}
		in[i] = v
	}
	return in, nil
}

func splitResult(out []reflect.Value) (any, error) {
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if errVal, ok := out[0].Interface().(error); ok {
			return nil, errVal
		}
		return out[0].Interface(), nil
	default:
		last := out[len(out)-1]
		var err error
		if e, ok := last.Interface().(error); ok {
			err = e
		}
		return out[0].Interface(), err
	}
}

// CallMethodViaBus resolves name through the bus's GetComponent protocol and
// invokes method on it. Used by instructions, which only ever hold a bus
// reference, never a *Registry.
func CallMethodViaBus(ctx context.Context, bus *eventbus.Bus, name, method string, args []any) (any, error) {
	c, err := RunGetComponent(ctx, bus, name)
	if err != nil {
		return nil, err
	}
	return callMethodOn(c, method, args)
}

// GetVariableViaBus resolves name through the bus's GetComponent protocol
// and reads variable from it.
func GetVariableViaBus(ctx context.Context, bus *eventbus.Bus, name, variable string) (any, error) {
	c, err := RunGetComponent(ctx, bus, name)
	if err != nil {
		return nil, err
	}
	return getVariableOn(c, variable)
}

// SetVariableViaBus resolves name through the bus's GetComponent protocol
// and writes variable on it, posting VariableUpdate on success exactly as
// Registry.SetVariable does (the two share one implementation).
func SetVariableViaBus(ctx context.Context, bus *eventbus.Bus, name, variable string, value any) error {
	c, err := RunGetComponent(ctx, bus, name)
	if err != nil {
		return err
	}
	return setVariableOn(ctx, bus, c, variable, value)
}

// RunGetComponent posts a GetComponent event and blocks for the reply,
// mirroring the source project's GetComponentEvent.run helper: callers that
// only hold a bus reference (instructions, the logging broadcaster) use this
// instead of talking to the Registry directly.
func RunGetComponent(ctx context.Context, bus *eventbus.Bus, name string) (Component, error) {
	var (
		mu     sync.Mutex
		result Component
	)
	e := event.GetComponent{
		Name: name,
		Reply: func(instance any) {
			mu.Lock()
			defer mu.Unlock()
			if instance == nil {
				return
			}
			if c, ok := instance.(Component); ok {
				result = c
			}
		},
	}
	if err := bus.Post(ctx, e, true); err != nil {
		return nil, err
	}
	mu.Lock()
	defer mu.Unlock()
	if result == nil {
		return nil, errs.Wrap(errs.ErrUnknownComponent, "no component named %q", name)
	}
	return result, nil
}
