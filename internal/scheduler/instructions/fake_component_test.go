package instructions

import (
	"github.com/hedgehog/pluto/internal/component"
	"github.com/hedgehog/pluto/internal/eventbus"
)

// fakeComponent is used across this package's tests to exercise Call, Set
// and the Wait* instructions against a realistic (if trivial) target.
type fakeComponent struct {
	component.Base

	Foo int // declared and writable, but never written by these tests
	Bar int // read-write
	Baz int // read-write
}

func newFakeComponent(name string, bus *eventbus.Bus) *fakeComponent {
	return &fakeComponent{Base: component.NewBase(name, bus)}
}

func (f *fakeComponent) Describe() ([]string, []string) {
	return []string{"SimpleMethod", "ComplexMethod", "BangBang"}, []string{"Foo", "Bar", "Baz"}
}

func (f *fakeComponent) SimpleMethod() {}

func (f *fakeComponent) ComplexMethod(foo int, bar string) string {
	return bar
}

func (f *fakeComponent) BangBang() {
	panic("BANG! a forced exception")
}

func (f *fakeComponent) Stop() {}
