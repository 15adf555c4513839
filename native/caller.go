package native

import "scripthook/process"

// Caller executes host code at fn with integer register arguments.
type Caller interface {
	Call(fn process.Address, args ...uintptr) (uintptr, error)
}

// Func is a Go function the host can call once bound to an address.
type Func func(args ...uintptr) uintptr

// Binder turns a Go function into a host-callable address.
type Binder interface {
	Bind(fn Func) (process.Address, error)
}

// NoCaller is the Caller for backends that only read and write memory.
type NoCaller struct{}

func (NoCaller) Call(fn process.Address, args ...uintptr) (uintptr, error) {
	return 0, ErrNoCaller
}

func (NoCaller) Bind(fn Func) (process.Address, error) {
	return 0, ErrNoCaller
}
