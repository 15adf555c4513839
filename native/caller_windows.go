//go:build windows

package native

import (
	"fmt"
	"syscall"

	"scripthook/process"

	"golang.org/x/sys/windows"
)

// maxCallbackArgs is the arity of functions handed to the host.
const maxCallbackArgs = 4

// InProcess calls and binds functions in the current process using the
// Windows x64 calling convention.
type InProcess struct{}

// NewInProcess returns the caller for code injected into the host.
func NewInProcess() InProcess { return InProcess{} }

func (InProcess) Call(fn process.Address, args ...uintptr) (uintptr, error) {
	if fn == 0 {
		return 0, fmt.Errorf("call null function: %w", process.ErrInvalidPointer)
	}
	r1, _, _ := syscall.SyscallN(uintptr(fn), args...)
	return r1, nil
}

// Bind exposes fn as a callback taking four integer arguments. Callbacks are
// never released.
func (InProcess) Bind(fn Func) (process.Address, error) {
	cb := windows.NewCallback(func(a, b, c, d uintptr) uintptr {
		return fn(a, b, c, d)
	})
	if cb == 0 {
		return 0, fmt.Errorf("create callback with %d args: %w", maxCallbackArgs, ErrNoCaller)
	}
	return process.Address(cb), nil
}
