// Package script schedules scripts cooperatively against the host's frame
// loop. Each script runs on its own goroutine, but only one of them (or the
// scheduler) executes at any time: control is handed back and forth over
// channels, so a script can suspend in the middle of a frame while waiting for
// a resource and continue at the same point on a later tick.
package script

import (
	"errors"
	"fmt"

	"scripthook/native"
)

var (
	// ErrExit ends a script cleanly when returned from Prepare or Frame.
	ErrExit = errors.New("script exit")

	ErrNameTaken     = errors.New("script name already registered")
	ErrEmptyName     = errors.New("script name is empty")
	ErrUnknownScript = errors.New("unknown script")
	ErrClosed        = errors.New("runtime closed")

	// ErrReentrantTick is returned by Tick while another Tick is running,
	// including from inside a script.
	ErrReentrantTick = errors.New("tick already in progress")

	// ErrResourceNeverLoaded is returned by WaitFor when its deadline passes.
	ErrResourceNeverLoaded = errors.New("resource never loaded")

	// ErrNoInvoker is returned by Env.Invoke when natives are unavailable.
	ErrNoInvoker = errors.New("native invocation unavailable")

	// ErrPanic wraps a recovered script panic.
	ErrPanic = errors.New("script panicked")
)

// Script is implemented by everything the runtime schedules. Prepare runs
// once before the first Frame; Frame runs once per tick.
type Script interface {
	Prepare(env *Env) error
	Frame(env *Env) error
}

// Funcs adapts plain functions to Script. Nil functions do nothing.
type Funcs struct {
	OnPrepare func(env *Env) error
	OnFrame   func(env *Env) error
}

func (f Funcs) Prepare(env *Env) error {
	if f.OnPrepare == nil {
		return nil
	}
	return f.OnPrepare(env)
}

func (f Funcs) Frame(env *Env) error {
	if f.OnFrame == nil {
		return nil
	}
	return f.OnFrame(env)
}

// State is a script's lifecycle position.
type State uint8

const (
	Created State = iota
	Prepared
	Running
	Terminated
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Prepared:
		return "prepared"
	case Running:
		return "running"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", s)
}

// Resource is a host asset that loads asynchronously.
type Resource interface {
	IsLoaded() bool
	Request()
}

// Invoker calls host natives.
type Invoker interface {
	Invoke(id native.Identifier, ret native.Kind, args ...native.Value) (native.Value, error)
}

// Info describes a registered script.
type Info struct {
	Name    string
	State   State
	Waiting bool
	Frames  uint64
	Err     error
}
