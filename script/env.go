package script

import (
	"fmt"
	"iter"

	"scripthook/event"
	"scripthook/native"
)

// Env is a script's view of the runtime. It must only be used from inside
// the script's own Prepare and Frame calls.
type Env struct {
	h *handle
}

func (e *Env) Name() string { return e.h.name }

// Tick is the number of the tick being run.
func (e *Env) Tick() uint64 { return e.h.rt.CurrentTick() }

// Events yields the events published for this tick.
func (e *Env) Events() iter.Seq[event.Event] {
	return e.h.rt.pool.All()
}

// Emit queues an event for the next tick.
func (e *Env) Emit(ev event.Event) {
	e.h.rt.pool.Push(ev)
}

// Send queues a message from this script for the next tick.
func (e *Env) Send(name, data string) {
	e.Emit(event.Message{From: e.h.name, Name: name, Data: data})
}

// Invoke calls a host native. See native.Invoker for the caveats.
func (e *Env) Invoke(id native.Identifier, ret native.Kind, args ...native.Value) (native.Value, error) {
	if e.h.rt.invoker == nil {
		return native.Value{}, ErrNoInvoker
	}
	return e.h.rt.invoker.Invoke(id, ret, args...)
}

// WaitOption adjusts WaitFor.
type WaitOption func(*wait)

// WithDeadline gives up after the given number of ticks.
func WithDeadline(ticks uint64) WaitOption {
	return func(w *wait) {
		if ticks > 0 {
			w.deadline = ticks
		}
	}
}

// WaitFor suspends the script until res is loaded. Request is called at most
// once, and only when res is not loaded yet. Without a deadline, from the
// options or the runtime default, a resource that never loads keeps the
// script suspended until it is terminated.
func (e *Env) WaitFor(res Resource, opts ...WaitOption) error {
	if res.IsLoaded() {
		return nil
	}

	w := &wait{res: res, deadline: e.h.rt.waitDeadline}
	for _, opt := range opts {
		opt(w)
	}
	if w.deadline != 0 {
		w.deadline += e.Tick()
	}

	res.Request()
	e.h.rt.setWait(e.h, w)
	msg := e.h.park(yieldMsg{waiting: true})
	e.h.rt.setWait(e.h, nil)

	if msg.timeout {
		return fmt.Errorf("%s waited until tick %d: %w", e.h.name, w.deadline, ErrResourceNeverLoaded)
	}
	return nil
}

// Wait suspends the script for the given number of ticks.
func (e *Env) Wait(ticks uint64) error {
	return e.WaitFor(tickReached{rt: e.h.rt, at: e.Tick() + ticks}, noDeadline)
}

func noDeadline(w *wait) {
	w.deadline = 0
}

type tickReached struct {
	rt *Runtime
	at uint64
}

func (t tickReached) IsLoaded() bool { return t.rt.CurrentTick() >= t.at }
func (t tickReached) Request() {}
