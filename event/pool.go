package event

import (
	"iter"
	"slices"
	"sync"
)

// Pool is a double buffer of events. Producers on any goroutine append to
// the output side; Swap publishes it as the input side read during a tick.
//
// Input is not locked. Swap and All must be ordered by happens-before: the
// script runtime swaps on the ticking goroutine and then resumes each script
// with a channel send, and the script reads All before its yield is received,
// so no two goroutines touch input at once.
type Pool struct {
	mu     sync.Mutex
	output []Event

	input []Event
}

func NewPool() *Pool {
	return &Pool{}
}

// Push appends to the output side.
func (p *Pool) Push(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.output = append(p.output, e)
}

// Swap makes the pending output the new input and clears output.
func (p *Pool) Swap() {
	p.mu.Lock()
	defer p.mu.Unlock()

	// the old input is reused as the next output buffer
	clear(p.input)
	p.input, p.output = p.output, p.input[:0]
}

// All yields this tick's input in push order.
func (p *Pool) All() iter.Seq[Event] {
	return slices.Values(p.input)
}

// Input returns a copy of this tick's input.
func (p *Pool) Input() []Event {
	return slices.Clone(p.input)
}

// Pending is the number of events waiting for the next Swap.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.output)
}

// Of filters events down to one concrete type.
func Of[T Event](events iter.Seq[Event]) iter.Seq[T] {
	return func(yield func(T) bool) {
		for e := range events {
			if v, ok := e.(T); ok && !yield(v) {
				return
			}
		}
	}
}
