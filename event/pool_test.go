package event

import (
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwapDeliversInOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	p := NewPool()

	for round := range 20 {
		var pushed []Event
		for i := range rng.Intn(10) {
			e := ConsoleInput{Line: fmt.Sprintf("%d-%d", round, i)}
			p.Push(e)
			pushed = append(pushed, e)
		}

		p.Swap()
		assert.Equal(t, 0, p.Pending(), "output empty right after swap")
		got := slices.Collect(p.All())
		if len(pushed) == 0 {
			assert.Empty(t, got)
		} else {
			assert.Equal(t, pushed, got)
		}
	}
}

func TestPushDuringIterationWaitsForSwap(t *testing.T) {
	p := NewPool()
	p.Push(Message{Name: "a"})
	p.Push(Message{Name: "b"})
	p.Swap()

	var seen []Event
	for e := range p.All() {
		seen = append(seen, e)
		p.Push(Message{Name: "echo-" + e.(Message).Name})
	}
	assert.Equal(t, []Event{Message{Name: "a"}, Message{Name: "b"}}, seen)

	p.Swap()
	assert.Equal(t, []Event{Message{Name: "echo-a"}, Message{Name: "echo-b"}}, slices.Collect(p.All()))

	p.Swap()
	assert.Empty(t, slices.Collect(p.All()))
}

func TestInputCopyIsStable(t *testing.T) {
	p := NewPool()
	p.Push(KeyInput{Key: 0x74, Down: true})
	p.Swap()
	in := p.Input()

	p.Push(ConsoleInput{Line: "x"})
	p.Swap()
	require.Len(t, in, 1)
	assert.Equal(t, KeyInput{Key: 0x74, Down: true}, in[0])
}

func TestConcurrentPush(t *testing.T) {
	p := NewPool()

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				p.Push(NativeCall{Identifier: 1, Args: [NativeCallArgs]uint64{uint64(g), uint64(i)}})
			}
		}()
	}
	wg.Wait()

	p.Swap()
	perProducer := map[uint64]uint64{}
	for call := range Of[NativeCall](p.All()) {
		g, i := call.Args[0], call.Args[1]
		assert.Equal(t, perProducer[g], i, "each producer's events stay in order")
		perProducer[g] = i + 1
	}
	assert.Len(t, perProducer, 8)
}

func TestOf(t *testing.T) {
	p := NewPool()
	p.Push(ConsoleInput{Line: "one"})
	p.Push(KeyInput{Key: 1})
	p.Push(ConsoleInput{Line: "two"})
	p.Swap()

	var lines []string
	for c := range Of[ConsoleInput](p.All()) {
		lines = append(lines, c.Line)
	}
	assert.Equal(t, []string{"one", "two"}, lines)
	assert.Equal(t, "console", ConsoleInput{}.Kind().String())
}
