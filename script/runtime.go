package script

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"scripthook/event"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

type resumeMsg struct {
	cancel  bool
	timeout bool
}

type yieldMsg struct {
	waiting bool
	done    bool
	err     error
}

type wait struct {
	res      Resource
	deadline uint64
}

type handle struct {
	rt     *Runtime
	name   string
	script Script
	env    *Env

	resume chan resumeMsg
	yield  chan yieldMsg

	// only touched by the goroutine driving Tick
	started bool

	terminate atomic.Bool

	// guarded by rt.mu
	state  State
	wait   *wait
	frames uint64
	err    error
}

// Runtime owns the registered scripts and advances them once per Tick.
type Runtime struct {
	pool         *event.Pool
	invoker      Invoker
	waitDeadline uint64
	log          *logger.Logger

	ticking atomic.Bool
	tick    atomic.Uint64

	mu      sync.Mutex
	scripts []*handle
	names   map[string]*handle
	closed  bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithInvoker lets scripts call natives through Env.Invoke.
func WithInvoker(inv Invoker) Option {
	return func(rt *Runtime) {
		rt.invoker = inv
	}
}

// WithWaitDeadline bounds every WaitFor that sets no deadline of its own.
func WithWaitDeadline(ticks uint64) Option {
	return func(rt *Runtime) {
		rt.waitDeadline = ticks
	}
}

// New creates a runtime delivering events from pool.
func New(pool *event.Pool, opts ...Option) *Runtime {
	rt := &Runtime{
		pool:  pool,
		log:   logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "scripts")),
		names: make(map[string]*handle),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Pool is the event pool scripts read and write.
func (rt *Runtime) Pool() *event.Pool { return rt.pool }

// CurrentTick is the number of ticks started so far.
func (rt *Runtime) CurrentTick() uint64 { return rt.tick.Load() }

// Register adds a script. It is prepared at the start of its first tick.
func (rt *Runtime) Register(name string, s Script) error {
	if name == "" {
		return ErrEmptyName
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.closed {
		return ErrClosed
	}
	if _, ok := rt.names[name]; ok {
		return fmt.Errorf("%q: %w", name, ErrNameTaken)
	}

	h := &handle{
		rt:     rt,
		name:   name,
		script: s,
		resume: make(chan resumeMsg),
		yield:  make(chan yieldMsg),
	}
	h.env = &Env{h: h}
	rt.scripts = append(rt.scripts, h)
	rt.names[name] = h
	rt.log.Infoln("Registered script", name)
	return nil
}

// Terminate asks for a script to be stopped. A suspended script is released
// without running more of its frame; its deferred calls still run.
func (rt *Runtime) Terminate(name string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	h, ok := rt.names[name]
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrUnknownScript)
	}
	h.terminate.Store(true)
	return nil
}

// Info reports one script.
func (rt *Runtime) Info(name string) (Info, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	h, ok := rt.names[name]
	if !ok {
		return Info{}, false
	}
	return h.infoLocked(), true
}

// Scripts reports every registered script in registration order.
func (rt *Runtime) Scripts() []Info {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	out := make([]Info, 0, len(rt.scripts))
	for _, h := range rt.scripts {
		out = append(out, h.infoLocked())
	}
	return out
}

func (h *handle) infoLocked() Info {
	return Info{
		Name:    h.name,
		State:   h.state,
		Waiting: h.wait != nil,
		Frames:  h.frames,
		Err:     h.err,
	}
}

// Tick runs one scheduling pass:
//
//  1. swap the event pool
//  2. stop scripts with a termination request
//  3. resume every script that is not waiting, in registration order
//  4. resume each waiting script whose resource loaded or deadline passed
//  5. drop terminated scripts
func (rt *Runtime) Tick() error {
	if !rt.ticking.CompareAndSwap(false, true) {
		return ErrReentrantTick
	}
	defer rt.ticking.Store(false)

	rt.mu.Lock()
	closed := rt.closed
	rt.mu.Unlock()
	if closed {
		return ErrClosed
	}

	now := rt.tick.Add(1)
	rt.pool.Swap()
	rt.reap()

	for _, h := range rt.snapshot() {
		if h.terminate.Load() {
			continue
		}
		if state, waiting := rt.status(h); state == Terminated || waiting {
			continue
		}
		rt.step(h, resumeMsg{})
	}

	for _, h := range rt.snapshot() {
		if h.terminate.Load() {
			continue
		}
		w := rt.waitOf(h)
		if w == nil {
			continue
		}
		switch {
		case w.res.IsLoaded():
			rt.step(h, resumeMsg{})
		case w.deadline != 0 && now >= w.deadline:
			rt.step(h, resumeMsg{timeout: true})
		}
	}

	rt.reap()
	rt.drop()
	return nil
}

// Close stops every script. Called from inside a tick, the scripts are
// stopped when that tick ends.
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return nil
	}
	rt.closed = true
	for _, h := range rt.scripts {
		h.terminate.Store(true)
	}
	rt.mu.Unlock()

	if !rt.ticking.CompareAndSwap(false, true) {
		return nil
	}
	defer rt.ticking.Store(false)

	rt.reap()
	rt.drop()
	return nil
}

func (rt *Runtime) snapshot() []*handle {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return append([]*handle(nil), rt.scripts...)
}

func (rt *Runtime) status(h *handle) (State, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return h.state, h.wait != nil
}

func (rt *Runtime) waitOf(h *handle) *wait {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if h.state == Terminated {
		return nil
	}
	return h.wait
}

func (rt *Runtime) setState(h *handle, s State) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	h.state = s
}

func (rt *Runtime) setWait(h *handle, w *wait) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	h.wait = w
}

// step gives h one execution slot and blocks until it yields.
func (rt *Runtime) step(h *handle, msg resumeMsg) {
	if !h.started {
		h.started = true
		go h.run()
	} else {
		h.resume <- msg
	}

	y := <-h.yield
	if y.done {
		rt.finish(h, y.err)
	}
}

// reap stops every script with a pending termination request.
func (rt *Runtime) reap() {
	for _, h := range rt.snapshot() {
		if !h.terminate.Load() {
			continue
		}
		if state, _ := rt.status(h); state == Terminated {
			continue
		}
		if h.started {
			h.resume <- resumeMsg{cancel: true}
			<-h.yield
		}
		rt.finish(h, nil)
		rt.log.Infoln("Terminated script", h.name)
	}
}

func (rt *Runtime) finish(h *handle, err error) {
	switch {
	case err == nil, errors.Is(err, ErrExit):
		err = nil
	default:
		rt.log.Warn("Script ", h.name, " failed: ", err)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	h.state = Terminated
	h.wait = nil
	h.err = err
}

func (rt *Runtime) drop() {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	kept := rt.scripts[:0]
	for _, h := range rt.scripts {
		if h.state == Terminated {
			delete(rt.names, h.name)
			continue
		}
		kept = append(kept, h)
	}
	clear(rt.scripts[len(kept):])
	rt.scripts = kept
}

// run is the script goroutine. It only executes between receiving a resume
// and sending a yield.
func (h *handle) run() {
	var err error
	defer func() {
		// a canceled script exits through runtime.Goexit, which recover
		// does not stop
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
		h.yield <- yieldMsg{done: true, err: err}
	}()

	if err = h.script.Prepare(h.env); err != nil {
		return
	}
	h.rt.setState(h, Prepared)

	for {
		h.rt.setState(h, Running)
		if err = h.script.Frame(h.env); err != nil {
			return
		}
		h.rt.mu.Lock()
		h.frames++
		h.rt.mu.Unlock()

		h.park(yieldMsg{})
	}
}

// park hands control back to the scheduler and blocks until resumed.
func (h *handle) park(y yieldMsg) resumeMsg {
	h.yield <- y
	msg := <-h.resume
	if msg.cancel {
		runtime.Goexit()
	}
	return msg
}
