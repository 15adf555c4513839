// Package session ties the components together for one attached host: the
// pattern registry, the native identifier cache, the invoker, the detour
// interceptor, the event pool and the script runtime. Nothing here is global;
// everything lives and dies with a Session.
package session

import (
	"errors"
	"fmt"
	"sync"

	"scripthook/config"
	"scripthook/detour"
	"scripthook/event"
	"scripthook/native"
	"scripthook/pattern"
	"scripthook/process"
	"scripthook/script"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

var (
	// ErrFeatureDisabled is returned when a component could not be set up.
	ErrFeatureDisabled = errors.New("feature disabled")

	// ErrNoNativeTable is returned when the configuration lacks the native
	// table pattern.
	ErrNoNativeTable = fmt.Errorf("configuration has no %q pattern", config.NativeTablePattern)
)

const (
	FeatureInvoke = "invoke"
	FeatureHooks  = "hooks"
)

// Feature is the state of one named capability.
type Feature struct {
	Name    string
	Enabled bool
	Address process.Address
	Err     error
}

type options struct {
	caller native.Caller
	binder native.Binder
	cache  *pattern.Cache
}

// Option configures New.
type Option func(*options)

// WithCaller lets the session execute host code.
func WithCaller(c native.Caller) Option {
	return func(o *options) {
		o.caller = c
	}
}

// WithBinder lets the session hand Go functions to the host.
func WithBinder(b native.Binder) Option {
	return func(o *options) {
		o.binder = b
	}
}

// WithPatternCache overrides the cache named in the configuration.
func WithPatternCache(c *pattern.Cache) Option {
	return func(o *options) {
		o.cache = c
	}
}

// Session is the runtime context for one host.
type Session struct {
	mem process.Memory
	cfg *config.Config
	log *logger.Logger

	patterns    *pattern.Registry
	natives     *native.Registry
	table       *native.Table
	invoker     *native.Invoker
	interceptor *detour.Interceptor
	caller      native.Caller
	binder      native.Binder
	pool        *event.Pool
	runtime     *script.Runtime

	invokeErr error
	hooksErr  error

	mu    sync.Mutex
	hooks map[string]*detour.Hook
}

// New resolves every configured pattern and builds the components. It fails
// only when a required pattern, the native table among them, cannot be
// resolved; any other failure disables the affected feature with a warning.
func New(mem process.Memory, cfg *config.Config, opts ...Option) (*Session, error) {
	o := options{caller: native.NoCaller{}, binder: native.NoCaller{}}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Session{
		mem:    mem,
		cfg:    cfg,
		log:    logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "session")),
		caller: o.caller,
		binder: o.binder,
		pool:   event.NewPool(),
		hooks:  make(map[string]*detour.Hook),
	}

	if err := s.resolvePatterns(o.cache); err != nil {
		return nil, err
	}

	tableAddr, err := s.patterns.Resolve(config.NativeTablePattern)
	if err != nil {
		return nil, err
	}
	s.table = native.NewTable(mem, tableAddr)
	s.natives = native.NewRegistry(s.table)
	s.log.Infoln("Native table at", tableAddr)

	s.invoker, s.invokeErr = s.setupInvoker()
	if s.invokeErr != nil {
		s.log.Warn("Native invocation disabled: ", s.invokeErr)
	}

	s.interceptor, s.hooksErr = s.setupInterceptor()
	if s.hooksErr != nil {
		s.log.Warn("Hooks disabled: ", s.hooksErr)
	}

	rtOpts := []script.Option{script.WithWaitDeadline(cfg.Scripts.WaitDeadline)}
	if s.invoker != nil {
		rtOpts = append(rtOpts, script.WithInvoker(s.invoker))
	}
	s.runtime = script.New(s.pool, rtOpts...)
	return s, nil
}

func (s *Session) resolvePatterns(cache *pattern.Cache) error {
	if cache == nil && s.cfg.Cache != "" {
		c, err := pattern.LoadCache(s.cfg.Cache)
		if err != nil {
			s.log.Warn("Pattern cache unusable: ", err)
		} else {
			cache = c
		}
	}

	var regOpts []pattern.RegistryOption
	if cache != nil {
		regOpts = append(regOpts, pattern.WithCache(cache))
	}
	s.patterns = pattern.NewRegistry(s.mem, regOpts...)

	if _, ok := s.cfg.Pattern(config.NativeTablePattern); !ok {
		return ErrNoNativeTable
	}
	for _, pc := range s.cfg.Patterns {
		entry, err := pc.Entry(s.cfg.Module)
		if err != nil {
			return fmt.Errorf("pattern %q: %w", pc.Name, err)
		}
		if entry.Name == config.NativeTablePattern {
			entry.Required = true
		}
		if err := s.patterns.Add(entry); err != nil {
			return err
		}
	}

	return s.patterns.ResolveAll()
}

func (s *Session) setupInvoker() (*native.Invoker, error) {
	if _, none := s.caller.(native.NoCaller); none {
		return nil, native.ErrNoCaller
	}
	alloc, ok := s.mem.(process.Allocator)
	if !ok {
		return nil, fmt.Errorf("call context: %w", process.ErrAllocation)
	}
	base, err := alloc.Allocate(native.ContextSize, false)
	if err != nil {
		return nil, fmt.Errorf("call context: %w", err)
	}
	return native.NewInvoker(s.natives, s.caller, native.NewContext(s.mem, base)), nil
}

func (s *Session) setupInterceptor() (*detour.Interceptor, error) {
	var (
		arena *detour.Arena
		err   error
	)
	size := process.Size(s.cfg.Trampoline.Size)

	if s.cfg.Trampoline.UseCave {
		arena, err = s.caveArena(size)
	} else if alloc, ok := s.mem.(process.Allocator); ok {
		arena, err = detour.AllocateArena(alloc, size)
	} else {
		err = fmt.Errorf("trampoline arena: %w", process.ErrAllocation)
	}
	if err != nil {
		return nil, err
	}

	var caller detour.Caller
	if _, none := s.caller.(native.NoCaller); !none {
		caller = s.caller
	}
	return detour.NewInterceptor(s.mem, arena, caller), nil
}

// caveArena places trampolines in int3 padding: the code_cave match when the
// pattern is configured, otherwise the first run of size padding bytes in the
// module. The arena never reaches past the padding that was matched.
func (s *Session) caveArena(size process.Size) (*detour.Arena, error) {
	pc, ok := s.cfg.Pattern(config.CavePattern)
	if !ok {
		return detour.FindCave(s.mem, s.cfg.Module, size)
	}
	entry, err := pc.Entry(s.cfg.Module)
	if err != nil {
		return nil, err
	}
	p := entry.Pattern
	if p.Mode() != pattern.ResolveNone || p.Offset() < 0 || p.Offset() >= int64(p.Len()) {
		return nil, fmt.Errorf("%s must point into its own match: %w", config.CavePattern, pattern.ErrInvalidPattern)
	}

	addr, err := s.patterns.Resolve(config.CavePattern)
	if err != nil {
		return nil, err
	}
	length := process.Size(int64(p.Len()) - p.Offset())
	return detour.CaveArena(addr, min(length, size))
}

func (s *Session) Memory() process.Memory { return s.mem }
func (s *Session) Config() *config.Config { return s.cfg }
func (s *Session) Patterns() *pattern.Registry { return s.patterns }
func (s *Session) Natives() *native.Registry { return s.natives }
func (s *Session) Table() *native.Table { return s.table }
func (s *Session) Pool() *event.Pool { return s.pool }
func (s *Session) Runtime() *script.Runtime { return s.runtime }

// Invoker returns the native invoker, if invocation is available.
func (s *Session) Invoker() (*native.Invoker, error) {
	if s.invoker == nil {
		return nil, fmt.Errorf("%s: %w: %w", FeatureInvoke, ErrFeatureDisabled, s.invokeErr)
	}
	return s.invoker, nil
}

// Invoke calls a native by identifier.
func (s *Session) Invoke(id native.Identifier, ret native.Kind, args ...native.Value) (native.Value, error) {
	inv, err := s.Invoker()
	if err != nil {
		return native.Value{}, err
	}
	return inv.Invoke(id, ret, args...)
}

// Register adds a script to the runtime.
func (s *Session) Register(name string, sc script.Script) error {
	return s.runtime.Register(name, sc)
}

// Tick advances the scripts by one frame.
func (s *Session) Tick() error {
	return s.runtime.Tick()
}

// Features reports every pattern and derived capability.
func (s *Session) Features() []Feature {
	var out []Feature
	for _, st := range s.patterns.Status() {
		out = append(out, Feature{Name: st.Name, Enabled: st.Resolved && st.Err == nil, Address: st.Address, Err: st.Err})
	}
	out = append(out,
		Feature{Name: FeatureInvoke, Enabled: s.invoker != nil, Err: s.invokeErr},
		Feature{Name: FeatureHooks, Enabled: s.interceptor != nil, Err: s.hooksErr},
	)
	return out
}

// Close terminates every script and removes every hook.
func (s *Session) Close() error {
	var errs []error
	if err := s.runtime.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.interceptor != nil {
		if err := s.interceptor.RemoveAll(); err != nil {
			errs = append(errs, err)
		}
	}

	s.mu.Lock()
	clear(s.hooks)
	s.mu.Unlock()

	s.log.Infoln("Session closed")
	return errors.Join(errs...)
}
