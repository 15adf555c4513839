package pattern

import (
	"errors"
	"fmt"
	"sync"

	"scripthook/process"
	"scripthook/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

var (
	// ErrDuplicateName is returned when a name is registered twice.
	ErrDuplicateName = errors.New("pattern name already registered")

	// ErrUnknownName is returned for names that were never registered.
	ErrUnknownName = errors.New("unknown pattern name")
)

// Entry is a named signature and where to look for it.
type Entry struct {
	Name     string
	Pattern  Pattern
	Module   string
	Section  Section
	Required bool
}

type slot struct {
	entry Entry
	once  sync.Once
	addr  process.Address
	err   error
	done  bool
}

// Status is the resolution outcome of one entry.
type Status struct {
	Name     string
	Address  process.Address
	Err      error
	Required bool
	Resolved bool
}

// Registry is a set of named signatures, each resolved at most once and then
// cached for the registry's lifetime.
type Registry struct {
	mem   process.Memory
	cache *Cache
	log   *logger.Logger

	mu    sync.Mutex
	slots map[string]*slot
	order []string
	bound map[string]bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithCache makes the registry consult and update a persisted cache.
func WithCache(c *Cache) RegistryOption {
	return func(r *Registry) {
		r.cache = c
	}
}

// NewRegistry creates an empty registry over host memory.
func NewRegistry(mem process.Memory, opts ...RegistryOption) *Registry {
	r := &Registry{
		mem:   mem,
		log:   logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "patterns")),
		slots: make(map[string]*slot),
		bound: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add registers a named entry.
func (r *Registry) Add(e Entry) error {
	if e.Name == "" {
		return fmt.Errorf("entry without a name: %w", ErrInvalidPattern)
	}
	if e.Pattern.Len() == 0 {
		return fmt.Errorf("entry %q has an empty signature: %w", e.Name, ErrInvalidPattern)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.slots[e.Name]; ok {
		return fmt.Errorf("%q: %w", e.Name, ErrDuplicateName)
	}
	r.slots[e.Name] = &slot{entry: e}
	r.order = append(r.order, e.Name)
	return nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.slots[name]
	return ok
}

// Resolve returns the address for name, scanning on first use only.
// Failures are sticky: a signature that did not match once is not rescanned.
func (r *Registry) Resolve(name string) (process.Address, error) {
	r.mu.Lock()
	s, ok := r.slots[name]
	r.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%q: %w", name, ErrUnknownName)
	}

	s.once.Do(func() {
		addr, err := r.resolve(s.entry)

		r.mu.Lock()
		s.addr, s.err, s.done = addr, err, true
		r.mu.Unlock()

		if err != nil {
			r.log.Warn("Pattern ", name, " unresolved: ", err)
			return
		}
		r.log.Debugln("Pattern", name, "resolved to", addr)
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	return s.addr, s.err
}

func (r *Registry) resolve(e Entry) (process.Address, error) {
	match, err := r.match(e)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", e.Name, err)
	}

	addr, err := e.Pattern.Resolve(r.mem, match)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", e.Name, err)
	}
	return addr, nil
}

// match finds the raw match address, trusting the cache only when the
// signature still matches at the cached location.
func (r *Registry) match(e Entry) (process.Address, error) {
	base, haveBase := r.moduleBase(e.Module)

	if r.cache != nil && haveBase && r.bind(e.Module) {
		if off, ok := r.cache.Lookup(e.Module, e.Name); ok {
			candidate := process.Address(base + off)
			if MatchesAt(r.mem, candidate, e.Pattern) {
				return candidate, nil
			}
			r.log.Debugln("Cached location of", e.Name, "is stale, rescanning")
		}
	}

	match, err := ScanModuleFirst(r.mem, e.Module, e.Section, e.Pattern)
	if err != nil {
		return 0, err
	}

	if r.cache != nil && haveBase && uint64(match) >= base {
		r.cache.Store(e.Module, e.Name, uint64(match)-base)
	}
	return match, nil
}

func (r *Registry) moduleBase(module string) (uint64, bool) {
	if module == "" {
		return 0, false
	}
	mm, err := r.mem.GetMemoryMap()
	if err != nil {
		return 0, false
	}
	return memory_map.ModuleBase(module, mm)
}

// bind attaches the cache to the current build of module, once per module.
func (r *Registry) bind(module string) bool {
	r.mu.Lock()
	done := r.bound[module]
	r.mu.Unlock()
	if done {
		return true
	}

	fp, err := Fingerprint(r.mem, module)
	if err != nil {
		r.log.Debugln("No fingerprint for", module, err)
		return false
	}
	r.cache.Bind(module, fp)

	r.mu.Lock()
	r.bound[module] = true
	r.mu.Unlock()
	return true
}

// ResolveAll resolves every entry. Optional failures are logged and left
// disabled; the returned error joins the failures of required entries.
func (r *Registry) ResolveAll() error {
	r.mu.Lock()
	names := append([]string(nil), r.order...)
	r.mu.Unlock()

	var errs []error
	for _, name := range names {
		if _, err := r.Resolve(name); err != nil && r.required(name) {
			errs = append(errs, err)
		}
	}

	if r.cache != nil {
		if err := r.cache.Save(); err != nil {
			r.log.Warn("Failed to save pattern cache: ", err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) required(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[name]
	return ok && s.entry.Required
}

// Err returns the resolution error of name, nil when resolved or not yet
// attempted.
func (r *Registry) Err(name string) error {
	for _, st := range r.Status() {
		if st.Name == name {
			return st.Err
		}
	}
	return fmt.Errorf("%q: %w", name, ErrUnknownName)
}

// Status reports every entry in registration order.
func (r *Registry) Status() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Status, 0, len(r.order))
	for _, name := range r.order {
		s := r.slots[name]
		out = append(out, Status{
			Name:     name,
			Address:  s.addr,
			Err:      s.err,
			Required: s.entry.Required,
			Resolved: s.done && s.err == nil,
		})
	}
	return out
}
