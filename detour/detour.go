// Package detour redirects x86-64 functions in host memory to replacement
// code while keeping the original callable through a trampoline.
package detour

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"scripthook/process"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

var (
	// ErrInstallConflict is returned when the target is already hooked,
	// lies inside another hook's patch, is unmapped or cannot be decoded.
	ErrInstallConflict = errors.New("detour install conflict")

	// ErrTrampolineOverflow is returned when the arena has no room left.
	ErrTrampolineOverflow = errors.New("trampoline arena exhausted")

	// ErrUnrelocatable is returned when an overwritten instruction cannot
	// run from the trampoline.
	ErrUnrelocatable = errors.New("instruction cannot be relocated")

	// ErrHookRemoved is returned by operations on a removed hook.
	ErrHookRemoved = errors.New("hook removed")

	// ErrNoCaller is returned by CallOriginal when no caller is configured.
	ErrNoCaller = errors.New("no caller configured")
)

// Caller invokes host code at an address.
type Caller interface {
	Call(fn process.Address, args ...uintptr) (uintptr, error)
}

// Interceptor installs and tracks detours in one host.
type Interceptor struct {
	mem    process.Memory
	arena  *Arena
	caller Caller
	log    *logger.Logger

	mu    sync.Mutex
	hooks []*Hook
}

// NewInterceptor creates an interceptor placing trampolines in arena. caller
// may be nil, in which case CallOriginal fails.
func NewInterceptor(mem process.Memory, arena *Arena, caller Caller) *Interceptor {
	return &Interceptor{
		mem:    mem,
		arena:  arena,
		caller: caller,
		log:    logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "detour")),
	}
}

// Hooks returns the installed hooks in install order.
func (ic *Interceptor) Hooks() []*Hook {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return append([]*Hook(nil), ic.hooks...)
}

// Install patches target so execution continues at replacement and returns
// the enabled hook.
func (ic *Interceptor) Install(target, replacement process.Address) (*Hook, error) {
	ic.mu.Lock()
	defer ic.mu.Unlock()

	if !ic.mem.IsValidAddress(target) {
		return nil, fmt.Errorf("target %s not mapped: %w", target, ErrInstallConflict)
	}
	for _, h := range ic.hooks {
		if h.Patched().Contains(target) {
			return nil, fmt.Errorf("target %s inside hook at %s: %w", target, h.target, ErrInstallConflict)
		}
	}

	need := patchSize(target, replacement)
	code, err := ic.mem.ReadMemory(target, process.Size(need+maxInstLen))
	if err != nil {
		return nil, fmt.Errorf("read target %s: %v: %w", target, err, ErrInstallConflict)
	}

	insts, stolen, err := decodePrologue(code, need)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", target, err)
	}

	patched := process.Region{Base: target, Size: process.Size(stolen)}
	for _, h := range ic.hooks {
		if h.Patched().Overlaps(patched) {
			return nil, fmt.Errorf("patch %s overlaps hook at %s: %w", patched, h.target, ErrInstallConflict)
		}
	}

	trampSize := process.Size(stolen + jmpAbsSize)
	tramp, err := ic.arena.Alloc(trampSize)
	if err != nil {
		return nil, err
	}

	body, err := relocate(code, insts, target, tramp)
	if err != nil {
		ic.arena.rollback(tramp, trampSize)
		return nil, fmt.Errorf("target %s: %w", target, err)
	}
	body = append(body, jmpAbs(target.Add(int64(stolen)))...)
	if err := ic.mem.WriteMemory(tramp, body); err != nil {
		ic.arena.rollback(tramp, trampSize)
		return nil, fmt.Errorf("write trampoline for %s: %w", target, err)
	}

	var patch []byte
	if need == jmpRel32Size {
		patch = jmpRel32(target, replacement)
	} else {
		patch = jmpAbs(replacement)
	}
	patch = append(patch, bytes.Repeat([]byte{0x90}, stolen-len(patch))...)

	h := &Hook{
		ic:          ic,
		target:      target,
		replacement: replacement,
		trampoline:  tramp,
		original:    append([]byte(nil), code[:stolen]...),
		patch:       patch,
	}
	if err := h.Enable(); err != nil {
		return nil, err
	}

	ic.hooks = append(ic.hooks, h)
	ic.log.Debugln("installed", target, "->", replacement, "trampoline", tramp, "stolen", stolen)
	return h, nil
}

// RemoveAll removes every installed hook, newest first.
func (ic *Interceptor) RemoveAll() error {
	var errs []error
	hooks := ic.Hooks()
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i].Remove(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (ic *Interceptor) forget(h *Hook) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	for i, other := range ic.hooks {
		if other == h {
			ic.hooks = append(ic.hooks[:i], ic.hooks[i+1:]...)
			return
		}
	}
}

// Hook is one installed detour.
type Hook struct {
	ic          *Interceptor
	target      process.Address
	replacement process.Address
	trampoline  process.Address
	original    []byte
	patch       []byte

	mu      sync.Mutex
	enabled bool
	removed bool
}

func (h *Hook) Target() process.Address { return h.target }
func (h *Hook) Replacement() process.Address { return h.replacement }

// Trampoline is the address that runs the original function.
func (h *Hook) Trampoline() process.Address { return h.trampoline }

// Patched is the byte range overwritten at the target.
func (h *Hook) Patched() process.Region {
	return process.Region{Base: h.target, Size: process.Size(len(h.original))}
}

// Original returns a copy of the overwritten bytes.
func (h *Hook) Original() []byte {
	return append([]byte(nil), h.original...)
}

func (h *Hook) Enabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enabled
}

// Enable writes the jump to the replacement.
func (h *Hook) Enable() error {
	return h.set(true)
}

// Disable restores the original bytes. The trampoline stays usable.
func (h *Hook) Disable() error {
	return h.set(false)
}

func (h *Hook) set(enable bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.removed {
		return ErrHookRemoved
	}
	if h.enabled == enable {
		return nil
	}

	data := h.original
	if enable {
		data = h.patch
	}
	if err := h.ic.mem.WriteMemory(h.target, data); err != nil {
		return fmt.Errorf("patch %s: %w", h.target, err)
	}
	h.enabled = enable
	return nil
}

// Remove restores the original bytes and releases the patched range so the
// target can be hooked again. The hook is unusable afterwards.
func (h *Hook) Remove() error {
	if err := h.Disable(); err != nil {
		if errors.Is(err, ErrHookRemoved) {
			return nil
		}
		return err
	}

	h.mu.Lock()
	h.removed = true
	h.mu.Unlock()

	h.ic.forget(h)
	h.ic.log.Debugln("removed", h.target)
	return nil
}

// CallOriginal runs the original function through the trampoline.
func (h *Hook) CallOriginal(args ...uintptr) (uintptr, error) {
	h.mu.Lock()
	removed := h.removed
	h.mu.Unlock()

	if removed {
		return 0, ErrHookRemoved
	}
	if h.ic.caller == nil {
		return 0, ErrNoCaller
	}
	return h.ic.caller.Call(h.trampoline, args...)
}
