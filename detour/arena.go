package detour

import (
	"bytes"
	"fmt"
	"sync"

	"scripthook/pattern"
	"scripthook/process"
)

const trampolineAlign = 16

// Arena hands out trampoline space from a fixed block of executable host
// memory. Space is never reused; only the most recent allocation can be
// rolled back.
type Arena struct {
	mu   sync.Mutex
	base process.Address
	size process.Size
	used process.Size
}

// NewArena wraps an existing executable block.
func NewArena(base process.Address, size process.Size) *Arena {
	return &Arena{base: base, size: size}
}

// AllocateArena reserves a fresh executable block through the backend.
func AllocateArena(alloc process.Allocator, size process.Size) (*Arena, error) {
	base, err := alloc.Allocate(size, true)
	if err != nil {
		return nil, fmt.Errorf("trampoline arena: %w", err)
	}
	return NewArena(base, size), nil
}

// FindCave builds an arena over a run of int3 padding inside a module's code,
// for hosts where the backend cannot allocate.
func FindCave(mem process.Memory, module string, size process.Size) (*Arena, error) {
	cave := pattern.FromBytes(bytes.Repeat([]byte{0xCC}, int(size)))
	addr, err := pattern.ScanModuleFirst(mem, module, pattern.SectionCode, cave)
	if err != nil {
		return nil, fmt.Errorf("no %d byte code cave in %q: %w", size, module, err)
	}
	return CaveArena(addr, size)
}

// CaveArena builds an arena over length bytes of padding at addr. The arena
// starts at the next 16 byte boundary past addr and never extends beyond
// addr+length.
func CaveArena(addr process.Address, length process.Size) (*Arena, error) {
	// keep clear of the instruction the padding follows
	start := (addr + trampolineAlign) &^ (trampolineAlign - 1)
	skip := process.Size(start - addr)
	if length <= skip {
		return nil, fmt.Errorf("%d byte cave at %s has no aligned space: %w", length, addr, ErrTrampolineOverflow)
	}
	return NewArena(start, length-skip), nil
}

// Region is the block the arena manages.
func (a *Arena) Region() process.Region {
	return process.Region{Base: a.base, Size: a.size}
}

// Free reports the remaining bytes.
func (a *Arena) Free() process.Size {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size - a.used
}

// Alloc reserves n bytes aligned to 16.
func (a *Arena) Alloc(n process.Size) (process.Address, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := (a.used + trampolineAlign - 1) &^ (trampolineAlign - 1)
	if start+n > a.size {
		return 0, fmt.Errorf("need %d bytes, %d left: %w", n, a.size-min(start, a.size), ErrTrampolineOverflow)
	}
	a.used = start + n
	return a.base + process.Address(start), nil
}

// rollback returns the allocation at addr if it is the most recent one.
func (a *Arena) rollback(addr process.Address, n process.Size) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.base+process.Address(a.used) == addr+process.Address(n) {
		a.used = process.Size(addr - a.base)
	}
}
