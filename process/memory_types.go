package process

import (
	"fmt"
)

// Address is a location in the host's address space.
type Address uint64

func (a Address) String() string {
	return fmt.Sprintf("0x%X", uint64(a))
}

// Add applies a signed byte displacement.
func (a Address) Add(off int64) Address {
	return Address(int64(a) + off)
}

// Size is a byte count in host memory.
type Size uint

func (s Size) String() string {
	return fmt.Sprintf("%d bytes", uint(s))
}

// Region is a contiguous span of host memory.
type Region struct {
	Base Address
	Size Size
}

// End returns the first address past the region.
func (r Region) End() Address {
	return r.Base + Address(r.Size)
}

// Contains reports whether addr falls inside the region.
func (r Region) Contains(addr Address) bool {
	return addr >= r.Base && addr < r.End()
}

// Overlaps reports whether the two regions share at least one byte.
func (r Region) Overlaps(o Region) bool {
	return r.Base < o.End() && o.Base < r.End()
}

func (r Region) String() string {
	return fmt.Sprintf("[%s, %s)", r.Base, r.End())
}
