package process

import (
	"scripthook/process/memory_map"
)

// Memory is raw access to the host's address space. Every component above
// the scanner (detours, fields, native calls) works through it.
type Memory interface {
	// ReadMemory reads size bytes at addr
	ReadMemory(addr Address, size Size) ([]byte, error)

	// WriteMemory writes data at addr. Backends lift page protection for
	// code writes where the platform allows it.
	WriteMemory(addr Address, data []byte) error

	// IsValidAddress checks if the given memory address is mapped and readable
	IsValidAddress(addr Address) bool

	// GetMemoryMap returns a copy of the current memory map, sorted by address
	GetMemoryMap() ([]memory_map.MemoryMapItem, error)
}

// Process is a live host process opened for memory operations.
type Process interface {
	Memory

	// Open opens a process with the given PID for memory operations
	Open(pid ProcessID) error

	// Close closes the process and releases resources
	Close() error

	// GetPID returns the process ID
	GetPID() ProcessID

	// UpdateMemoryMap refreshes the memory map for the process
	UpdateMemoryMap() error
}

// Allocator is implemented by backends able to reserve fresh host memory,
// used for trampolines and native call contexts.
type Allocator interface {
	Allocate(size Size, executable bool) (Address, error)
}

// Saver is implemented by backends that can write a dump of their memory.
type Saver interface {
	Save(dirname string) error
}
