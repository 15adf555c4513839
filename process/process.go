// Package process models the memory of the host process that scripts observe
// and drive: addresses, regions, the memory map and typed access helpers.
package process

import "errors"

var (
	// ErrAddressNotMapped is returned when a memory address is not found within any mapped region of a process.
	ErrAddressNotMapped = errors.New("address not mapped")

	// ErrProcessNotOpen is returned when an operation requiring an open process is attempted
	// before the process has been successfully opened or after it has been closed.
	ErrProcessNotOpen = errors.New("process not open")

	ErrInvalidPointer = errors.New("invalid pointer read")

	// ErrNotWritable is returned when a write targets a region the backend cannot modify.
	ErrNotWritable = errors.New("region not writable")

	// ErrPartialRead is returned when fewer bytes than requested could be read.
	ErrPartialRead = errors.New("partial read")

	// ErrAllocation is returned when the backend cannot reserve host memory.
	ErrAllocation = errors.New("host allocation failed")

	// ErrUnterminated is returned when a string has no nul within the bytes read.
	ErrUnterminated = errors.New("string not terminated")
)
