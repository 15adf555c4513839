package process

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unsafe"
)

// PointerSize is the width of a host pointer. Only 64-bit hosts are supported.
const PointerSize = 8

// Read reads a single value of type T from memory. T must be plain data.
func Read[T any](mem Memory, addr Address) (T, error) {
	var t T
	size := Size(unsafe.Sizeof(t))
	if size == 0 {
		return t, nil
	}

	data, err := mem.ReadMemory(addr, size)
	if err != nil {
		return t, err
	}
	if len(data) < int(size) {
		return t, fmt.Errorf("read %d of %d bytes at %s: %w", len(data), size, addr, ErrPartialRead)
	}

	copyTo(&t, data)
	return t, nil
}

// Write stores a single value of type T at addr using its in-memory layout.
func Write[T any](mem Memory, addr Address, v T) error {
	size := int(unsafe.Sizeof(v))
	if size == 0 {
		return nil
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(&v)), size)
	out := make([]byte, size)
	copy(out, src)
	return mem.WriteMemory(addr, out)
}

// ReadPointer reads a host pointer at addr.
func ReadPointer(mem Memory, addr Address) (Address, error) {
	data, err := mem.ReadMemory(addr, PointerSize)
	if err != nil {
		return 0, err
	}
	if len(data) < PointerSize {
		return 0, ErrPartialRead
	}
	return Address(binary.LittleEndian.Uint64(data)), nil
}

// ReadNTS reads a nul-terminated string of at most maxLength bytes,
// terminator included. The read shrinks toward addr when the tail of the
// window is unmapped. A window without a nul fails with ErrUnterminated.
func ReadNTS(mem Memory, addr Address, maxLength Size) (string, error) {
	if maxLength == 0 {
		return "", nil
	}

	var data []byte
	var err error
	for n := maxLength; n > 0; n /= 2 {
		data, err = mem.ReadMemory(addr, n)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", err
	}

	i := bytes.IndexByte(data, 0)
	if i < 0 {
		return "", fmt.Errorf("no terminator in %d bytes at %s: %w", len(data), addr, ErrUnterminated)
	}
	return string(data[:i]), nil
}

// ReadPath reads a value of type T at the end of a pointer path.
// It starts at base, adds the first offset, reads a pointer, adds the next offset, reads a pointer, etc.
// The last offset is added to the final pointer, and then T is read from that address.
// If offsets is empty, it reads T from base.
func ReadPath[T any](mem Memory, base Address, offsets ...int64) (T, error) {
	var zero T

	addr, err := ResolvePath(mem, base, offsets...)
	if err != nil {
		return zero, err
	}

	val, err := Read[T](mem, addr)
	if err != nil {
		return zero, fmt.Errorf("failed to read final value at %s: %w", addr, err)
	}
	return val, nil
}

// ResolvePath follows all offsets but the last as pointers and returns the
// address the last offset designates.
func ResolvePath(mem Memory, base Address, offsets ...int64) (Address, error) {
	current := base

	for i := 0; i < len(offsets)-1; i++ {
		ptrAddr := current.Add(offsets[i])

		ptr, err := ReadPointer(mem, ptrAddr)
		if err != nil {
			return 0, fmt.Errorf("failed to read pointer at step %d (addr %s): %w", i, ptrAddr, err)
		}
		if ptr == 0 {
			return 0, fmt.Errorf("pointer at step %d (addr %s) is null: %w", i, ptrAddr, ErrInvalidPointer)
		}
		current = ptr
	}

	if len(offsets) > 0 {
		current = current.Add(offsets[len(offsets)-1])
	}
	return current, nil
}

// copyTo copies bytes to *T
func copyTo[T any](dst *T, src []byte) {
	size := int(unsafe.Sizeof(*dst))
	if len(src) < size {
		return
	}

	dstBytes := unsafe.Slice((*byte)(unsafe.Pointer(dst)), size)
	copy(dstBytes, src)
}
