//go:build windows

package process_windows

import (
	"fmt"

	"scripthook/process"
	"scripthook/process/memory_map"

	"golang.org/x/sys/windows"
)

func (p *WindowsProcess) ReadMemory(addr process.Address, size process.Size) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}

	p.mu.Lock()
	handle := p.handle
	p.mu.Unlock()

	if handle == 0 {
		return nil, process.ErrProcessNotOpen
	}

	buf := make([]byte, size)
	var bytesRead uintptr
	err := windows.ReadProcessMemory(handle, uintptr(addr), &buf[0], uintptr(size), &bytesRead)
	if err != nil {
		return nil, fmt.Errorf("ReadProcessMemory at %s failed: %v: %w", addr, err, process.ErrAddressNotMapped)
	}

	if bytesRead != uintptr(size) {
		return buf[:bytesRead], fmt.Errorf("read %d of %d bytes: %w", bytesRead, size, process.ErrPartialRead)
	}

	return buf, nil
}

// WriteMemory writes data, temporarily lifting page protection on regions
// that are not writable and flushing the instruction cache afterwards.
func (p *WindowsProcess) WriteMemory(addr process.Address, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	p.mu.Lock()
	handle := p.handle
	var region *memory_map.MemoryMapItem
	if item := memory_map.Lookup(uint64(addr), p.mm); item != nil {
		found := *item
		region = &found
	}
	p.mu.Unlock()

	if handle == 0 {
		return process.ErrProcessNotOpen
	}

	writable := region != nil && region.IsWritable()
	var oldProtect uint32
	if !writable {
		if err := windows.VirtualProtectEx(handle, uintptr(addr), uintptr(len(data)), windows.PAGE_EXECUTE_READWRITE, &oldProtect); err != nil {
			return fmt.Errorf("VirtualProtectEx at %s: %v: %w", addr, err, process.ErrNotWritable)
		}
	}

	var written uintptr
	err := windows.WriteProcessMemory(handle, uintptr(addr), &data[0], uintptr(len(data)), &written)

	if !writable {
		var ignored uint32
		_ = windows.VirtualProtectEx(handle, uintptr(addr), uintptr(len(data)), oldProtect, &ignored)
		procFlushInstructionCache.Call(uintptr(handle), uintptr(addr), uintptr(len(data)))
	}

	if err != nil {
		return fmt.Errorf("WriteProcessMemory at %s failed: %w", addr, err)
	}
	if written != uintptr(len(data)) {
		return fmt.Errorf("only wrote %d of %d bytes at %s: %w", written, len(data), addr, process.ErrNotWritable)
	}
	return nil
}

// Allocate reserves and commits fresh memory in the process.
func (p *WindowsProcess) Allocate(size process.Size, executable bool) (process.Address, error) {
	p.mu.Lock()
	handle := p.handle
	p.mu.Unlock()

	if handle == 0 {
		return 0, process.ErrProcessNotOpen
	}

	protect := uintptr(windows.PAGE_READWRITE)
	if executable {
		protect = windows.PAGE_EXECUTE_READWRITE
	}

	addr, _, err := procVirtualAllocEx.Call(
		uintptr(handle),
		0,
		uintptr(size),
		uintptr(windows.MEM_COMMIT|windows.MEM_RESERVE),
		protect,
	)
	if addr == 0 {
		return 0, fmt.Errorf("VirtualAllocEx %d bytes: %v: %w", size, err, process.ErrAllocation)
	}

	if err := p.UpdateMemoryMap(); err != nil {
		return 0, err
	}
	return process.Address(addr), nil
}
