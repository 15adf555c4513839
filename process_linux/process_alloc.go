//go:build linux

package process_linux

import (
	"fmt"
	"unsafe"

	"scripthook/process"
	"scripthook/process/memory_map"

	"golang.org/x/sys/unix"
)

// memory_mapLookup finds the region holding addr. Callers hold p.mu.
func memory_mapLookup(p *LinuxProcess, addr process.Address) *memory_map.MemoryMapItem {
	item := memory_map.Lookup(uint64(addr), p.mm)
	if item == nil {
		return nil
	}
	found := *item
	return &found
}

// Allocate maps anonymous memory. Only possible when attached to the current
// process; remote hosts must supply a code cave instead.
func (p *LinuxProcess) Allocate(size process.Size, executable bool) (process.Address, error) {
	if !p.isSelf() {
		return 0, fmt.Errorf("cannot allocate in remote process %d: %w", p.GetPID(), process.ErrAllocation)
	}

	prot := unix.PROT_READ | unix.PROT_WRITE
	if executable {
		prot |= unix.PROT_EXEC
	}

	mem, err := unix.Mmap(-1, 0, int(size), prot, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, fmt.Errorf("mmap %d bytes: %v: %w", size, err, process.ErrAllocation)
	}

	addr := process.Address(uintptr(unsafe.Pointer(&mem[0])))

	if err := p.UpdateMemoryMap(); err != nil {
		return 0, err
	}

	p.log.Debugln("Allocated", size, "bytes at", addr)
	return addr, nil
}
