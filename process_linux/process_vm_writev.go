//go:build linux

package process_linux

import (
	"fmt"
	"os"
	"unsafe"

	"scripthook/process"

	"golang.org/x/sys/unix"
)

// process_vm_writev uses the process_vm_writev syscall to write memory to another process
func process_vm_writev(
	pid process.ProcessID,
	localBuf []byte,
	remoteAddr process.Address,
) (int, error) {
	localIov := unix.Iovec{
		Base: &localBuf[0],
		Len:  uint64(len(localBuf)),
	}

	remoteIov := unix.RemoteIovec{
		Base: uintptr(remoteAddr),
		Len:  len(localBuf),
	}

	n, _, errno := unix.Syscall6(
		unix.SYS_PROCESS_VM_WRITEV,
		uintptr(pid),                        // Remote process PID
		uintptr(unsafe.Pointer(&localIov)),  // Local iovec
		uintptr(1),                          // Number of local iovecs
		uintptr(unsafe.Pointer(&remoteIov)), // Remote iovec
		uintptr(1),                          // Number of remote iovecs
		uintptr(0),                          // Flags (reserved for future use)
	)

	if errno != 0 {
		return 0, fmt.Errorf("process_vm_writev failed: %s (errno: %d)", errno.Error(), errno)
	}

	return int(n), nil
}

// proc_mem_write writes through /proc/<pid>/mem. The kernel services these
// writes with forced access, so read-only code pages can be patched without
// changing their protection.
func proc_mem_write(pid process.ProcessID, data []byte, remoteAddr process.Address) (int, error) {
	f, err := os.OpenFile(fmt.Sprintf("/proc/%d/mem", pid), os.O_RDWR, 0)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	return f.WriteAt(data, int64(remoteAddr))
}

// WriteMemory writes data to the process memory at the specified address.
// Writable regions go through process_vm_writev, anything else (code) through
// /proc/<pid>/mem.
func (p *LinuxProcess) WriteMemory(addr process.Address, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	p.mu.Lock()
	pid := p.pid
	if pid == 0 {
		p.mu.Unlock()
		return process.ErrProcessNotOpen
	}

	region := memory_mapLookup(p, addr)
	p.mu.Unlock()

	if region == nil {
		return fmt.Errorf("memory region not found for address %s: %w", addr, process.ErrAddressNotMapped)
	}

	// Create a copy of the data to avoid potential modification during the write
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	var written int
	var err error
	if region.IsWritable() {
		written, err = process_vm_writev(pid, dataCopy, addr)
	} else {
		written, err = proc_mem_write(pid, dataCopy, addr)
	}

	if err != nil {
		return fmt.Errorf("failed to write process memory at %s: %w", addr, err)
	}

	if written != len(data) {
		return fmt.Errorf("only wrote %d of %d bytes at %s: %w", written, len(data), addr, process.ErrNotWritable)
	}

	return nil
}
