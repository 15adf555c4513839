//go:build windows

// Package process_windows opens a host process on Windows, either another
// process or the current one when loaded into the host, and exposes its memory
// through process.Memory.
package process_windows

import (
	"fmt"
	"sync"
	"unsafe"

	"scripthook/process"
	"scripthook/process/memory_map"
	"scripthook/process_blob"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"golang.org/x/sys/windows"
)

var (
	modkernel32               = windows.NewLazySystemDLL("kernel32.dll")
	procVirtualAllocEx        = modkernel32.NewProc("VirtualAllocEx")
	procFlushInstructionCache = modkernel32.NewProc("FlushInstructionCache")
	procK32GetMappedFileNameW = modkernel32.NewProc("K32GetMappedFileNameW")
)

const (
	memImage = 0x1000000

	// highest user-mode address on x64
	maxUserAddress = 0x7FFFFFFEFFFF
)

// WindowsProcess implements the process.Process interface for Windows systems
type WindowsProcess struct {
	pid    process.ProcessID
	handle windows.Handle
	owned  bool
	log    *logger.Logger
	mm     []memory_map.MemoryMapItem
	mu     sync.Mutex
}

var _ process.Process = (*WindowsProcess)(nil)
var _ process.Allocator = (*WindowsProcess)(nil)
var _ process.Saver = (*WindowsProcess)(nil)

// New creates a new WindowsProcess instance
func New() *WindowsProcess {
	return &WindowsProcess{
		log: logger.NewLogger(coloransi.Color(coloransi.Red, coloransi.ColorOrange, "process-not-open")),
	}
}

// NewWithPID creates a new WindowsProcess instance and opens it with the given PID
func NewWithPID(pid process.ProcessID) (*WindowsProcess, error) {
	p := New()
	if err := p.Open(pid); err != nil {
		return nil, err
	}
	return p, nil
}

// NewSelf opens the current process through its pseudo handle.
func NewSelf() (*WindowsProcess, error) {
	return NewWithPID(process.ProcessID(windows.GetCurrentProcessId()))
}

func (p *WindowsProcess) Open(pid process.ProcessID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if uint32(pid) == windows.GetCurrentProcessId() {
		p.handle = windows.CurrentProcess()
		p.owned = false
	} else {
		handle, err := windows.OpenProcess(windows.PROCESS_ALL_ACCESS, false, uint32(pid))
		if err != nil {
			return fmt.Errorf("OpenProcess failed: %w", err)
		}
		p.handle = handle
		p.owned = true
	}

	p.pid = pid
	p.log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("process-%d", pid)))

	if err := p.updateMemoryMapInternal(); err != nil {
		p.log.Warn("Failed to initialize memory map: ", err)
	}

	p.log.Infoln("Process opened")
	return nil
}

func (p *WindowsProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.owned && p.handle != 0 {
		if err := windows.CloseHandle(p.handle); err != nil {
			return fmt.Errorf("CloseHandle failed: %w", err)
		}
	}

	p.handle = 0
	p.pid = 0
	p.mm = nil
	p.log = logger.NewLogger(coloransi.Color(coloransi.Red, coloransi.ColorOrange, "process-not-open"))
	return nil
}

func (p *WindowsProcess) GetPID() process.ProcessID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

func (p *WindowsProcess) UpdateMemoryMap() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updateMemoryMapInternal()
}

// updateMemoryMapInternal walks the address space with VirtualQueryEx.
func (p *WindowsProcess) updateMemoryMapInternal() error {
	if p.handle == 0 {
		return process.ErrProcessNotOpen
	}

	var mm []memory_map.MemoryMapItem
	var mbi windows.MemoryBasicInformation
	addr := uintptr(0x10000)

	for addr < maxUserAddress {
		if err := windows.VirtualQueryEx(p.handle, addr, &mbi, unsafe.Sizeof(mbi)); err != nil {
			break
		}
		if mbi.RegionSize == 0 {
			break
		}

		if mbi.State == windows.MEM_COMMIT {
			item := memory_map.MemoryMapItem{
				Address: uint64(mbi.BaseAddress),
				Size:    uint(mbi.RegionSize),
				Perms:   permsFromProtect(mbi.Protect),
			}
			if mbi.Type == memImage {
				item.Path = p.mappedFileName(mbi.BaseAddress)
			}
			mm = append(mm, item)
		}

		addr = mbi.BaseAddress + mbi.RegionSize
	}

	memory_map.Sort(mm)
	p.mm = mm
	return nil
}

func (p *WindowsProcess) mappedFileName(addr uintptr) string {
	buf := make([]uint16, windows.MAX_PATH)
	n, _, _ := procK32GetMappedFileNameW.Call(uintptr(p.handle), addr, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if n == 0 {
		return ""
	}
	return windows.UTF16ToString(buf[:n])
}

// permsFromProtect renders a page protection in /proc maps notation.
func permsFromProtect(protect uint32) string {
	if protect&(windows.PAGE_GUARD|windows.PAGE_NOACCESS) != 0 {
		return "---p"
	}
	switch protect & 0xFF {
	case windows.PAGE_READONLY:
		return "r--p"
	case windows.PAGE_READWRITE, windows.PAGE_WRITECOPY:
		return "rw-p"
	case windows.PAGE_EXECUTE:
		return "--xp"
	case windows.PAGE_EXECUTE_READ:
		return "r-xp"
	case windows.PAGE_EXECUTE_READWRITE, windows.PAGE_EXECUTE_WRITECOPY:
		return "rwxp"
	}
	return "---p"
}

func (p *WindowsProcess) IsValidAddress(addr process.Address) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return memory_map.IsValidAddress(uint64(addr), p.mm)
}

func (p *WindowsProcess) GetMemoryMap() ([]memory_map.MemoryMapItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle == 0 {
		return nil, process.ErrProcessNotOpen
	}
	result := make([]memory_map.MemoryMapItem, len(p.mm))
	copy(result, p.mm)
	return result, nil
}

func (p *WindowsProcess) Save(dirname string) error {
	if err := p.UpdateMemoryMap(); err != nil {
		return err
	}
	return process_blob.SaveDump(p, p.GetPID(), "", dirname, process_blob.DefaultMaxRegion)
}
