//go:build windows

package process_windows

import (
	"errors"
	"fmt"
	"regexp"
	"unsafe"

	"scripthook/process"

	"golang.org/x/sys/windows"
)

// WindowsProcessFinder implements process.ProcessFinder over a Toolhelp
// snapshot.
type WindowsProcessFinder struct{}

func NewProcessFinder() process.ProcessFinder {
	return &WindowsProcessFinder{}
}

// FindProcess finds a host process by executable name and returns its PID.
func FindProcess(name string) (process.ProcessID, error) {
	processes, err := NewProcessFinder().FindProcessByName(name)
	if err != nil {
		return 0, err
	}
	if len(processes) == 0 {
		return 0, fmt.Errorf("no process found with name '%s'", name)
	}
	return processes[0].PID, nil
}

func (f *WindowsProcessFinder) FindProcessByPID(pid process.ProcessID) (*process.ProcessInfo, error) {
	all, err := snapshot()
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].PID == pid {
			return &all[i], nil
		}
	}
	return nil, fmt.Errorf("process with PID %d does not exist", pid)
}

// FindProcessByName matches the executable name case-insensitively.
func (f *WindowsProcessFinder) FindProcessByName(name string) ([]process.ProcessInfo, error) {
	return f.FindProcessByNamePattern("(?i)^" + regexp.QuoteMeta(name) + "$")
}

func (f *WindowsProcessFinder) FindProcessByNamePattern(pattern string) ([]process.ProcessInfo, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	all, err := snapshot()
	if err != nil {
		return nil, err
	}

	var results []process.ProcessInfo
	for _, info := range all {
		if re.MatchString(info.Name) {
			results = append(results, info)
		}
	}
	return results, nil
}

func snapshot() ([]process.ProcessInfo, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return nil, fmt.Errorf("CreateToolhelp32Snapshot: %w", err)
	}
	defer windows.CloseHandle(snap)

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))

	var out []process.ProcessInfo
	err = windows.Process32First(snap, &entry)
	for err == nil {
		out = append(out, process.ProcessInfo{
			PID:     process.ProcessID(entry.ProcessID),
			PPID:    process.ProcessID(entry.ParentProcessID),
			Name:    windows.UTF16ToString(entry.ExeFile[:]),
			State:   process.ProcessRunning,
			Threads: int(entry.Threads),
		})
		err = windows.Process32Next(snap, &entry)
	}
	if !errors.Is(err, windows.ERROR_NO_MORE_FILES) {
		return nil, fmt.Errorf("Process32Next: %w", err)
	}
	return out, nil
}
