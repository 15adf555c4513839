//go:build linux

package process_linux

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"scripthook/process"
)

// LinuxProcessFinder implements the process.ProcessFinder interface
type LinuxProcessFinder struct{}

// NewProcessFinder creates a new LinuxProcessFinder
func NewProcessFinder() process.ProcessFinder {
	return &LinuxProcessFinder{}
}

// FindProcess finds a host process by name and returns its PID
func FindProcess(name string) (process.ProcessID, error) {
	processes, err := NewProcessFinder().FindProcessByName(name)
	if err != nil {
		return 0, err
	}

	for _, p := range processes {
		if p.State.Attachable() {
			return p.PID, nil
		}
	}

	return 0, fmt.Errorf("no live process found with name '%s'", name)
}

// FindProcessByPID finds a process by its PID
func (f *LinuxProcessFinder) FindProcessByPID(pid process.ProcessID) (*process.ProcessInfo, error) {
	procPath := fmt.Sprintf("/proc/%d", pid)

	if _, err := os.Stat(procPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("process with PID %d does not exist", pid)
	}

	return getProcessInfo(pid)
}

// FindProcessByName finds processes by their name (exact match)
func (f *LinuxProcessFinder) FindProcessByName(name string) ([]process.ProcessInfo, error) {
	return findProcessesByNamePattern("^" + regexp.QuoteMeta(name) + "$")
}

// FindProcessByNamePattern finds processes by their name (pattern match)
func (f *LinuxProcessFinder) FindProcessByNamePattern(pattern string) ([]process.ProcessInfo, error) {
	return findProcessesByNamePattern(pattern)
}

func findProcessesByNamePattern(pattern string) ([]process.ProcessInfo, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}

	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("failed to read /proc: %w", err)
	}

	var results []process.ProcessInfo

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}

		info, err := getProcessInfo(process.ProcessID(pid))
		if err != nil {
			// Process may have terminated while we were reading
			continue
		}

		// Wine/Proton hosts show up under the exe base name rather than comm
		if re.MatchString(info.Name) || (info.Exe != "" && re.MatchString(filepath.Base(info.Exe))) {
			results = append(results, *info)
		}
	}

	return results, nil
}

func getProcessInfo(pid process.ProcessID) (*process.ProcessInfo, error) {
	procPath := fmt.Sprintf("/proc/%d", pid)

	nameBytes, err := os.ReadFile(filepath.Join(procPath, "comm"))
	if err != nil {
		return nil, fmt.Errorf("failed to read process name: %w", err)
	}
	name := strings.TrimSpace(string(nameBytes))

	// Some processes don't have an exe (e.g., kernel threads)
	exe, _ := os.Readlink(filepath.Join(procPath, "exe"))

	cmdlineBytes, err := os.ReadFile(filepath.Join(procPath, "cmdline"))
	if err != nil {
		return nil, fmt.Errorf("failed to read process cmdline: %w", err)
	}

	var cmdline []string
	cmdlineBytes = bytes.TrimSuffix(cmdlineBytes, []byte{0})
	if len(cmdlineBytes) > 0 {
		for _, arg := range bytes.Split(cmdlineBytes, []byte{0}) {
			cmdline = append(cmdline, string(arg))
		}
	}

	info := &process.ProcessInfo{
		PID:     pid,
		Name:    name,
		Exe:     exe,
		Cmdline: cmdline,
	}

	statusBytes, err := os.ReadFile(filepath.Join(procPath, "status"))
	if err != nil {
		return info, nil
	}

	for _, line := range strings.Split(string(statusBytes), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch strings.TrimSpace(key) {
		case "PPid":
			if ppid, err := strconv.Atoi(value); err == nil {
				info.PPID = process.ProcessID(ppid)
			}
		case "State":
			if len(value) > 0 {
				info.State = process.ProcessState(value[0:1])
			}
		case "Threads":
			if threads, err := strconv.Atoi(value); err == nil {
				info.Threads = threads
			}
		}
	}

	return info, nil
}
