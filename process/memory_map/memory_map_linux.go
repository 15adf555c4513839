//go:build linux

package memory_map

import (
	"bufio"
	"fmt"
	"os"
)

// ReadLinuxMemoryMap reads and parses the memory map for a process from /proc/[pid]/maps
func ReadLinuxMemoryMap(pid int) ([]MemoryMapItem, error) {
	file, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	memoryMap, err := ParseMaps(bufio.NewScanner(file))
	if err != nil {
		return nil, err
	}
	Sort(memoryMap)
	return memoryMap, nil
}
