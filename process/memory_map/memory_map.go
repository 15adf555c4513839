package memory_map

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// MemoryMapItem represents a memory region in a process's address space
type MemoryMapItem struct {
	Address uint64 `json:"address"` // The starting address of the memory region
	Size    uint   `json:"size"`    // The size of the memory region in bytes
	Perms   string `json:"perms"`   // Permissions (e.g., "r-xp" for read, execute, private)
	Path    string `json:"path"`    // Backing file, empty for anonymous mappings
}

// String returns a string representation of the memory map item
func (mmItem MemoryMapItem) String() string {
	return fmt.Sprintf("Address: %x, Size: %d, Perms: %s, Path: %s", mmItem.Address, mmItem.Size, mmItem.Perms, mmItem.Path)
}

// End returns the first address past the region.
func (mmItem MemoryMapItem) End() uint64 {
	return mmItem.Address + uint64(mmItem.Size)
}

func (mmItem MemoryMapItem) IsReadable() bool {
	return IsReadablePerms(mmItem.Perms)
}

func (mmItem MemoryMapItem) IsWritable() bool {
	return IsWritablePerms(mmItem.Perms)
}

func (mmItem MemoryMapItem) IsExecutable() bool {
	return IsExecutablePerms(mmItem.Perms)
}

// Module returns the base name of the backing file.
func (mmItem MemoryMapItem) Module() string {
	if mmItem.Path == "" {
		return ""
	}
	// Windows paths are reported with backslashes by the Windows backend.
	return filepath.Base(strings.ReplaceAll(mmItem.Path, `\`, "/"))
}

func IsReadablePerms(perms string) bool {
	return len(perms) > 0 && perms[0] == 'r'
}

func IsWritablePerms(perms string) bool {
	return len(perms) > 1 && perms[1] == 'w'
}

func IsExecutablePerms(perms string) bool {
	return len(perms) > 2 && perms[2] == 'x'
}

// Sort orders the memory map by address. Lookup requires a sorted map.
func Sort(mm []MemoryMapItem) {
	sort.Slice(mm, func(i, j int) bool {
		return mm[i].Address < mm[j].Address
	})
}

// Lookup returns the region containing addr in a sorted memory map.
func Lookup(addr uint64, memoryMap []MemoryMapItem) *MemoryMapItem {
	i := sort.Search(len(memoryMap), func(i int) bool {
		return memoryMap[i].End() > addr
	})
	if i < len(memoryMap) && memoryMap[i].Address <= addr {
		return &memoryMap[i]
	}

	return nil
}

// IsValidAddress checks if an address is within a readable region of a sorted map
func IsValidAddress(addr uint64, memoryMap []MemoryMapItem) bool {
	item := Lookup(addr, memoryMap)
	return item != nil && item.IsReadable()
}

// ModuleRegions returns the regions backed by the named module, matched
// case-insensitively on the file base name. An empty name matches every
// region.
func ModuleRegions(module string, memoryMap []MemoryMapItem) []MemoryMapItem {
	if module == "" {
		return memoryMap
	}
	var out []MemoryMapItem
	for _, item := range memoryMap {
		if strings.EqualFold(item.Module(), module) {
			out = append(out, item)
		}
	}
	return out
}

// ModuleBase returns the lowest address mapped for a module.
func ModuleBase(module string, memoryMap []MemoryMapItem) (uint64, bool) {
	regions := ModuleRegions(module, memoryMap)
	if len(regions) == 0 {
		return 0, false
	}
	base := regions[0].Address
	for _, r := range regions[1:] {
		if r.Address < base {
			base = r.Address
		}
	}
	return base, true
}
