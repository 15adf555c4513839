// Package process_blob holds host memory images that live in this process:
// dumps loaded from disk for offline pattern work, and writable images that
// stand in for a host in tests.
package process_blob

import (
	"fmt"
	"sync"

	"scripthook/process"
	"scripthook/process/memory_map"
)

// allocBase is where Allocate places fresh regions in an Image.
const allocBase = 0x7FF000000000

// Image implements process.Memory over a set of in-memory regions.
type Image struct {
	PID  process.ProcessID
	Name string

	mu        sync.RWMutex
	memoryMap []memory_map.MemoryMapItem
	blobs     map[uint64][]byte // Address -> Data
	guards    []process.Region
	nextAlloc uint64
}

var _ process.Memory = (*Image)(nil)
var _ process.Allocator = (*Image)(nil)
var _ process.Saver = (*Image)(nil)

// NewImage creates an empty image.
func NewImage() *Image {
	return &Image{
		blobs:     make(map[uint64][]byte),
		nextAlloc: allocBase,
	}
}

// Map adds a region backed by data. Perms use the /proc maps notation.
func (p *Image) Map(addr process.Address, data []byte, perms, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mapLocked(uint64(addr), data, perms, path)
}

func (p *Image) mapLocked(addr uint64, data []byte, perms, path string) error {
	item := memory_map.MemoryMapItem{Address: addr, Size: uint(len(data)), Perms: perms, Path: path}
	for _, existing := range p.memoryMap {
		if addr < existing.End() && existing.Address < item.End() {
			return fmt.Errorf("region %x-%x overlaps %x-%x", addr, item.End(), existing.Address, existing.End())
		}
	}

	p.memoryMap = append(p.memoryMap, item)
	memory_map.Sort(p.memoryMap)
	p.blobs[addr] = data
	return nil
}

// Guard makes reads overlapping r fail, simulating access-protected pages
// inside an otherwise readable region.
func (p *Image) Guard(r process.Region) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.guards = append(p.guards, r)
}

func (p *Image) IsValidAddress(addr process.Address) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return memory_map.IsValidAddress(uint64(addr), p.memoryMap)
}

func (p *Image) GetMemoryMap() ([]memory_map.MemoryMapItem, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make([]memory_map.MemoryMapItem, len(p.memoryMap))
	copy(result, p.memoryMap)
	return result, nil
}

func (p *Image) ReadMemory(addr process.Address, size process.Size) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	data, offset, err := p.locate(addr, size)
	if err != nil {
		return nil, err
	}

	span := process.Region{Base: addr, Size: size}
	for _, g := range p.guards {
		if g.Overlaps(span) {
			return nil, fmt.Errorf("read at %s hits guarded range %s: %w", addr, g, process.ErrAddressNotMapped)
		}
	}

	result := make([]byte, size)
	copy(result, data[offset:offset+uint64(size)])
	return result, nil
}

// WriteMemory writes into any mapped region. Like the live backends, code
// pages are patched regardless of their protection.
func (p *Image) WriteMemory(addr process.Address, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	blob, offset, err := p.locate(addr, process.Size(len(data)))
	if err != nil {
		return err
	}
	copy(blob[offset:], data)
	return nil
}

// locate finds the backing slice for [addr, addr+size). Callers hold mu.
func (p *Image) locate(addr process.Address, size process.Size) ([]byte, uint64, error) {
	region := memory_map.Lookup(uint64(addr), p.memoryMap)
	if region == nil {
		return nil, 0, process.ErrAddressNotMapped
	}

	data, ok := p.blobs[region.Address]
	if !ok {
		return nil, 0, fmt.Errorf("no data for region 0x%x: %w", region.Address, process.ErrAddressNotMapped)
	}

	offset := uint64(addr) - region.Address
	if offset+uint64(size) > uint64(len(data)) {
		return nil, 0, fmt.Errorf("access of %d bytes at %s exceeds region bounds: %w", size, addr, process.ErrPartialRead)
	}
	return data, offset, nil
}

// Allocate maps a fresh zeroed region.
func (p *Image) Allocate(size process.Size, executable bool) (process.Address, error) {
	if size == 0 {
		return 0, fmt.Errorf("zero sized allocation: %w", process.ErrAllocation)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	perms := "rw-p"
	if executable {
		perms = "rwxp"
	}

	// page align so neighbouring allocations never share a region
	pages := (uint64(size) + 0xFFF) &^ 0xFFF
	addr := p.nextAlloc
	if err := p.mapLocked(addr, make([]byte, pages), perms, ""); err != nil {
		return 0, fmt.Errorf("%w: %v", process.ErrAllocation, err)
	}
	p.nextAlloc += pages
	return process.Address(addr), nil
}
