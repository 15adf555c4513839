package pattern

import (
	"bytes"
	"fmt"
	"iter"

	"scripthook/process"
	"scripthook/process/memory_map"
)

const (
	pageSize  = 0x1000
	chunkSize = 16 * pageSize
)

// Section restricts a module scan to code or data regions.
type Section int

const (
	SectionAny Section = iota
	SectionCode
	SectionData
)

func (s Section) String() string {
	switch s {
	case SectionCode:
		return "code"
	case SectionData:
		return "data"
	}
	return "any"
}

// ParseSection accepts "", "any", "code" and "data".
func ParseSection(s string) (Section, error) {
	switch s {
	case "", "any":
		return SectionAny, nil
	case "code", "text":
		return SectionCode, nil
	case "data":
		return SectionData, nil
	}
	return SectionAny, fmt.Errorf("unknown section %q: %w", s, ErrInvalidPattern)
}

func (s Section) admits(item memory_map.MemoryMapItem) bool {
	switch s {
	case SectionCode:
		return item.IsExecutable()
	case SectionData:
		return !item.IsExecutable()
	}
	return true
}

// FindBytes yields every offset in data where p matches, in increasing order.
func FindBytes(data []byte, p Pattern) iter.Seq[int] {
	return func(yield func(int) bool) {
		n := p.Len()
		if n == 0 || len(data) < n {
			return
		}

		// first exact byte, used to skip ahead with IndexByte
		anchor := -1
		for j := 0; j < n; j++ {
			if p.exact[j] {
				anchor = j
				break
			}
		}

		last := len(data) - n
		for i := 0; i <= last; i++ {
			if anchor >= 0 {
				k := bytes.IndexByte(data[i+anchor:last+anchor+1], p.values[anchor])
				if k < 0 {
					return
				}
				i += k
			}
			if p.MatchAt(data[i:]) {
				if !yield(i) {
					return
				}
			}
		}
	}
}

type segment struct {
	base process.Address
	data []byte
}

// readChunk reads [base, base+size). When the whole read fails it retries page
// by page and returns the readable runs, so protected pages are skipped.
func readChunk(mem process.Memory, base process.Address, size process.Size) []segment {
	if data, err := mem.ReadMemory(base, size); err == nil {
		return []segment{{base: base, data: data}}
	}

	var out []segment
	end := base + process.Address(size)
	for page := base; page < end; {
		next := (page + pageSize) &^ (pageSize - 1)
		if next > end {
			next = end
		}

		data, err := mem.ReadMemory(page, process.Size(next-page))
		if err == nil {
			if n := len(out); n > 0 && out[n-1].base+process.Address(len(out[n-1].data)) == page {
				out[n-1].data = append(out[n-1].data, data...)
			} else {
				out = append(out, segment{base: page, data: data})
			}
		}
		page = next
	}
	return out
}

// Find lazily yields every address in region where p matches. The sequence
// is restartable: ranging over it again rescans the region. Unreadable pages
// are skipped.
func Find(mem process.Memory, region process.Region, p Pattern) iter.Seq[process.Address] {
	return func(yield func(process.Address) bool) {
		n := p.Len()
		if n == 0 {
			return
		}

		var carry []byte
		var carryBase process.Address

		for off := region.Base; off < region.End(); off += chunkSize {
			size := process.Size(chunkSize)
			if remaining := process.Size(region.End() - off); remaining < size {
				size = remaining
			}

			for _, seg := range readChunk(mem, off, size) {
				buf, base := seg.data, seg.base
				if len(carry) > 0 && carryBase+process.Address(len(carry)) == seg.base {
					buf = append(append([]byte(nil), carry...), seg.data...)
					base = carryBase
				}

				for i := range FindBytes(buf, p) {
					if !yield(base + process.Address(i)) {
						return
					}
				}

				// a match straddling the next boundary needs the last n-1 bytes
				keep := n - 1
				if keep > len(buf) {
					keep = len(buf)
				}
				carry = append(carry[:0], buf[len(buf)-keep:]...)
				carryBase = base + process.Address(len(buf)-keep)
			}
		}
	}
}

// FindFirst returns the first match in region or ErrPatternNotFound.
func FindFirst(mem process.Memory, region process.Region, p Pattern) (process.Address, error) {
	for addr := range Find(mem, region, p) {
		return addr, nil
	}
	return 0, fmt.Errorf("%s in %s: %w", p, region, ErrPatternNotFound)
}

// ModuleRegions lists the readable regions of module that belong to section.
// An empty module name selects every readable region.
func ModuleRegions(mem process.Memory, module string, section Section) ([]process.Region, error) {
	mm, err := mem.GetMemoryMap()
	if err != nil {
		return nil, fmt.Errorf("failed to get memory map: %w", err)
	}

	var regions []process.Region
	for _, item := range memory_map.ModuleRegions(module, mm) {
		if !item.IsReadable() || !section.admits(item) {
			continue
		}
		regions = append(regions, process.Region{Base: process.Address(item.Address), Size: process.Size(item.Size)})
	}
	return regions, nil
}

// ScanModule yields matches across every selected region of a module.
func ScanModule(mem process.Memory, module string, section Section, p Pattern) (iter.Seq[process.Address], error) {
	regions, err := ModuleRegions(mem, module, section)
	if err != nil {
		return nil, err
	}

	return func(yield func(process.Address) bool) {
		for _, region := range regions {
			for addr := range Find(mem, region, p) {
				if !yield(addr) {
					return
				}
			}
		}
	}, nil
}

// ScanModuleFirst returns the first match in a module or ErrPatternNotFound.
func ScanModuleFirst(mem process.Memory, module string, section Section, p Pattern) (process.Address, error) {
	seq, err := ScanModule(mem, module, section, p)
	if err != nil {
		return 0, err
	}
	for addr := range seq {
		return addr, nil
	}
	return 0, fmt.Errorf("%s in module %q: %w", p, module, ErrPatternNotFound)
}

// MatchesAt reports whether p matches host memory at addr.
func MatchesAt(mem process.Memory, addr process.Address, p Pattern) bool {
	data, err := mem.ReadMemory(addr, process.Size(p.Len()))
	if err != nil {
		return false
	}
	return p.MatchAt(data)
}

// Resolve turns a match into the final address by applying the displacement
// and the resolve mode.
func (p Pattern) Resolve(mem process.Memory, match process.Address) (process.Address, error) {
	addr := match.Add(p.offset)

	switch p.mode {
	case ResolveRIP:
		disp, err := process.Read[int32](mem, addr)
		if err != nil {
			return 0, fmt.Errorf("read rel32 at %s: %w", addr, err)
		}
		return addr.Add(4 + p.trailing + int64(disp)), nil
	case ResolvePointer:
		ptr, err := process.ReadPointer(mem, addr)
		if err != nil {
			return 0, fmt.Errorf("read pointer at %s: %w", addr, err)
		}
		if ptr == 0 {
			return 0, fmt.Errorf("null pointer at %s: %w", addr, process.ErrInvalidPointer)
		}
		return ptr, nil
	}
	return addr, nil
}
