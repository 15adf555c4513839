package field

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"scripthook/process"
)

// Searcher walks host structures looking for a value, following pointers.
type Searcher struct {
	MaxStructSize uint
	MaxDepth      int
	MinAlignment  uint
	SearchFor     func([]byte) bool
}

// SearchOption configures a Searcher.
type SearchOption func(*Searcher)

func WithMaxStructSize(size uint) SearchOption {
	return func(s *Searcher) {
		s.MaxStructSize = size
	}
}

func WithMaxDepth(depth int) SearchOption {
	return func(s *Searcher) {
		s.MaxDepth = depth
	}
}

func WithMinAlignment(align uint) SearchOption {
	return func(s *Searcher) {
		s.MinAlignment = align
	}
}

// WithValue searches for the in-memory bytes of val.
func WithValue[T Scalar](val T) SearchOption {
	want := make([]byte, unsafe.Sizeof(val))
	copy(want, unsafe.Slice((*byte)(unsafe.Pointer(&val)), len(want)))
	return WithBytes(want)
}

// WithBytes searches for an exact byte sequence.
func WithBytes(want []byte) SearchOption {
	return func(s *Searcher) {
		s.SearchFor = func(data []byte) bool {
			return bytes.HasPrefix(data, want)
		}
	}
}

// SearchResult is a path of offsets from the base: every offset but the last
// is followed as a pointer.
type SearchResult struct {
	Path []int64
}

// Locator returns the final hop as a locator relative to the last struct.
func (r SearchResult) Locator() Locator {
	return Locator{Offset: r.Path[len(r.Path)-1]}
}

func (r SearchResult) String() string {
	var b bytes.Buffer
	for i, off := range r.Path {
		if i > 0 {
			b.WriteString(" -> ")
		}
		fmt.Fprintf(&b, "+0x%X", off)
	}
	return b.String()
}

// Search looks for the target value inside the struct at base and, up to
// MaxDepth, inside structs its pointers lead to.
func Search(mem process.Memory, base process.Address, options ...SearchOption) ([]SearchResult, error) {
	s := &Searcher{
		MaxStructSize: 256,
		MaxDepth:      3,
		MinAlignment:  4,
	}
	for _, opt := range options {
		opt(s)
	}

	if s.SearchFor == nil {
		return nil, errors.New("no search target specified")
	}
	if s.MinAlignment == 0 {
		return nil, errors.New("alignment must be positive")
	}

	var results []SearchResult
	visited := make(map[process.Address]bool)

	var walk func(addr process.Address, depth int, path []int64)
	walk = func(addr process.Address, depth int, path []int64) {
		if depth > s.MaxDepth || visited[addr] {
			return
		}
		visited[addr] = true

		data, err := mem.ReadMemory(addr, process.Size(s.MaxStructSize))
		if err != nil {
			return
		}

		for offset := uint(0); offset+s.MinAlignment <= uint(len(data)); offset += s.MinAlignment {
			if s.SearchFor(data[offset:]) {
				results = append(results, SearchResult{Path: appendPath(path, int64(offset))})
			}

			if offset%process.PointerSize == 0 && depth < s.MaxDepth && offset+process.PointerSize <= uint(len(data)) {
				ptr := process.Address(binary.LittleEndian.Uint64(data[offset:]))
				if ptr != 0 && mem.IsValidAddress(ptr) {
					walk(ptr, depth+1, appendPath(path, int64(offset)))
				}
			}
		}
	}

	walk(base, 0, nil)
	return results, nil
}

func appendPath(path []int64, off int64) []int64 {
	out := make([]int64, len(path), len(path)+1)
	copy(out, path)
	return append(out, off)
}
