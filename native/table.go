package native

import (
	"encoding/binary"
	"fmt"
	"iter"

	"scripthook/process"
)

// Host registration table: 256 bucket chains selected by the identifier's
// low byte.
//
//	bucket +0x00 next bucket
//	       +0x08 7 handler pointers
//	       +0x40 entry count (uint32, padded)
//	       +0x48 7 identifiers
const (
	TableBuckets   = 256
	BucketEntries  = 7
	BucketSize     = 0x80
	bucketNext     = 0x00
	bucketHandlers = 0x08
	bucketCount    = 0x40
	bucketIDs      = 0x48

	// chains longer than this are treated as corrupt
	maxChain = 1 << 12
)

// Table reads the host's registration table.
type Table struct {
	mem  process.Memory
	base process.Address
}

// NewTable wraps the bucket pointer array at base.
func NewTable(mem process.Memory, base process.Address) *Table {
	return &Table{mem: mem, base: base}
}

func (t *Table) Base() process.Address { return t.base }

type bucket struct {
	next     process.Address
	count    int
	handlers [BucketEntries]process.Address
	ids      [BucketEntries]Identifier
}

func (t *Table) readBucket(addr process.Address) (bucket, error) {
	raw, err := t.mem.ReadMemory(addr, BucketSize)
	if err != nil {
		return bucket{}, fmt.Errorf("read bucket at %s: %w", addr, err)
	}

	b := bucket{
		next:  process.Address(binary.LittleEndian.Uint64(raw[bucketNext:])),
		count: int(binary.LittleEndian.Uint32(raw[bucketCount:])),
	}
	if b.count > BucketEntries {
		return bucket{}, fmt.Errorf("bucket at %s claims %d entries: %w", addr, b.count, process.ErrInvalidPointer)
	}
	for i := range b.count {
		b.handlers[i] = process.Address(binary.LittleEndian.Uint64(raw[bucketHandlers+i*8:]))
		b.ids[i] = Identifier(binary.LittleEndian.Uint64(raw[bucketIDs+i*8:]))
	}
	return b, nil
}

func (t *Table) head(index int) (process.Address, error) {
	return process.ReadPointer(t.mem, t.base+process.Address(index*8))
}

// Lookup walks the identifier's bucket chain for its handler.
func (t *Table) Lookup(id Identifier) (process.Address, error) {
	addr, err := t.head(int(id & 0xFF))
	if err != nil {
		return 0, fmt.Errorf("read table head: %w", err)
	}

	for depth := 0; addr != 0; depth++ {
		if depth == maxChain {
			return 0, fmt.Errorf("bucket chain for %s too long: %w", id, process.ErrInvalidPointer)
		}
		b, err := t.readBucket(addr)
		if err != nil {
			return 0, err
		}
		for i := range b.count {
			if b.ids[i] == id {
				return b.handlers[i], nil
			}
		}
		addr = b.next
	}
	return 0, fmt.Errorf("%s: %w", id, ErrNativeNotFound)
}

// All yields every registered identifier and handler. Unreadable buckets end
// their chain.
func (t *Table) All() iter.Seq2[Identifier, process.Address] {
	return func(yield func(Identifier, process.Address) bool) {
		for index := range TableBuckets {
			addr, err := t.head(index)
			if err != nil {
				continue
			}
			for depth := 0; addr != 0 && depth < maxChain; depth++ {
				b, err := t.readBucket(addr)
				if err != nil {
					break
				}
				for i := range b.count {
					if !yield(b.ids[i], b.handlers[i]) {
						return
					}
				}
				addr = b.next
			}
		}
	}
}
