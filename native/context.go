package native

import (
	"encoding/binary"
	"fmt"

	"scripthook/process"
)

// Call context block, as host natives expect it:
//
//	+0x000 return pointer   -> +0x120
//	+0x008 argument count
//	+0x010 argument pointer -> +0x020
//	+0x018 data count
//	+0x020 32 argument slots
//	+0x120 3 return slots
//	+0x140 text scratch
const (
	MaxArgs         = 32
	MaxReturns      = 3
	TextScratchSize = 0x400

	offReturnPtr = 0x00
	offArgCount  = 0x08
	offArgsPtr   = 0x10
	offDataCount = 0x18
	offArgs      = 0x20
	offReturns   = offArgs + MaxArgs*8
	offText      = 0x140

	ContextSize = offText + TextScratchSize
)

// Context marshals one call at a time into a call context block in host
// memory. It is not safe for concurrent use; Invoker serializes calls.
type Context struct {
	mem  process.Memory
	base process.Address

	args    []uint64
	text    []byte
	textOff int
}

// NewContext uses ContextSize bytes of host memory at base.
func NewContext(mem process.Memory, base process.Address) *Context {
	return &Context{
		mem:  mem,
		base: base,
		args: make([]uint64, 0, MaxArgs),
		text: make([]byte, 0, TextScratchSize),
	}
}

func (c *Context) Base() process.Address { return c.base }

// Reset drops staged arguments and text.
func (c *Context) Reset() {
	c.args = c.args[:0]
	c.text = c.text[:0]
}

// Push appends an argument.
func (c *Context) Push(v Value) error {
	n := v.Kind().Slots()
	if len(c.args)+n > MaxArgs {
		return fmt.Errorf("%d slots used, %s needs %d: %w", len(c.args), v.Kind(), n, ErrTooManyArgs)
	}

	slots := make([]uint64, n)
	if err := v.Encode(slots, c); err != nil {
		return err
	}
	c.args = append(c.args, slots...)
	return nil
}

// WriteText stages s in the scratch area and returns where the host will see it.
func (c *Context) WriteText(s string) (process.Address, error) {
	if len(c.text)+len(s)+1 > TextScratchSize {
		return 0, fmt.Errorf("%d byte text, %d free: %w", len(s), TextScratchSize-len(c.text), ErrTextOverflow)
	}
	addr := c.base + offText + process.Address(len(c.text))
	c.text = append(c.text, s...)
	c.text = append(c.text, 0)
	return addr, nil
}

// Args returns the staged argument slots.
func (c *Context) Args() []uint64 {
	return c.args
}

// Commit writes the header, arguments, cleared return slots and text into
// host memory.
func (c *Context) Commit() error {
	block := make([]byte, offText+len(c.text))
	binary.LittleEndian.PutUint64(block[offReturnPtr:], uint64(c.base+offReturns))
	binary.LittleEndian.PutUint64(block[offArgCount:], uint64(len(c.args)))
	binary.LittleEndian.PutUint64(block[offArgsPtr:], uint64(c.base+offArgs))
	binary.LittleEndian.PutUint64(block[offDataCount:], 0)
	for i, slot := range c.args {
		binary.LittleEndian.PutUint64(block[offArgs+i*8:], slot)
	}
	copy(block[offText:], c.text)

	if err := c.mem.WriteMemory(c.base, block); err != nil {
		return fmt.Errorf("write call context at %s: %w", c.base, err)
	}
	return nil
}

// Result reads the return slots back as kind.
func (c *Context) Result(kind Kind) (Value, error) {
	if kind == KindVoid {
		return Void(), nil
	}
	slots, err := ReadSlots(c.mem, c.base+offReturns, MaxReturns)
	if err != nil {
		return Value{}, fmt.Errorf("read return slots: %w", err)
	}
	return Decode(kind, slots, c.mem)
}

// ReadSlots reads n little-endian slots at addr.
func ReadSlots(mem process.Memory, addr process.Address, n int) ([]uint64, error) {
	if n == 0 {
		return nil, nil
	}
	raw, err := mem.ReadMemory(addr, process.Size(n*8))
	if err != nil {
		return nil, err
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(raw[i*8:])
	}
	return out, nil
}

// HostCall is the callee side of a call context block: what a host native
// sees when it is handed the block's address.
type HostCall struct {
	mem  process.Memory
	base process.Address
	Args []uint64
}

// ReadHostCall decodes the block at base from the host's point of view.
func ReadHostCall(mem process.Memory, base process.Address) (*HostCall, error) {
	header, err := ReadSlots(mem, base, 4)
	if err != nil {
		return nil, fmt.Errorf("read call context at %s: %w", base, err)
	}
	count := int(header[offArgCount/8])
	if count > MaxArgs {
		return nil, fmt.Errorf("call context at %s claims %d args: %w", base, count, ErrTooManyArgs)
	}
	args, err := ReadSlots(mem, process.Address(header[offArgsPtr/8]), count)
	if err != nil {
		return nil, fmt.Errorf("read arguments: %w", err)
	}
	return &HostCall{mem: mem, base: base, Args: args}, nil
}

// Arg decodes the argument starting at slot i.
func (h *HostCall) Arg(i int, kind Kind) (Value, error) {
	if i < 0 || i+kind.Slots() > len(h.Args) {
		return Value{}, fmt.Errorf("argument %d of %d: %w", i, len(h.Args), ErrTooManyArgs)
	}
	return Decode(kind, h.Args[i:], h.mem)
}

// Return writes raw return slots through the block's return pointer.
func (h *HostCall) Return(slots ...uint64) error {
	if len(slots) > MaxReturns {
		return fmt.Errorf("%d return slots: %w", len(slots), ErrTooManyArgs)
	}
	ret, err := process.ReadPointer(h.mem, h.base+offReturnPtr)
	if err != nil {
		return fmt.Errorf("read return pointer: %w", err)
	}
	buf := make([]byte, len(slots)*8)
	for i, slot := range slots {
		binary.LittleEndian.PutUint64(buf[i*8:], slot)
	}
	return h.mem.WriteMemory(ret, buf)
}
