// Package nativetest simulates a host process for tests: a module image with
// a registration table, Go handlers standing in for host functions, and a
// Caller that follows detour patches and trampolines the way a CPU would.
package nativetest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"scripthook/detour"
	"scripthook/native"
	"scripthook/process"
	"scripthook/process_blob"

	"golang.org/x/arch/x86/x86asm"
)

const (
	Module = "host.exe"

	HeaderBase = process.Address(0x140000000)
	CodeBase   = process.Address(0x140001000)
	DataBase   = process.Address(0x140040000)

	codeSize = 0x3F000
	dataSize = 0x20000
	slotSize = 0x40

	tableRef  = CodeBase
	frameFunc = CodeBase + 0x40
	firstSlot = CodeBase + 0x100

	bucketArea = DataBase + native.TableBuckets*8
	textArea   = DataBase + 0x10000

	maxHops = 16
)

// TableSignature matches "lea rcx,[rip+table]; mov rcx,[rcx+rax*8]"; the
// table address is the rip operand three bytes in.
const TableSignature = "48 8D 0D ?? ?? ?? ?? 48 8B 0C C1"

// FrameSignature matches the prologue of the host's per-frame function.
const FrameSignature = "40 55 53 56 57 41 54 41 55 41 56 41 57"

var (
	framePrologue = []byte{
		0x40, 0x55, 0x53, 0x56, 0x57, 0x41, 0x54, 0x41, 0x55, 0x41, 0x56, 0x41, 0x57,
		0x48, 0x83, 0xEC, 0x28,
		0xC3,
	}

	// mov [rsp+8],rbx; mov [rsp+10h],rsi; push rdi; sub rsp,20h; ret
	handlerPrologue = []byte{
		0x48, 0x89, 0x5C, 0x24, 0x08,
		0x48, 0x89, 0x74, 0x24, 0x10,
		0x57,
		0x48, 0x83, 0xEC, 0x20,
		0xC3,
	}
)

// ErrNoHandler is returned when Call lands on an address without a handler.
var ErrNoHandler = errors.New("no handler at address")

// Host is a simulated host process.
type Host struct {
	*process_blob.Image

	mu       sync.Mutex
	handlers map[process.Address]native.Func
	nextSlot process.Address
	buckets  map[int]process.Address
	nextData process.Address
	nextText process.Address
	calls    map[process.Address]int
}

var (
	_ native.Caller = (*Host)(nil)
	_ native.Binder = (*Host)(nil)
)

// New builds an empty host with a registration table and a frame function
// that does nothing until bound with BindFrame.
func New() *Host {
	img := process_blob.NewImage()
	img.PID = 4242
	img.Name = Module

	header := make([]byte, 0x1000)
	copy(header, "MZ")
	code := make([]byte, codeSize)
	for i := range code {
		code[i] = 0xCC
	}

	// lea rcx,[rip+table]; mov rcx,[rcx+rax*8]; ret
	ref := []byte{0x48, 0x8D, 0x0D, 0, 0, 0, 0, 0x48, 0x8B, 0x0C, 0xC1, 0xC3}
	binary.LittleEndian.PutUint32(ref[3:], uint32(int32(int64(DataBase)-int64(tableRef+7))))
	copy(code, ref)
	copy(code[frameFunc-CodeBase:], framePrologue)

	must(img.Map(HeaderBase, header, "r--p", Module))
	must(img.Map(CodeBase, code, "r-xp", Module))
	must(img.Map(DataBase, make([]byte, dataSize), "rw-p", Module))

	h := &Host{
		Image:    img,
		handlers: make(map[process.Address]native.Func),
		nextSlot: firstSlot,
		buckets:  make(map[int]process.Address),
		nextData: bucketArea,
		nextText: textArea,
		calls:    make(map[process.Address]int),
	}
	h.handlers[frameFunc] = func(args ...uintptr) uintptr { return 0 }
	return h
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// TableAddress is where the registration table lives.
func (h *Host) TableAddress() process.Address { return DataBase }

// FrameAddress is the entry of the per-frame function.
func (h *Host) FrameAddress() process.Address { return frameFunc }

// BindFrame sets the Go body of the per-frame function.
func (h *Host) BindFrame(fn native.Func) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[frameFunc] = fn
}

// Frame runs one host frame: a call to the frame function as the host's own
// loop would make it.
func (h *Host) Frame() error {
	_, err := h.Call(frameFunc)
	return err
}

// Bind places fn at a fresh code address with a hookable prologue.
func (h *Host) Bind(fn native.Func) (process.Address, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	addr := h.nextSlot
	if addr+slotSize > CodeBase+codeSize {
		return 0, fmt.Errorf("simulated code area full: %w", process.ErrAllocation)
	}
	if err := h.WriteMemory(addr, handlerPrologue); err != nil {
		return 0, err
	}
	h.nextSlot += slotSize
	h.handlers[addr] = fn
	return addr, nil
}

// RegisterNative binds fn as the native for id and enters it in the table.
// fn receives the decoded call context.
func (h *Host) RegisterNative(id native.Identifier, fn func(call *native.HostCall) error) (process.Address, error) {
	addr, err := h.Bind(func(args ...uintptr) uintptr {
		if len(args) == 0 {
			panic("native called without a context")
		}
		call, err := native.ReadHostCall(h, process.Address(args[0]))
		if err != nil {
			panic(err)
		}
		if err := fn(call); err != nil {
			panic(err)
		}
		return 0
	})
	if err != nil {
		return 0, err
	}
	return addr, h.insert(id, addr)
}

func (h *Host) insert(id native.Identifier, handler process.Address) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	index := int(id & 0xFF)
	tail := h.buckets[index]
	if tail != 0 {
		count, err := process.Read[uint32](h, tail+0x40)
		if err != nil {
			return err
		}
		if count < native.BucketEntries {
			return h.fill(tail, int(count), id, handler)
		}
	}

	b := h.nextData
	if b+native.BucketSize > textArea {
		return fmt.Errorf("simulated bucket area full: %w", process.ErrAllocation)
	}
	h.nextData += native.BucketSize

	// new buckets go to the head of the chain
	head, err := process.ReadPointer(h, DataBase+process.Address(index*8))
	if err != nil {
		return err
	}
	if err := process.Write(h, b, uint64(head)); err != nil {
		return err
	}
	if err := process.Write(h, DataBase+process.Address(index*8), uint64(b)); err != nil {
		return err
	}
	h.buckets[index] = b
	return h.fill(b, 0, id, handler)
}

func (h *Host) fill(b process.Address, slot int, id native.Identifier, handler process.Address) error {
	if err := process.Write(h, b+0x08+process.Address(slot*8), uint64(handler)); err != nil {
		return err
	}
	if err := process.Write(h, b+0x48+process.Address(slot*8), uint64(id)); err != nil {
		return err
	}
	return process.Write(h, b+0x40, uint32(slot+1))
}

// PutText stores a nul-terminated string in host data, as a native returning
// text would.
func (h *Host) PutText(s string) (process.Address, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	addr := h.nextText
	if addr+process.Address(len(s)+1) > DataBase+dataSize {
		return 0, fmt.Errorf("simulated text area full: %w", process.ErrAllocation)
	}
	if err := h.WriteMemory(addr, append([]byte(s), 0)); err != nil {
		return 0, err
	}
	h.nextText += process.Address(len(s) + 1)
	return addr, nil
}

// Calls reports how many times the handler at addr has run.
func (h *Host) Calls(addr process.Address) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[addr]
}

// Call executes fn. Patched entries are followed to their jump target, and a
// trampoline runs the handler of the function it was built from.
func (h *Host) Call(fn process.Address, args ...uintptr) (uintptr, error) {
	for range maxHops {
		code, err := h.ReadMemory(fn, 32)
		if err != nil {
			return 0, fmt.Errorf("fetch %s: %w", fn, err)
		}
		if next, ok := detour.JumpTarget(fn, code); ok {
			fn = next
			continue
		}
		if handler, ok := h.handler(fn); ok {
			return handler(args...), nil
		}

		entry, ok := trampolineEntry(fn, code)
		if !ok {
			return 0, fmt.Errorf("%s: %w", fn, ErrNoHandler)
		}
		handler, ok := h.handler(entry)
		if !ok {
			return 0, fmt.Errorf("trampoline %s returns into %s: %w", fn, entry, ErrNoHandler)
		}
		return handler(args...), nil
	}
	return 0, fmt.Errorf("more than %d jumps from %s: %w", maxHops, fn, ErrNoHandler)
}

func (h *Host) handler(addr process.Address) (native.Func, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn, ok := h.handlers[addr]
	if ok {
		h.calls[addr]++
	}
	return fn, ok
}

// trampolineEntry decodes relocated instructions up to the jump back and
// returns the start of the function the trampoline continues.
func trampolineEntry(at process.Address, code []byte) (process.Address, bool) {
	off := 0
	for off < len(code) {
		if detour.IsAbsJump(code[off:]) {
			back, _ := detour.JumpTarget(at, code[off:])
			return back - process.Address(off), true
		}
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			return 0, false
		}
		off += inst.Len
	}
	return 0, false
}
