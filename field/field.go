// Package field gives typed access to values embedded in host structures.
//
// Every accessor is tied to an Owner, the host object the memory belongs to.
// A known-dead owner turns reads and writes into ErrOwnerInvalid. An owner
// that claims to be valid is trusted; host memory lifetime itself cannot be
// verified from here.
package field

import (
	"errors"
	"fmt"
	"unsafe"

	"scripthook/native"
	"scripthook/process"
)

// ErrOwnerInvalid is returned instead of touching memory of a dead owner.
var ErrOwnerInvalid = errors.New("field owner is no longer valid")

// Owner reports whether the host object behind some memory is still alive.
type Owner interface {
	Valid() bool
}

// OwnerFunc adapts a function to Owner.
type OwnerFunc func() bool

func (f OwnerFunc) Valid() bool { return f() }

// Static is the owner of memory that lives as long as the host module, such
// as globals.
var Static Owner = OwnerFunc(func() bool { return true })

// Invoker is the subset of native.Invoker entity owners need.
type Invoker interface {
	Invoke(id native.Identifier, ret native.Kind, args ...native.Value) (native.Value, error)
}

// EntityOwner treats an entity handle as valid while the host's existence
// check native returns true for it.
func EntityOwner(inv Invoker, exists native.Identifier, handle int32) Owner {
	return OwnerFunc(func() bool {
		v, err := inv.Invoke(exists, native.KindBool, native.Handle(handle))
		return err == nil && v.AsBool()
	})
}

// Scalar is a primitive that can live in a host field.
type Scalar interface {
	~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64 | ~bool
}

// Field is a typed view of sizeof(T) bytes of host memory.
type Field[T Scalar] struct {
	mem   process.Memory
	addr  process.Address
	owner Owner
}

// New binds a field at base+offset.
func New[T Scalar](mem process.Memory, base process.Address, offset int64, owner Owner) Field[T] {
	return Field[T]{mem: mem, addr: base.Add(offset), owner: owner}
}

func (f Field[T]) Address() process.Address { return f.addr }

// Size is the element size, sizeof(T).
func (f Field[T]) Size() process.Size {
	var zero T
	return process.Size(unsafe.Sizeof(zero))
}

func (f Field[T]) check() error {
	if f.owner == nil || !f.owner.Valid() {
		return fmt.Errorf("field at %s: %w", f.addr, ErrOwnerInvalid)
	}
	return nil
}

func (f Field[T]) Get() (T, error) {
	if err := f.check(); err != nil {
		var zero T
		return zero, err
	}
	return process.Read[T](f.mem, f.addr)
}

func (f Field[T]) Set(v T) error {
	if err := f.check(); err != nil {
		return err
	}
	return process.Write(f.mem, f.addr, v)
}

// Update reads, transforms and writes back the value.
func (f Field[T]) Update(fn func(T) T) error {
	v, err := f.Get()
	if err != nil {
		return err
	}
	return f.Set(fn(v))
}

// Locator is a signed offset into a host structure.
type Locator struct {
	Offset int64
}

// At binds a locator to a base address, producing a field.
func At[T Scalar](l Locator, mem process.Memory, base process.Address, owner Owner) Field[T] {
	return New[T](mem, base, l.Offset, owner)
}

// Add shifts the locator, e.g. to a member of a nested structure.
func (l Locator) Add(delta int64) Locator {
	return Locator{Offset: l.Offset + delta}
}

// FromOperand reads a signed displacement of width bytes at addr, typically
// the disp of an instruction like "mov eax,[rcx+disp32]" located by pattern.
func FromOperand(mem process.Memory, addr process.Address, width int) (Locator, error) {
	var (
		off int64
		err error
	)
	switch width {
	case 1:
		var v int8
		v, err = process.Read[int8](mem, addr)
		off = int64(v)
	case 2:
		var v int16
		v, err = process.Read[int16](mem, addr)
		off = int64(v)
	case 4:
		var v int32
		v, err = process.Read[int32](mem, addr)
		off = int64(v)
	case 8:
		off, err = process.Read[int64](mem, addr)
	default:
		return Locator{}, fmt.Errorf("operand width %d not in 1, 2, 4, 8", width)
	}
	if err != nil {
		return Locator{}, fmt.Errorf("read operand at %s: %w", addr, err)
	}
	return Locator{Offset: off}, nil
}
