package native

import (
	"fmt"
	"math"

	"scripthook/process"
)

// Kind is the shape of an argument or result.
type Kind uint8

const (
	KindVoid Kind = iota
	KindInt
	KindUint
	KindFloat
	KindBool
	KindHandle
	KindVec2
	KindVec3
	KindText
	KindPointer
)

var kindNames = [...]string{
	KindVoid:    "void",
	KindInt:     "int",
	KindUint:    "uint",
	KindFloat:   "float",
	KindBool:    "bool",
	KindHandle:  "handle",
	KindVec2:    "vec2",
	KindVec3:    "vec3",
	KindText:    "text",
	KindPointer: "pointer",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// ParseKind maps a kind name back to its Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown value kind %q", s)
}

// Slots is the number of pointer-sized slots the kind occupies.
func (k Kind) Slots() int {
	switch k {
	case KindVoid:
		return 0
	case KindVec2:
		return 2
	case KindVec3:
		return 3
	default:
		return 1
	}
}

type Vec2 struct{ X, Y float32 }
type Vec3 struct{ X, Y, Z float32 }

// Value is one argument or result. The zero Value is Void.
type Value struct {
	kind Kind
	bits uint64
	vec  [3]float32
	text string
}

func Void() Value { return Value{} }
func Int(v int32) Value { return Value{kind: KindInt, bits: uint64(int64(v))} }
func Uint(v uint32) Value { return Value{kind: KindUint, bits: uint64(v)} }
func Float(v float32) Value { return Value{kind: KindFloat, bits: uint64(math.Float32bits(v))} }
func Handle(v int32) Value { return Value{kind: KindHandle, bits: uint64(int64(v))} }
func Pointer(p process.Address) Value { return Value{kind: KindPointer, bits: uint64(p)} }
func Text(s string) Value { return Value{kind: KindText, text: s} }

func Bool(v bool) Value {
	if v {
		return Value{kind: KindBool, bits: 1}
	}
	return Value{kind: KindBool}
}

func Vector2(x, y float32) Value { return Value{kind: KindVec2, vec: [3]float32{x, y}} }
func Vector3(x, y, z float32) Value { return Value{kind: KindVec3, vec: [3]float32{x, y, z}} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) AsInt() int32 { return int32(uint32(v.bits)) }
func (v Value) AsUint() uint32 { return uint32(v.bits) }
func (v Value) AsFloat() float32 { return math.Float32frombits(uint32(v.bits)) }
func (v Value) AsBool() bool { return v.bits != 0 }
func (v Value) AsHandle() int32 { return int32(uint32(v.bits)) }
func (v Value) AsPointer() process.Address { return process.Address(v.bits) }
func (v Value) AsVec2() Vec2 { return Vec2{v.vec[0], v.vec[1]} }
func (v Value) AsVec3() Vec3 { return Vec3{v.vec[0], v.vec[1], v.vec[2]} }
func (v Value) AsText() string { return v.text }

func (v Value) String() string {
	switch v.kind {
	case KindVoid:
		return "void"
	case KindInt:
		return fmt.Sprintf("int(%d)", v.AsInt())
	case KindUint:
		return fmt.Sprintf("uint(%d)", v.AsUint())
	case KindFloat:
		return fmt.Sprintf("float(%g)", v.AsFloat())
	case KindBool:
		return fmt.Sprintf("bool(%t)", v.AsBool())
	case KindHandle:
		return fmt.Sprintf("handle(%d)", v.AsHandle())
	case KindVec2:
		return fmt.Sprintf("vec2(%g, %g)", v.vec[0], v.vec[1])
	case KindVec3:
		return fmt.Sprintf("vec3(%g, %g, %g)", v.vec[0], v.vec[1], v.vec[2])
	case KindText:
		return fmt.Sprintf("text(%q)", v.text)
	case KindPointer:
		return fmt.Sprintf("pointer(%s)", v.AsPointer())
	}
	return v.kind.String()
}

// TextWriter stores a nul-terminated string where the host can read it.
type TextWriter interface {
	WriteText(s string) (process.Address, error)
}

// Encode writes v into the first Kind().Slots() entries of dst. Floats sit in
// the low 32 bits of their slot, one slot per vector component.
func (v Value) Encode(dst []uint64, text TextWriter) error {
	n := v.kind.Slots()
	if len(dst) < n {
		return fmt.Errorf("%s needs %d slots, %d left: %w", v.kind, n, len(dst), ErrTooManyArgs)
	}

	switch v.kind {
	case KindVoid:
	case KindInt, KindHandle:
		dst[0] = uint64(int64(int32(uint32(v.bits))))
	case KindUint, KindFloat, KindPointer:
		dst[0] = v.bits
	case KindBool:
		dst[0] = v.bits & 1
	case KindVec2, KindVec3:
		for i := range n {
			dst[i] = uint64(math.Float32bits(v.vec[i]))
		}
	case KindText:
		addr, err := text.WriteText(v.text)
		if err != nil {
			return err
		}
		dst[0] = uint64(addr)
	default:
		return fmt.Errorf("encode %s: %w", v.kind, ErrUnknownKind)
	}
	return nil
}

// Decode reinterprets src as kind. Text is copied out of host memory through
// the pointer in src[0]; a null pointer decodes as the empty string, and a
// string with no nul in its first TextScratchSize bytes is an error.
func Decode(kind Kind, src []uint64, mem process.Memory) (Value, error) {
	if len(src) < kind.Slots() {
		return Value{}, fmt.Errorf("%s needs %d slots, got %d", kind, kind.Slots(), len(src))
	}

	switch kind {
	case KindVoid:
		return Void(), nil
	case KindInt:
		return Int(int32(uint32(src[0]))), nil
	case KindUint:
		return Uint(uint32(src[0])), nil
	case KindFloat:
		return Float(math.Float32frombits(uint32(src[0]))), nil
	case KindBool:
		return Bool(uint32(src[0]) != 0), nil
	case KindHandle:
		return Handle(int32(uint32(src[0]))), nil
	case KindPointer:
		return Pointer(process.Address(src[0])), nil
	case KindVec2:
		return Vector2(slotFloat(src[0]), slotFloat(src[1])), nil
	case KindVec3:
		return Vector3(slotFloat(src[0]), slotFloat(src[1]), slotFloat(src[2])), nil
	case KindText:
		if src[0] == 0 {
			return Text(""), nil
		}
		s, err := process.ReadNTS(mem, process.Address(src[0]), TextScratchSize)
		if err != nil {
			return Value{}, fmt.Errorf("decode text at 0x%X: %w", src[0], err)
		}
		return Text(s), nil
	}
	return Value{}, fmt.Errorf("decode %s: %w", kind, ErrUnknownKind)
}

func slotFloat(slot uint64) float32 {
	return math.Float32frombits(uint32(slot))
}
