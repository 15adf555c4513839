package detour

import (
	"encoding/binary"
	"fmt"
	"math"

	"scripthook/process"

	"golang.org/x/arch/x86/x86asm"
)

const (
	jmpRel32Size = 5
	jmpAbsSize   = 14

	// longest x86 instruction
	maxInstLen = 15
)

// jmpRel32 encodes "jmp rel32" placed at from.
func jmpRel32(from, to process.Address) []byte {
	out := make([]byte, jmpRel32Size)
	out[0] = 0xE9
	binary.LittleEndian.PutUint32(out[1:], uint32(int32(int64(to)-int64(from)-jmpRel32Size)))
	return out
}

// jmpAbs encodes "jmp [rip+0]" followed by the 64-bit destination.
func jmpAbs(to process.Address) []byte {
	out := make([]byte, jmpAbsSize)
	out[0], out[1] = 0xFF, 0x25
	binary.LittleEndian.PutUint64(out[6:], uint64(to))
	return out
}

// JumpTarget decodes a jump written by this package at the start of code.
func JumpTarget(at process.Address, code []byte) (process.Address, bool) {
	if len(code) >= jmpAbsSize && code[0] == 0xFF && code[1] == 0x25 && binary.LittleEndian.Uint32(code[2:]) == 0 {
		return process.Address(binary.LittleEndian.Uint64(code[6:])), true
	}
	if len(code) >= jmpRel32Size && code[0] == 0xE9 {
		rel := int32(binary.LittleEndian.Uint32(code[1:]))
		return at.Add(jmpRel32Size + int64(rel)), true
	}
	return 0, false
}

// IsAbsJump reports whether code starts with the absolute jump form.
func IsAbsJump(code []byte) bool {
	return len(code) >= jmpAbsSize && code[0] == 0xFF && code[1] == 0x25 && binary.LittleEndian.Uint32(code[2:]) == 0
}

func fitsRel32(d int64) bool {
	return d >= math.MinInt32 && d <= math.MaxInt32
}

// patchSize picks the shortest jump that reaches replacement from target.
func patchSize(target, replacement process.Address) int {
	if fitsRel32(int64(replacement) - int64(target) - jmpRel32Size) {
		return jmpRel32Size
	}
	return jmpAbsSize
}

type instruction struct {
	offset int
	inst   x86asm.Inst
}

// decodePrologue decodes whole instructions from code until at least need
// bytes are covered.
func decodePrologue(code []byte, need int) ([]instruction, int, error) {
	var out []instruction
	off := 0
	for off < need {
		if off >= len(code) {
			return nil, 0, fmt.Errorf("prologue truncated after %d bytes: %w", off, ErrInstallConflict)
		}
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			return nil, 0, fmt.Errorf("undecodable instruction at +%d: %v: %w", off, err, ErrInstallConflict)
		}
		out = append(out, instruction{offset: off, inst: inst})
		off += inst.Len

		if off < need && endsFunction(code[off-inst.Len], inst) {
			return nil, 0, fmt.Errorf("function ends %d bytes in, patch needs %d: %w", off, need, ErrUnrelocatable)
		}
	}
	return out, off, nil
}

func endsFunction(first byte, inst x86asm.Inst) bool {
	switch inst.Op {
	case x86asm.RET, x86asm.LRET, x86asm.UD2, x86asm.JMP:
		return true
	}
	return first == 0xCC
}

func usesRIP(inst x86asm.Inst) bool {
	for _, arg := range inst.Args {
		if arg == nil {
			break
		}
		if mem, ok := arg.(x86asm.Mem); ok && mem.Base == x86asm.RIP {
			return true
		}
	}
	return false
}

// relocate copies the decoded instructions from src (at from) so that they
// execute correctly at to. PC-relative rel32 operands are rebased.
func relocate(src []byte, insts []instruction, from, to process.Address) ([]byte, error) {
	var out []byte
	for _, in := range insts {
		raw := append([]byte(nil), src[in.offset:in.offset+in.inst.Len]...)

		switch {
		case in.inst.PCRel == 4:
			pos := in.inst.PCRelOff
			disp := int64(int32(binary.LittleEndian.Uint32(raw[pos:])))
			oldNext := from + process.Address(in.offset+in.inst.Len)
			newNext := to + process.Address(in.offset+in.inst.Len)
			abs := oldNext.Add(disp)
			newDisp := int64(abs) - int64(newNext)
			if !fitsRel32(newDisp) {
				return nil, fmt.Errorf("%v at +%d: target %s out of rel32 range from trampoline: %w", in.inst.Op, in.offset, abs, ErrUnrelocatable)
			}
			binary.LittleEndian.PutUint32(raw[pos:], uint32(int32(newDisp)))
		case in.inst.PCRel != 0:
			return nil, fmt.Errorf("%v at +%d uses a %d-byte relative operand: %w", in.inst.Op, in.offset, in.inst.PCRel, ErrUnrelocatable)
		case usesRIP(in.inst):
			return nil, fmt.Errorf("%v at +%d: rip operand without displacement info: %w", in.inst.Op, in.offset, ErrUnrelocatable)
		}

		out = append(out, raw...)
	}
	return out, nil
}
