package detour

import (
	"encoding/binary"
	"testing"

	"scripthook/process"
	"scripthook/process_blob"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	codeBase  = process.Address(0x140001000)
	arenaBase = process.Address(0x140100000)
	nearRepl  = process.Address(0x140200000)
	farRepl   = process.Address(0x7FF800000000)
)

// mov [rsp+8],rbx; mov [rsp+10h],rsi; push rdi; sub rsp,20h; mov rax,[rip+0FF0h]; ret
var prologue = []byte{
	0x48, 0x89, 0x5C, 0x24, 0x08,
	0x48, 0x89, 0x74, 0x24, 0x10,
	0x57,
	0x48, 0x83, 0xEC, 0x20,
	0x48, 0x8B, 0x05, 0xF0, 0x0F, 0x00, 0x00,
	0xC3,
}

func newHost(t *testing.T, code []byte, arenaSize int) (*process_blob.Image, *Interceptor) {
	t.Helper()
	img := process_blob.NewImage()
	page := make([]byte, 0x1000)
	copy(page, code)
	require.NoError(t, img.Map(codeBase, page, "r-xp", "host.exe"))
	require.NoError(t, img.Map(arenaBase, make([]byte, 0x1000), "rwxp", ""))
	return img, NewInterceptor(img, NewArena(arenaBase, process.Size(arenaSize)), nil)
}

func read(t *testing.T, img *process_blob.Image, addr process.Address, n int) []byte {
	t.Helper()
	b, err := img.ReadMemory(addr, process.Size(n))
	require.NoError(t, err)
	return b
}

func TestInstallNearUsesRel32(t *testing.T) {
	img, ic := newHost(t, prologue, 0x100)

	h, err := ic.Install(codeBase, nearRepl)
	require.NoError(t, err)
	assert.True(t, h.Enabled())
	assert.Equal(t, process.Region{Base: codeBase, Size: 5}, h.Patched())

	patch := read(t, img, codeBase, 5)
	assert.Equal(t, byte(0xE9), patch[0])
	dest, ok := JumpTarget(codeBase, patch)
	require.True(t, ok)
	assert.Equal(t, nearRepl, dest)

	tramp := read(t, img, h.Trampoline(), 5+jmpAbsSize)
	assert.Equal(t, prologue[:5], tramp[:5])
	back, ok := JumpTarget(h.Trampoline()+5, tramp[5:])
	require.True(t, ok)
	assert.Equal(t, codeBase+5, back)
}

func TestInstallFarUsesAbsoluteJump(t *testing.T) {
	img, ic := newHost(t, prologue, 0x100)

	h, err := ic.Install(codeBase, farRepl)
	require.NoError(t, err)

	// 14 bytes only fit after whole instructions: 5 + 5 + 1 + 4
	assert.Equal(t, process.Size(15), h.Patched().Size)
	patch := read(t, img, codeBase, 15)
	assert.True(t, IsAbsJump(patch))
	dest, _ := JumpTarget(codeBase, patch)
	assert.Equal(t, farRepl, dest)
	assert.Equal(t, byte(0x90), patch[14])

	tramp := read(t, img, h.Trampoline(), 15+jmpAbsSize)
	assert.Equal(t, prologue[:15], tramp[:15])
	back, _ := JumpTarget(h.Trampoline()+15, tramp[15:])
	assert.Equal(t, codeBase+15, back)
}

func TestInstallRelocatesRIPOperand(t *testing.T) {
	// mov rax,[rip+10h]; test rax,rax; ret
	code := []byte{0x48, 0x8B, 0x05, 0x10, 0x00, 0x00, 0x00, 0x48, 0x85, 0xC0, 0xC3}
	img, ic := newHost(t, code, 0x100)

	h, err := ic.Install(codeBase, nearRepl)
	require.NoError(t, err)
	require.Equal(t, process.Size(7), h.Patched().Size)

	tramp := read(t, img, h.Trampoline(), 7)
	disp := int64(int32(binary.LittleEndian.Uint32(tramp[3:])))
	assert.Equal(t, codeBase+7+0x10, h.Trampoline().Add(7+disp))
}

func TestInstallUnrelocatable(t *testing.T) {
	t.Run("rip operand out of range", func(t *testing.T) {
		code := []byte{0x48, 0x8B, 0x05, 0x10, 0x00, 0x00, 0x00, 0xC3}
		img, _ := newHost(t, code, 0x100)
		far, err := img.Allocate(0x1000, true)
		require.NoError(t, err)
		ic := NewInterceptor(img, NewArena(far, 0x1000), nil)

		_, err = ic.Install(codeBase, nearRepl)
		assert.ErrorIs(t, err, ErrUnrelocatable)
		assert.Equal(t, process.Size(0x1000), ic.arena.Free())
		assert.Equal(t, code[:7], read(t, img, codeBase, 7))
	})

	t.Run("short branch", func(t *testing.T) {
		// test eax,eax; je +5; ...
		code := []byte{0x85, 0xC0, 0x74, 0x05, 0x90, 0x90, 0x90, 0x90, 0xC3}
		_, ic := newHost(t, code, 0x100)
		_, err := ic.Install(codeBase, nearRepl)
		assert.ErrorIs(t, err, ErrUnrelocatable)
	})

	t.Run("function too short", func(t *testing.T) {
		// xor eax,eax; ret
		_, ic := newHost(t, []byte{0x31, 0xC0, 0xC3}, 0x100)
		_, err := ic.Install(codeBase, nearRepl)
		assert.ErrorIs(t, err, ErrUnrelocatable)
	})
}

func TestInstallConflict(t *testing.T) {
	_, ic := newHost(t, prologue, 0x100)

	_, err := ic.Install(codeBase, farRepl)
	require.NoError(t, err)

	_, err = ic.Install(codeBase, nearRepl)
	assert.ErrorIs(t, err, ErrInstallConflict)

	_, err = ic.Install(codeBase+5, nearRepl)
	assert.ErrorIs(t, err, ErrInstallConflict)

	_, err = ic.Install(0x10, nearRepl)
	assert.ErrorIs(t, err, ErrInstallConflict)
}

func TestInstallOverflow(t *testing.T) {
	_, ic := newHost(t, prologue, 16)

	_, err := ic.Install(codeBase, nearRepl)
	assert.ErrorIs(t, err, ErrTrampolineOverflow)
}

func TestEnableDisableRemove(t *testing.T) {
	img, ic := newHost(t, prologue, 0x100)

	h, err := ic.Install(codeBase, farRepl)
	require.NoError(t, err)
	assert.Equal(t, prologue[:15], h.Original())

	require.NoError(t, h.Disable())
	assert.False(t, h.Enabled())
	assert.Equal(t, prologue, read(t, img, codeBase, len(prologue)))

	require.NoError(t, h.Enable())
	assert.True(t, IsAbsJump(read(t, img, codeBase, 14)))

	require.NoError(t, h.Remove())
	assert.Equal(t, prologue, read(t, img, codeBase, len(prologue)))
	assert.ErrorIs(t, h.Enable(), ErrHookRemoved)
	_, err = h.CallOriginal()
	assert.ErrorIs(t, err, ErrHookRemoved)
	assert.Empty(t, ic.Hooks())

	again, err := ic.Install(codeBase, nearRepl)
	require.NoError(t, err)
	require.NoError(t, ic.RemoveAll())
	assert.False(t, again.Enabled())
	assert.Equal(t, prologue, read(t, img, codeBase, len(prologue)))
}

func TestCallOriginalWithoutCaller(t *testing.T) {
	_, ic := newHost(t, prologue, 0x100)
	h, err := ic.Install(codeBase, nearRepl)
	require.NoError(t, err)

	_, err = h.CallOriginal(1, 2)
	assert.ErrorIs(t, err, ErrNoCaller)
}

func TestArena(t *testing.T) {
	a := NewArena(0x1000, 64)

	first, err := a.Alloc(5)
	require.NoError(t, err)
	assert.Equal(t, process.Address(0x1000), first)

	second, err := a.Alloc(20)
	require.NoError(t, err)
	assert.Equal(t, process.Address(0x1010), second)

	a.rollback(first, 5)
	assert.Equal(t, process.Size(64-0x24), a.Free(), "only the newest allocation rolls back")

	a.rollback(second, 20)
	assert.Equal(t, process.Size(64-0x10), a.Free())

	_, err = a.Alloc(64)
	assert.ErrorIs(t, err, ErrTrampolineOverflow)
}

func TestFindCave(t *testing.T) {
	code := make([]byte, 0x1000)
	copy(code, prologue)
	for i := 0x800; i < 0x900; i++ {
		code[i] = 0xCC
	}
	img := process_blob.NewImage()
	require.NoError(t, img.Map(codeBase, code, "r-xp", "host.exe"))

	a, err := FindCave(img, "host.exe", 0x80)
	require.NoError(t, err)
	r := a.Region()
	assert.Equal(t, codeBase+0x810, r.Base)
	assert.Equal(t, process.Size(0x70), r.Size)

	_, err = FindCave(img, "host.exe", 0x200)
	assert.Error(t, err)
}

func TestCaveArenaStaysInsideCave(t *testing.T) {
	a, err := CaveArena(0x1000, 0x20)
	require.NoError(t, err)
	assert.Equal(t, process.Region{Base: 0x1010, Size: 0x10}, a.Region())

	a, err = CaveArena(0x100C, 0x30)
	require.NoError(t, err)
	assert.Equal(t, process.Region{Base: 0x1010, Size: 0x2C}, a.Region())
	_, err = a.Alloc(0x20)
	require.NoError(t, err)
	_, err = a.Alloc(0x10)
	assert.ErrorIs(t, err, ErrTrampolineOverflow)

	for _, size := range []process.Size{0, 3, 4} {
		_, err = CaveArena(0x100C, size)
		assert.ErrorIs(t, err, ErrTrampolineOverflow, "size %d", size)
	}
}
