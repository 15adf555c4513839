package native

import (
	"testing"

	"scripthook/process"
	"scripthook/process_blob"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scratch struct {
	written []string
}

func (s *scratch) WriteText(text string) (process.Address, error) {
	s.written = append(s.written, text)
	return 0x5000, nil
}

func TestEncodeSlots(t *testing.T) {
	cases := []struct {
		v    Value
		want []uint64
	}{
		{Int(-1), []uint64{0xFFFFFFFFFFFFFFFF}},
		{Uint(7), []uint64{7}},
		{Float(1.5), []uint64{0x3FC00000}},
		{Bool(true), []uint64{1}},
		{Bool(false), []uint64{0}},
		{Handle(42), []uint64{42}},
		{Pointer(0x140001000), []uint64{0x140001000}},
		{Vector2(1, -2), []uint64{0x3F800000, 0xC0000000}},
		{Vector3(0, 1, 2), []uint64{0, 0x3F800000, 0x40000000}},
		{Text("hi"), []uint64{0x5000}},
		{Void(), []uint64{}},
	}

	for _, c := range cases {
		t.Run(c.v.String(), func(t *testing.T) {
			dst := make([]uint64, c.v.Kind().Slots())
			require.NoError(t, c.v.Encode(dst, &scratch{}))
			assert.Equal(t, c.want, dst)
		})
	}
}

func TestEncodeShortDestination(t *testing.T) {
	err := Vector3(1, 2, 3).Encode(make([]uint64, 2), &scratch{})
	assert.ErrorIs(t, err, ErrTooManyArgs)
}

func TestDecode(t *testing.T) {
	img := process_blob.NewImage()
	page := make([]byte, 0x100)
	copy(page[0x10:], "vehicle\x00")
	require.NoError(t, img.Map(0x9000, page, "rw-p", ""))

	v, err := Decode(KindInt, []uint64{0xFFFFFFFF}, img)
	require.NoError(t, err)
	assert.Equal(t, int32(-1), v.AsInt())

	v, err = Decode(KindBool, []uint64{0x100000000}, img)
	require.NoError(t, err)
	assert.False(t, v.AsBool(), "only the low 32 bits carry a bool")

	v, err = Decode(KindVec3, []uint64{0x3F800000, 0x40000000, 0x40400000}, img)
	require.NoError(t, err)
	assert.Equal(t, Vec3{1, 2, 3}, v.AsVec3())

	v, err = Decode(KindText, []uint64{0x9010}, img)
	require.NoError(t, err)
	assert.Equal(t, "vehicle", v.AsText())

	v, err = Decode(KindText, []uint64{0}, img)
	require.NoError(t, err)
	assert.Equal(t, "", v.AsText())

	_, err = Decode(KindVec2, []uint64{1}, img)
	assert.Error(t, err)

	_, err = Decode(Kind(99), []uint64{1}, img)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestParseKindAndIdentifier(t *testing.T) {
	for k := KindVoid; k <= KindPointer; k++ {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("matrix")
	assert.Error(t, err)

	id, err := ParseIdentifier("0x4A8E33C4A0F2E1B7")
	require.NoError(t, err)
	assert.Equal(t, Identifier(0x4A8E33C4A0F2E1B7), id)
	assert.Equal(t, "0x4A8E33C4A0F2E1B7", id.String())

	_, err = ParseIdentifier("nope")
	assert.Error(t, err)
}

func TestContextCommitLayout(t *testing.T) {
	img := process_blob.NewImage()
	base, err := img.Allocate(ContextSize, false)
	require.NoError(t, err)

	ctx := NewContext(img, base)
	require.NoError(t, ctx.Push(Int(3)))
	require.NoError(t, ctx.Push(Text("abc")))
	require.NoError(t, ctx.Push(Vector3(1, 2, 3)))
	require.NoError(t, ctx.Commit())

	call, err := ReadHostCall(img, base)
	require.NoError(t, err)
	require.Len(t, call.Args, 5)
	assert.Equal(t, uint64(base+offText), call.Args[1])

	text, err := call.Arg(1, KindText)
	require.NoError(t, err)
	assert.Equal(t, "abc", text.AsText())

	vec, err := call.Arg(2, KindVec3)
	require.NoError(t, err)
	assert.Equal(t, Vec3{1, 2, 3}, vec.AsVec3())

	require.NoError(t, call.Return(0x3F800000))
	ret, err := ctx.Result(KindFloat)
	require.NoError(t, err)
	assert.Equal(t, float32(1), ret.AsFloat())

	ctx.Reset()
	require.NoError(t, ctx.Commit())
	ret, err = ctx.Result(KindInt)
	require.NoError(t, err)
	assert.Equal(t, int32(0), ret.AsInt(), "commit clears return slots")
}

func TestContextLimits(t *testing.T) {
	img := process_blob.NewImage()
	base, err := img.Allocate(ContextSize, false)
	require.NoError(t, err)
	ctx := NewContext(img, base)

	for range MaxArgs {
		require.NoError(t, ctx.Push(Int(1)))
	}
	assert.ErrorIs(t, ctx.Push(Int(1)), ErrTooManyArgs)

	ctx.Reset()
	big := make([]byte, TextScratchSize)
	assert.ErrorIs(t, ctx.Push(Text(string(big))), ErrTextOverflow)
}

type mapResolver struct {
	lookups int
	addrs   map[Identifier]process.Address
}

func (m *mapResolver) Lookup(id Identifier) (process.Address, error) {
	m.lookups++
	if addr, ok := m.addrs[id]; ok {
		return addr, nil
	}
	return 0, ErrNativeNotFound
}

func TestRegistryResolvesOnce(t *testing.T) {
	res := &mapResolver{addrs: map[Identifier]process.Address{1: 0x1000, 2: 0}}
	reg := NewRegistry(res)

	for range 3 {
		addr, err := reg.Resolve(1)
		require.NoError(t, err)
		assert.Equal(t, process.Address(0x1000), addr)
	}
	assert.Equal(t, 1, res.lookups)

	_, err := reg.Resolve(2)
	assert.ErrorIs(t, err, ErrNativeNotFound)
	_, err = reg.Resolve(3)
	assert.ErrorIs(t, err, ErrNativeNotFound)
	assert.Equal(t, 1, reg.Len())

	require.NoError(t, reg.Bind(4, 0x4000))
	require.NoError(t, reg.Bind(4, 0x4000))
	assert.ErrorIs(t, reg.Bind(4, 0x5000), ErrAlreadyBound)
	assert.Equal(t, map[Identifier]process.Address{1: 0x1000, 4: 0x4000}, reg.Snapshot())
}
