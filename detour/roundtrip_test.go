package detour_test

import (
	"testing"

	"scripthook/detour"
	"scripthook/native/nativetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHookRoundTrip(t *testing.T) {
	h := nativetest.New()

	original := func(args ...uintptr) uintptr { return args[0]*3 + args[1] }
	target, err := h.Bind(original)
	require.NoError(t, err)

	arena, err := detour.AllocateArena(h, 0x1000)
	require.NoError(t, err)
	ic := detour.NewInterceptor(h, arena, h)

	var (
		hook *detour.Hook
		seen [][]uintptr
	)
	replacement, err := h.Bind(func(args ...uintptr) uintptr {
		seen = append(seen, args)
		r, err := hook.CallOriginal(args...)
		require.NoError(t, err)
		return r
	})
	require.NoError(t, err)

	before := make([]uintptr, 0, 4)
	for i := range uintptr(4) {
		r, err := h.Call(target, i, 7)
		require.NoError(t, err)
		before = append(before, r)
	}

	hook, err = ic.Install(target, replacement)
	require.NoError(t, err)

	for i := range uintptr(4) {
		r, err := h.Call(target, i, 7)
		require.NoError(t, err)
		assert.Equal(t, before[i], r)
	}
	assert.Len(t, seen, 4)

	require.NoError(t, hook.Disable())
	for i := range uintptr(4) {
		r, err := h.Call(target, i, 7)
		require.NoError(t, err)
		assert.Equal(t, before[i], r)
	}
	assert.Len(t, seen, 4, "disabled hook no longer reaches the replacement")

	r, err := hook.CallOriginal(1, 1)
	require.NoError(t, err)
	assert.Equal(t, uintptr(4), r, "trampoline survives disable")
}
