package process_test

import (
	"bytes"
	"testing"

	"scripthook/process"
	"scripthook/process_blob"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadNTS(t *testing.T) {
	img := process_blob.NewImage()
	require.NoError(t, img.Map(0x1000, append([]byte("hello"), 0, 'x', 'y'), "rw-p", "host.exe"))
	require.NoError(t, img.Map(0x2000, []byte("xyz\x00"), "rw-p", "host.exe"))
	require.NoError(t, img.Map(0x3000, []byte("abcdef"), "rw-p", "host.exe"))
	require.NoError(t, img.Map(0x4000, bytes.Repeat([]byte{'A'}, 0x100), "rw-p", "host.exe"))

	s, err := process.ReadNTS(img, 0x1000, 64)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	s, err = process.ReadNTS(img, 0x2000, 64)
	require.NoError(t, err)
	assert.Equal(t, "xyz", s, "window shrinks to the region end")

	_, err = process.ReadNTS(img, 0x3000, 64)
	assert.ErrorIs(t, err, process.ErrUnterminated, "region ends before a nul")

	_, err = process.ReadNTS(img, 0x4000, 16)
	assert.ErrorIs(t, err, process.ErrUnterminated, "longer than the limit")

	_, err = process.ReadNTS(img, 0x9000, 16)
	assert.Error(t, err)

	s, err = process.ReadNTS(img, 0x1000, 0)
	require.NoError(t, err)
	assert.Empty(t, s)
}
