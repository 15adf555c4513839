package hexdump

import (
	"strings"
	"testing"

	"scripthook/pattern"
	"scripthook/process/memory_map"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainLayout(t *testing.T) {
	data := []byte("MZ\x90\x00\x03\x00\x00\x00\x04\x00\x00\x00\xff\xff\x00\x00\xb8")
	out := Plain(data, 0x140000000)

	lines := strings.Split(out, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "000140000000  4d 5a 90 00 03 00 00 00 | 04 00 00 00 ff ff 00 00  |MZ...... ........|", lines[0])
	assert.Equal(t, "000140000010  b8"+strings.Repeat(" ", 49)+"|.|", lines[1])
}

func TestPlainShortLineKeepsDivider(t *testing.T) {
	out := Plain([]byte("ABCDEFGHIJ"), 0x1000)
	assert.Equal(t, "000000001000  41 42 43 44 45 46 47 48 | 49 4a"+strings.Repeat(" ", 20)+"|ABCDEFGH IJ|", out)
}

func TestMarkMatches(t *testing.T) {
	p := pattern.MustParse("48 8B ?? 24")
	data := []byte{0x90, 0x48, 0x8B, 0x5C, 0x24, 0x48, 0x8B, 0x74, 0x24, 0xC3}

	marks := markMatches(data, &p)
	assert.Equal(t, []mark{unmarked, fixed, fixed, wild, fixed, fixed, fixed, wild, fixed, unmarked}, marks)
	assert.Equal(t, make([]mark, len(data)), markMatches(data, nil))
}

func TestMarkMatchesAcrossLines(t *testing.T) {
	p := pattern.MustParse("AA ?? CC")
	data := make([]byte, 20)
	data[15], data[16], data[17] = 0xAA, 0xBB, 0xCC

	marks := markMatches(data, &p)
	assert.Equal(t, fixed, marks[15])
	assert.Equal(t, wild, marks[16])
	assert.Equal(t, fixed, marks[17])
}

func TestColoredHighlight(t *testing.T) {
	p := pattern.MustParse("DE AD")
	o := DefaultOptions()
	o.Highlight = &p

	out := Dump([]byte{0x00, 0xDE, 0xAD, 0x01}, o)
	assert.Contains(t, out, "\033[")
	assert.NotEqual(t, Dump([]byte{0x00, 0xDE, 0xAD, 0x01}, DefaultOptions()), out)
}

func TestMaxLines(t *testing.T) {
	o := DefaultOptions()
	o.Color = false
	o.MaxLines = 1

	out := Dump(make([]byte, 40), o)
	assert.True(t, strings.HasSuffix(out, "... 24 more bytes\n"))
}

func TestPointerAnnotation(t *testing.T) {
	o := DefaultOptions()
	o.Color = false
	o.MemoryMap = []memory_map.MemoryMapItem{
		{Address: 0x140000000, Size: 0x1000, Perms: "r-xp", Path: "host.exe"},
	}

	data := []byte{0x10, 0x02, 0x00, 0x40, 0x01, 0x00, 0x00, 0x00, 1, 2, 3, 4, 5, 6, 7, 8}
	out := Dump(data, o)
	assert.Contains(t, out, "0x140000210(host.exe+0x210)")
}

func TestAround(t *testing.T) {
	data := make([]byte, 64)
	copy(data[40:], []byte{0xE8, 0x11, 0x22, 0x33, 0x44})
	p := pattern.MustParse("E8 ?? ?? ?? ??")

	o := DefaultOptions()
	o.Color = false
	out := Around(data, 0x1000, 0x1028, p, 4, o)

	assert.True(t, strings.HasPrefix(out, "000000001020"), out)
	assert.Contains(t, out, "e8 11 22 33")
	assert.Empty(t, Around(data, 0x1000, 0x2000, p, 4, o))
}
