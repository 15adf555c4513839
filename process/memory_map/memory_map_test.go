package memory_map

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const maps = `00400000-0040b000 r-xp 00000000 08:01 1234 /opt/game/bin/game.exe
0060a000-0060b000 r--p 0000a000 08:01 1234 /opt/game/bin/game.exe
0060b000-0060c000 rw-p 0000b000 08:01 1234 /opt/game/bin/game.exe
01e5e000-01e7f000 rw-p 00000000 00:00 0 [heap]
7f0000000000-7f0000021000 rw-p 00000000 00:00 0
garbage line
7ffd1c000000-7ffd1c021000 r-xp 00000000 08:01 99 /opt/game/bin/My Mod.dll
`

func parse(t *testing.T) []MemoryMapItem {
	t.Helper()
	mm, err := ParseMaps(bufio.NewScanner(strings.NewReader(maps)))
	require.NoError(t, err)
	Sort(mm)
	return mm
}

func TestParseMaps(t *testing.T) {
	mm := parse(t)
	require.Len(t, mm, 6)

	assert.Equal(t, uint64(0x400000), mm[0].Address)
	assert.Equal(t, uint(0xb000), mm[0].Size)
	assert.Equal(t, "game.exe", mm[0].Module())
	assert.True(t, mm[0].IsExecutable())
	assert.False(t, mm[0].IsWritable())

	assert.Equal(t, "[heap]", mm[3].Path)
	assert.Empty(t, mm[4].Path)
	assert.Empty(t, mm[4].Module())
	assert.Equal(t, "My Mod.dll", mm[5].Module(), "paths with spaces are kept whole")
}

func TestLookup(t *testing.T) {
	mm := parse(t)

	item := Lookup(0x60a800, mm)
	require.NotNil(t, item)
	assert.Equal(t, uint64(0x60a000), item.Address)

	assert.Nil(t, Lookup(0x40b000, mm), "end is exclusive")
	assert.Nil(t, Lookup(0x100, mm))
	assert.Nil(t, Lookup(0xFFFFFFFFFFFF, mm))

	assert.True(t, IsValidAddress(0x400010, mm))
	assert.False(t, IsValidAddress(0x50000, mm))
}

func TestModuleRegions(t *testing.T) {
	mm := parse(t)

	regions := ModuleRegions("GAME.EXE", mm)
	assert.Len(t, regions, 3)
	assert.Len(t, ModuleRegions("", mm), len(mm))
	assert.Empty(t, ModuleRegions("other.dll", mm))

	base, ok := ModuleBase("game.exe", mm)
	require.True(t, ok)
	assert.Equal(t, uint64(0x400000), base)

	_, ok = ModuleBase("other.dll", mm)
	assert.False(t, ok)
}

func TestWindowsPathModule(t *testing.T) {
	item := MemoryMapItem{Path: `C:\Games\Host\host.exe`}
	assert.Equal(t, "host.exe", item.Module())
}
