package field

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintStruct(t *testing.T) {
	mem := newMemory(t)

	v := pedInfo{Model: 0x705E61F2, Flags: 0x5, Vehicle: uint64(childBase), Weapon: 0xDEAD0000}
	copy(v.Name[:], "Franklin")
	v.Pos.Y = 2.5

	var buf bytes.Buffer
	require.NoError(t, Print(&buf, v, mem, false))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "=== pedInfo (0x"), out)
	assert.Contains(t, out, "0x705E61F2")
	assert.Contains(t, out, "0x20001000 ok")
	assert.Contains(t, out, "0xDEAD0000 bad")
	assert.Contains(t, out, `"Franklin"`)
	assert.Contains(t, out, "bit 0")
	assert.Contains(t, out, "bit 2")
	assert.NotContains(t, out, "bit 1")
	assert.NotContains(t, out, "\033[")
}

func TestPrintRejectsNonStruct(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, Print(&buf, 42, nil, false), ErrNotPOD)
	require.NoError(t, Print(&buf, (*pedInfo)(nil), nil, false))
	assert.Equal(t, "<nil>\n", buf.String())
}

func TestTableAlignsColoredCells(t *testing.T) {
	table := NewTable(ColumnSpec{Header: "A"}, ColumnSpec{Header: "B"})
	table.AddRow("\033[31mred\033[0m", "x")
	table.AddRow("longer", "")

	var buf bytes.Buffer
	require.NoError(t, table.Render(&buf))
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "A      B", lines[0])
	assert.Equal(t, "------ -", lines[1])
	assert.Equal(t, "\033[31mred\033[0m    x", lines[2])
	assert.Equal(t, "longer -", lines[3])
	assert.Equal(t, 2, table.Len())
}
