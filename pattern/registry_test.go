package pattern

import (
	"path/filepath"
	"testing"

	"scripthook/process"
	"scripthook/process_blob"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	hostBase = process.Address(0x140000000)
	hostCode = hostBase + 0x1000
)

// countingMemory counts reads so tests can tell a cache hit from a scan.
type countingMemory struct {
	*process_blob.Image
	reads int
}

func (c *countingMemory) ReadMemory(addr process.Address, size process.Size) ([]byte, error) {
	c.reads++
	return c.Image.ReadMemory(addr, size)
}

func newHostImage(t *testing.T, headerTag byte) *process_blob.Image {
	t.Helper()
	img := process_blob.NewImage()

	header := make([]byte, 0x1000)
	copy(header, []byte{'M', 'Z', headerTag})
	require.NoError(t, img.Map(hostBase, header, "r--p", `C:\Games\Host\host.exe`))

	code := make([]byte, 0x8000)
	copy(code[0x4321:], []byte{0x48, 0x8D, 0x0D, 0x10, 0x00, 0x00, 0x00, 0xE8})
	require.NoError(t, img.Map(hostCode, code, "r-xp", `C:\Games\Host\host.exe`))

	require.NoError(t, img.Map(0x7FF800000000, make([]byte, 0x1000), "r-xp", "/usr/lib/other.so"))
	return img
}

func TestRegistryResolvesOnce(t *testing.T) {
	mem := &countingMemory{Image: newHostImage(t, 1)}
	reg := NewRegistry(mem)

	require.NoError(t, reg.Add(Entry{
		Name:    "table",
		Pattern: MustParse("48 8D 0D ?? ?? ?? ?? E8", WithOffset(3), WithRIP(0)),
		Module:  "host.exe",
		Section: SectionCode,
	}))

	addr, err := reg.Resolve("table")
	require.NoError(t, err)
	assert.Equal(t, hostCode+0x4321+7+0x10, addr)

	reads := mem.reads
	again, err := reg.Resolve("table")
	require.NoError(t, err)
	assert.Equal(t, addr, again)
	assert.Equal(t, reads, mem.reads, "second resolve must not rescan")

	_, err = reg.Resolve("missing")
	assert.ErrorIs(t, err, ErrUnknownName)
	assert.ErrorIs(t, reg.Add(Entry{Name: "table", Pattern: MustParse("00")}), ErrDuplicateName)
}

func TestRegistryResolveAllOnlyFailsOnRequired(t *testing.T) {
	reg := NewRegistry(newHostImage(t, 1))

	require.NoError(t, reg.Add(Entry{Name: "table", Pattern: MustParse("48 8D 0D"), Module: "host.exe", Required: true}))
	require.NoError(t, reg.Add(Entry{Name: "optional", Pattern: MustParse("DE AD BE EF"), Module: "host.exe"}))

	assert.NoError(t, reg.ResolveAll())
	assert.ErrorIs(t, reg.Err("optional"), ErrPatternNotFound)
	assert.NoError(t, reg.Err("table"))

	require.NoError(t, reg.Add(Entry{Name: "core", Pattern: MustParse("CA FE"), Module: "host.exe", Required: true}))
	err := reg.ResolveAll()
	assert.ErrorIs(t, err, ErrPatternNotFound)

	status := reg.Status()
	require.Len(t, status, 3)
	assert.True(t, status[0].Resolved)
	assert.False(t, status[1].Resolved)
	assert.True(t, status[2].Required)
}

func TestRegistryModuleScoping(t *testing.T) {
	img := newHostImage(t, 1)
	require.NoError(t, img.WriteMemory(0x7FF800000100, []byte{0xCA, 0xFE, 0xBA, 0xBE}))

	reg := NewRegistry(img)
	require.NoError(t, reg.Add(Entry{Name: "in-host", Pattern: MustParse("CA FE BA BE"), Module: "host.exe"}))
	require.NoError(t, reg.Add(Entry{Name: "anywhere", Pattern: MustParse("CA FE BA BE")}))

	_, err := reg.Resolve("in-host")
	assert.ErrorIs(t, err, ErrPatternNotFound)

	addr, err := reg.Resolve("anywhere")
	require.NoError(t, err)
	assert.Equal(t, process.Address(0x7FF800000100), addr)
}

func TestRegistryCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "patterns.yaml")
	entry := Entry{Name: "call", Pattern: MustParse("48 8D 0D ?? ?? ?? ?? E8"), Module: "host.exe", Section: SectionCode}

	cache, err := LoadCache(path)
	require.NoError(t, err)
	reg := NewRegistry(newHostImage(t, 1), WithCache(cache))
	require.NoError(t, reg.Add(entry))
	require.NoError(t, reg.ResolveAll())

	reloaded, err := LoadCache(path)
	require.NoError(t, err)
	off, ok := reloaded.Lookup("host.exe", "call")
	require.True(t, ok)
	assert.Equal(t, uint64(0x1000+0x4321), off)

	// same build: cached offset is used with a single verifying read
	mem := &countingMemory{Image: newHostImage(t, 1)}
	reg = NewRegistry(mem, WithCache(reloaded))
	require.NoError(t, reg.Add(entry))
	addr, err := reg.Resolve("call")
	require.NoError(t, err)
	assert.Equal(t, hostCode+0x4321, addr)
	assert.LessOrEqual(t, mem.reads, 2)

	// different build: entries are dropped
	other := newHostImage(t, 2)
	fp, err := Fingerprint(other, "host.exe")
	require.NoError(t, err)
	reloaded.Bind("host.exe", fp)
	_, ok = reloaded.Lookup("host.exe", "call")
	assert.False(t, ok)
}

func TestFingerprintDiffersPerBuild(t *testing.T) {
	a, err := Fingerprint(newHostImage(t, 1), "host.exe")
	require.NoError(t, err)
	b, err := Fingerprint(newHostImage(t, 2), "HOST.EXE")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	_, err = Fingerprint(newHostImage(t, 1), "absent.dll")
	assert.ErrorIs(t, err, ErrNoModule)
}
