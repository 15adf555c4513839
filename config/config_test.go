package config

import (
	"os"
	"path/filepath"
	"testing"

	"scripthook/pattern"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
module: GTA5.exe
cache: patterns.cache.yaml
trampoline:
  size: 8192
scripts:
  wait_deadline: 600
patterns:
  - name: native_table
    signature: "48 8D 0D ?? ?? ?? ?? 48 8B 0C C1"
    offset: 3
    resolve: rip
    section: code
    required: true
  - name: frame
    signature: "40 55 53 56 57 41 54"
  - name: world
    module: other.dll
    signature: "48 8B 05 ?? ?? ?? ?? 45 ?? ?? 48 8B 48 08"
    offset: 3
    resolve: rip
    trailing: 0
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "GTA5.exe", cfg.Module)
	assert.Equal(t, uint64(8192), cfg.Trampoline.Size)
	assert.Equal(t, uint64(600), cfg.Scripts.WaitDeadline)
	require.Len(t, cfg.Patterns, 3)

	table, ok := cfg.Pattern(NativeTablePattern)
	require.True(t, ok)
	entry, err := table.Entry(cfg.Module)
	require.NoError(t, err)
	assert.Equal(t, "GTA5.exe", entry.Module)
	assert.Equal(t, pattern.SectionCode, entry.Section)
	assert.Equal(t, pattern.ResolveRIP, entry.Pattern.Mode())
	assert.Equal(t, int64(3), entry.Pattern.Offset())
	assert.True(t, entry.Required)

	world, _ := cfg.Pattern("world")
	entry, err = world.Entry(cfg.Module)
	require.NoError(t, err)
	assert.Equal(t, "other.dll", entry.Module)
	assert.Equal(t, 14, entry.Pattern.Len())

	_, ok = cfg.Pattern("missing")
	assert.False(t, ok)
}

func TestDefaultsSurviveSparseFile(t *testing.T) {
	cfg, err := Parse([]byte("module: host.exe\n"))
	require.NoError(t, err)
	assert.Equal(t, uint64(DefaultTrampolineSize), cfg.Trampoline.Size)
	assert.Empty(t, cfg.Patterns)
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"bad signature":  "patterns:\n  - name: a\n    signature: \"ZZ\"\n",
		"empty name":     "patterns:\n  - signature: \"90\"\n",
		"duplicate":      "patterns:\n  - name: a\n    signature: \"90\"\n  - name: a\n    signature: \"90\"\n",
		"resolve mode":   "patterns:\n  - name: a\n    signature: \"90\"\n    resolve: deref\n",
		"section":        "patterns:\n  - name: a\n    signature: \"90\"\n    section: rodata\n",
		"zero size":      "trampoline:\n  size: 0\n",
		"cave undefined": "trampoline:\n  size: 64\n  use_cave: true\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}

	_, err := Parse([]byte("trampoline:\n  use_cave: true\npatterns:\n  - name: code_cave\n    signature: \"CC CC CC CC\"\n"))
	assert.NoError(t, err)

	_, err = Parse([]byte("module: host.exe\ntrampoline:\n  size: 64\n  use_cave: true\n"))
	assert.NoError(t, err, "the module is searched for padding")
}

func TestLoadPathResolution(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	t.Setenv(EnvPath, "")
	t.Chdir(dir)

	cfg, err := Load("")
	require.NoError(t, err, "missing default file falls back to defaults")
	assert.Equal(t, Default(), cfg)

	_, err = Load(filepath.Join(dir, "absent.yaml"))
	assert.Error(t, err, "an explicit path must exist")

	t.Setenv(EnvPath, path)
	assert.Equal(t, path, Path(""))
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "GTA5.exe", cfg.Module)

	assert.Equal(t, "explicit.yaml", Path("explicit.yaml"))
}

func TestSaveRoundTrip(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, cfg.Save(path))

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}
