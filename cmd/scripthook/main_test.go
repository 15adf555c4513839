package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"scripthook/native"
	"scripthook/native/nativetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const timerID native.Identifier = 0x9CD27B0045628463

// hostDump writes a simulated host with one registered native to disk.
func hostDump(t *testing.T) string {
	t.Helper()
	h := nativetest.New()
	_, err := h.RegisterNative(timerID, func(call *native.HostCall) error { return nil })
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "dump")
	require.NoError(t, h.Save(dir))
	return dir
}

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scripthook.yaml")
	data := fmt.Sprintf(`module: %s
patterns:
  - name: native_table
    signature: %q
    offset: 3
    resolve: rip
    section: code
  - name: frame
    signature: %q
%s`, nativetest.Module, nativetest.TableSignature, nativetest.FrameSignature, extra)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--no-color"))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestScan(t *testing.T) {
	dir := hostDump(t)

	out, err := run(t, "scan", "--dump", dir, "--module", nativetest.Module, "--section", "code",
		"--offset", "3", "--resolve", "rip", nativetest.TableSignature)
	require.NoError(t, err)
	assert.Contains(t, out, fmt.Sprintf("Match at %s -> %s", nativetest.CodeBase, nativetest.DataBase))
	assert.Contains(t, out, "1 matches")
	assert.Contains(t, out, "48 8d 0d")

	_, err = run(t, "scan", "--dump", dir, "--offset", "0", "--resolve", "none", "DE AD BE EF 11")
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	dir := hostDump(t)
	cfg := writeConfig(t, `  - name: missing
    signature: "DE AD BE EF 11 22 33"
`)

	out, err := run(t, "resolve", "--dump", dir, "--config", cfg)
	require.NoError(t, err, "only optional patterns fail")
	assert.Contains(t, out, "host.exe+0x1040")
	assert.Contains(t, out, "pattern not found")

	cfg = writeConfig(t, `  - name: missing
    signature: "DE AD BE EF 11 22 33"
    required: true
`)
	_, err = run(t, "resolve", "--dump", dir, "--config", cfg)
	assert.Error(t, err)
}

func TestNatives(t *testing.T) {
	dir := hostDump(t)
	cfg := writeConfig(t, "")

	out, err := run(t, "natives", "--dump", dir, "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, timerID.String())
	assert.Contains(t, out, "1 natives in table")

	out, err = run(t, "natives", "--dump", dir, "--config", cfg, "--id", "0x1234")
	require.NoError(t, err)
	assert.Contains(t, out, "native not registered")
}

func TestDumpShow(t *testing.T) {
	dir := hostDump(t)

	out, err := run(t, "dump", "show", "--dump", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Process Name: host.exe")
	assert.Contains(t, out, "r-xp")

	out, err = run(t, "dump", "show", "--dump", dir, "--size", "16", "140000000")
	require.NoError(t, err)
	assert.Contains(t, out, "|MZ")

	copyDir := filepath.Join(t.TempDir(), "copy")
	_, err = run(t, "dump", "save", "--dump", dir, "--output", copyDir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(copyDir, "metadata.json"))
}

func TestFieldRead(t *testing.T) {
	dir := hostDump(t)

	// lea rcx,[rip+table] opcode bytes and the low byte of the displacement
	out, err := run(t, "field", "read", "--dump", dir, "--type", "uint32", "--path", "",
		fmt.Sprintf("%x", uint64(nativetest.CodeBase)))
	require.NoError(t, err)
	assert.Contains(t, out, "uint32 = 4178414920")
}

func TestNoTarget(t *testing.T) {
	_, err := run(t, "dump", "show", "--dump", "")
	assert.ErrorIs(t, err, errNoTarget)
}
