package session

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"scripthook/config"
	"scripthook/detour"
	"scripthook/event"
	"scripthook/native"
	"scripthook/native/nativetest"
	"scripthook/pattern"
	"scripthook/process"
	"scripthook/script"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	getGameTimer native.Identifier = 0x9CD27B0045628463
	setWeather   native.Identifier = 0x29B487C359E19889
)

func hostConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
module: %s
trampoline:
  size: 4096
patterns:
  - name: native_table
    signature: %q
    offset: 3
    resolve: rip
    section: code
  - name: frame
    signature: %q
    section: code
  - name: replay_interface
    signature: "48 8D 0D ?? ?? ?? ?? 48 8B D7 E8 ?? ?? ?? ?? 48 8D 0D"
`, nativetest.Module, nativetest.TableSignature, nativetest.FrameSignature)))
	require.NoError(t, err)
	return cfg
}

type host struct {
	*nativetest.Host
	timer   uint32
	weather []string
}

func newHost(t *testing.T) *host {
	t.Helper()
	h := &host{Host: nativetest.New()}

	_, err := h.RegisterNative(getGameTimer, func(call *native.HostCall) error {
		h.timer += 16
		return call.Return(uint64(h.timer))
	})
	require.NoError(t, err)

	_, err = h.RegisterNative(setWeather, func(call *native.HostCall) error {
		v, err := call.Arg(0, native.KindText)
		if err != nil {
			return err
		}
		h.weather = append(h.weather, v.AsText())
		return nil
	})
	require.NoError(t, err)
	return h
}

func newSession(t *testing.T, h *host) *Session {
	t.Helper()
	s, err := New(h.Host, hostConfig(t), WithCaller(h.Host), WithBinder(h.Host))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func feature(s *Session, name string) Feature {
	for _, f := range s.Features() {
		if f.Name == name {
			return f
		}
	}
	return Feature{}
}

func TestNewResolvesAndDisablesOptional(t *testing.T) {
	h := newHost(t)
	s := newSession(t, h)

	assert.Equal(t, h.TableAddress(), s.Table().Base())
	assert.True(t, feature(s, config.NativeTablePattern).Enabled)
	assert.True(t, feature(s, config.FramePattern).Enabled)
	assert.Equal(t, h.FrameAddress(), feature(s, config.FramePattern).Address)

	missing := feature(s, "replay_interface")
	assert.False(t, missing.Enabled)
	assert.ErrorIs(t, missing.Err, pattern.ErrPatternNotFound)

	assert.True(t, feature(s, FeatureInvoke).Enabled)
	assert.True(t, feature(s, FeatureHooks).Enabled)
}

func TestNewFailsWithoutNativeTable(t *testing.T) {
	h := newHost(t)

	cfg := hostConfig(t)
	cfg.Patterns[0].Signature = "DE AD BE EF ?? 11 22"
	_, err := New(h.Host, cfg)
	assert.ErrorIs(t, err, pattern.ErrPatternNotFound)

	cfg = hostConfig(t)
	cfg.Patterns = cfg.Patterns[1:]
	_, err = New(h.Host, cfg)
	assert.ErrorIs(t, err, ErrNoNativeTable)
}

func TestInvokeThroughSession(t *testing.T) {
	h := newHost(t)
	s := newSession(t, h)

	v, err := s.Invoke(getGameTimer, native.KindInt)
	require.NoError(t, err)
	assert.Equal(t, int32(16), v.AsInt())

	_, err = s.Invoke(setWeather, native.KindVoid, native.Text("THUNDER"))
	require.NoError(t, err)
	assert.Equal(t, []string{"THUNDER"}, h.weather)
	assert.Equal(t, 2, s.Natives().Len())
}

func TestWithoutCallerInvokeIsDisabled(t *testing.T) {
	h := newHost(t)
	s, err := New(h.Host, hostConfig(t))
	require.NoError(t, err)
	defer s.Close()

	assert.False(t, feature(s, FeatureInvoke).Enabled)
	_, err = s.Invoke(getGameTimer, native.KindInt)
	assert.ErrorIs(t, err, ErrFeatureDisabled)
	assert.ErrorIs(t, err, native.ErrNoCaller)

	_, err = s.HookFrame()
	assert.ErrorIs(t, err, native.ErrNoCaller, "nothing can bind the replacement")
}

func TestFrameHookDrivesScripts(t *testing.T) {
	h := newHost(t)
	s := newSession(t, h)

	var timers []int32
	require.NoError(t, s.Register("clock", script.Funcs{OnFrame: func(env *script.Env) error {
		v, err := env.Invoke(getGameTimer, native.KindInt)
		if err != nil {
			return err
		}
		timers = append(timers, v.AsInt())
		return nil
	}}))

	_, err := s.HookFrame()
	require.NoError(t, err)
	_, err = s.HookFrame()
	assert.ErrorIs(t, err, ErrHookExists)

	for range 3 {
		require.NoError(t, h.Frame())
	}
	assert.Equal(t, []int32{16, 32, 48}, timers)
	assert.Equal(t, 3, h.Calls(h.FrameAddress()), "original frame still runs")

	require.NoError(t, s.Close())
	require.NoError(t, h.Frame())
	assert.Len(t, timers, 3, "closed session no longer ticks")
	assert.Equal(t, 4, h.Calls(h.FrameAddress()))
}

func TestWatchNativePublishesCalls(t *testing.T) {
	h := newHost(t)
	s := newSession(t, h)

	_, err := s.WatchNative(setWeather)
	require.NoError(t, err)

	require.NoError(t, s.Register("changer", script.Funcs{OnFrame: func(env *script.Env) error {
		if env.Tick() == 1 {
			_, err := env.Invoke(setWeather, native.KindVoid, native.Text("SNOW"))
			return err
		}
		return nil
	}}))

	var observed [][]event.NativeCall
	require.NoError(t, s.Register("observer", script.Funcs{OnFrame: func(env *script.Env) error {
		observed = append(observed, slices.Collect(event.Of[event.NativeCall](env.Events())))
		return nil
	}}))

	require.NoError(t, s.Tick())
	require.NoError(t, s.Tick())

	assert.Equal(t, []string{"SNOW"}, h.weather, "watched native still runs")
	require.Len(t, observed, 2)
	assert.Empty(t, observed[0])
	require.Len(t, observed[1], 1)
	assert.Equal(t, setWeather, observed[1][0].Identifier)
	assert.NotZero(t, observed[1][0].Args[0], "text argument pointer is captured")

	require.NoError(t, s.Unhook("native:"+setWeather.String()))
	assert.Error(t, s.Unhook("native:"+setWeather.String()))
}

func TestPatternCacheIsUsed(t *testing.T) {
	h := newHost(t)
	cfg := hostConfig(t)
	cfg.Cache = filepath.Join(t.TempDir(), "cache.yaml")

	s, err := New(h.Host, cfg, WithCaller(h.Host))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	cache, err := pattern.LoadCache(cfg.Cache)
	require.NoError(t, err)
	fp, err := pattern.Fingerprint(h.Host, nativetest.Module)
	require.NoError(t, err)
	cache.Bind(nativetest.Module, fp)
	off, ok := cache.Lookup(nativetest.Module, config.FramePattern)
	require.True(t, ok)
	assert.Equal(t, uint64(h.FrameAddress()-nativetest.HeaderBase), off)
}

func TestCaveTrampolinesStayInPadding(t *testing.T) {
	cases := map[string]struct {
		cave  []config.PatternConfig
		size  uint64
		arena process.Region
	}{
		"pattern": {
			cave: []config.PatternConfig{{
				Name:      config.CavePattern,
				Signature: strings.TrimSpace(strings.Repeat("CC ", 48)),
				Section:   "code",
			}},
			size: 0x1000,
			// 48 bytes of padding at CodeBase+0x0C, aligned up to +0x10
			arena: process.Region{Base: nativetest.CodeBase + 0x10, Size: 44},
		},
		"module search": {
			size: 64,
			// first 64 byte run follows the frame function at CodeBase+0x52
			arena: process.Region{Base: nativetest.CodeBase + 0x60, Size: 50},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHost(t)
			cfg := hostConfig(t)
			cfg.Trampoline.UseCave = true
			cfg.Trampoline.Size = tc.size
			cfg.Patterns = append(cfg.Patterns, tc.cave...)

			before, err := h.ReadMemory(nativetest.CodeBase, 0x100)
			require.NoError(t, err)

			s, err := New(h.Host, cfg, WithCaller(h.Host), WithBinder(h.Host))
			require.NoError(t, err)
			defer s.Close()

			frame, err := s.HookFrame()
			require.NoError(t, err)
			assert.Equal(t, tc.arena.Base, frame.Trampoline())

			_, err = s.WatchNative(getGameTimer)
			assert.ErrorIs(t, err, detour.ErrTrampolineOverflow)
			_, err = s.WatchNative(setWeather)
			assert.ErrorIs(t, err, detour.ErrTrampolineOverflow)

			after, err := h.ReadMemory(nativetest.CodeBase, 0x100)
			require.NoError(t, err)
			for i := range before {
				addr := nativetest.CodeBase + process.Address(i)
				if tc.arena.Contains(addr) || frame.Patched().Contains(addr) {
					continue
				}
				assert.Equal(t, before[i], after[i], "byte at %s changed", addr)
			}

			require.NoError(t, h.Frame())
			assert.Equal(t, 1, h.Calls(h.FrameAddress()), "frame runs through the cave trampoline")
			assert.Equal(t, uint64(1), s.Runtime().CurrentTick())
		})
	}
}
