package session

import (
	"errors"
	"fmt"

	"scripthook/config"
	"scripthook/detour"
	"scripthook/event"
	"scripthook/native"
	"scripthook/process"
)

// ErrHookExists is returned when a name is hooked twice.
var ErrHookExists = errors.New("hook already installed")

// Interceptor returns the detour interceptor, if hooks are available.
func (s *Session) Interceptor() (*detour.Interceptor, error) {
	if s.interceptor == nil {
		return nil, fmt.Errorf("%s: %w: %w", FeatureHooks, ErrFeatureDisabled, s.hooksErr)
	}
	return s.interceptor, nil
}

// Hook returns an installed hook by name.
func (s *Session) Hook(name string) (*detour.Hook, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hooks[name]
	return h, ok
}

// InstallHook detours the function a named pattern resolves to into fn.
func (s *Session) InstallHook(name string, fn native.Func) (*detour.Hook, error) {
	target, err := s.patterns.Resolve(name)
	if err != nil {
		return nil, fmt.Errorf("hook %q: %w", name, err)
	}
	return s.installAt(name, target, fn)
}

func (s *Session) installAt(name string, target process.Address, fn native.Func) (*detour.Hook, error) {
	ic, err := s.Interceptor()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.hooks[name]; ok {
		return nil, fmt.Errorf("%q: %w", name, ErrHookExists)
	}

	replacement, err := s.binder.Bind(fn)
	if err != nil {
		return nil, fmt.Errorf("bind replacement for %q: %w", name, err)
	}
	h, err := ic.Install(target, replacement)
	if err != nil {
		return nil, fmt.Errorf("hook %q: %w", name, err)
	}
	s.hooks[name] = h
	s.log.Infoln("Hooked", name, "at", target)
	return h, nil
}

// FrameHandler is the replacement for the host's per-frame function: it
// advances the scripts by one tick, then runs the original frame.
func (s *Session) FrameHandler() native.Func {
	return func(args ...uintptr) uintptr {
		if err := s.runtime.Tick(); err != nil {
			s.log.Warn("Tick failed: ", err)
		}

		h, ok := s.Hook(config.FramePattern)
		if !ok {
			return 0
		}
		r, err := h.CallOriginal(args...)
		if err != nil {
			s.log.Warn("Original frame failed: ", err)
		}
		return r
	}
}

// HookFrame drives the script runtime from the host's own frame loop.
func (s *Session) HookFrame() (*detour.Hook, error) {
	return s.InstallHook(config.FramePattern, s.FrameHandler())
}

// WatchNative hooks a native so every host call to it is published as an
// event.NativeCall before the native runs.
func (s *Session) WatchNative(id native.Identifier) (*detour.Hook, error) {
	target, err := s.natives.Resolve(id)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", id, err)
	}

	name := "native:" + id.String()
	return s.installAt(name, target, func(args ...uintptr) uintptr {
		ev := event.NativeCall{Identifier: id}
		if len(args) > 0 {
			if call, err := native.ReadHostCall(s.mem, process.Address(args[0])); err == nil {
				copy(ev.Args[:], call.Args)
			}
		}
		s.pool.Push(ev)

		h, ok := s.Hook(name)
		if !ok {
			return 0
		}
		r, err := h.CallOriginal(args...)
		if err != nil {
			s.log.Warn("Original ", id, " failed: ", err)
		}
		return r
	})
}

// Unhook removes a hook by name.
func (s *Session) Unhook(name string) error {
	s.mu.Lock()
	h, ok := s.hooks[name]
	delete(s.hooks, name)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%q: %w", name, detour.ErrHookRemoved)
	}
	return h.Remove()
}
