// Command example runs two scripts against a simulated host: one requests a
// model and suspends until the host has streamed it in, the other follows
// the player entity through natives and a structure read from host memory.
package main

import (
	"fmt"
	"math"
	"os"

	"scripthook/config"
	"scripthook/event"
	"scripthook/field"
	"scripthook/native"
	"scripthook/native/nativetest"
	"scripthook/script"
	"scripthook/session"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

const (
	playerPedID     native.Identifier = 0xD80958FC74E988A6
	getEntityCoords native.Identifier = 0x3FEF770D40960D5A
	requestModel    native.Identifier = 0x963D27A58DF860AC
	isModelLoaded   native.Identifier = 0x98A4EB5D89A0C952
	entityAddress   native.Identifier = 0x9A8D700A51CB7B0D
	doesEntityExist native.Identifier = 0x7239B21A38F536BA
	showSubtitle    native.Identifier = 0x6C188BE134E074AA

	adderModel = 0xB779A091
	keyF5      = 0x74
	runFrames  = 12
)

// Ped mirrors the head of the host's ped structure.
type Ped struct {
	Model   uint32
	Flags   uint32
	Vehicle uint64   `pod:"valid_pointer"`
	Name    [16]byte `pod:"char_array"`
	Health  float32
	Armor   float32
}

var log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "example"))

func main() {
	h := nativetest.New()
	if err := simulate(h); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	cfg := config.Default()
	cfg.Module = nativetest.Module
	cfg.Patterns = []config.PatternConfig{
		{Name: config.NativeTablePattern, Signature: nativetest.TableSignature, Offset: 3, Resolve: "rip", Section: "code"},
		{Name: config.FramePattern, Signature: nativetest.FrameSignature, Section: "code"},
	}

	s, err := session.New(h, cfg, session.WithCaller(h), session.WithBinder(h))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	defer s.Close()

	if err := run(h, s); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(h *nativetest.Host, s *session.Session) error {
	if err := s.Register("spawner", spawner(s)); err != nil {
		return err
	}
	if err := s.Register("tracker", tracker(s)); err != nil {
		return err
	}
	if _, err := s.HookFrame(); err != nil {
		return err
	}

	for frame := range runFrames {
		if frame == 6 {
			s.Pool().Push(event.KeyInput{Key: keyF5, Down: true})
		}
		if err := h.Frame(); err != nil {
			return err
		}
	}

	for _, info := range s.Runtime().Scripts() {
		log.Infoln(info.Name, info.State, "after", info.Frames, "frames")
	}
	return nil
}

// model is a streamed host resource.
type model struct {
	s    *session.Session
	hash uint32
}

func (m model) IsLoaded() bool {
	v, err := m.s.Invoke(isModelLoaded, native.KindBool, native.Uint(m.hash))
	return err == nil && v.AsBool()
}

func (m model) Request() {
	if _, err := m.s.Invoke(requestModel, native.KindVoid, native.Uint(m.hash)); err != nil {
		log.Warn("Request failed: ", err)
	}
}

func spawner(s *session.Session) script.Script {
	return script.Funcs{
		OnPrepare: func(env *script.Env) error {
			if err := env.WaitFor(model{s: s, hash: adderModel}, script.WithDeadline(100)); err != nil {
				return err
			}
			log.Infoln("Model", fmt.Sprintf("0x%X", adderModel), "streamed in by tick", env.Tick())
			return nil
		},
		OnFrame: func(env *script.Env) error {
			for key := range event.Of[event.KeyInput](env.Events()) {
				if key.Key != keyF5 || !key.Down {
					continue
				}
				if _, err := env.Invoke(showSubtitle, native.KindVoid, native.Text("Spawning vehicle"), native.Int(2000)); err != nil {
					return err
				}
				env.Send("spawned", "adder")
			}
			return nil
		},
	}
}

func tracker(s *session.Session) script.Script {
	var (
		ped     int32
		printed bool
	)

	return script.Funcs{
		OnPrepare: func(env *script.Env) error {
			v, err := env.Invoke(playerPedID, native.KindHandle)
			if err != nil {
				return err
			}
			ped = v.AsHandle()
			return nil
		},
		OnFrame: func(env *script.Env) error {
			pos, err := env.Invoke(getEntityCoords, native.KindVec3, native.Handle(ped), native.Bool(true))
			if err != nil {
				return err
			}
			for msg := range event.Of[event.Message](env.Events()) {
				if msg.Name == "spawned" {
					log.Infoln(msg.From, "spawned", msg.Data, "next to the player at", pos)
				}
			}

			if printed {
				return nil
			}
			printed = true

			addr, err := env.Invoke(entityAddress, native.KindPointer, native.Handle(ped))
			if err != nil {
				return err
			}
			owner := field.EntityOwner(s, doesEntityExist, ped)
			info, err := field.ReadStruct[Ped](s.Memory(), addr.AsPointer(), owner)
			if err != nil {
				return err
			}
			return field.Print(os.Stdout, info, s.Memory(), true)
		},
	}
}

// simulate registers the natives the scripts use and places a ped in host
// memory.
func simulate(h *nativetest.Host) error {
	const ped = 1

	pedAddr, err := h.Allocate(field.SizeOf[Ped](), false)
	if err != nil {
		return err
	}
	p := Ped{Model: 0x705E61F2, Flags: 0x11, Health: 200, Armor: 50}
	copy(p.Name[:], "player_zero")
	if err := field.WriteStruct(h, pedAddr, field.Static, p); err != nil {
		return err
	}

	var (
		requested bool
		frames    int
		pos       = [3]float32{-1037.5, -2737.2, 20.1}
	)
	h.BindFrame(func(args ...uintptr) uintptr {
		frames++
		pos[1] += 0.5
		return 0
	})

	natives := map[native.Identifier]func(*native.HostCall) error{
		playerPedID: func(call *native.HostCall) error {
			return call.Return(ped)
		},
		getEntityCoords: func(call *native.HostCall) error {
			return call.Return(
				uint64(math.Float32bits(pos[0])),
				uint64(math.Float32bits(pos[1])),
				uint64(math.Float32bits(pos[2])),
			)
		},
		requestModel: func(call *native.HostCall) error {
			requested = true
			frames = 0
			return nil
		},
		isModelLoaded: func(call *native.HostCall) error {
			loaded := uint64(0)
			if requested && frames >= 3 {
				loaded = 1
			}
			return call.Return(loaded)
		},
		doesEntityExist: func(call *native.HostCall) error {
			v, err := call.Arg(0, native.KindHandle)
			if err != nil {
				return err
			}
			exists := uint64(0)
			if v.AsHandle() == ped {
				exists = 1
			}
			return call.Return(exists)
		},
		entityAddress: func(call *native.HostCall) error {
			return call.Return(uint64(pedAddr))
		},
		showSubtitle: func(call *native.HostCall) error {
			text, err := call.Arg(0, native.KindText)
			if err != nil {
				return err
			}
			log.Infoln("Subtitle:", text.AsText())
			return nil
		},
	}
	for id, fn := range natives {
		if _, err := h.RegisterNative(id, fn); err != nil {
			return err
		}
	}
	return nil
}
