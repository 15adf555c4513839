package native

import (
	"fmt"
	"sync"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// Invoker calls natives by identifier. Calls are serialized since they share
// one call context block.
type Invoker struct {
	registry *Registry
	caller   Caller
	log      *logger.Logger

	mu  sync.Mutex
	ctx *Context
}

func NewInvoker(registry *Registry, caller Caller, ctx *Context) *Invoker {
	return &Invoker{
		registry: registry,
		caller:   caller,
		ctx:      ctx,
		log:      logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "native")),
	}
}

func (inv *Invoker) Registry() *Registry { return inv.registry }

// Invoke calls the native registered under id and decodes its result as ret.
// Text results are copied before Invoke returns; a text result longer than
// TextScratchSize-1 bytes fails with process.ErrUnterminated.
func (inv *Invoker) Invoke(id Identifier, ret Kind, args ...Value) (Value, error) {
	if ret.Slots() > MaxReturns {
		return Value{}, fmt.Errorf("%s result: %w", ret, ErrTooManyArgs)
	}

	fn, err := inv.registry.Resolve(id)
	if err != nil {
		return Value{}, fmt.Errorf("resolve %s: %w", id, err)
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()

	inv.ctx.Reset()
	for i, arg := range args {
		if err := inv.ctx.Push(arg); err != nil {
			return Value{}, fmt.Errorf("%s argument %d: %w", id, i, err)
		}
	}
	if err := inv.ctx.Commit(); err != nil {
		return Value{}, err
	}

	if _, err := inv.caller.Call(fn, uintptr(inv.ctx.Base())); err != nil {
		return Value{}, fmt.Errorf("call %s at %s: %w", id, fn, err)
	}

	v, err := inv.ctx.Result(ret)
	if err != nil {
		return Value{}, fmt.Errorf("%s result: %w", id, err)
	}
	inv.log.Debugln("invoke", id, "args", len(args), "->", v)
	return v, nil
}
