// Package event carries events between the host, hooks and scripts through
// a double-buffered pool.
package event

import (
	"fmt"

	"scripthook/native"
)

// Kind tags an event's payload.
type Kind uint8

const (
	KindConsoleInput Kind = iota + 1
	KindKeyInput
	KindNativeCall
	KindMessage
)

func (k Kind) String() string {
	switch k {
	case KindConsoleInput:
		return "console"
	case KindKeyInput:
		return "key"
	case KindNativeCall:
		return "native"
	case KindMessage:
		return "message"
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Event is one of the value types in this package.
type Event interface {
	Kind() Kind
}

// ConsoleInput is a line typed into the host console.
type ConsoleInput struct {
	Line string
}

// KeyInput is a key transition with its modifier state.
type KeyInput struct {
	Key   uint32
	Down  bool
	Alt   bool
	Ctrl  bool
	Shift bool
}

// NativeCallArgs is how many leading argument slots a NativeCall keeps.
const NativeCallArgs = 4

// NativeCall records a hooked native being called by the host.
type NativeCall struct {
	Identifier native.Identifier
	Args       [NativeCallArgs]uint64
}

// Message is sent by one script to whoever listens for Name.
type Message struct {
	From string
	Name string
	Data string
}

func (ConsoleInput) Kind() Kind { return KindConsoleInput }
func (KeyInput) Kind() Kind { return KindKeyInput }
func (NativeCall) Kind() Kind { return KindNativeCall }
func (Message) Kind() Kind { return KindMessage }
