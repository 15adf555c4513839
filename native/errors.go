package native

import "errors"

var (
	// ErrNativeNotFound is returned when the host table has no entry for an identifier.
	ErrNativeNotFound = errors.New("native not registered")

	// ErrAlreadyBound is returned when an identifier is bound to a second address.
	ErrAlreadyBound = errors.New("native already bound to another address")

	// ErrTooManyArgs is returned when arguments overflow the slot array.
	ErrTooManyArgs = errors.New("too many native arguments")

	// ErrTextOverflow is returned when text arguments overflow the scratch area.
	ErrTextOverflow = errors.New("native text scratch exhausted")

	// ErrUnknownKind is returned for value kinds outside the closed set.
	ErrUnknownKind = errors.New("unknown value kind")

	// ErrNoCaller is returned when this backend cannot execute host code.
	ErrNoCaller = errors.New("backend cannot call host functions")
)
