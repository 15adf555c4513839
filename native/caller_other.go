//go:build !windows

package native

// InProcess is unavailable here: host functions can only be called on Windows.
type InProcess = NoCaller

func NewInProcess() InProcess { return NoCaller{} }
