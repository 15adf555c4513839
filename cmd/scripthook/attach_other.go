//go:build !linux && !windows

package main

import (
	"errors"

	"scripthook/process"
)

var errUnsupported = errors.New("attaching to a live process is not supported on this platform, use --dump")

func attach(pid process.ProcessID) (process.Process, error) {
	return nil, errUnsupported
}

func findProcess(name string) (process.ProcessID, error) {
	return 0, errUnsupported
}

func processFinder() (process.ProcessFinder, error) {
	return nil, errUnsupported
}
