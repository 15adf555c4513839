//go:build linux

package main

import (
	"scripthook/process"
	"scripthook/process_linux"
)

func attach(pid process.ProcessID) (process.Process, error) {
	return process_linux.NewWithPID(pid)
}

func findProcess(name string) (process.ProcessID, error) {
	return process_linux.FindProcess(name)
}

func processFinder() (process.ProcessFinder, error) {
	return process_linux.NewProcessFinder(), nil
}
