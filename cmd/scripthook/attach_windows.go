//go:build windows

package main

import (
	"scripthook/process"
	"scripthook/process_windows"
)

func attach(pid process.ProcessID) (process.Process, error) {
	return process_windows.NewWithPID(pid)
}

func findProcess(name string) (process.ProcessID, error) {
	return process_windows.FindProcess(name)
}

func processFinder() (process.ProcessFinder, error) {
	return process_windows.NewProcessFinder(), nil
}
