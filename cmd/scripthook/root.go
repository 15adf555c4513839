package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"scripthook/config"
	"scripthook/hexdump"
	"scripthook/process"
	"scripthook/process_blob"

	"github.com/spf13/cobra"
)

var errNoTarget = errors.New("one of --pid, --name or --dump is required")

var target struct {
	pid     int
	name    string
	dump    string
	config  string
	noColor bool
}

var rootCmd = &cobra.Command{
	Use:   "scripthook",
	Short: "Inspect a scripted host process or a dump of it",
	Long: `scripthook works against a live host process (--pid or --name) or a dump
directory written by "scripthook dump save" (--dump).

Signatures use hex bytes with ?? wildcards, e.g. "48 8D 0D ?? ?? ?? ??".
Named patterns, the trampoline arena and script defaults come from a YAML
configuration file (--config, $` + config.EnvPath + `, or ./` + config.DefaultPath + `).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.IntVar(&target.pid, "pid", 0, "Process ID to attach to")
	pf.StringVar(&target.name, "name", "", "Process name to attach to")
	pf.StringVar(&target.dump, "dump", "", "Dump directory to work on instead of a live process")
	pf.StringVar(&target.config, "config", "", "Configuration file")
	pf.BoolVar(&target.noColor, "no-color", false, "Disable ANSI colors")

	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newResolveCmd())
	rootCmd.AddCommand(newNativesCmd())
	rootCmd.AddCommand(newFieldCmd())
	rootCmd.AddCommand(newDumpCmd())
	rootCmd.AddCommand(newPsCmd())
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// openTarget opens the dump or process selected by the global flags. The
// returned close function is never nil.
func openTarget() (process.Memory, func() error, error) {
	if target.dump != "" {
		img, err := process_blob.LoadImage(target.dump)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load dump %s: %w", target.dump, err)
		}
		return img, func() error { return nil }, nil
	}

	pid := process.ProcessID(target.pid)
	if pid == 0 && target.name != "" {
		found, err := findProcess(target.name)
		if err != nil {
			return nil, nil, err
		}
		pid = found
	}
	if pid == 0 {
		return nil, nil, errNoTarget
	}

	proc, err := attach(pid)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to attach to process %d: %w", pid, err)
	}
	return proc, proc.Close, nil
}

func loadConfig() (*config.Config, error) {
	return config.Load(target.config)
}

func dumpOptions() hexdump.Options {
	o := hexdump.DefaultOptions()
	o.Color = !target.noColor
	return o
}

// parseAddress accepts hex with or without a 0x prefix.
func parseAddress(s string) (process.Address, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return process.Address(v), nil
}

// parseOffsets parses a comma separated list of signed hex offsets.
func parseOffsets(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	var out []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		neg := strings.HasPrefix(part, "-")
		part = strings.TrimPrefix(strings.TrimPrefix(strings.TrimPrefix(part, "-"), "0x"), "0X")
		v, err := strconv.ParseInt(part, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid offset %q: %w", part, err)
		}
		if neg {
			v = -v
		}
		out = append(out, v)
	}
	return out, nil
}
