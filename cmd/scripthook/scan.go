package main

import (
	"fmt"

	"scripthook/hexdump"
	"scripthook/pattern"
	"scripthook/process"

	"github.com/spf13/cobra"
)

func newScanCmd() *cobra.Command {
	var (
		module   string
		section  string
		offset   int64
		resolve  string
		trailing int64
		context  int
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "scan <signature>",
		Short: "Scan for a byte signature and show each match in context",
		Example: `  scripthook scan --name GTA5.exe --module GTA5.exe --section code "48 8D 0D ?? ?? ?? ?? 48 8B 0C C1"
  scripthook scan --dump ./dump --offset 3 --resolve rip "48 8D 0D ?? ?? ?? ??"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := pattern.ParseResolveMode(resolve)
			if err != nil {
				return err
			}
			sec, err := pattern.ParseSection(section)
			if err != nil {
				return err
			}
			opts := []pattern.Option{pattern.WithOffset(offset)}
			switch mode {
			case pattern.ResolveRIP:
				opts = append(opts, pattern.WithRIP(trailing))
			case pattern.ResolvePointer:
				opts = append(opts, pattern.WithPointer())
			}
			p, err := pattern.Parse(args[0], opts...)
			if err != nil {
				return err
			}

			mem, closeTarget, err := openTarget()
			if err != nil {
				return err
			}
			defer closeTarget()

			matches, err := pattern.ScanModule(mem, module, sec, p)
			if err != nil {
				return err
			}

			cmd.Printf("Scanning for %s\n", p)
			found := 0
			for match := range matches {
				found++
				printMatch(cmd, mem, p, match, context)
				if limit > 0 && found >= limit {
					cmd.Printf("Stopped after %d matches\n", limit)
					break
				}
			}
			if found == 0 {
				return pattern.ErrPatternNotFound
			}
			cmd.Printf("%d matches\n", found)
			return nil
		},
	}

	cmd.Flags().StringVar(&module, "module", "", "Only scan regions of this module (base name)")
	cmd.Flags().StringVar(&section, "section", "any", "Region filter: any, code or data")
	cmd.Flags().Int64Var(&offset, "offset", 0, "Displacement applied to each match")
	cmd.Flags().StringVar(&resolve, "resolve", "none", "Resolve mode after the displacement: none, rip or pointer")
	cmd.Flags().Int64Var(&trailing, "trailing", 0, "Instruction bytes after a rip operand")
	cmd.Flags().IntVar(&context, "context", 16, "Bytes of context around each match")
	cmd.Flags().IntVar(&limit, "limit", 32, "Stop after this many matches, 0 for all")
	return cmd
}

func printMatch(cmd *cobra.Command, mem process.Memory, p pattern.Pattern, match process.Address, context int) {
	if p.Offset() != 0 || p.Mode() != pattern.ResolveNone {
		if addr, err := p.Resolve(mem, match); err == nil {
			cmd.Printf("Match at %s -> %s\n", match, addr)
		} else {
			cmd.Printf("Match at %s (resolve failed: %v)\n", match, err)
		}
	} else {
		cmd.Printf("Match at %s\n", match)
	}

	start := match.Add(-int64(context))
	if start > match {
		start = 0
	}
	size := process.Size(context*2 + p.Len())

	data, err := mem.ReadMemory(start, size)
	if err != nil {
		// context may run off the region; fall back to the match alone
		start = match
		if data, err = mem.ReadMemory(match, process.Size(p.Len())); err != nil {
			return
		}
	}
	fmt.Fprint(cmd.OutOrStdout(), hexdump.Around(data, uint64(start), uint64(match), p, context, dumpOptions()))
}
