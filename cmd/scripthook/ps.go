package main

import (
	"fmt"
	"strings"

	"scripthook/field"

	"github.com/spf13/cobra"
)

func newPsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ps [name-regexp]",
		Short: "List processes that can be attached to",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			finder, err := processFinder()
			if err != nil {
				return err
			}
			expr := "."
			if len(args) == 1 {
				expr = args[0]
			}
			procs, err := finder.FindProcessByNamePattern(expr)
			if err != nil {
				return err
			}

			table := field.NewTable(
				field.ColumnSpec{Header: "PID"},
				field.ColumnSpec{Header: "Name"},
				field.ColumnSpec{Header: "State"},
				field.ColumnSpec{Header: "Threads"},
				field.ColumnSpec{Header: "Command"},
			)
			for _, p := range procs {
				if !p.State.Attachable() {
					continue
				}
				table.AddRow(fmt.Sprint(p.PID), p.Name, string(p.State), fmt.Sprint(p.Threads), strings.Join(p.Cmdline, " "))
			}
			return table.Render(cmd.OutOrStdout())
		},
	}
}
