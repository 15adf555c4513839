package main

import (
	"scripthook/field"
	"scripthook/native"
	"scripthook/session"

	"github.com/spf13/cobra"
)

func newNativesCmd() *cobra.Command {
	var (
		ids   []string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "natives",
		Short: "List the host's native registration table",
		Long: `Natives locates the registration table through the configured
native_table pattern and lists identifier to handler mappings. With --id only
the given identifiers are looked up.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			mem, closeTarget, err := openTarget()
			if err != nil {
				return err
			}
			defer closeTarget()

			s, err := session.New(mem, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			table := field.NewTable(
				field.ColumnSpec{Header: "Identifier"},
				field.ColumnSpec{Header: "Handler"},
			)

			if len(ids) > 0 {
				for _, text := range ids {
					id, err := native.ParseIdentifier(text)
					if err != nil {
						return err
					}
					addr, err := s.Natives().Resolve(id)
					if err != nil {
						table.AddRow(id.String(), err.Error())
						continue
					}
					table.AddRow(id.String(), addr.String())
				}
				return table.Render(cmd.OutOrStdout())
			}

			total := 0
			for id, addr := range s.Table().All() {
				total++
				if limit > 0 && total > limit {
					continue
				}
				table.AddRow(id.String(), addr.String())
			}
			if err := table.Render(cmd.OutOrStdout()); err != nil {
				return err
			}
			cmd.Printf("%d natives in table at %s\n", total, s.Table().Base())
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&ids, "id", nil, "Identifiers to look up, e.g. 0x9CD27B0045628463 (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Show at most this many entries, 0 for all")
	return cmd
}
