package main

import (
	"fmt"

	"scripthook/config"
	"scripthook/field"
	"scripthook/pattern"
	"scripthook/process/memory_map"

	"github.com/spf13/cobra"
)

func newResolveCmd() *cobra.Command {
	var noCache bool

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve every configured pattern and report the result",
		Long: `Resolve runs the named patterns from the configuration file the way a
session does at startup. Matches are recorded in the pattern cache, keyed by
the module's build fingerprint, unless --no-cache is given. The command fails
when a required pattern does not resolve.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if len(cfg.Patterns) == 0 {
				return fmt.Errorf("no patterns configured in %s", config.Path(target.config))
			}

			mem, closeTarget, err := openTarget()
			if err != nil {
				return err
			}
			defer closeTarget()

			var opts []pattern.RegistryOption
			if cfg.Cache != "" && !noCache {
				cache, err := pattern.LoadCache(cfg.Cache)
				if err != nil {
					return err
				}
				opts = append(opts, pattern.WithCache(cache))
			}

			reg := pattern.NewRegistry(mem, opts...)
			for _, pc := range cfg.Patterns {
				entry, err := pc.Entry(cfg.Module)
				if err != nil {
					return fmt.Errorf("pattern %q: %w", pc.Name, err)
				}
				if err := reg.Add(entry); err != nil {
					return err
				}
			}
			resolveErr := reg.ResolveAll()

			mm, err := mem.GetMemoryMap()
			if err != nil {
				return err
			}

			table := field.NewTable(
				field.ColumnSpec{Header: "Name"},
				field.ColumnSpec{Header: "Address"},
				field.ColumnSpec{Header: "Module offset"},
				field.ColumnSpec{Header: "Required"},
				field.ColumnSpec{Header: "Status"},
			)
			for _, st := range reg.Status() {
				pc, _ := cfg.Pattern(st.Name)
				module := pc.Module
				if module == "" {
					module = cfg.Module
				}

				addr, rel, status := "", "", "ok"
				if st.Err != nil {
					status = st.Err.Error()
				} else {
					addr = st.Address.String()
					if base, ok := memory_map.ModuleBase(module, mm); ok && uint64(st.Address) >= base {
						rel = fmt.Sprintf("%s+0x%X", module, uint64(st.Address)-base)
					}
				}
				table.AddRow(st.Name, addr, rel, fmt.Sprint(st.Required), status)
			}
			if err := table.Render(cmd.OutOrStdout()); err != nil {
				return err
			}
			return resolveErr
		},
	}

	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Scan every pattern, ignoring and not updating the cache")
	return cmd
}
