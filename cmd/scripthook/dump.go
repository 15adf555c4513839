package main

import (
	"fmt"

	"scripthook/hexdump"
	"scripthook/process"
	"scripthook/process_blob"

	"github.com/spf13/cobra"
)

func newDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Save host memory to disk and inspect it",
	}
	cmd.AddCommand(newDumpSaveCmd())
	cmd.AddCommand(newDumpShowCmd())
	return cmd
}

func newDumpSaveCmd() *cobra.Command {
	var (
		output    string
		maxRegion uint
	)

	cmd := &cobra.Command{
		Use:   "save",
		Short: "Write every readable region, the memory map and process metadata to a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mem, closeTarget, err := openTarget()
			if err != nil {
				return err
			}
			defer closeTarget()

			cmd.Printf("Saving dump to %s...\n", output)

			// backends know their own process name
			if saver, ok := mem.(process.Saver); ok && maxRegion == process_blob.DefaultMaxRegion {
				if err := saver.Save(output); err != nil {
					return err
				}
				cmd.Println("Dump saved successfully.")
				return nil
			}

			pid, name := process.ProcessID(target.pid), target.name
			switch m := mem.(type) {
			case *process_blob.Image:
				pid, name = m.PID, m.Name
			case process.Process:
				pid = m.GetPID()
			}
			if err := process_blob.SaveDump(mem, pid, name, output, maxRegion); err != nil {
				return err
			}
			cmd.Println("Dump saved successfully.")
			return nil
		},
	}

	cmd.Flags().StringVar(&output, "output", "", "Output directory for the dump")
	cmd.Flags().UintVar(&maxRegion, "max-region", process_blob.DefaultMaxRegion, "Skip regions larger than this many bytes")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newDumpShowCmd() *cobra.Command {
	var size uint

	cmd := &cobra.Command{
		Use:   "show [address]",
		Short: "Print the memory map, or a hex dump at address",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mem, closeTarget, err := openTarget()
			if err != nil {
				return err
			}
			defer closeTarget()

			mm, err := mem.GetMemoryMap()
			if err != nil {
				return err
			}

			if len(args) == 0 {
				if img, ok := mem.(*process_blob.Image); ok {
					cmd.Printf("Process Name: %s\n", img.Name)
					cmd.Printf("PID: %d\n", img.PID)
				}
				cmd.Printf("Memory Regions: %d\n\n", len(mm))
				for _, region := range mm {
					cmd.Printf("  %016x - %016x %s %10d %s\n",
						region.Address, region.End(), region.Perms, region.Size, region.Path)
				}
				return nil
			}

			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			data, err := mem.ReadMemory(addr, process.Size(size))
			if err != nil {
				return fmt.Errorf("failed to read memory at %s: %w", addr, err)
			}

			o := dumpOptions()
			o.StartAddress = uint64(addr)
			o.MemoryMap = mm
			hexdump.Write(cmd.OutOrStdout(), data, o)
			return nil
		},
	}

	cmd.Flags().UintVar(&size, "size", 256, "Number of bytes to dump")
	return cmd
}
