package main

import (
	"fmt"
	"strconv"

	"scripthook/field"
	"scripthook/process"

	"github.com/spf13/cobra"
)

var scalarTypes = "int8, int16, int32, int64, uint8, uint16, uint32, uint64, float32, float64, bool"

func newFieldCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "field",
		Short: "Read fields and discover offsets inside host structures",
	}
	cmd.AddCommand(newFieldReadCmd())
	cmd.AddCommand(newFieldSearchCmd())
	cmd.AddCommand(newFieldOperandCmd())
	return cmd
}

func newFieldReadCmd() *cobra.Command {
	var (
		typ  string
		path string
	)

	cmd := &cobra.Command{
		Use:   "read <address>",
		Short: "Read a typed value, optionally through a pointer path",
		Example: `  scripthook field read 7FF6A1B2C3D0 --path 8,2C0 --type float32
  (reads the pointer stored at address+8, then the value at that pointer+2C0)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			offsets, err := parseOffsets(path)
			if err != nil {
				return err
			}

			mem, closeTarget, err := openTarget()
			if err != nil {
				return err
			}
			defer closeTarget()

			addr, err := process.ResolvePath(mem, base, offsets...)
			if err != nil {
				return err
			}

			value, err := readScalar(mem, addr, typ)
			if err != nil {
				return err
			}
			cmd.Printf("%s %s = %s\n", addr, typ, value)
			return nil
		},
	}

	cmd.Flags().StringVar(&typ, "type", "int32", "Value type: "+scalarTypes)
	cmd.Flags().StringVar(&path, "path", "", "Comma separated hex offsets; all but the last are dereferenced")
	return cmd
}

func newFieldSearchCmd() *cobra.Command {
	var (
		typ       string
		value     string
		depth     int
		size      uint
		alignment uint
	)

	cmd := &cobra.Command{
		Use:   "search <address>",
		Short: "Find the offsets at which a known value lives",
		Long: `Search scans the structure at address for the value and follows pointer
fields up to --depth levels, printing each offset path that leads to it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			want, err := searchValue(typ, value)
			if err != nil {
				return err
			}

			mem, closeTarget, err := openTarget()
			if err != nil {
				return err
			}
			defer closeTarget()

			results, err := field.Search(mem, base, want,
				field.WithMaxDepth(depth),
				field.WithMaxStructSize(size),
				field.WithMinAlignment(alignment),
			)
			if err != nil {
				return err
			}
			for _, r := range results {
				cmd.Println(r.String())
			}
			cmd.Printf("%d paths\n", len(results))
			return nil
		},
	}

	cmd.Flags().StringVar(&typ, "type", "int32", "Value type: "+scalarTypes)
	cmd.Flags().StringVar(&value, "value", "", "Value to look for")
	cmd.Flags().IntVar(&depth, "depth", 2, "Pointer levels to follow")
	cmd.Flags().UintVar(&size, "size", 0x400, "Bytes to scan per structure")
	cmd.Flags().UintVar(&alignment, "align", 4, "Offset alignment")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func newFieldOperandCmd() *cobra.Command {
	var width int

	cmd := &cobra.Command{
		Use:   "operand <address>",
		Short: "Decode the field offset from the displacement of the instruction at address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}

			mem, closeTarget, err := openTarget()
			if err != nil {
				return err
			}
			defer closeTarget()

			loc, err := field.FromOperand(mem, addr, width)
			if err != nil {
				return err
			}
			cmd.Printf("offset %+#x\n", loc.Offset)
			return nil
		},
	}

	cmd.Flags().IntVar(&width, "width", 4, "Displacement width in bytes: 1, 2, 4 or 8")
	return cmd
}

func readScalar(mem process.Memory, addr process.Address, typ string) (string, error) {
	switch typ {
	case "int8":
		return get[int8](mem, addr)
	case "int16":
		return get[int16](mem, addr)
	case "int32":
		return get[int32](mem, addr)
	case "int64":
		return get[int64](mem, addr)
	case "uint8":
		return get[uint8](mem, addr)
	case "uint16":
		return get[uint16](mem, addr)
	case "uint32":
		return get[uint32](mem, addr)
	case "uint64":
		return get[uint64](mem, addr)
	case "float32":
		return get[float32](mem, addr)
	case "float64":
		return get[float64](mem, addr)
	case "bool":
		return get[bool](mem, addr)
	}
	return "", fmt.Errorf("unknown type %q, want one of %s", typ, scalarTypes)
}

func get[T field.Scalar](mem process.Memory, addr process.Address) (string, error) {
	v, err := field.New[T](mem, addr, 0, field.Static).Get()
	if err != nil {
		return "", err
	}
	return fmt.Sprint(v), nil
}

func searchValue(typ, s string) (field.SearchOption, error) {
	switch typ {
	case "int8", "int16", "int32", "int64":
		bits, _ := strconv.Atoi(typ[3:])
		v, err := strconv.ParseInt(s, 0, bits)
		if err != nil {
			return nil, err
		}
		switch bits {
		case 8:
			return field.WithValue(int8(v)), nil
		case 16:
			return field.WithValue(int16(v)), nil
		case 32:
			return field.WithValue(int32(v)), nil
		}
		return field.WithValue(v), nil
	case "uint8", "uint16", "uint32", "uint64":
		bits, _ := strconv.Atoi(typ[4:])
		v, err := strconv.ParseUint(s, 0, bits)
		if err != nil {
			return nil, err
		}
		switch bits {
		case 8:
			return field.WithValue(uint8(v)), nil
		case 16:
			return field.WithValue(uint16(v)), nil
		case 32:
			return field.WithValue(uint32(v)), nil
		}
		return field.WithValue(v), nil
	case "float32":
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return nil, err
		}
		return field.WithValue(float32(v)), nil
	case "float64":
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		return field.WithValue(v), nil
	case "bool":
		v, err := strconv.ParseBool(s)
		if err != nil {
			return nil, err
		}
		return field.WithValue(v), nil
	}
	return nil, fmt.Errorf("unknown type %q, want one of %s", typ, scalarTypes)
}
