package field

import (
	"fmt"
	"io"
	"reflect"
	"strings"

	"scripthook/process"

	"github.com/Moonlight-Companies/gologger/coloransi"
)

// pointers below this are treated as small integers, not addresses
const minPointer = 0x10000

// Print writes a field table of a struct read from host memory: name, byte
// offset, value and, for pointer-sized integers, whether the value points
// into mapped memory. Fields whose name contains "Flags" get one row per set
// bit.
func Print(w io.Writer, v any, mem process.Memory, color bool) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			_, err := fmt.Fprintln(w, "<nil>")
			return err
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return fmt.Errorf("print %s: %w", rv.Kind(), ErrNotPOD)
	}
	rt := rv.Type()

	paint := func(c coloransi.ColorCode) FormatFunc {
		return func(s string) string {
			if !color {
				return s
			}
			return coloransi.Foreground(c, s)
		}
	}
	ptrColor := func(s string) string {
		switch {
		case !color:
			return s
		case strings.HasSuffix(s, " ok"):
			return coloransi.Foreground(coloransi.ColorLimeGreen, s)
		case strings.HasSuffix(s, " bad"):
			return coloransi.Foreground(coloransi.BrightRed, s)
		}
		return s
	}

	table := NewTable(
		ColumnSpec{Header: "Field", MinWidth: 8},
		ColumnSpec{Header: "Offset", MinWidth: 6, FormatFunc: paint(coloransi.Cyan)},
		ColumnSpec{Header: "Value", MinWidth: 6, FormatFunc: paint(coloransi.ColorLimeGreen)},
		ColumnSpec{Header: "AsPtr", FormatFunc: ptrColor},
		ColumnSpec{Header: "Tags"},
	)

	asPtr := func(fv reflect.Value) string {
		if fv.Kind() != reflect.Uint64 && fv.Kind() != reflect.Uintptr {
			return ""
		}
		addr := fv.Uint()
		if addr < minPointer {
			return ""
		}
		if mem != nil && mem.IsValidAddress(process.Address(addr)) {
			return fmt.Sprintf("0x%X ok", addr)
		}
		return fmt.Sprintf("0x%X bad", addr)
	}

	for i := range rt.NumField() {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		fv := rv.Field(i)
		tag := sf.Tag.Get("pod")
		offset := fmt.Sprintf("0x%04X", sf.Offset)

		if fv.Kind() == reflect.Array {
			printArray(table, sf, fv)
			continue
		}

		table.AddRow(sf.Name, offset, formatValue(fv, tag), asPtr(fv), tag)
		if strings.Contains(sf.Name, "Flags") {
			flagRows(table, fv)
		}
	}

	if _, err := fmt.Fprintf(w, "=== %s (0x%X bytes) ===\n", rt.Name(), rt.Size()); err != nil {
		return err
	}
	return table.Render(w)
}

func formatValue(fv reflect.Value, tag string) string {
	switch fv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := fv.Uint()
		if strings.Contains(tag, "pointer") {
			return fmt.Sprintf("0x%016X", u)
		}
		return withStringer(fv, fmt.Sprintf("%d (0x%X)", u, u))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := fv.Int()
		return withStringer(fv, fmt.Sprintf("%d (0x%X)", n, n))
	case reflect.Float32, reflect.Float64:
		return fmt.Sprintf("%g", fv.Float())
	case reflect.Bool:
		return fmt.Sprintf("%v", fv.Bool())
	case reflect.Struct:
		return fmt.Sprintf("{%s}", fv.Type())
	}
	return fmt.Sprintf("%v", fv.Interface())
}

func withStringer(fv reflect.Value, raw string) string {
	if !fv.CanInterface() {
		return raw
	}
	if s, ok := fv.Interface().(fmt.Stringer); ok {
		if str := s.String(); str != "" {
			return raw + " :: " + str
		}
	}
	return raw
}

func printArray(table *Table, sf reflect.StructField, fv reflect.Value) {
	tag := sf.Tag.Get("pod")
	elem := fv.Type().Elem()
	offset := fmt.Sprintf("0x%04X", sf.Offset)

	if elem.Kind() == reflect.Uint8 && strings.Contains(tag, "char_array") {
		b := make([]byte, fv.Len())
		reflect.Copy(reflect.ValueOf(b), fv)
		table.AddRow(sf.Name, offset, fmt.Sprintf("%q", CString(b)), "", tag)
		return
	}

	table.AddRow(sf.Name, offset, fmt.Sprintf("[%d]%s", fv.Len(), elem), "", tag)
	for j := range fv.Len() {
		table.AddRow(
			fmt.Sprintf("  %s[%d]", sf.Name, j),
			fmt.Sprintf("+0x%X", uintptr(j)*elem.Size()),
			formatValue(fv.Index(j), ""),
		)
	}
}

func flagRows(table *Table, fv reflect.Value) {
	var bits uint64
	switch fv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		bits = uint64(fv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		bits = fv.Uint()
	default:
		return
	}
	width := fv.Type().Bits()
	if width < 64 {
		bits &= 1<<width - 1
	}
	for b := range width {
		if bits&(1<<b) != 0 {
			table.AddRow("", fmt.Sprintf("0x%0*X", (width+3)/4, uint64(1)<<b), fmt.Sprintf("bit %d", b))
		}
	}
}
