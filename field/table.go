package field

import (
	"fmt"
	"io"
	"strings"
)

// FormatFunc colors a cell value for display.
type FormatFunc func(value string) string

// ColumnSpec describes one table column.
type ColumnSpec struct {
	Header     string
	BlankValue string
	FormatFunc FormatFunc
	MinWidth   int
}

// Table lays out rows in aligned columns. Widths ignore ANSI escapes.
type Table struct {
	columns []ColumnSpec
	rows    [][]string
	widths  []int
}

// NewTable creates a table with the given columns. Empty cells show "-"
// unless the column sets its own BlankValue.
func NewTable(cols ...ColumnSpec) *Table {
	t := &Table{
		columns: cols,
		widths:  make([]int, len(cols)),
	}
	for i := range t.columns {
		if t.columns[i].BlankValue == "" {
			t.columns[i].BlankValue = "-"
		}
		t.widths[i] = max(t.columns[i].MinWidth, len(t.columns[i].Header))
	}
	return t
}

// AddRow appends a row; missing trailing cells are blank.
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.columns))
	for i := range row {
		if i < len(cells) && cells[i] != "" {
			row[i] = cells[i]
		} else {
			row[i] = t.columns[i].BlankValue
		}
		t.widths[i] = max(t.widths[i], visibleLength(row[i]))
	}
	t.rows = append(t.rows, row)
}

// Len is the number of rows added.
func (t *Table) Len() int { return len(t.rows) }

// Render writes the header, a rule and every row.
func (t *Table) Render(w io.Writer) error {
	line := make([]string, len(t.columns))

	for i, col := range t.columns {
		line[i] = pad(col.Header, t.widths[i])
	}
	if _, err := fmt.Fprintln(w, strings.TrimRight(strings.Join(line, " "), " ")); err != nil {
		return err
	}

	for i := range t.columns {
		line[i] = strings.Repeat("-", t.widths[i])
	}
	if _, err := fmt.Fprintln(w, strings.Join(line, " ")); err != nil {
		return err
	}

	for _, row := range t.rows {
		for i, val := range row {
			if f := t.columns[i].FormatFunc; f != nil {
				val = f(val)
			}
			line[i] = pad(val, t.widths[i])
		}
		if _, err := fmt.Fprintln(w, strings.TrimRight(strings.Join(line, " "), " ")); err != nil {
			return err
		}
	}
	return nil
}

func pad(s string, width int) string {
	n := visibleLength(s)
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}

func visibleLength(s string) int {
	n := 0
	escape := false
	for _, r := range s {
		switch {
		case r == '\033':
			escape = true
		case escape:
			if r == 'm' {
				escape = false
			}
		default:
			n++
		}
	}
	return n
}
