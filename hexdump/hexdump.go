// Package hexdump renders host memory for the command line. Signature
// matches are highlighted byte by byte, with wildcard positions set apart
// from the bytes the signature pins down.
package hexdump

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"unicode"

	"scripthook/pattern"
	"scripthook/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
)

type mark uint8

const (
	unmarked mark = iota
	fixed
	wild
)

// Options controls the layout and coloring of a dump.
type Options struct {
	// BytesPerLine is split in two halves by a divider when it is 8 or more.
	BytesPerLine int

	// StartAddress labels the first byte.
	StartAddress uint64

	// AddressWidth is the width of the address column in hex digits.
	AddressWidth int

	ShowASCII bool

	// MaxLines truncates the dump; 0 shows everything.
	MaxLines int

	// Highlight marks every match of the signature.
	Highlight *pattern.Pattern

	// MemoryMap, when set, annotates aligned words that point into a
	// mapped region.
	MemoryMap []memory_map.MemoryMapItem

	// Color turns ANSI escapes on.
	Color bool

	AddressColor      coloransi.ColorCode
	HexColor          coloransi.ColorCode
	ZeroColor         coloransi.ColorCode
	ASCIIColor        coloransi.ColorCode
	NonPrintableColor coloransi.ColorCode
	PointerColor      coloransi.ColorCode
	MatchColor        coloransi.ColorCode
	WildcardColor     coloransi.ColorCode
	MatchBackground   coloransi.ColorCode
}

// DefaultOptions returns a colored 16 byte wide layout.
func DefaultOptions() Options {
	return Options{
		BytesPerLine:      16,
		AddressWidth:      12,
		ShowASCII:         true,
		Color:             true,
		AddressColor:      coloransi.Cyan,
		HexColor:          coloransi.Green,
		ZeroColor:         coloransi.BrightBlack,
		ASCIIColor:        coloransi.White,
		NonPrintableColor: coloransi.Red,
		PointerColor:      coloransi.Yellow,
		MatchColor:        coloransi.Black,
		WildcardColor:     coloransi.ColorPurple,
		MatchBackground:   coloransi.ColorOrange,
	}
}

// Dump renders data into a string.
func Dump(data []byte, o Options) string {
	var buf bytes.Buffer
	Write(&buf, data, o)
	return buf.String()
}

// Write renders data to w.
func Write(w io.Writer, data []byte, o Options) {
	if o.BytesPerLine <= 0 {
		o.BytesPerLine = 16
	}
	if o.AddressWidth <= 0 {
		o.AddressWidth = 8
	}

	// matches may cross line boundaries, so mark the whole buffer first
	marks := markMatches(data, o.Highlight)

	lines := 0
	for off := 0; off < len(data); off += o.BytesPerLine {
		if o.MaxLines > 0 && lines >= o.MaxLines {
			fmt.Fprintf(w, "... %d more bytes\n", len(data)-off)
			return
		}
		end := min(off+o.BytesPerLine, len(data))
		writeLine(w, data[off:end], marks[off:end], o.StartAddress+uint64(off), o)
		lines++
	}
}

func markMatches(data []byte, p *pattern.Pattern) []mark {
	marks := make([]mark, len(data))
	if p == nil {
		return marks
	}
	for start := range pattern.FindBytes(data, *p) {
		for i := range p.Len() {
			m := fixed
			if p.Wildcard(i) {
				m = wild
			}
			// a pinned byte of one match wins over a wildcard of another
			if marks[start+i] != fixed {
				marks[start+i] = m
			}
		}
	}
	return marks
}

func writeLine(w io.Writer, data []byte, marks []mark, addr uint64, o Options) {
	fmt.Fprint(w, paint(o, o.AddressColor, fmt.Sprintf("%0*x", o.AddressWidth, addr)), "  ")

	half := 0
	if o.BytesPerLine >= 8 {
		half = o.BytesPerLine / 2
	}

	for i := range o.BytesPerLine {
		if i >= len(data) {
			// pad a short last line to full width, divider included
			if i == half {
				fmt.Fprint(w, "     ")
			} else {
				fmt.Fprint(w, "   ")
			}
			continue
		}
		if i > 0 {
			if i == half {
				fmt.Fprint(w, " | ")
			} else {
				fmt.Fprint(w, " ")
			}
		}
		fmt.Fprint(w, hexByte(data[i], marks[i], o))
	}

	if o.ShowASCII {
		fmt.Fprint(w, "  |")
		for i, b := range data {
			if i == half && half > 0 {
				fmt.Fprint(w, " ")
			}
			fmt.Fprint(w, asciiByte(b, marks[i], o))
		}
		fmt.Fprint(w, "|")
	}

	if len(o.MemoryMap) > 0 {
		for i := 0; i+8 <= len(data); i += 8 {
			ptr := binary.LittleEndian.Uint64(data[i:])
			if ptr == 0 {
				continue
			}
			if item := memory_map.Lookup(ptr, o.MemoryMap); item != nil {
				fmt.Fprint(w, " ", paint(o, o.PointerColor, describePointer(ptr, item)))
			}
		}
	}

	fmt.Fprintln(w)
}

func describePointer(ptr uint64, item *memory_map.MemoryMapItem) string {
	if mod := item.Module(); mod != "" {
		return fmt.Sprintf("0x%x(%s+0x%x)", ptr, mod, ptr-item.Address)
	}
	return fmt.Sprintf("0x%x(%s)", ptr, item.Perms)
}

func hexByte(b byte, m mark, o Options) string {
	s := fmt.Sprintf("%02x", b)
	switch m {
	case fixed:
		return highlight(o, o.MatchColor, s)
	case wild:
		return highlight(o, o.WildcardColor, s)
	}
	if b == 0 {
		return paint(o, o.ZeroColor, s)
	}
	return paint(o, o.HexColor, s)
}

func asciiByte(b byte, m mark, o Options) string {
	s := "."
	printable := b < 0x80 && unicode.IsPrint(rune(b))
	if printable {
		s = string(rune(b))
	}
	switch {
	case m == fixed:
		return highlight(o, o.MatchColor, s)
	case m == wild:
		return highlight(o, o.WildcardColor, s)
	case b == 0:
		return paint(o, o.ZeroColor, s)
	case !printable:
		return paint(o, o.NonPrintableColor, s)
	}
	return paint(o, o.ASCIIColor, s)
}

func paint(o Options, c coloransi.ColorCode, s string) string {
	if !o.Color {
		return s
	}
	return coloransi.Foreground(c, s)
}

func highlight(o Options, fg coloransi.ColorCode, s string) string {
	if !o.Color {
		return s
	}
	return coloransi.Color(fg, o.MatchBackground, s)
}

// Around dumps the bytes surrounding a match: context bytes on either side
// of the signature, labeled with host addresses.
func Around(data []byte, base, match uint64, p pattern.Pattern, context int, o Options) string {
	if match < base || match-base > uint64(len(data)) {
		return ""
	}
	at := int(match - base)
	start := max(at-context, 0)
	// line up with the dump grid
	if o.BytesPerLine > 0 {
		start -= start % o.BytesPerLine
	}
	end := min(at+p.Len()+context, len(data))

	o.StartAddress = base + uint64(start)
	o.Highlight = &p
	return Dump(data[start:end], o)
}

// Plain renders data in the default layout without color.
func Plain(data []byte, start uint64) string {
	o := DefaultOptions()
	o.Color = false
	o.StartAddress = start
	return strings.TrimRight(Dump(data, o), "\n")
}
