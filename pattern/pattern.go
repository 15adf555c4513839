// Package pattern locates code and data inside the host image from byte
// signatures with wildcard positions.
//
// Signatures are authored against a specific build of the host. A build
// mismatch shows up as zero matches (ErrPatternNotFound), which callers treat
// separately from a match that later proves semantically wrong.
package pattern

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrPatternNotFound is returned when a signature has no match.
	ErrPatternNotFound = errors.New("pattern not found")

	// ErrInvalidPattern is returned for malformed signature text.
	ErrInvalidPattern = errors.New("invalid pattern")
)

// ResolveMode selects how a match is turned into the final address.
type ResolveMode int

const (
	// ResolveNone uses match+Offset as is.
	ResolveNone ResolveMode = iota
	// ResolveRIP reads a signed 32-bit displacement at match+Offset and
	// resolves it relative to the end of the instruction.
	ResolveRIP
	// ResolvePointer dereferences a host pointer stored at match+Offset.
	ResolvePointer
)

func (m ResolveMode) String() string {
	switch m {
	case ResolveNone:
		return "none"
	case ResolveRIP:
		return "rip"
	case ResolvePointer:
		return "pointer"
	}
	return fmt.Sprintf("ResolveMode(%d)", int(m))
}

// ParseResolveMode accepts the names produced by ResolveMode.String.
func ParseResolveMode(s string) (ResolveMode, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return ResolveNone, nil
	case "rip":
		return ResolveRIP, nil
	case "pointer", "ptr":
		return ResolvePointer, nil
	}
	return ResolveNone, fmt.Errorf("unknown resolve mode %q: %w", s, ErrInvalidPattern)
}

// Pattern is an immutable byte signature plus the displacement and resolve
// mode applied after a match.
type Pattern struct {
	values   []byte
	exact    []bool
	offset   int64
	mode     ResolveMode
	trailing int64
}

// Option adjusts how a match resolves.
type Option func(*Pattern)

// WithOffset sets the displacement added to a match before resolving.
func WithOffset(offset int64) Option {
	return func(p *Pattern) {
		p.offset = offset
	}
}

// WithRIP resolves a rel32 operand. trailing counts the instruction bytes
// that follow the 4-byte displacement (e.g. an imm8).
func WithRIP(trailing int64) Option {
	return func(p *Pattern) {
		p.mode = ResolveRIP
		p.trailing = trailing
	}
}

// WithPointer dereferences the pointer stored at the displaced match.
func WithPointer() Option {
	return func(p *Pattern) {
		p.mode = ResolvePointer
	}
}

// Parse reads a signature such as "48 8B 05 ?? ?? ?? ?? 48 85 C0".
// Bytes are separated by spaces or commas; "?" and "??" are wildcards.
func Parse(sig string, opts ...Option) (Pattern, error) {
	parts := strings.FieldsFunc(sig, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(parts) == 0 {
		return Pattern{}, fmt.Errorf("empty signature: %w", ErrInvalidPattern)
	}

	p := Pattern{
		values: make([]byte, len(parts)),
		exact:  make([]bool, len(parts)),
	}

	for i, part := range parts {
		if part == "??" || part == "?" {
			continue
		}

		val, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return Pattern{}, fmt.Errorf("invalid hex byte %q at position %d: %w", part, i, ErrInvalidPattern)
		}
		p.values[i] = byte(val)
		p.exact[i] = true
	}

	for _, opt := range opts {
		opt(&p)
	}

	return p, nil
}

// MustParse is Parse for signatures compiled into the program.
func MustParse(sig string, opts ...Option) Pattern {
	p, err := Parse(sig, opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// FromBytes builds an exact pattern with no wildcards.
func FromBytes(b []byte, opts ...Option) Pattern {
	p := Pattern{
		values: append([]byte(nil), b...),
		exact:  make([]bool, len(b)),
	}
	for i := range p.exact {
		p.exact[i] = true
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// Len is the signature length in bytes.
func (p Pattern) Len() int {
	return len(p.values)
}

// Offset is the displacement applied after a match.
func (p Pattern) Offset() int64 {
	return p.offset
}

// Mode is the resolve mode applied after the displacement.
func (p Pattern) Mode() ResolveMode {
	return p.mode
}

// Wildcard reports whether position i matches any byte.
func (p Pattern) Wildcard(i int) bool {
	return !p.exact[i]
}

// Byte returns the expected value at position i (zero for wildcards).
func (p Pattern) Byte(i int) byte {
	return p.values[i]
}

// MatchAt reports whether data starts with the pattern.
func (p Pattern) MatchAt(data []byte) bool {
	if len(data) < len(p.values) {
		return false
	}
	for j, want := range p.values {
		if p.exact[j] && data[j] != want {
			return false
		}
	}
	return true
}

func (p Pattern) String() string {
	var sb strings.Builder
	for i, v := range p.values {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if !p.exact[i] {
			sb.WriteString("??")
			continue
		}
		fmt.Fprintf(&sb, "%02X", v)
	}
	return sb.String()
}
