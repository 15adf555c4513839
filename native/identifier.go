// Package native calls host functions by 64-bit identifier through the host's
// own registration table and its slot-array calling convention.
//
// Nothing here can check that the argument and result kinds passed to Invoke
// match what the host function expects. A mismatch silently yields garbage.
package native

import (
	"fmt"
	"strconv"
)

// Identifier is the hash a host function is registered under.
type Identifier uint64

func (id Identifier) String() string {
	return fmt.Sprintf("0x%016X", uint64(id))
}

// ParseIdentifier accepts decimal or 0x-prefixed hex.
func ParseIdentifier(s string) (Identifier, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("native identifier %q: %w", s, err)
	}
	return Identifier(v), nil
}
