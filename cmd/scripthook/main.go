// Command scripthook inspects a host process or an offline dump of one:
// signature scans, configured pattern resolution, the native table, field
// discovery and dumps.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
