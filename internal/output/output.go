// Package output renders monitor events and check results as a table for
// people or JSON for programs.
package output

import (
	"fmt"
	"strings"
)

// Format selects a rendering.
type Format string

const (
	Table Format = "table"
	JSON  Format = "json"
)

// ParseFormat accepts "table" or "json". "text" is an alias for table.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "table", "text":
		return Table, nil
	case "json":
		return JSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table or json)", s)
	}
}

const placeholder = "-"
