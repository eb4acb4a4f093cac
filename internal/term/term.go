// Package term answers questions about the controlling terminal.
package term

import (
	"os"
	"strconv"

	"golang.org/x/term"
)

// DefaultWidth is used when the width cannot be determined.
const DefaultWidth = 80

// IsTerminal reports whether f is a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// GetSize returns the terminal dimensions, or (0, 0) if f is not a
// terminal.
func GetSize(f *os.File) (width, height int) {
	w, h, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0, 0
	}
	return w, h
}

// Width returns the column count of f. When f is not a terminal it falls
// back to $COLUMNS and then DefaultWidth.
func Width(f *os.File) int {
	if w, _ := GetSize(f); w > 0 {
		return w
	}
	return widthFromEnv(os.Getenv("COLUMNS"))
}

func widthFromEnv(columns string) int {
	if n, err := strconv.Atoi(columns); err == nil && n > 0 {
		return n
	}
	return DefaultWidth
}
