// Package ui styles human-facing output. Colour is used only when the
// destination is a terminal and NO_COLOR is unset.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

var writer io.Writer = os.Stderr

// SetWriter redirects messages from Warn, Error, and Info. nil restores
// stderr.
func SetWriter(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	writer = w
}

var (
	stdoutColor = detectColor(os.Stdout)
	stderrColor = detectColor(os.Stderr)
)

func detectColor(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SetColorEnabled forces colour on or off for both streams.
func SetColorEnabled(enabled bool) {
	stdoutColor = enabled
	stderrColor = enabled
}

// ColorEnabled reports whether stdout is coloured.
func ColorEnabled() bool { return stdoutColor }

func ansi(on bool, code, s string) string {
	if !on || s == "" {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// Bold styles s for stdout.
func Bold(s string) string { return ansi(stdoutColor, "1", s) }

// Dim styles s for stdout.
func Dim(s string) string { return ansi(stdoutColor, "2", s) }

// Green styles s for stdout.
func Green(s string) string { return ansi(stdoutColor, "32", s) }

// Red styles s for stdout.
func Red(s string) string { return ansi(stdoutColor, "31", s) }

// Yellow styles s for stdout.
func Yellow(s string) string { return ansi(stdoutColor, "33", s) }

// Cyan styles s for stdout.
func Cyan(s string) string { return ansi(stdoutColor, "36", s) }

// OKTag is a green check mark.
func OKTag() string { return Green("✓") }

// FailTag is a red cross.
func FailTag() string { return Red("✗") }

// WarnTag is a yellow warning sign.
func WarnTag() string { return Yellow("⚠") }

// EventTag brackets an access kind, e.g. "[WRITE]", coloured by kind.
func EventTag(kind string) string {
	tag := "[" + strings.ToUpper(kind) + "]"
	switch strings.ToLower(kind) {
	case "open":
		return Cyan(tag)
	case "write":
		return Yellow(tag)
	case "close":
		return Green(tag)
	default:
		return tag
	}
}

// Status colours a container state.
func Status(s string) string {
	switch s {
	case "running":
		return Green(s)
	case "exited", "dead":
		return Red(s)
	case "paused", "restarting":
		return Yellow(s)
	default:
		return s
	}
}

// Section writes a bold title with an underline of the same width.
func Section(w io.Writer, title string) {
	fmt.Fprintln(w, Bold(title))
	fmt.Fprintln(w, Dim(strings.Repeat("─", len([]rune(title)))))
}

// Rule writes a dim horizontal line, capped at 72 columns.
func Rule(w io.Writer, width int) {
	fmt.Fprintln(w, Dim(strings.Repeat("─", min(max(width, 1), 72))))
}

func prefixed(code, label, msg string) {
	fmt.Fprintf(writer, "%s %s\n", ansi(stderrColor, code, label), msg)
}

// Warn prints a warning to stderr.
func Warn(msg string) { prefixed("33", "Warning:", msg) }

// Warnf prints a formatted warning to stderr.
func Warnf(format string, args ...any) { Warn(fmt.Sprintf(format, args...)) }

// Error prints an error to stderr.
func Error(msg string) { prefixed("31", "Error:", msg) }

// Errorf prints a formatted error to stderr.
func Errorf(format string, args ...any) { Error(fmt.Sprintf(format, args...)) }

// Info prints an unprefixed message to stderr.
func Info(msg string) { fmt.Fprintln(writer, msg) }

// Infof prints a formatted unprefixed message to stderr.
func Infof(format string, args ...any) { fmt.Fprintf(writer, format+"\n", args...) }
