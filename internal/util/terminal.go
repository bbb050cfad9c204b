package util

import (
	"os"

	"golang.org/x/term"
)

// IsTerminal reports whether fd is an interactive terminal, deciding whether
// progress renders as a live bar or as plain log lines.
func IsTerminal(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}

// TerminalWidth returns the current terminal width in columns, or fallback
// when stdout is not a terminal (or its size cannot be read).
func TerminalWidth(fallback int) int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return fallback
	}
	return width
}
