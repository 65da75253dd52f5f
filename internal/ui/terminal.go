package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// ShouldUseColor decides whether styled output is appropriate, honoring the
// conventional environment switches:
//
//	NO_COLOR          set (any value) disables color, highest precedence
//	CLICOLOR=0        disables color
//	CLICOLOR_FORCE    non-zero enables color even without a TTY
//
// Otherwise color follows stdout being a terminal.
func ShouldUseColor() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}
	if v := os.Getenv("CLICOLOR_FORCE"); v != "" && v != "0" {
		return true
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// IsInteractive reports whether stdin and stdout are both terminals, which
// gates confirmation prompts.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// Init applies the color decision to the lipgloss renderer. Called once from
// the CLI root before any output.
func Init() {
	if !ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// TerminalWidth returns the stdout width, or the fallback when stdout is not
// a terminal.
func TerminalWidth(fallback int) int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return fallback
}
