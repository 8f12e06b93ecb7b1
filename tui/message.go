package tui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#009900", Dark: "#00FF00"})
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#990000", Dark: "#FF0000"})
)

func ShowSuccess(w io.Writer, msg string, args ...any) {
	fmt.Fprintln(w, render(okStyle, " ✓ ")+fmt.Sprintf(msg, args...))
}

func ShowWarning(w io.Writer, msg string, args ...any) {
	fmt.Fprintln(w, render(errorStyle, " ✕ ")+fmt.Sprintf(msg, args...))
}

// Ask prompts for a yes/no answer. Without a terminal it returns
// defaultValue.
func Ask(title string, defaultValue bool) (bool, error) {
	if !HasTTY {
		return defaultValue, nil
	}
	confirm := defaultValue
	if err := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&confirm).
		Run(); err != nil {
		return false, err
	}
	return confirm, nil
}
