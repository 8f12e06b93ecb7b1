package tui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	bannerStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.AdaptiveColor{Light: "#999999", Dark: "#AAAAAA"})
	bannerTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(titleColor)
)

// Banner writes a boxed block with a title line followed by body.
func Banner(w io.Writer, title string, body string) {
	if !HasTTY {
		fmt.Fprintf(w, "%s\n%s\n", title, body)
		return
	}
	fmt.Fprintln(w, bannerStyle.Render(bannerTitleStyle.Render(title)+"\n\n"+body))
}
