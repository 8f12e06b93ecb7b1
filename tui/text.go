package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleColor     = lipgloss.AdaptiveColor{Light: "#5B2A86", Dark: "#C9A0FF"}
	amountColor    = lipgloss.AdaptiveColor{Light: "#8A6D00", Dark: "#FFD54A"}
	mutedColor     = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#999999"}
	warningColor   = lipgloss.AdaptiveColor{Light: "#C46A00", Dark: "#FFA500"}
	highlightColor = lipgloss.AdaptiveColor{Light: "#00787A", Dark: "#00FFFF"}
)

func render(style lipgloss.Style, text string) string {
	if !HasTTY {
		return text
	}
	return style.Render(text)
}

func Title(text string) string {
	return render(lipgloss.NewStyle().Bold(true).Foreground(titleColor), text)
}

// Amount styles a token count.
func Amount(text string) string {
	return render(lipgloss.NewStyle().Bold(true).Foreground(amountColor), text)
}

func Muted(text string) string {
	return render(lipgloss.NewStyle().Foreground(mutedColor), text)
}

func Warning(text string) string {
	return render(lipgloss.NewStyle().Foreground(warningColor), text)
}

// Highlight styles a player id or command line.
func Highlight(parts ...string) string {
	return render(lipgloss.NewStyle().Foreground(highlightColor), strings.Join(parts, " "))
}

// MaxWidth shortens text to width cells, ending with an ellipsis.
func MaxWidth(text string, width int) string {
	if width < 4 || lipgloss.Width(text) <= width {
		return text
	}
	runes := []rune(text)
	for len(runes) > 0 && lipgloss.Width(string(runes))+3 > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}
