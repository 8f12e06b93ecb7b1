// Package tui renders launcherctl output. Styling is dropped when stdout is
// not a terminal.
package tui

import (
	"os"

	"github.com/mattn/go-isatty"
)

// HasTTY reports whether stdout is an interactive terminal.
var HasTTY = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
