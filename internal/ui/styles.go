// Package ui renders short pieces of CLI output with ANSI colors.
package ui

import "fmt"

// ANSI256 palette.
const (
	colorAccent = 74  // blue
	colorCmd    = 250 // light gray
	colorMuted  = 245 // medium gray
	colorOK     = 114 // green
	colorFail   = 203 // red
)

var noColor bool

func paint(color int, s string) string {
	if noColor || s == "" {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", color, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderCommand returns s styled as a command name.
func RenderCommand(s string) string { return paint(colorCmd, s) }

// RenderStatus colors a health status: green when ok, red otherwise.
func RenderStatus(status string) string {
	if status == "ok" {
		return paint(colorOK, status)
	}
	return paint(colorFail, status)
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
