package ui

import "fmt"

// ANSI256 color codes for kiosk status lines.
const (
	colorAccent = 74  // blue
	colorWarn   = 178 // amber
	colorMuted  = 245 // medium gray
)

var noColor bool

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", colorAccent, s)
}

// RenderWarn returns s in the warning (amber) color.
func RenderWarn(s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", colorWarn, s)
}

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", colorMuted, s)
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
