package ui

import (
	"fmt"
	"io"
)

// Renderer prints kiosk status lines to the operator terminal. The content
// itself lives in the Chromium window; these lines are the terminal-side
// mirror of what the shell is doing.
type Renderer struct {
	w io.Writer
}

func NewRenderer(w io.Writer) *Renderer {
	if !ShouldUseColor() {
		ForceNoColor()
	}
	return &Renderer{w: w}
}

// Raw-mode terminals need explicit carriage returns.
func (r *Renderer) line(s string) {
	fmt.Fprintf(r.w, "%s\r\n", s)
}

func (r *Renderer) Gated() {
	r.line(RenderMuted("waiting for ad gate..."))
}

func (r *Renderer) Loading(url string) {
	r.line(RenderMuted("loading ") + RenderAccent(url))
}

func (r *Renderer) Ready(url string, canGoBack bool) {
	hint := "back exits"
	if canGoBack {
		hint = "back navigates"
	}
	r.line(RenderAccent(url) + RenderMuted("  ("+hint+", r refreshes)"))
}

func (r *Renderer) LoadError(reason string) {
	r.line(RenderWarn("page failed to load") + RenderMuted("  "+reason))
}

func (r *Renderer) Offline() {
	r.line(RenderWarn("no internet connection") + RenderMuted("  press r to retry"))
}

func (r *Renderer) Exiting() {
	r.line(RenderMuted("kiosk shutting down"))
}
