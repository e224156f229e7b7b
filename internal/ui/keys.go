package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

// KeyReader turns terminal keystrokes into the kiosk's two hardware-style
// controls: back (Esc, Backspace or 'b') and refresh ('r'). It also answers
// the exit confirmation prompt by stealing the next keystroke.
//
// The reader puts the terminal into raw mode while running; Stop restores it.
type KeyReader struct {
	in  *os.File
	out io.Writer

	back    chan struct{}
	refresh chan struct{}
	confirm chan byte

	mu      sync.Mutex
	armed   bool // next keystroke answers the confirmation prompt
	stopped bool

	restore func()
}

// NewKeyReader creates a reader over in (typically os.Stdin) writing prompts
// to out (typically os.Stderr).
func NewKeyReader(in *os.File, out io.Writer) *KeyReader {
	return &KeyReader{
		in:      in,
		out:     out,
		back:    make(chan struct{}, 4),
		refresh: make(chan struct{}, 4),
		confirm: make(chan byte, 1),
	}
}

// Back delivers one value per back-control press.
func (k *KeyReader) Back() <-chan struct{} { return k.back }

// Refresh delivers one value per refresh press.
func (k *KeyReader) Refresh() <-chan struct{} { return k.refresh }

// Start switches the terminal to raw mode (when in is a TTY) and begins
// reading keystrokes on a background goroutine.
func (k *KeyReader) Start() error {
	fd := int(k.in.Fd())
	if term.IsTerminal(fd) {
		old, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("ui: raw mode: %w", err)
		}
		k.restore = func() { _ = term.Restore(fd, old) }
	}
	go k.loop()
	return nil
}

// Stop restores the terminal. The read goroutine exits on the next keystroke
// or on stdin EOF; a read blocked on a silent TTY cannot be interrupted, so
// Stop does not wait for it.
func (k *KeyReader) Stop() {
	k.mu.Lock()
	k.stopped = true
	restore := k.restore
	k.restore = nil
	k.mu.Unlock()
	if restore != nil {
		restore()
	}
}

func (k *KeyReader) loop() {
	var buf [1]byte
	for {
		n, err := k.in.Read(buf[:])
		if err != nil {
			return
		}
		k.mu.Lock()
		stopped := k.stopped
		armed := k.armed
		if armed {
			k.armed = false
		}
		k.mu.Unlock()
		if stopped {
			return
		}
		if n == 0 {
			continue
		}

		b := buf[0]
		if armed {
			select {
			case k.confirm <- b:
			default:
			}
			continue
		}

		switch b {
		case 0x1b, 0x7f, 'b', 'B': // Esc, Backspace
			notify(k.back)
		case 'r', 'R':
			notify(k.refresh)
		}
	}
}

// ConfirmExit shows a blocking y/N prompt and reports whether the user chose
// to exit. An unanswered prompt times out to "no" so an abandoned kiosk
// returns to its content.
func (k *KeyReader) ConfirmExit() bool {
	k.mu.Lock()
	k.armed = true
	k.mu.Unlock()

	fmt.Fprintf(k.out, "\r\n%s ", RenderWarn("Exit kiosk? [y/N]"))

	select {
	case b := <-k.confirm:
		fmt.Fprintf(k.out, "\r\n")
		return b == 'y' || b == 'Y'
	case <-time.After(15 * time.Second):
		k.mu.Lock()
		k.armed = false
		k.mu.Unlock()
		fmt.Fprintf(k.out, "\r\n")
		return false
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
