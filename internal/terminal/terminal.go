// Package terminal attaches the user's terminal to an emulator monitor.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// ErrEscapeSequence is returned when the user triggers the escape sequence.
var ErrEscapeSequence = errors.New("escape sequence detected")

// Console wraps the process's standard streams.
type Console struct {
	stdin  *os.File
	stdout io.Writer
	fd     int
}

// Current returns the current console.
func Current() *Console {
	return &Console{
		stdin:  os.Stdin,
		stdout: os.Stdout,
		fd:     int(os.Stdin.Fd()),
	}
}

// IsTTY returns true if stdin is a terminal.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// IsTerminal reports whether f is a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// SetRaw puts the terminal into raw mode and returns restore function.
func (c *Console) SetRaw() (func(), error) {
	oldState, err := term.MakeRaw(c.fd)
	if err != nil {
		return nil, err
	}
	return func() {
		term.Restore(c.fd, oldState)
	}, nil
}

// Attach copies stdin to monIn and monOut to stdout until ctx is
// cancelled, the escape sequence is typed, or monOut ends. On a terminal
// the console is switched to raw mode for the duration.
// Returns ErrEscapeSequence if the user triggers the escape sequence (Ctrl+] twice).
func (c *Console) Attach(ctx context.Context, monIn io.Writer, monOut io.Reader) error {
	newline := "\n"
	if term.IsTerminal(c.fd) {
		restore, err := c.SetRaw()
		if err != nil {
			return err
		}
		defer restore()
		newline = "\r\n"
	}

	fmt.Fprintf(c.stdout, "Connected to monitor. Escape sequence: Ctrl+] Ctrl+]%s", newline)

	escapeReader := NewEscapeReader(c.stdin)

	// stdin -> monitor. This goroutine stays blocked in Read until the
	// next keypress after detach; the process is exiting by then.
	go io.Copy(monIn, escapeReader)

	outDone := make(chan struct{})
	go func() {
		defer close(outDone)
		io.Copy(c.stdout, monOut)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-escapeReader.Escaped():
		fmt.Fprintf(c.stdout, "%sDetached from monitor.%s", newline, newline)
		return ErrEscapeSequence
	case <-outDone:
		return nil
	}
}
