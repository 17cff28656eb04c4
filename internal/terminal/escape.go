package terminal

import (
	"io"
	"sync"
	"time"
)

const (
	// EscapeChar is Ctrl+] (0x1D).
	EscapeChar = 0x1D

	// EscapeCount is the number of consecutive escape chars needed.
	EscapeCount = 2

	// EscapeTimeout is the maximum time between escape key presses.
	EscapeTimeout = 500 * time.Millisecond
)

// EscapeReader wraps an io.Reader and detects the detach sequence.
// When EscapeCount consecutive EscapeChar bytes arrive within
// EscapeTimeout of each other, Escaped is closed and Read returns io.EOF.
// Escape chars that do not complete a sequence are passed through.
type EscapeReader struct {
	r           io.Reader
	escaped     chan struct{}
	escapedOnce sync.Once
	now         func() time.Time

	buf        []byte
	out        []byte // filtered bytes not yet returned
	held       int    // escape chars held back
	lastEscape time.Time
	err        error
}

// NewEscapeReader creates an EscapeReader wrapping the given reader.
func NewEscapeReader(r io.Reader) *EscapeReader {
	return &EscapeReader{
		r:       r,
		escaped: make(chan struct{}),
		now:     time.Now,
	}
}

// Escaped returns a channel that is closed when the escape sequence is detected.
func (e *EscapeReader) Escaped() <-chan struct{} {
	return e.escaped
}

// Read returns filtered input. Bytes read before a completed escape
// sequence are delivered first; later reads return io.EOF.
func (e *EscapeReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(e.out) == 0 && e.err == nil {
		e.fill(len(p))
	}
	if len(e.out) == 0 {
		return 0, e.err
	}
	n := copy(p, e.out)
	e.out = e.out[n:]
	return n, nil
}

func (e *EscapeReader) fill(size int) {
	if cap(e.buf) < size {
		e.buf = make([]byte, size)
	}
	n, err := e.r.Read(e.buf[:size])

	for _, b := range e.buf[:n] {
		if b != EscapeChar {
			e.flushHeld()
			e.out = append(e.out, b)
			continue
		}

		now := e.now()
		if e.held > 0 && now.Sub(e.lastEscape) > EscapeTimeout {
			e.flushHeld()
		}
		e.held++
		e.lastEscape = now

		if e.held >= EscapeCount {
			e.held = 0
			e.err = io.EOF
			e.escapedOnce.Do(func() { close(e.escaped) })
			return
		}
	}

	if err != nil {
		e.flushHeld()
		e.err = err
	}
}

func (e *EscapeReader) flushHeld() {
	for ; e.held > 0; e.held-- {
		e.out = append(e.out, EscapeChar)
	}
}
