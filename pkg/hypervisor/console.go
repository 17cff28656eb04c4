package hypervisor

import (
	"fmt"
	"io"
	"sync"
)

// consoleSink forwards emulator stdout to the attached console, if any.
// Writes never fail, so a detached or stalled reader cannot break the
// copy into the tail buffer once it goes away.
type consoleSink struct {
	mu sync.Mutex
	w  *io.PipeWriter
}

func (c *consoleSink) Write(p []byte) (int, error) {
	c.mu.Lock()
	w := c.w
	c.mu.Unlock()
	if w == nil {
		return len(p), nil
	}

	// Blocks until the console reads or is closed.
	if _, err := w.Write(p); err != nil {
		c.mu.Lock()
		if c.w == w {
			c.w = nil
		}
		c.mu.Unlock()
	}
	return len(p), nil
}

// attach replaces the current reader with a new one.
func (c *consoleSink) attach() *io.PipeReader {
	pr, pw := io.Pipe()
	c.mu.Lock()
	old := c.w
	c.w = pw
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return pr
}

// close ends the attached reader with EOF.
func (c *consoleSink) close() {
	c.mu.Lock()
	w := c.w
	c.w = nil
	c.mu.Unlock()
	if w != nil {
		w.Close()
	}
}

// Console attaches to the monitor of a running machine. Writes to in go
// to the emulator's stdin. out yields stdout produced after the call and
// reaches EOF when the process exits or another console attaches.
// detach releases out; the process keeps running.
func (s *ProcessSupervisor) Console(name string) (in io.Writer, out io.Reader, detach func(), err error) {
	p, ok := s.lookupRunning(name)
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: %q", ErrNotRunning, name)
	}

	pr := p.console.attach()
	s.log.Debug("console attached", "machine", name)
	return p.stdin, pr, func() { pr.Close() }, nil
}
