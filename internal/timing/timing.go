// Package timing measures the phases of a machine start for `run --timing`.
package timing

import (
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Phase is one named, measured step.
type Phase struct {
	Name     string
	Duration time.Duration
}

// Timer records consecutive phases from its creation onward.
type Timer struct {
	now    func() time.Time
	start  time.Time
	last   time.Time
	phases []Phase
}

// New starts a timer on the wall clock.
func New() *Timer {
	return NewWithClock(time.Now)
}

// NewWithClock starts a timer on now.
func NewWithClock(now func() time.Time) *Timer {
	t := now()
	return &Timer{now: now, start: t, last: t}
}

// Mark closes the current phase under name. Its duration runs from the
// previous mark, or from the start for the first one.
func (t *Timer) Mark(name string) {
	at := t.now()
	t.phases = append(t.phases, Phase{Name: name, Duration: at.Sub(t.last)})
	t.last = at
}

// Total is the time elapsed since the timer started.
func (t *Timer) Total() time.Duration {
	return t.now().Sub(t.start)
}

// Phases returns the recorded phases in order.
func (t *Timer) Phases() []Phase {
	return t.phases
}

// Slowest returns the longest phase, or false when none was recorded.
func (t *Timer) Slowest() (Phase, bool) {
	if len(t.phases) == 0 {
		return Phase{}, false
	}
	slowest := t.phases[0]
	for _, p := range t.phases[1:] {
		if p.Duration > slowest.Duration {
			slowest = p
		}
	}
	return slowest, true
}

// Report writes a human-readable table to w.
func (t *Timer) Report(w io.Writer) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Boot Timing ===")
	for _, p := range t.phases {
		fmt.Fprintf(w, "  %-20s %s\n", p.Name+":", formatDuration(p.Duration))
	}
	fmt.Fprintf(w, "  %-20s %s\n", "TOTAL:", formatDuration(t.Total()))
	fmt.Fprintln(w, "===================")
}

// Log emits the phases as one debug record.
func (t *Timer) Log(logger hclog.Logger) {
	args := make([]interface{}, 0, 2*len(t.phases)+2)
	for _, p := range t.phases {
		args = append(args, p.Name, p.Duration)
	}
	args = append(args, "total", t.Total())
	logger.Debug("boot timing", args...)
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}
