package timing

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
)

// fakeClock advances only when told to.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeTimer() (*Timer, *fakeClock) {
	c := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewWithClock(c.now), c
}

func TestTimerMark(t *testing.T) {
	timer, clock := newFakeTimer()

	clock.advance(10 * time.Millisecond)
	timer.Mark("orchestrator_init")
	clock.advance(15 * time.Millisecond)
	timer.Mark("vm_start")

	phases := timer.Phases()
	if len(phases) != 2 {
		t.Fatalf("expected 2 phases, got %d", len(phases))
	}
	if phases[0].Name != "orchestrator_init" || phases[0].Duration != 10*time.Millisecond {
		t.Errorf("phase 0 = %+v", phases[0])
	}
	if phases[1].Name != "vm_start" || phases[1].Duration != 15*time.Millisecond {
		t.Errorf("phase 1 = %+v", phases[1])
	}
}

func TestTimerTotal(t *testing.T) {
	timer, clock := newFakeTimer()

	clock.advance(10 * time.Millisecond)
	timer.Mark("a")
	clock.advance(5 * time.Millisecond)

	if got := timer.Total(); got != 15*time.Millisecond {
		t.Errorf("Total() = %v, want 15ms", got)
	}
}

func TestTimerSlowest(t *testing.T) {
	timer, clock := newFakeTimer()
	if _, ok := timer.Slowest(); ok {
		t.Error("Slowest() on empty timer should report false")
	}

	clock.advance(time.Millisecond)
	timer.Mark("fast")
	clock.advance(time.Second)
	timer.Mark("slow")
	clock.advance(2 * time.Millisecond)
	timer.Mark("medium")

	p, ok := timer.Slowest()
	if !ok || p.Name != "slow" {
		t.Errorf("Slowest() = %+v, %v", p, ok)
	}
}

func TestTimerReport(t *testing.T) {
	timer, clock := newFakeTimer()
	clock.advance(250 * time.Microsecond)
	timer.Mark("probe")
	clock.advance(1500 * time.Millisecond)
	timer.Mark("spawn")

	var buf bytes.Buffer
	timer.Report(&buf)
	out := buf.String()

	for _, want := range []string{"Boot Timing", "probe:", "250µs", "spawn:", "1.50s", "TOTAL:"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestTimerEmpty(t *testing.T) {
	timer, _ := newFakeTimer()
	if len(timer.Phases()) != 0 {
		t.Error("new timer should have no phases")
	}

	var buf bytes.Buffer
	timer.Report(&buf)
	if !strings.Contains(buf.String(), "TOTAL:") {
		t.Error("empty report should still show the total")
	}
}

func TestTimerLog(t *testing.T) {
	timer, clock := newFakeTimer()
	clock.advance(3 * time.Millisecond)
	timer.Mark("vm_start")

	var buf bytes.Buffer
	logger := hclog.New(&hclog.LoggerOptions{Output: &buf, Level: hclog.Debug})
	timer.Log(logger)

	out := buf.String()
	if !strings.Contains(out, "boot timing") || !strings.Contains(out, "vm_start=3ms") {
		t.Errorf("log output = %q", out)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Microsecond, "500µs"},
		{50 * time.Millisecond, "50ms"},
		{999 * time.Millisecond, "999ms"},
		{time.Second, "1.00s"},
		{2500 * time.Millisecond, "2.50s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
