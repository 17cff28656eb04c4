package vm

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/javanstorm/qvmctl/internal/testutil"
)

func TestReconcilerRunsAfterStart(t *testing.T) {
	var runs atomic.Int32
	r, err := newReconciler(time.Second, func() { runs.Add(1) }, hclog.NewNullLogger())
	if err != nil {
		t.Fatalf("newReconciler() error = %v", err)
	}
	if r.Active() {
		t.Error("reconciler active before Start")
	}

	r.Start()
	r.Start()
	if !r.Active() {
		t.Error("reconciler not active after Start")
	}
	testutil.Eventually(t, 3*time.Second, func() bool { return runs.Load() > 0 }, "job never ran")

	r.Stop(context.Background())
	if r.Active() {
		t.Error("reconciler active after Stop")
	}
	after := runs.Load()
	time.Sleep(1200 * time.Millisecond)
	if runs.Load() != after {
		t.Error("job ran after Stop")
	}

	r.Start()
	if r.Active() {
		t.Error("Start after Stop should be a no-op")
	}
}

func TestReconcilerStopBeforeStart(t *testing.T) {
	r, err := newReconciler(0, func() {}, hclog.NewNullLogger())
	if err != nil {
		t.Fatal(err)
	}
	r.Stop(context.Background())
	r.Stop(context.Background())
	if r.Active() {
		t.Error("reconciler active")
	}
}
