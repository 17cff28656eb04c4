package vm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
)

// DefaultReconcileInterval is the period of the reconciliation pass.
const DefaultReconcileInterval = 5 * time.Second

// Reconciler runs a job on a fixed interval once started. Overlapping
// runs are skipped rather than queued.
type Reconciler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	started bool
	stopped bool
}

func newReconciler(interval time.Duration, job func(), logger hclog.Logger) (*Reconciler, error) {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	cl := cron.PrintfLogger(logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}))
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), job); err != nil {
		return nil, fmt.Errorf("schedule reconciliation: %w", err)
	}
	return &Reconciler{cron: c}, nil
}

// Start begins the schedule. Later calls are no-ops, as are calls after Stop.
func (r *Reconciler) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopped {
		return
	}
	r.started = true
	r.cron.Start()
}

// Active reports whether the schedule is running.
func (r *Reconciler) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started && !r.stopped
}

// Stop cancels the schedule and waits for a running pass to finish or
// ctx to expire.
func (r *Reconciler) Stop(ctx context.Context) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	wasStarted := r.started
	r.mu.Unlock()

	if !wasStarted {
		return
	}
	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
	}
}
