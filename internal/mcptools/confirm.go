package mcptools

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const tokenTTL = 5 * time.Minute

type pendingConfirmation struct {
	tool      string
	machine   string
	createdAt time.Time
}

// ConfirmationTracker issues single-use, time-limited tokens that a client
// must echo back before a destructive tool runs.
type ConfirmationTracker struct {
	destructive map[string]struct{}
	now         func() time.Time

	mu     sync.Mutex
	tokens map[string]*pendingConfirmation
}

// NewConfirmationTracker returns a tracker that guards the named tools.
func NewConfirmationTracker(destructiveTools []string) *ConfirmationTracker {
	ct := &ConfirmationTracker{
		destructive: make(map[string]struct{}, len(destructiveTools)),
		now:         time.Now,
		tokens:      make(map[string]*pendingConfirmation),
	}
	for _, tool := range destructiveTools {
		ct.destructive[tool] = struct{}{}
	}
	return ct
}

// NeedsConfirmation reports whether tool is guarded.
func (ct *ConfirmationTracker) NeedsConfirmation(tool string) bool {
	_, ok := ct.destructive[tool]
	return ok
}

// RequestConfirmation creates a token for running tool against machine.
func (ct *ConfirmationTracker) RequestConfirmation(tool, machine string) string {
	token := uuid.NewString()

	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.sweepExpired()
	ct.tokens[token] = &pendingConfirmation{
		tool:      tool,
		machine:   machine,
		createdAt: ct.now(),
	}
	return token
}

// Confirm consumes token and reports whether it was issued for the same
// tool and machine and has not expired.
func (ct *ConfirmationTracker) Confirm(token, tool, machine string) bool {
	if token == "" {
		return false
	}

	ct.mu.Lock()
	defer ct.mu.Unlock()

	pending, ok := ct.tokens[token]
	if !ok {
		return false
	}
	delete(ct.tokens, token)

	if ct.now().Sub(pending.createdAt) > tokenTTL {
		return false
	}
	return pending.tool == tool && pending.machine == machine
}

// sweepExpired drops stale tokens. The caller must hold ct.mu.
func (ct *ConfirmationTracker) sweepExpired() {
	now := ct.now()
	for token, pending := range ct.tokens {
		if now.Sub(pending.createdAt) > tokenTTL {
			delete(ct.tokens, token)
		}
	}
}
