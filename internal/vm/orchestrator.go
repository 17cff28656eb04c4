package vm

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/javanstorm/qvmctl/internal/definition"
	"github.com/javanstorm/qvmctl/internal/ostype"
	"github.com/javanstorm/qvmctl/internal/qemu"
	"github.com/javanstorm/qvmctl/pkg/hypervisor"
)

// Options wires an Orchestrator to its collaborators.
type Options struct {
	// Store holds the definitions. Required.
	Store *definition.Store

	// Builder turns definitions into emulator arguments. Required.
	Builder *qemu.Builder

	// Supervisor runs the emulator processes. Required.
	Supervisor hypervisor.Supervisor

	// Images provisions disks for Create. Nil disables disk creation.
	Images DiskImager

	// DiskDir is where Create puts new disk images.
	DiskDir string

	// History records run statistics. Nil disables it.
	History *History

	// ReconcileInterval is the period of the reconciliation pass.
	ReconcileInterval time.Duration

	// Logger receives orchestrator logs. Nil discards them.
	Logger hclog.Logger
}

// CreateRequest describes a new machine.
type CreateRequest struct {
	Name       string
	OSType     string
	MemoryMB   int
	CPUCount   int // zero takes the default
	DiskSizeGB int // zero creates no disk
}

// Orchestrator is the facade over definitions and processes. Mutating
// operations are serialized; queries and supervisor events only take the
// short state lock.
type Orchestrator struct {
	store      *definition.Store
	builder    *qemu.Builder
	sup        hypervisor.Supervisor
	images     DiskImager
	diskDir    string
	history    *History
	log        hclog.Logger
	bus        *EventBus
	reconciler *Reconciler

	opMu sync.Mutex

	// shadowed maps a file stem to the cached machine whose name its
	// <Name> element duplicates. Guarded by opMu.
	shadowed map[string]string

	stateMu  sync.RWMutex
	machines map[string]*definition.Machine
	states   map[string]*RuntimeState
	// stems records the file each machine was loaded from. It differs
	// from Sanitize(name) when a file was renamed outside qvmctl.
	stems    map[string]string
	loadErrs []error
	closed   bool
}

// NewOrchestrator loads every definition from the store and subscribes to
// supervisor events. It fails with ErrStoreUnavailable when the store
// directory cannot be created. Unreadable definitions are skipped and
// reported by LoadErrors.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Store == nil || opts.Builder == nil || opts.Supervisor == nil {
		return nil, errors.New("vm: store, builder and supervisor are required")
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if opts.DiskDir == "" {
		opts.DiskDir = opts.Store.Root()
	}

	if err := opts.Store.EnsureRoot(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	o := &Orchestrator{
		store:    opts.Store,
		builder:  opts.Builder,
		sup:      opts.Supervisor,
		images:   opts.Images,
		diskDir:  opts.DiskDir,
		history:  opts.History,
		log:      opts.Logger.Named("orchestrator"),
		bus:      NewEventBus(),
		machines: make(map[string]*definition.Machine),
		states:   make(map[string]*RuntimeState),
		stems:    make(map[string]string),
		shadowed: make(map[string]string),
	}

	rec, err := newReconciler(opts.ReconcileInterval, o.Reconcile, o.log.Named("reconcile"))
	if err != nil {
		return nil, err
	}
	o.reconciler = rec

	if err := o.loadAll(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	o.store.OnListChanged(func() {
		o.bus.Publish(Event{Type: EventListChanged})
	})
	o.sup.SetEventHandler(o.handleSupervisorEvent)
	return o, nil
}

func (o *Orchestrator) loadAll() error {
	names, err := o.store.ListNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		m, err := o.store.Load(name)
		if err != nil {
			o.log.Warn("skipping unreadable definition", "machine", name, "error", err)
			o.loadErrs = append(o.loadErrs, err)
			continue
		}
		stem := definition.Sanitize(name)
		if _, dup := o.machines[m.Name]; dup {
			o.log.Warn("skipping definition with duplicate name", "machine", m.Name, "file", o.store.Path(stem))
			o.shadowed[stem] = m.Name
			continue
		}
		o.machines[m.Name] = m
		o.states[m.Name] = &RuntimeState{Status: o.derivedStatus(m.Name)}
		o.stems[m.Name] = stem
	}
	o.log.Debug("definitions loaded", "count", len(o.machines), "skipped", len(o.loadErrs))
	return nil
}

// LoadErrors returns the errors for definitions skipped at startup.
func (o *Orchestrator) LoadErrors() []error {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return append([]error(nil), o.loadErrs...)
}

// Subscribe returns a channel of events and a cancel function.
func (o *Orchestrator) Subscribe() (<-chan Event, func()) {
	return o.bus.Subscribe()
}

// ListMachines returns the known machine names, sorted.
func (o *Orchestrator) ListMachines() []string {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	names := make([]string, 0, len(o.machines))
	for name := range o.machines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Machines returns a summary of every machine, sorted by name.
func (o *Orchestrator) Machines() []MachineInfo {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	out := make([]MachineInfo, 0, len(o.machines))
	for name, m := range o.machines {
		st := o.states[name]
		out = append(out, MachineInfo{
			Name:        name,
			OSType:      m.OSType,
			MemoryMB:    m.MemoryMB,
			CPUCount:    m.CPUCount,
			Status:      st.Status,
			LastStarted: st.LastStarted,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetDefinition returns a copy of the named definition.
func (o *Orchestrator) GetDefinition(name string) (*definition.Machine, bool) {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	m, ok := o.machines[name]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// State returns the runtime state of the named machine.
func (o *Orchestrator) State(name string) (RuntimeState, error) {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	st, ok := o.states[name]
	if !ok {
		return RuntimeState{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return *st, nil
}

// History returns the run record for name, if history is enabled.
func (o *Orchestrator) History(name string) (*RunRecord, error) {
	if o.history == nil {
		return &RunRecord{}, nil
	}
	return o.history.Load(name)
}

// Command returns the emulator and arguments Start would use for name.
func (o *Orchestrator) Command(name string) (string, []string, error) {
	m, ok := o.GetDefinition(name)
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	exe, args := o.builder.Command(m)
	return exe, args, nil
}

// Create defines a new machine with a fresh UUID and, when diskSizeGB is
// positive, a new qcow2 disk.
func (o *Orchestrator) Create(ctx context.Context, name, osType string, memoryMB, diskSizeGB int) error {
	return o.CreateMachine(ctx, CreateRequest{
		Name:       name,
		OSType:     osType,
		MemoryMB:   memoryMB,
		DiskSizeGB: diskSizeGB,
	})
}

// CreateMachine is Create with the full set of options. Nothing is
// persisted if disk creation fails, and a created disk is removed if the
// definition cannot be saved.
func (o *Orchestrator) CreateMachine(ctx context.Context, req CreateRequest) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	if err := o.checkOpen(); err != nil {
		return err
	}
	if req.DiskSizeGB < 0 {
		return fmt.Errorf("%w: disk size must not be negative, got %d", ErrInvalid, req.DiskSizeGB)
	}
	if _, ok := o.lookup(req.Name); ok || (req.Name != "" && o.store.Exists(req.Name)) {
		return fmt.Errorf("%w: %q", ErrAlreadyExists, req.Name)
	}

	m := definition.New(req.Name)
	m.UUID = uuid.NewString()
	m.MemoryMB = req.MemoryMB
	if req.OSType != "" {
		m.OSType = req.OSType
	}
	if req.CPUCount != 0 {
		m.CPUCount = req.CPUCount
	} else {
		m.CPUCount = ostype.Recommend(m.OSType).RecommendedCPUs
	}
	if err := m.Validate(); err != nil {
		return translate(err)
	}
	o.adviseResources(m)

	log := o.log.With("machine", m.Name)

	var diskPath string
	if req.DiskSizeGB > 0 {
		if o.images == nil {
			return fmt.Errorf("%w: no disk image tool configured", ErrToolUnavailable)
		}
		diskPath = filepath.Join(o.diskDir, definition.Sanitize(m.Name)+".qcow2")
		if err := o.images.Create(ctx, diskPath, req.DiskSizeGB, false); err != nil {
			log.Error("disk creation failed", "path", diskPath, "error", err)
			return err
		}
		m.HardDisks = []string{diskPath}
	}

	if err := o.store.Save(m); err != nil {
		if diskPath != "" {
			if derr := o.images.Delete(diskPath); derr != nil {
				log.Warn("failed to remove disk after save failure", "path", diskPath, "error", derr)
			}
		}
		return translate(err)
	}

	o.stateMu.Lock()
	o.machines[m.Name] = m.Clone()
	o.states[m.Name] = &RuntimeState{Status: StatusShutOff}
	o.stems[m.Name] = definition.Sanitize(m.Name)
	o.stateMu.Unlock()

	log.Info("machine created", "os_type", m.OSType, "memory_mb", m.MemoryMB, "disk", diskPath)
	o.bus.Publish(Event{Type: EventCreated, Name: m.Name})
	return nil
}

// adviseResources logs when a machine is below its OS recommendations.
func (o *Orchestrator) adviseResources(m *definition.Machine) {
	p, err := ostype.Lookup(m.OSType)
	if err != nil {
		o.log.Warn("unrecognized OS type", "machine", m.Name, "os_type", m.OSType)
		return
	}
	if m.MemoryMB < p.RecommendedMemoryMB {
		o.log.Warn("memory below recommendation", "machine", m.Name,
			"memory_mb", m.MemoryMB, "recommended_mb", p.RecommendedMemoryMB,
			"rating", ostype.MemoryRating(m.MemoryMB))
	}
}

// Delete removes the definition of a stopped machine. Running machines are
// refused with ErrConflict. Disk images are left in place.
func (o *Orchestrator) Delete(ctx context.Context, name string) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	if err := o.checkOpen(); err != nil {
		return err
	}
	if _, ok := o.lookup(name); !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if o.sup.IsRunning(name) || o.status(name).Transitional() {
		return fmt.Errorf("%w: %q is running, stop it first", ErrConflict, name)
	}

	storeErr := o.store.Delete(o.stemOf(name))
	if storeErr != nil && !errors.Is(storeErr, definition.ErrNotFound) {
		return translate(storeErr)
	}

	o.stateMu.Lock()
	delete(o.machines, name)
	delete(o.states, name)
	delete(o.stems, name)
	o.stateMu.Unlock()

	if o.history != nil {
		if err := o.history.Delete(name); err != nil {
			o.log.Warn("failed to delete history", "machine", name, "error", err)
		}
	}

	o.log.Info("machine deleted", "machine", name)
	if storeErr != nil {
		// The file was already gone, so the store did not announce it.
		o.bus.Publish(Event{Type: EventListChanged})
	}
	o.bus.Publish(Event{Type: EventDeleted, Name: name})
	return nil
}

// Start launches the named machine. On failure the machine is left
// ShutOff and an Error event is published.
func (o *Orchestrator) Start(ctx context.Context, name string) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	if err := o.checkOpen(); err != nil {
		return err
	}
	return o.startLocked(ctx, name)
}

func (o *Orchestrator) startLocked(ctx context.Context, name string) error {
	m, ok := o.lookup(name)
	if !ok {
		return o.fail(name, fmt.Errorf("%w: %q", ErrNotFound, name))
	}
	if o.sup.IsRunning(name) {
		return o.fail(name, fmt.Errorf("%w: %q", hypervisor.ErrAlreadyRunning, name))
	}
	if err := m.Validate(); err != nil {
		return o.fail(name, translate(err))
	}

	o.setStatus(name, StatusStarting)

	args := o.builder.Build(m)
	if err := o.sup.Start(ctx, name, args); err != nil {
		o.setStatus(name, o.derivedStatus(name))
		return o.fail(name, translate(err))
	}

	o.reconciler.Start()
	return nil
}

// Stop shuts the named machine down, escalating to a kill when needed.
func (o *Orchestrator) Stop(ctx context.Context, name string) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	if err := o.checkOpen(); err != nil {
		return err
	}
	return o.stopLocked(ctx, name)
}

func (o *Orchestrator) stopLocked(ctx context.Context, name string) error {
	if _, ok := o.lookup(name); !ok {
		return o.fail(name, fmt.Errorf("%w: %q", ErrNotFound, name))
	}
	if !o.sup.IsRunning(name) {
		return o.fail(name, fmt.Errorf("%w: %q", hypervisor.ErrNotRunning, name))
	}

	o.setStatus(name, StatusStopping)
	if err := o.sup.Stop(ctx, name); err != nil {
		o.setStatus(name, o.derivedStatus(name))
		return o.fail(name, translate(err))
	}
	// The Exited event has already moved the machine to ShutOff.
	return nil
}

// Pause is delegated to the supervisor, which does not support it.
func (o *Orchestrator) Pause(ctx context.Context, name string) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	if err := o.checkOpen(); err != nil {
		return err
	}

	if _, ok := o.lookup(name); !ok {
		return o.fail(name, fmt.Errorf("%w: %q", ErrNotFound, name))
	}
	if err := o.sup.Pause(ctx, name); err != nil {
		return o.fail(name, translate(err))
	}
	o.setStatus(name, StatusPaused)
	return nil
}

// Resume is delegated to the supervisor, which does not support it.
func (o *Orchestrator) Resume(ctx context.Context, name string) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	if err := o.checkOpen(); err != nil {
		return err
	}

	if _, ok := o.lookup(name); !ok {
		return o.fail(name, fmt.Errorf("%w: %q", ErrNotFound, name))
	}
	if err := o.sup.Resume(ctx, name); err != nil {
		return o.fail(name, translate(err))
	}
	o.setStatus(name, StatusRunning)
	return nil
}

// Reset stops a running machine and starts it again with its current
// definition.
func (o *Orchestrator) Reset(ctx context.Context, name string) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	if err := o.checkOpen(); err != nil {
		return err
	}
	if err := o.stopLocked(ctx, name); err != nil {
		return err
	}
	return o.startLocked(ctx, name)
}

// SaveConfiguration persists a modified definition. A definition whose
// UUID matches a known machine under a different name renames that
// machine: the new file is written and the old one removed. Renaming a
// running machine is refused with ErrConflict.
func (o *Orchestrator) SaveConfiguration(ctx context.Context, m *definition.Machine) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	if err := o.checkOpen(); err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return translate(err)
	}
	next := m.Clone()

	if prev := o.findByUUID(next.UUID); prev != nil && prev.Name != next.Name {
		return o.renameLocked(prev, next)
	}

	prev, known := o.lookup(next.Name)
	if known {
		if next.UUID == "" {
			next.UUID = prev.UUID
		} else if prev.UUID != "" && prev.UUID != next.UUID {
			return fmt.Errorf("%w: %q belongs to another machine", ErrConflict, next.Name)
		}
		if next.CreatedAt.IsZero() {
			next.CreatedAt = prev.CreatedAt
		}
	} else {
		if o.store.Exists(next.Name) {
			return fmt.Errorf("%w: %q", ErrAlreadyExists, next.Name)
		}
		if next.UUID == "" {
			next.UUID = uuid.NewString()
		}
	}

	if err := o.store.Save(next); err != nil {
		return translate(err)
	}
	stem := definition.Sanitize(next.Name)
	if known {
		o.removeStaleFile(next.Name, o.stemOf(next.Name), stem)
	}

	o.stateMu.Lock()
	o.machines[next.Name] = next
	o.stems[next.Name] = stem
	if !known {
		o.states[next.Name] = &RuntimeState{Status: o.derivedStatus(next.Name)}
	}
	o.stateMu.Unlock()

	o.log.Info("configuration saved", "machine", next.Name)
	if !known {
		o.bus.Publish(Event{Type: EventCreated, Name: next.Name})
	}
	return nil
}

// removeStaleFile deletes the file a machine was loaded from once its
// definition has been written under a different stem.
func (o *Orchestrator) removeStaleFile(name, oldStem, newStem string) {
	if oldStem == newStem {
		return
	}
	if err := o.store.Delete(oldStem); err != nil && !errors.Is(err, definition.ErrNotFound) {
		o.log.Warn("failed to remove old definition file", "machine", name, "file", o.store.Path(oldStem), "error", err)
	}
}

func (o *Orchestrator) renameLocked(prev, next *definition.Machine) error {
	oldName := prev.Name
	if o.sup.IsRunning(oldName) || o.status(oldName).Transitional() {
		return fmt.Errorf("%w: cannot rename running machine %q", ErrConflict, oldName)
	}
	oldStem, newStem := o.stemOf(oldName), definition.Sanitize(next.Name)
	if _, ok := o.lookup(next.Name); ok || (newStem != oldStem && o.store.Exists(next.Name)) {
		return fmt.Errorf("%w: %q", ErrAlreadyExists, next.Name)
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = prev.CreatedAt
	}

	if err := o.store.Save(next); err != nil {
		return translate(err)
	}
	o.removeStaleFile(oldName, oldStem, newStem)
	if o.history != nil {
		if err := o.history.Rename(oldName, next.Name); err != nil {
			o.log.Warn("failed to move history", "machine", oldName, "error", err)
		}
	}

	o.stateMu.Lock()
	st := o.states[oldName]
	delete(o.machines, oldName)
	delete(o.states, oldName)
	delete(o.stems, oldName)
	o.machines[next.Name] = next
	o.states[next.Name] = st
	o.stems[next.Name] = newStem
	o.stateMu.Unlock()

	o.log.Info("machine renamed", "from", oldName, "to", next.Name)
	o.bus.Publish(Event{Type: EventDeleted, Name: oldName})
	o.bus.Publish(Event{Type: EventCreated, Name: next.Name})
	return nil
}

// Reconcile cross-checks the cache against the store and the supervisor.
// Definitions that appeared on disk are loaded, vanished ones are dropped
// unless running, and a StateChanged event is published for every machine
// whose derived status differs from the last known one. Machines with an
// operation in flight are skipped.
func (o *Orchestrator) Reconcile() {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	if o.isClosed() {
		return
	}

	listChanged := o.syncWithStore()

	type change struct {
		name   string
		status Status
	}
	var changes []change

	o.stateMu.Lock()
	for name, st := range o.states {
		if st.Status.Transitional() {
			continue
		}
		derived := o.derivedStatus(name)
		if st.Status == StatusPaused && derived == StatusRunning {
			continue
		}
		if derived != st.Status {
			st.Status = derived
			changes = append(changes, change{name, derived})
		}
	}
	o.stateMu.Unlock()

	sort.Slice(changes, func(i, j int) bool { return changes[i].name < changes[j].name })
	for _, c := range changes {
		o.log.Debug("state reconciled", "machine", c.name, "status", c.status)
		o.bus.Publish(Event{Type: EventStateChanged, Name: c.name, Status: c.status})
	}
	if listChanged {
		o.bus.Publish(Event{Type: EventListChanged})
	}
}

// syncWithStore applies definitions added or removed behind our back.
// Files are matched by stem. A file whose <Name> belongs to a machine
// whose own file vanished is that machine moved on disk, and is re-keyed
// rather than dropped and reloaded.
func (o *Orchestrator) syncWithStore() bool {
	listed, err := o.store.ListNames()
	if err != nil {
		o.log.Warn("reconcile: list definitions failed", "error", err)
		return false
	}

	onDisk := make(map[string]string, len(listed))
	for _, name := range listed {
		onDisk[definition.Sanitize(name)] = name
	}

	o.stateMu.RLock()
	known := make(map[string]string, len(o.stems))
	for name, stem := range o.stems {
		known[stem] = name
	}
	o.stateMu.RUnlock()

	for stem := range o.shadowed {
		if _, ok := onDisk[stem]; !ok {
			delete(o.shadowed, stem)
		}
	}

	changed := false
	moved := make(map[string]bool)
	for stem, listedName := range onDisk {
		if _, ok := known[stem]; ok {
			continue
		}
		if owner, ok := o.shadowed[stem]; ok {
			if _, cached := o.lookup(owner); cached {
				continue
			}
			delete(o.shadowed, stem)
		}
		m, err := o.store.Load(listedName)
		if err != nil {
			o.log.Warn("reconcile: skipping unreadable definition", "machine", listedName, "error", err)
			continue
		}

		o.stateMu.Lock()
		if _, cached := o.machines[m.Name]; cached {
			prevStem := o.stems[m.Name]
			if _, stillThere := onDisk[prevStem]; stillThere || moved[prevStem] {
				o.stateMu.Unlock()
				o.log.Warn("reconcile: definition duplicates a known name", "machine", m.Name, "file", o.store.Path(stem))
				o.shadowed[stem] = m.Name
				continue
			}
			o.machines[m.Name] = m
			o.stems[m.Name] = stem
			o.stateMu.Unlock()
			moved[prevStem] = true
			o.log.Info("reconcile: definition file moved", "machine", m.Name, "file", o.store.Path(stem))
			continue
		}
		o.machines[m.Name] = m
		o.states[m.Name] = &RuntimeState{Status: o.derivedStatus(m.Name)}
		o.stems[m.Name] = stem
		o.stateMu.Unlock()
		o.log.Info("reconcile: definition appeared", "machine", m.Name)
		changed = true
	}

	for stem, name := range known {
		if _, ok := onDisk[stem]; ok || moved[stem] {
			continue
		}
		if o.sup.IsRunning(name) || o.status(name).Transitional() {
			continue
		}
		o.stateMu.Lock()
		delete(o.machines, name)
		delete(o.states, name)
		delete(o.stems, name)
		o.stateMu.Unlock()
		o.log.Info("reconcile: definition vanished", "machine", name)
		changed = true
	}
	return changed
}

// ReconcilerActive reports whether periodic reconciliation is running.
func (o *Orchestrator) ReconcilerActive() bool {
	return o.reconciler.Active()
}

// Close stops reconciliation, stops every running machine, and ends all
// subscriptions.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.reconciler.Stop(ctx)

	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.stateMu.Lock()
	if o.closed {
		o.stateMu.Unlock()
		return nil
	}
	o.closed = true
	o.stateMu.Unlock()

	o.sup.StopAll(ctx)
	o.bus.Close()
	return nil
}

// handleSupervisorEvent runs on supervisor goroutines. It must not take
// opMu, since operations hold it while waiting on the supervisor.
func (o *Orchestrator) handleSupervisorEvent(ev hypervisor.Event) {
	switch ev.Kind {
	case hypervisor.EventStarted:
		o.stateMu.Lock()
		st, ok := o.states[ev.Name]
		if ok {
			st.Status = StatusRunning
			st.LastStarted = ev.Time
		}
		o.stateMu.Unlock()

		o.bus.Publish(Event{Type: EventStarted, Name: ev.Name, Time: ev.Time})
		if ok {
			o.bus.Publish(Event{Type: EventStateChanged, Name: ev.Name, Status: StatusRunning})
		}
		if o.history != nil {
			if err := o.history.RecordBoot(ev.Name, ev.Time); err != nil {
				o.log.Warn("failed to record boot", "machine", ev.Name, "error", err)
			}
		}

	case hypervisor.EventExited:
		o.stateMu.Lock()
		st, ok := o.states[ev.Name]
		changed := ok && st.Status != StatusShutOff
		if ok {
			st.Status = StatusShutOff
		}
		o.stateMu.Unlock()

		o.bus.Publish(Event{
			Type:     EventExited,
			Name:     ev.Name,
			ExitCode: ev.ExitCode,
			Crashed:  ev.Crashed,
			Time:     ev.Time,
		})
		if changed {
			o.bus.Publish(Event{Type: EventStateChanged, Name: ev.Name, Status: StatusShutOff})
		}
		if ev.Crashed {
			msg := fmt.Sprintf("machine %q exited unexpectedly with code %d", ev.Name, ev.ExitCode)
			if tail := lastLine(ev.Stderr); tail != "" {
				msg += ": " + tail
			}
			o.bus.Publish(Event{Type: EventError, Name: ev.Name, Message: msg})
		}
		if o.history != nil {
			if err := o.history.RecordShutdown(ev.Name, ev.Time, !ev.Crashed, ev.ExitCode); err != nil {
				o.log.Warn("failed to record shutdown", "machine", ev.Name, "error", err)
			}
		}
	}
}

// fail publishes err as an Error event and returns it.
func (o *Orchestrator) fail(name string, err error) error {
	o.log.Error("operation failed", "machine", name, "error", err)
	o.bus.Publish(Event{Type: EventError, Name: name, Message: err.Error()})
	return err
}

// setStatus updates a cached status and publishes StateChanged when it
// actually changes.
func (o *Orchestrator) setStatus(name string, status Status) {
	o.stateMu.Lock()
	st, ok := o.states[name]
	changed := ok && st.Status != status
	if changed {
		st.Status = status
	}
	o.stateMu.Unlock()

	if changed {
		o.bus.Publish(Event{Type: EventStateChanged, Name: name, Status: status})
	}
}

func (o *Orchestrator) status(name string) Status {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	if st, ok := o.states[name]; ok {
		return st.Status
	}
	return StatusUnknown
}

// derivedStatus is what the supervisor says about name.
func (o *Orchestrator) derivedStatus(name string) Status {
	if o.sup.IsRunning(name) {
		return StatusRunning
	}
	return StatusShutOff
}

func (o *Orchestrator) lookup(name string) (*definition.Machine, bool) {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	m, ok := o.machines[name]
	return m, ok
}

// stemOf returns the file stem backing name.
func (o *Orchestrator) stemOf(name string) string {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	if stem, ok := o.stems[name]; ok {
		return stem
	}
	return definition.Sanitize(name)
}

func (o *Orchestrator) findByUUID(id string) *definition.Machine {
	if id == "" {
		return nil
	}
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	for _, m := range o.machines {
		if m.UUID == id {
			return m
		}
	}
	return nil
}

func (o *Orchestrator) isClosed() bool {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.closed
}

func (o *Orchestrator) checkOpen() error {
	if o.isClosed() {
		return ErrClosed
	}
	return nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
