package hypervisor

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
)

// waitDelay bounds how long Wait keeps copying output after the process
// exits, in case a grandchild still holds the pipes.
const waitDelay = time.Second

type procState int

const (
	procSpawning procState = iota
	procRunning
	procExited
)

// process is one registered emulator. The slot in the supervisor map is
// held from the start request until the exit event has been emitted.
type process struct {
	name  string
	state procState // guarded by ProcessSupervisor.mu

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *tailBuffer
	stderr  *tailBuffer
	console consoleSink
	started time.Time

	stopRequested atomic.Bool
	done          chan struct{}
}

// ProcessSupervisor owns the emulator processes. It satisfies Supervisor.
type ProcessSupervisor struct {
	cfg Config
	log hclog.Logger

	mu    sync.Mutex
	procs map[string]*process

	handlerMu sync.RWMutex
	handler   func(Event)

	wg sync.WaitGroup

	// startProcess is swapped in tests to simulate a slow spawn.
	startProcess func(*exec.Cmd) error
}

// NewProcessSupervisor creates a supervisor. Zero durations take defaults.
func NewProcessSupervisor(cfg Config) (*ProcessSupervisor, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ProcessSupervisor{
		cfg:          cfg,
		log:          cfg.Logger.Named("supervisor"),
		procs:        make(map[string]*process),
		startProcess: (*exec.Cmd).Start,
	}, nil
}

// Executable returns the emulator path, empty if none was resolved.
func (s *ProcessSupervisor) Executable() string {
	return s.cfg.Executable
}

// SetEventHandler installs fn as the event callback. Events are delivered
// synchronously on the supervisor's goroutines, so fn must not block on
// supervisor calls.
func (s *ProcessSupervisor) SetEventHandler(fn func(Event)) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handler = fn
}

func (s *ProcessSupervisor) emit(ev Event) {
	s.handlerMu.RLock()
	fn := s.handler
	s.handlerMu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

// Start spawns the emulator for name. A second start while the slot is
// held, including while the first is still spawning, fails with
// ErrAlreadyRunning.
func (s *ProcessSupervisor) Start(ctx context.Context, name string, args []string) error {
	if s.cfg.Executable == "" {
		return ErrExecutableUnavailable
	}

	p := &process{
		name:   name,
		state:  procSpawning,
		stdout: newTailBuffer(s.cfg.OutputLimit),
		stderr: newTailBuffer(s.cfg.OutputLimit),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if _, ok := s.procs[name]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrAlreadyRunning, name)
	}
	s.procs[name] = p
	s.mu.Unlock()

	cmd := exec.Command(s.cfg.Executable, args...)
	cmd.Stdout = io.MultiWriter(p.stdout, &p.console)
	cmd.Stderr = p.stderr
	cmd.WaitDelay = waitDelay
	configureCommand(cmd)

	// Held open so "-monitor stdio" never sees EOF.
	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.release(p)
		return fmt.Errorf("%w: %s: %w", ErrSpawnFailure, name, err)
	}

	log := s.log.With("machine", name)
	log.Debug("spawning emulator", "exe", s.cfg.Executable, "args", args)

	startErr := make(chan error, 1)
	go func() {
		startErr <- s.startProcess(cmd)
	}()

	timer := time.NewTimer(s.cfg.StartTimeout)
	defer timer.Stop()

	select {
	case err := <-startErr:
		if err != nil {
			stdin.Close()
			s.release(p)
			log.Error("spawn failed", "error", err)
			return fmt.Errorf("%w: %s: %w", ErrSpawnFailure, name, err)
		}
	case <-timer.C:
		s.abandon(p, cmd, stdin, startErr)
		log.Error("spawn timed out", "timeout", s.cfg.StartTimeout)
		return fmt.Errorf("%w: %s after %s", ErrSpawnTimeout, name, s.cfg.StartTimeout)
	case <-ctx.Done():
		s.abandon(p, cmd, stdin, startErr)
		return ctx.Err()
	}

	s.mu.Lock()
	p.cmd = cmd
	p.stdin = stdin
	p.started = time.Now()
	p.state = procRunning
	s.mu.Unlock()

	log.Info("emulator started", "pid", cmd.Process.Pid)
	s.emit(Event{Kind: EventStarted, Name: name, PID: cmd.Process.Pid, Time: p.started})

	s.wg.Add(1)
	go s.monitor(p)
	return nil
}

// abandon gives up on a spawn that did not complete in time. If the
// process starts later it is killed and reaped without events.
func (s *ProcessSupervisor) abandon(p *process, cmd *exec.Cmd, stdin io.WriteCloser, startErr <-chan error) {
	s.release(p)
	go func() {
		if err := <-startErr; err == nil {
			kill(cmd.Process)
			cmd.Wait()
		}
		stdin.Close()
	}()
}

// release frees the slot if it is still held by p. It is safe to call
// more than once.
func (s *ProcessSupervisor) release(p *process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.procs[p.name]; ok && cur == p {
		delete(s.procs, p.name)
	}
}

// monitor waits for the process to exit, emits Exited once, and then
// frees the slot.
func (s *ProcessSupervisor) monitor(p *process) {
	defer s.wg.Done()

	waitErr := p.cmd.Wait()
	p.stdin.Close()
	p.console.close()

	code, signaled := exitInfo(p.cmd.ProcessState)
	crashed := (code != 0 || signaled) && !p.stopRequested.Load()

	s.mu.Lock()
	p.state = procExited
	s.mu.Unlock()

	log := s.log.With("machine", p.name, "pid", p.cmd.Process.Pid, "exit_code", code)
	switch {
	case crashed:
		log.Warn("emulator crashed", "error", waitErr, "stderr", p.stderr.String())
	default:
		log.Info("emulator exited", "uptime", time.Since(p.started).Round(time.Millisecond))
	}

	s.emit(Event{
		Kind:     EventExited,
		Name:     p.name,
		PID:      p.cmd.Process.Pid,
		Time:     time.Now(),
		ExitCode: code,
		Crashed:  crashed,
		Stderr:   p.stderr.String(),
	})

	s.release(p)
	close(p.done)
}

// lookupRunning returns the running process for name.
func (s *ProcessSupervisor) lookupRunning(name string) (*process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[name]
	if !ok || p.state != procRunning {
		return nil, false
	}
	return p, true
}

// Stop sends SIGTERM, waits StopTimeout, then kills and waits KillTimeout.
// Cancelling ctx skips the rest of the graceful wait.
func (s *ProcessSupervisor) Stop(ctx context.Context, name string) error {
	p, ok := s.lookupRunning(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotRunning, name)
	}

	log := s.log.With("machine", name, "pid", p.cmd.Process.Pid)
	p.stopRequested.Store(true)

	if err := terminate(p.cmd.Process); err != nil {
		log.Debug("terminate signal failed", "error", err)
	}

	graceful := time.NewTimer(s.cfg.StopTimeout)
	defer graceful.Stop()

	select {
	case <-p.done:
		return nil
	case <-graceful.C:
		log.Warn("emulator ignored termination, killing", "timeout", s.cfg.StopTimeout)
	case <-ctx.Done():
		log.Warn("stop cancelled, killing")
	}

	if err := kill(p.cmd.Process); err != nil {
		log.Debug("kill failed", "error", err)
	}

	forced := time.NewTimer(s.cfg.KillTimeout)
	defer forced.Stop()

	select {
	case <-p.done:
		return nil
	case <-forced.C:
		return fmt.Errorf("%w: %s after %s", ErrStopTimeout, name, s.cfg.KillTimeout)
	}
}

// Pause is not supported by the process backend.
func (s *ProcessSupervisor) Pause(ctx context.Context, name string) error {
	return fmt.Errorf("%w: pause %q", ErrUnsupported, name)
}

// Resume is not supported by the process backend.
func (s *ProcessSupervisor) Resume(ctx context.Context, name string) error {
	return fmt.Errorf("%w: resume %q", ErrUnsupported, name)
}

// IsRunning reports whether name has a started process that has not exited.
func (s *ProcessSupervisor) IsRunning(name string) bool {
	_, ok := s.lookupRunning(name)
	return ok
}

// Running returns the names of running processes, sorted.
func (s *ProcessSupervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.procs))
	for name, p := range s.procs {
		if p.state == procRunning {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// PID returns the process id for a running machine.
func (s *ProcessSupervisor) PID(name string) (int, bool) {
	p, ok := s.lookupRunning(name)
	if !ok {
		return 0, false
	}
	return p.cmd.Process.Pid, true
}

// Output returns the retained stdout and stderr tails of a running machine.
func (s *ProcessSupervisor) Output(name string) (stdout, stderr string, err error) {
	p, ok := s.lookupRunning(name)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrNotRunning, name)
	}
	return p.stdout.String(), p.stderr.String(), nil
}

// StopAll stops every running process concurrently.
func (s *ProcessSupervisor) StopAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, name := range s.Running() {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := s.Stop(ctx, name); err != nil {
				s.log.Warn("stop failed", "machine", name, "error", err)
			}
		}(name)
	}
	wg.Wait()
}

// Wait blocks until every monitored process has exited.
func (s *ProcessSupervisor) Wait() {
	s.wg.Wait()
}

// Info describes the backend. Version is probed when an executable is set.
func (s *ProcessSupervisor) Info(ctx context.Context) Info {
	info := Info{Name: "qemu", Executable: s.cfg.Executable, Arch: hostArch()}
	if s.cfg.Executable != "" {
		info.Version, _ = EmulatorVersion(ctx, s.cfg.Executable)
	}
	return info
}

// Capabilities reports what the backend supports on this host.
func (s *ProcessSupervisor) Capabilities(ctx context.Context) Capabilities {
	return Capabilities{
		PauseResume: false,
		KVM:         KVMDeviceAvailable() || KVMModuleLoaded(ctx),
	}
}

var _ Supervisor = (*ProcessSupervisor)(nil)
