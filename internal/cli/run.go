package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/javanstorm/qvmctl/internal/terminal"
	"github.com/javanstorm/qvmctl/internal/timing"
	"github.com/javanstorm/qvmctl/internal/vm"
)

// Warm start timing targets (--timing or QVMCTL_TIMING=1):
//   - orchestrator_init: <100ms  (emulator probe, load definitions)
//   - vm_start:          <500ms  (spawn, bounded by start_timeout)
//   - TOTAL:             <1000ms
var runCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Start a machine and supervise it in the foreground",
	Long: `Start a machine and stay attached until it exits. Ctrl+C stops the
machine gracefully, escalating to a kill after stop_timeout.

With --monitor the terminal is attached to the emulator monitor. Press
Ctrl+] twice to detach; the machine keeps running until Ctrl+C.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runTiming  bool
	runMonitor bool
)

func init() {
	runCmd.Flags().BoolVar(&runTiming, "timing", false, "Print a startup timing report")
	runCmd.Flags().BoolVar(&runMonitor, "monitor", false, "Attach the terminal to the emulator monitor")
}

func runRun(cmd *cobra.Command, args []string) error {
	name := args[0]
	out := cmd.OutOrStdout()

	var timer *timing.Timer
	if runTiming || os.Getenv("QVMCTL_TIMING") == "1" {
		timer = timing.New()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	if timer != nil {
		timer.Mark("orchestrator_init")
	}

	events, cancel := a.orch.Subscribe()
	defer cancel()

	if err := a.orch.Start(ctx, name); err != nil {
		return fmt.Errorf("start machine: %w", err)
	}
	if timer != nil {
		timer.Mark("vm_start")
		timer.Report(cmd.ErrOrStderr())
		timer.Log(a.log)
	}

	if runMonitor {
		if err := attachMonitor(ctx, a, name); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "Machine '%s' is running. Press Ctrl+C to stop it.\n", name)
	}

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(out, "\nStopping '%s'...\n", name)
			stopCtx, cancelStop := context.WithTimeout(context.Background(), a.cfg.StopTimeout+a.cfg.KillTimeout)
			err := a.orch.Stop(stopCtx, name)
			cancelStop()
			if err != nil {
				return fmt.Errorf("stop machine: %w", err)
			}
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Name != name {
				continue
			}
			if !runMonitor {
				fmt.Fprintln(out, formatEvent(ev))
			}
			if ev.Type == vm.EventExited {
				if ev.Crashed {
					return fmt.Errorf("machine '%s' crashed (exit code %d)", name, ev.ExitCode)
				}
				return nil
			}
		}
	}
}

// attachMonitor connects the terminal to the emulator monitor until the
// user detaches or the monitor closes.
func attachMonitor(ctx context.Context, a *app, name string) error {
	in, out, detach, err := a.sup.Console(name)
	if err != nil {
		return fmt.Errorf("attach monitor: %w", err)
	}
	defer detach()

	err = terminal.Current().Attach(ctx, in, out)
	switch {
	case errors.Is(err, terminal.ErrEscapeSequence):
		fmt.Fprintf(os.Stdout, "Machine '%s' is still running. Press Ctrl+C to stop it.\n", name)
		return nil
	case errors.Is(err, context.Canceled):
		return nil
	default:
		return err
	}
}
