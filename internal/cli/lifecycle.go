package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/javanstorm/qvmctl/internal/api"
	"github.com/javanstorm/qvmctl/internal/vm"
)

// apiClient returns a client for the configured API address.
func apiClient() *api.Client {
	return api.NewClient(currentConfig().APIAddr)
}

// remoteError explains a connection failure in terms of the server.
func remoteError(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("no qvmctl server at %s (start one with 'qvmctl serve', or use 'qvmctl run'): %w",
			currentConfig().APIAddr, err)
	}
	return err
}

func newLifecycleCmd(use, short string, op func(c *api.Client, ctx context.Context, name string) (vm.RuntimeState, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name>",
		Short: short,
		Long:  short + ". Requires a running 'qvmctl serve'.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := op(apiClient(), cmd.Context(), args[0])
			if err != nil {
				return remoteError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], st.Status)
			return nil
		},
	}
}

var (
	startCmd  = newLifecycleCmd("start", "Start a machine", (*api.Client).Start)
	stopCmd   = newLifecycleCmd("stop", "Stop a machine gracefully, killing it if it does not exit in time", (*api.Client).Stop)
	pauseCmd  = newLifecycleCmd("pause", "Pause a running machine", (*api.Client).Pause)
	resumeCmd = newLifecycleCmd("resume", "Resume a paused machine", (*api.Client).Resume)
	resetCmd  = newLifecycleCmd("reset", "Stop and start a machine", (*api.Client).Reset)
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream machine events from the server",
	Long:  `Print orchestrator events as they happen until interrupted.`,
	Args:  cobra.NoArgs,
	RunE:  runEvents,
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(resetCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	err := apiClient().Events(ctx, func(ev vm.Event) error {
		fmt.Fprintln(out, formatEvent(ev))
		return nil
	})
	if err != nil && ctx.Err() == nil {
		return remoteError(err)
	}
	return nil
}

// formatEvent renders an event as one line.
func formatEvent(ev vm.Event) string {
	line := fmt.Sprintf("%s %-13s", ev.Time.Local().Format("15:04:05"), ev.Type)
	if ev.Name != "" {
		line += " " + ev.Name
	}
	switch ev.Type {
	case vm.EventStateChanged:
		line += " -> " + ev.Status.String()
	case vm.EventExited:
		line += fmt.Sprintf(" (exit code %d", ev.ExitCode)
		if ev.Crashed {
			line += ", crashed"
		}
		line += ")"
	case vm.EventError:
		line += ": " + ev.Message
	}
	return line
}
