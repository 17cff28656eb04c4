package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/javanstorm/qvmctl/internal/api"
	"github.com/javanstorm/qvmctl/internal/vm"
)

var statusCmd = &cobra.Command{
	Use:   "status <name>",
	Short: "Show machine status and information",
	Long:  `Display the runtime status, resources, disks and boot history of a machine.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	name := args[0]
	ctx := cmd.Context()

	detail, source, err := machineDetail(ctx, name)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	m := detail.Definition

	fmt.Fprintf(out, "Machine: %s\n", m.Name)
	fmt.Fprintf(out, "Status: %s (%s)\n", detail.State.Status, source)
	if !detail.State.LastStarted.IsZero() {
		fmt.Fprintf(out, "  Started: %s\n", formatTime(detail.State.LastStarted))
	}
	fmt.Fprintln(out)

	fmt.Fprintf(out, "OS: %s\n", m.OSType)
	fmt.Fprintf(out, "CPUs: %d\n", m.CPUCount)
	fmt.Fprintf(out, "Memory: %d MB\n", m.MemoryMB)
	fmt.Fprintln(out)

	if len(m.HardDisks) == 0 {
		fmt.Fprintf(out, "Disks: none\n")
	} else {
		fmt.Fprintf(out, "Disks:\n")
		for _, d := range m.HardDisks {
			info, err := os.Stat(d)
			if err != nil {
				fmt.Fprintf(out, "  %s (missing)\n", d)
				continue
			}
			fmt.Fprintf(out, "  %s (%s allocated)\n", d, formatBytes(info.Size()))
		}
	}
	if m.OpticalMedia != "" {
		fmt.Fprintf(out, "Optical: %s\n", m.OpticalMedia)
	}
	fmt.Fprintln(out)

	rec := detail.History
	if rec == nil || rec.BootCount == 0 {
		fmt.Fprintf(out, "History: never booted\n")
		return nil
	}
	fmt.Fprintf(out, "History:\n")
	fmt.Fprintf(out, "  Boot count: %d\n", rec.BootCount)
	if !rec.LastBoot.IsZero() {
		fmt.Fprintf(out, "  Last boot: %s\n", formatTime(rec.LastBoot))
	}
	if !rec.LastShutdown.IsZero() {
		fmt.Fprintf(out, "  Last shutdown: %s\n", formatTime(rec.LastShutdown))
		if rec.CleanShutdown {
			fmt.Fprintf(out, "  Shutdown type: clean\n")
		} else {
			fmt.Fprintf(out, "  Shutdown type: unclean (exit code %d)\n", rec.LastExitCode)
		}
	}
	return nil
}

// machineDetail fetches a machine from a running server, or from the
// definitions on disk when no server answers.
func machineDetail(ctx context.Context, name string) (*api.MachineDetail, string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	detail, err := apiClient().Get(probeCtx, name)
	cancel()
	if err == nil {
		return detail, "server", nil
	}
	if errors.Is(err, vm.ErrNotFound) {
		return nil, "", err
	}

	a, err := openApp(ctx)
	if err != nil {
		return nil, "", err
	}
	defer a.close()

	m, ok := a.orch.GetDefinition(name)
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", vm.ErrNotFound, name)
	}
	st, _ := a.orch.State(name)
	rec, err := a.orch.History(name)
	if err != nil {
		return nil, "", err
	}
	return &api.MachineDetail{Definition: m, State: st, History: rec}, "no server running", nil
}
