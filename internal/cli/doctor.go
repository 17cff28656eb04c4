package cli

import (
	"fmt"
	"io"
	"runtime"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/javanstorm/qvmctl/internal/config"
	"github.com/javanstorm/qvmctl/internal/vm"
	"github.com/javanstorm/qvmctl/pkg/hypervisor"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the host for everything qvmctl needs",
	Long: `Report the emulator, hardware acceleration, host tools and configuration
problems that would stop machines from starting.

With --install, missing required tools are installed through the host
package manager (sudo may prompt for a password).`,
	RunE: runDoctor,
}

var doctorInstall bool

func init() {
	doctorCmd.Flags().BoolVar(&doctorInstall, "install", false, "Install missing required tools")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := currentConfig()
	out := cmd.OutOrStdout()
	deps := vm.NewDependencyManager(out)

	fmt.Fprintln(out, "qvmctl doctor")
	fmt.Fprintln(out, "=============")
	fmt.Fprintf(out, "Host:      %s/%s (%s)\n", runtime.GOOS, runtime.GOARCH, deps.HostOS())

	candidates := cfg.EmulatorCandidates
	if cfg.Emulator != "" {
		candidates = []string{cfg.Emulator}
	}
	supCfg := cfg.SupervisorConfig()
	supCfg.Executable = ""
	sup, err := hypervisor.New(ctx, supCfg, candidates)
	if err != nil {
		return fmt.Errorf("create supervisor: %w", err)
	}
	info := sup.Info(ctx)
	writeBackend(out, info, sup.Capabilities(ctx))
	emulator := info.Executable

	if hypervisor.VirshAvailable() {
		if v, verr := hypervisor.LibvirtVersion(ctx, cfg.LibvirtSocket); verr == nil {
			fmt.Fprintf(out, "Libvirt:   %s\n", v)
		} else {
			fmt.Fprintf(out, "Libvirt:   installed, daemon unreachable (%v)\n", verr)
		}
	}

	fmt.Fprintln(out)
	statuses := deps.Check(vm.HostDependencies)
	writeDependencies(out, statuses)

	problems := config.ValidateConfig(cfg, emulator)
	if len(problems) > 0 {
		fmt.Fprintln(out)
		fmt.Fprint(out, config.FormatValidationErrors(problems))
	}

	if doctorInstall {
		fmt.Fprintln(out)
		if err := deps.EnsureDependencies(vm.HostDependencies); err != nil {
			return err
		}
		fmt.Fprintln(out, "All required tools are installed.")
		return nil
	}

	if missing := missingRequired(statuses); missing > 0 {
		return fmt.Errorf("%d required tool(s) missing; run 'qvmctl doctor --install'", missing)
	}
	if config.HasFatal(problems) {
		return fmt.Errorf("configuration has errors")
	}
	return nil
}

func writeBackend(out io.Writer, info hypervisor.Info, caps hypervisor.Capabilities) {
	switch {
	case info.Executable == "":
		fmt.Fprintf(out, "Emulator:  not found (%s backend)\n", info.Name)
	case info.Version == "":
		fmt.Fprintf(out, "Emulator:  %s (version unknown, %s)\n", info.Executable, info.Arch)
	default:
		fmt.Fprintf(out, "Emulator:  %s (version %s, %s)\n", info.Executable, info.Version, info.Arch)
	}
	fmt.Fprintf(out, "KVM:       %s\n", yesNo(caps.KVM))
	fmt.Fprintf(out, "Pause:     %s\n", yesNo(caps.PauseResume))
}

func writeDependencies(out io.Writer, statuses []vm.DependencyStatus) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tSTATUS\tPATH\tPURPOSE")
	for _, st := range statuses {
		status := "ok"
		switch {
		case !st.Installed && st.Optional:
			status = "missing (optional)"
		case !st.Installed:
			status = "MISSING"
		}
		path := st.Path
		if path == "" {
			path = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", st.Name, status, path, st.Description)
	}
	w.Flush()
}

func missingRequired(statuses []vm.DependencyStatus) int {
	n := 0
	for _, st := range statuses {
		if !st.Installed && !st.Optional {
			n++
		}
	}
	return n
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
