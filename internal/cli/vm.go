package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/javanstorm/qvmctl/internal/definition"
	"github.com/javanstorm/qvmctl/internal/ostype"
	"github.com/javanstorm/qvmctl/internal/vm"
	"github.com/javanstorm/qvmctl/pkg/hypervisor"
)

var vmCmd = &cobra.Command{
	Use:   "vm",
	Short: "Manage machine definitions",
	Long:  `Create, list, inspect, modify and delete machine definitions.`,
}

var vmCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new machine",
	Long: `Create a new machine definition with a fresh UUID. With --disk-size a
new qcow2 disk is created in disks_dir and attached as the first hard disk.`,
	Args: cobra.ExactArgs(1),
	RunE: runVMCreate,
}

var vmListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all machines",
	Long: `List all machines. When an API server is reachable, its runtime status
is shown; otherwise every machine reports shutoff.`,
	Args: cobra.NoArgs,
	RunE: runVMList,
}

var vmShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a machine definition",
	Args:  cobra.ExactArgs(1),
	RunE:  runVMShow,
}

var vmSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Change a machine definition",
	Long: `Change fields of a machine definition. Only the flags given are
changed. --rename moves the definition file; the machine keeps its UUID.`,
	Args: cobra.ExactArgs(1),
	RunE: runVMSet,
}

var vmDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a machine definition",
	Long: `Delete a machine definition and its run history. Disk images are kept.
A running machine is refused unless --force is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runVMDelete,
}

var vmOSTypesCmd = &cobra.Command{
	Use:   "ostypes",
	Short: "List known OS types and their recommended resources",
	Args:  cobra.NoArgs,
	RunE:  runVMOSTypes,
}

// Flags for vm create
var (
	vmCreateOS       string
	vmCreateMemory   int
	vmCreateCPUs     int
	vmCreateDiskSize int
)

// Flags for vm set
var (
	vmSetOS          string
	vmSetMemory      int
	vmSetCPUs        int
	vmSetDescription string
	vmSetDisks       []string
	vmSetISO         string
	vmSetBoot        []string
	vmSetRename      string
)

var (
	vmShowOutput  string
	vmListOutput  string
	vmDeleteForce bool
)

func init() {
	vmCreateCmd.Flags().StringVar(&vmCreateOS, "os", string(ostype.Default()), "OS type (see 'qvmctl vm ostypes')")
	vmCreateCmd.Flags().IntVarP(&vmCreateMemory, "memory", "m", definition.DefaultMemoryMB, "Memory in MB")
	vmCreateCmd.Flags().IntVarP(&vmCreateCPUs, "cpus", "c", 0, "Number of virtual CPUs (default: OS recommendation)")
	vmCreateCmd.Flags().IntVarP(&vmCreateDiskSize, "disk-size", "s", 0, "Size of a new disk in GB (0: no disk)")

	vmSetCmd.Flags().StringVar(&vmSetOS, "os", "", "OS type")
	vmSetCmd.Flags().IntVarP(&vmSetMemory, "memory", "m", 0, "Memory in MB")
	vmSetCmd.Flags().IntVarP(&vmSetCPUs, "cpus", "c", 0, "Number of virtual CPUs")
	vmSetCmd.Flags().StringVar(&vmSetDescription, "description", "", "Free-form description")
	vmSetCmd.Flags().StringSliceVar(&vmSetDisks, "disk", nil, "Hard disk images in attach order (replaces the list)")
	vmSetCmd.Flags().StringVar(&vmSetISO, "iso", "", "Optical media image (\"none\" to eject)")
	vmSetCmd.Flags().StringSliceVar(&vmSetBoot, "boot", nil, "Boot order, e.g. OpticalMedia,HardDisk")
	vmSetCmd.Flags().StringVar(&vmSetRename, "rename", "", "New machine name")

	vmShowCmd.Flags().StringVarP(&vmShowOutput, "output", "o", "yaml", "Output format (yaml, json)")
	vmListCmd.Flags().StringVarP(&vmListOutput, "output", "o", "", "Output format (yaml, json; default table)")
	vmDeleteCmd.Flags().BoolVarP(&vmDeleteForce, "force", "f", false, "Stop the machine first if it is running")

	vmCmd.AddCommand(vmCreateCmd)
	vmCmd.AddCommand(vmListCmd)
	vmCmd.AddCommand(vmShowCmd)
	vmCmd.AddCommand(vmSetCmd)
	vmCmd.AddCommand(vmDeleteCmd)
	vmCmd.AddCommand(vmOSTypesCmd)

	rootCmd.AddCommand(vmCmd)
}

func runVMCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	name := args[0]
	if !ostype.IsRegistered(vmCreateOS) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: unknown OS type %q\n", vmCreateOS)
	}

	err = a.orch.CreateMachine(ctx, vm.CreateRequest{
		Name:       name,
		OSType:     vmCreateOS,
		MemoryMB:   vmCreateMemory,
		CPUCount:   vmCreateCPUs,
		DiskSizeGB: vmCreateDiskSize,
	})
	if err != nil {
		return fmt.Errorf("create machine: %w", err)
	}

	m, _ := a.orch.GetDefinition(name)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created machine '%s'\n", m.Name)
	fmt.Fprintf(out, "  UUID:   %s\n", m.UUID)
	fmt.Fprintf(out, "  OS:     %s\n", m.OSType)
	fmt.Fprintf(out, "  CPUs:   %d\n", m.CPUCount)
	fmt.Fprintf(out, "  Memory: %d MB (%s)\n", m.MemoryMB, ostype.MemoryRating(m.MemoryMB))
	for _, d := range m.HardDisks {
		fmt.Fprintf(out, "  Disk:   %s\n", d)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "To start it: qvmctl run %q\n", m.Name)
	return nil
}

func runVMList(cmd *cobra.Command, args []string) error {
	machines, err := listMachines(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if vmListOutput != "" {
		return writeStructured(out, vmListOutput, machines)
	}

	if len(machines) == 0 {
		fmt.Fprintln(out, "No machines found. Create one with: qvmctl vm create <name>")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tOS\tCPUS\tMEMORY\tLAST STARTED")
	for _, m := range machines {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d MB\t%s\n",
			m.Name, m.Status, m.OSType, m.CPUCount, m.MemoryMB, formatTime(m.LastStarted))
	}
	return w.Flush()
}

// listMachines asks a running server first so the status is live, and
// falls back to reading the definitions directly.
func listMachines(ctx context.Context) ([]vm.MachineInfo, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	machines, err := apiClient().List(probeCtx)
	cancel()
	if err == nil {
		return machines, nil
	}

	a, err := openApp(ctx)
	if err != nil {
		return nil, err
	}
	defer a.close()
	return a.orch.Machines(), nil
}

func runVMShow(cmd *cobra.Command, args []string) error {
	detail, _, err := machineDetail(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return writeStructured(cmd.OutOrStdout(), vmShowOutput, detail)
}

func runVMSet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	name := args[0]
	m, ok := a.orch.GetDefinition(name)
	if !ok {
		return fmt.Errorf("%w: %q", vm.ErrNotFound, name)
	}

	flags := cmd.Flags()
	if flags.Changed("os") {
		m.OSType = vmSetOS
	}
	if flags.Changed("memory") {
		m.MemoryMB = vmSetMemory
	}
	if flags.Changed("cpus") {
		m.CPUCount = vmSetCPUs
	}
	if flags.Changed("description") {
		m.Description = vmSetDescription
	}
	if flags.Changed("disk") {
		m.HardDisks = vmSetDisks
	}
	if flags.Changed("iso") {
		m.OpticalMedia = vmSetISO
		if vmSetISO == "none" {
			m.OpticalMedia = ""
		}
	}
	if flags.Changed("boot") {
		m.BootOrder = m.BootOrder[:0]
		for _, b := range vmSetBoot {
			m.BootOrder = append(m.BootOrder, definition.BootDevice(b))
		}
	}
	if flags.Changed("rename") {
		m.Name = vmSetRename
	}

	if err := a.orch.SaveConfiguration(ctx, m); err != nil {
		return fmt.Errorf("save machine: %w", err)
	}

	if m.Name != name {
		fmt.Fprintf(cmd.OutOrStdout(), "Renamed machine '%s' to '%s'\n", name, m.Name)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Updated machine '%s'\n", name)
	}
	return nil
}

func runVMDelete(cmd *cobra.Command, args []string) error {
	name := args[0]
	ctx := cmd.Context()

	// A running machine belongs to the server, so ask it first.
	probeCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	_, err := apiClient().List(probeCtx)
	cancel()
	if err == nil {
		if err := apiClient().Delete(ctx, name, vmDeleteForce); err != nil {
			return fmt.Errorf("delete machine: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted machine '%s'\n", name)
		return nil
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if vmDeleteForce {
		if err := a.orch.Stop(ctx, name); err != nil && !errors.Is(err, hypervisor.ErrNotRunning) {
			return fmt.Errorf("stop machine: %w", err)
		}
	}
	if err := a.orch.Delete(ctx, name); err != nil {
		return fmt.Errorf("delete machine: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted machine '%s'\n", name)
	return nil
}

func runVMOSTypes(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FAMILY\tMEMORY\tCPUS\tDISK\tVERSIONS")
	for _, f := range ostype.List() {
		p, err := ostype.Get(f)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "%s\t%d MB\t%d\t%d GB\t%d\n",
			p.Family, p.RecommendedMemoryMB, p.RecommendedCPUs, p.RecommendedDiskGB, len(p.Versions))
	}
	return w.Flush()
}
