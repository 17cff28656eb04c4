package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/javanstorm/qvmctl/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect qvmctl configuration",
	Long: `Show the effective configuration after merging the config file,
QVMCTL_* environment variables and command-line flags.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeStructured(cmd.OutOrStdout(), configOutput, currentConfig())
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print configuration and data locations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := config.GetPaths()
		if err != nil {
			return fmt.Errorf("failed to determine paths: %w", err)
		}
		cfg := currentConfig()
		out := cmd.OutOrStdout()

		used := config.ConfigFileUsed()
		if used == "" {
			used = "(none, using defaults)"
		}
		fmt.Fprintf(out, "Config file:  %s\n", used)
		fmt.Fprintf(out, "Data dir:     %s\n", paths.DataDir)
		fmt.Fprintf(out, "Machines dir: %s\n", cfg.MachinesDir)
		fmt.Fprintf(out, "Disks dir:    %s\n", cfg.DisksDir)
		fmt.Fprintf(out, "History dir:  %s\n", cfg.HistoryDir)
		return nil
	},
}

var configOutput string

func init() {
	configShowCmd.Flags().StringVarP(&configOutput, "output", "o", "yaml", "Output format (yaml, json)")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
}
