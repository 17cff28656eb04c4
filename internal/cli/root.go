// Package cli provides the command-line interface for qvmctl.
package cli

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/javanstorm/qvmctl/internal/config"
	"github.com/javanstorm/qvmctl/internal/logging"
	"github.com/javanstorm/qvmctl/internal/terminal"
)

var rootCmd = &cobra.Command{
	Use:   "qvmctl",
	Short: "qvmctl - manage local QEMU virtual machines",
	Long: `qvmctl keeps a declarative definition for each virtual machine, turns it
into a QEMU command line, and supervises the emulator process.

Definitions live as XML files under machines_dir. Use 'qvmctl run' to
supervise a machine in the foreground, or 'qvmctl serve' to run the
HTTP API that the start/stop/pause/resume/reset commands talk to.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for commands that don't need it
		switch cmd.Name() {
		case "version", "completion", "help":
			return nil
		}
		return config.Load()
	},
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("command failed: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "emit logs as JSON")
	rootCmd.PersistentFlags().String("api-addr", "", "address of the API server")
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_json", rootCmd.PersistentFlags().Lookup("log-json"))
	viper.BindPFlag("api_addr", rootCmd.PersistentFlags().Lookup("api-addr"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(cmdlineCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(configCmd)
}

// currentConfig returns the loaded configuration, or defaults when
// loading was skipped.
func currentConfig() *config.Config {
	if config.Global == nil {
		return config.DefaultConfig()
	}
	return config.Global
}

// newLogger builds the root logger from configuration.
func newLogger() hclog.Logger {
	cfg := currentConfig()
	return logging.New(logging.Options{
		Level: cfg.LogLevel,
		JSON:  cfg.LogJSON,
		Color: terminal.IsTerminal(os.Stderr),
	})
}
