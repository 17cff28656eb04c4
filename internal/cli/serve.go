package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/javanstorm/qvmctl/internal/api"
	"github.com/javanstorm/qvmctl/internal/mcptools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Run the orchestrator behind an HTTP API with a server-sent event stream
at /api/events. Machines started through the server are stopped when it
exits. With --mcp the MCP tools are also served at /mcp.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveMCP bool

func init() {
	serveCmd.Flags().BoolVar(&serveMCP, "mcp", false, "Also serve MCP tools over streamable HTTP at /mcp")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	opts := api.StartOpts{
		Backend: a.orch,
		Addr:    a.cfg.APIAddr,
		Out:     cmd.OutOrStdout(),
		Logger:  a.log,
	}
	if serveMCP {
		opts.MCP = server.NewStreamableHTTPServer(mcptools.NewServer(a.orch, a.log))
	}

	if err := api.Start(ctx, opts); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "\nShutting down...")
	return nil
}
