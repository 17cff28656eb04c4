package cli

import (
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/javanstorm/qvmctl/internal/mcptools"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools over stdio",
	Long: `Run an MCP server on stdin/stdout exposing the machine lifecycle as
tools. Stop, reset and delete require a confirmation token. Logs go to
stderr.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	return server.ServeStdio(mcptools.NewServer(a.orch, a.log))
}
