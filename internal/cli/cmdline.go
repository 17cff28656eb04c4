package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var cmdlineCmd = &cobra.Command{
	Use:   "cmdline <name>",
	Short: "Print the emulator command line for a machine",
	Args:  cobra.ExactArgs(1),
	RunE:  runCmdline,
}

func runCmdline(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	exe, argv, err := a.orch.Command(args[0])
	if err != nil {
		return err
	}
	if exe == "" {
		exe = "<emulator not found>"
	}

	fmt.Fprintln(cmd.OutOrStdout(), shellJoin(append([]string{exe}, argv...)))
	return nil
}

// shellJoin quotes words that a shell would split or expand.
func shellJoin(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		if w == "" || strings.ContainsAny(w, " \t\n\"'\\$`*?[]{}();&|<>~#") {
			quoted[i] = strconv.Quote(w)
		} else {
			quoted[i] = w
		}
	}
	return strings.Join(quoted, " ")
}
