// ABOUTME: `stagesound version` prints build information
// ABOUTME: Values come from internal/version
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harperreed/stagesound/internal/version"
)

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
