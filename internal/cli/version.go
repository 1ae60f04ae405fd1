package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the hookd version",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{configOptional: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hookd version %s (%s)\n", Version, runtime.Version())
		},
	}
}
