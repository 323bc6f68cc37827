package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ppiankov/birdman/internal/listen"
	"github.com/ppiankov/birdman/internal/source"
)

var classesCmd = &cobra.Command{
	Use:   "classes",
	Short: "List the source and listener classes usable in a config",
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "sources:")
		for _, name := range source.NewRegistry().Names() {
			fmt.Fprintf(out, "  %s\n", name)
		}
		fmt.Fprintln(out, "listeners:")
		for _, name := range listen.NewRegistry(io.Discard).Names() {
			fmt.Fprintf(out, "  %s\n", name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(classesCmd)
}
