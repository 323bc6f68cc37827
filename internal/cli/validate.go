package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ppiankov/birdman/internal/app"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a birdman configuration without polling anything.

Every source and listener is constructed from the composed options and
released again, so unknown classes, bad options and duplicate names are
all reported.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)`,
	RunE: validateAction,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateAction(cmd *cobra.Command, _ []string) error {
	doc, creds, err := loadInputs()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	a, err := app.Build(cmd.Context(), app.Config{
		Document:    doc,
		Credentials: creds,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Stdout:      io.Discard,
	})
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	defer func() { _ = a.Close() }()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Config is valid!")
	fmt.Fprintf(out, "  Sources:   %d\n", len(a.SourceNames()))
	for _, name := range a.SourceNames() {
		fmt.Fprintf(out, "    - %s\n", name)
	}
	fmt.Fprintf(out, "  Listeners: %d\n", len(a.ListenerNames()))
	for _, name := range a.ListenerNames() {
		fmt.Fprintf(out, "    - %s\n", name)
	}
	state := doc.State
	if state == "" {
		state = "(memory)"
	}
	fmt.Fprintf(out, "  State:     %s\n", state)
	return nil
}
