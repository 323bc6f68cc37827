package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/birdman/internal/config"
	"github.com/ppiankov/birdman/internal/store"
)

var statePath string

var cursorsCmd = &cobra.Command{
	Use:   "cursors",
	Short: "Show the persisted resume position of every source",
	RunE:  cursorsAction,
}

var cursorsResetCmd = &cobra.Command{
	Use:   "reset SOURCE...",
	Short: "Forget the persisted cursor of the named sources",
	Long: `Forget the persisted cursor of the named sources. On the next run
those sources resume from their configured current_post_id and
current_datetime (or crawl everything).`,
	Args: cobra.MinimumNArgs(1),
	RunE: cursorsResetAction,
}

func init() {
	cursorsCmd.PersistentFlags().StringVar(&statePath, "state", "", "state database (default: the config's state path)")
	cursorsCmd.AddCommand(cursorsResetCmd)
	rootCmd.AddCommand(cursorsCmd)
}

// openState opens the state database named by --state or the config.
func openState() (*store.Store, error) {
	path := statePath
	if path == "" {
		doc, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		path = doc.State
	}
	if path == "" {
		return nil, errors.New("no state database: set state in the config or pass --state")
	}
	return store.Open(path)
}

func cursorsAction(cmd *cobra.Command, _ []string) error {
	st, err := openState()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	rows, err := st.ListCursors(cmd.Context())
	if err != nil {
		return err
	}
	printCursors(cmd.OutOrStdout(), rows, time.Now())
	return nil
}

func printCursors(w io.Writer, rows []store.CursorRow, now time.Time) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No cursors stored yet. Run 'birdman run' first.")
		return
	}

	width := len("Source")
	for _, r := range rows {
		width = max(width, len(r.Source))
	}

	fmt.Fprintf(w, "%-*s  %12s  %-25s  %s\n", width, "Source", "Last ID", "Last Seen", "Updated")
	for _, r := range rows {
		seen := "-"
		if !r.Cursor.LastSeenAt.IsZero() {
			seen = r.Cursor.LastSeenAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%-*s  %12d  %-25s  %s\n",
			width, r.Source, r.Cursor.LastID, seen,
			humanize.RelTime(r.UpdatedAt, now, "ago", "from now"))
	}
}

func cursorsResetAction(cmd *cobra.Command, args []string) error {
	st, err := openState()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	out := cmd.OutOrStdout()
	for _, name := range args {
		deleted, err := st.DeleteCursor(cmd.Context(), name)
		if err != nil {
			return err
		}
		if deleted {
			fmt.Fprintf(out, "  reset: %s\n", name)
		} else {
			fmt.Fprintf(out, "  no cursor: %s\n", name)
		}
	}
	return nil
}
