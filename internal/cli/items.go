package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/birdman/internal/config"
	"github.com/ppiankov/birdman/internal/store"
)

var (
	itemsLimit  int
	itemsFormat string
	itemsDB     string
)

var itemsCmd = &cobra.Command{
	Use:   "items [SOURCE]",
	Short: "Show the most recently stored items",
	Long: `Show the most recently stored items from the sqlite listener's
database, optionally restricted to one source.`,
	Args: cobra.MaximumNArgs(1),
	RunE: itemsAction,
}

func init() {
	itemsCmd.Flags().IntVarP(&itemsLimit, "limit", "n", 20, "number of items")
	itemsCmd.Flags().StringVar(&itemsFormat, "format", "terminal", "output format: terminal, jsonl")
	itemsCmd.Flags().StringVar(&itemsDB, "db", "", "items database (default: the first sqlite listener's path)")
	rootCmd.AddCommand(itemsCmd)
}

func itemsAction(cmd *cobra.Command, args []string) error {
	path := itemsDB
	if path == "" {
		doc, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if path, err = sqliteListenerPath(doc); err != nil {
			return err
		}
	}

	db, err := store.Open(path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	var sourceName string
	if len(args) == 1 {
		sourceName = args[0]
	}
	items, err := db.RecentItems(cmd.Context(), sourceName, itemsLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch itemsFormat {
	case "jsonl":
		return printItemsJSONL(out, items)
	case "terminal", "":
		printItems(out, items, time.Now())
		return nil
	default:
		return fmt.Errorf("unknown format %q (want terminal or jsonl)", itemsFormat)
	}
}

func printItems(w io.Writer, items []store.Item, now time.Time) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No items stored yet.")
		return
	}
	for _, it := range items {
		title := it.Title
		if title == "" {
			title = it.Snippet
		}
		fmt.Fprintf(w, "[%s] %s\n", it.Source, title)
		by := it.Nickname
		if by == "" {
			by = "-"
		}
		fmt.Fprintf(w, "  #%d · %s · %s\n", it.ItemID, by, humanize.RelTime(it.CrawledAt, now, "ago", "from now"))
		if it.URL != "" {
			fmt.Fprintf(w, "  %s\n", it.URL)
		}
	}
}

func printItemsJSONL(w io.Writer, items []store.Item) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, it := range items {
		if err := enc.Encode(it.Payload); err != nil {
			return err
		}
	}
	return nil
}
