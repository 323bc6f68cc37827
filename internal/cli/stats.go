package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/birdman/internal/config"
	"github.com/ppiankov/birdman/internal/store"
)

var (
	statsSince  string
	statsFormat string
	statsDB     string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-source item counts from the sqlite listener",
	RunE:  statsAction,
}

func init() {
	statsCmd.Flags().StringVar(&statsSince, "since", "30d", "time window (e.g. 7d, 48h)")
	statsCmd.Flags().StringVar(&statsFormat, "format", "terminal", "output format: terminal, json")
	statsCmd.Flags().StringVar(&statsDB, "db", "", "items database (default: the first sqlite listener's path)")
	rootCmd.AddCommand(statsCmd)
}

const staleDays = 7

func statsAction(cmd *cobra.Command, _ []string) error {
	path := statsDB
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

	sinceDur, err := config.ParseDuration(statsSince)
	if err != nil {
		return fmt.Errorf("parse --since: %w", err)
	}
	now := time.Now()

	stats, err := db.Stats(cmd.Context(), now.Add(-sinceDur))
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(stats) == 0 {
		if statsFormat == "json" {
			fmt.Fprintln(out, `{"sources":[],"total":0}`)
			return nil
		}
		fmt.Fprintln(out, "No items found. Add a sqlite listener and run 'birdman run' first.")
		return nil
	}

	switch statsFormat {
	case "json":
		return printStatsJSON(out, stats)
	case "terminal", "":
		printStats(out, stats, sinceDur, now)
		return nil
	default:
		return fmt.Errorf("unknown format %q (want terminal or json)", statsFormat)
	}
}

// sqliteListenerPath returns the path of the first sqlite listener.
func sqliteListenerPath(doc *config.Document) (string, error) {
	entries, err := config.Compose(doc.Listeners, nil)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.Class != "sqlite" {
			continue
		}
		if p, ok := e.Options["path"].(string); ok && p != "" {
			return p, nil
		}
	}
	return "", errors.New("no sqlite listener configured: pass --db")
}

type jsonStatsOutput struct {
	Sources []jsonSourceStats `json:"sources"`
	Total   int               `json:"total"`
}

type jsonSourceStats struct {
	Source    string `json:"source"`
	Items     int    `json:"items"`
	NewestID  int64  `json:"newest_id"`
	LastCrawl string `json:"last_crawl"`
}

func printStatsJSON(w io.Writer, stats []store.SourceStats) error {
	out := jsonStatsOutput{Sources: make([]jsonSourceStats, 0, len(stats))}
	for _, s := range stats {
		out.Sources = append(out.Sources, jsonSourceStats{
			Source:    s.Source,
			Items:     s.Items,
			NewestID:  s.NewestID,
			LastCrawl: s.LastCrawl.UTC().Format(time.RFC3339),
		})
		out.Total += s.Items
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printStats(w io.Writer, stats []store.SourceStats, since time.Duration, now time.Time) {
	total := 0
	for _, s := range stats {
		total += s.Items
	}
	fmt.Fprintf(w, "birdman stats — %s, %s items from %d sources\n\n",
		formatStatsDuration(since), humanize.Comma(int64(total)), len(stats))

	// busiest sources first
	sorted := make([]store.SourceStats, len(stats))
	copy(sorted, stats)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Items > sorted[j].Items
	})

	width := len("Source")
	for _, s := range sorted {
		width = max(width, len(s.Source))
	}
	width = min(width, 40)

	fmt.Fprintf(w, "  %-*s  %7s  %12s  %s\n", width, "Source", "Items", "Newest ID", "Last Crawl")
	for _, s := range sorted {
		name := s.Source
		if len(name) > width {
			name = name[:width-1] + "…"
		}
		fmt.Fprintf(w, "  %-*s  %7d  %12d  %s\n",
			width, name, s.Items, s.NewestID, humanize.RelTime(s.LastCrawl, now, "ago", "from now"))
	}
	fmt.Fprintln(w)

	staleThreshold := now.AddDate(0, 0, -staleDays)
	var stale []store.SourceStats
	for _, s := range stats {
		if s.LastCrawl.Before(staleThreshold) {
			stale = append(stale, s)
		}
	}
	if len(stale) > 0 {
		fmt.Fprintf(w, "--- Stale Sources (no items in %d+ days) ---\n\n", staleDays)
		for _, s := range stale {
			daysAgo := int(now.Sub(s.LastCrawl).Hours() / 24)
			fmt.Fprintf(w, "  %s — last item %d days ago\n", s.Source, daysAgo)
		}
		fmt.Fprintln(w)
	}
}

func formatStatsDuration(d time.Duration) string {
	hours := int(d.Hours())
	if hours >= 24 && hours%24 == 0 {
		return fmt.Sprintf("%d days", hours/24)
	}
	return fmt.Sprintf("%dh", hours)
}
