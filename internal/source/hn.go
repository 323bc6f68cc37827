package source

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	hnClass      = "hn"
	hnAPIBase    = "https://hacker-news.firebaseio.com/v0"
	hnItemURL    = "https://news.ycombinator.com/item?id=%d"
	hnMaxStories = 100
)

// HNConfig configures the Hacker News source.
type HNConfig struct {
	PollerConfig
	BaseURL    string `yaml:"base_url"`
	MinPoints  int    `yaml:"min_points"`
	MaxStories int    `yaml:"max_stories"`
}

// HNCrawler walks newstories.json, which lists story ids newest first.
// Points are judged when the story is crawled; a story that gains points
// after the cursor passed it is not revisited.
type HNCrawler struct {
	name       string
	baseURL    string
	minPoints  int
	maxStories int
	fetcher    *Fetcher
}

// hnItem represents a Hacker News item from the API.
type hnItem struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Text        string `json:"text"`
	URL         string `json:"url"`
	Score       int    `json:"score"`
	Time        int64  `json:"time"`
	Descendants int    `json:"descendants"`
	By          string `json:"by"`
	Dead        bool   `json:"dead"`
	Deleted     bool   `json:"deleted"`
}

// NewHNCrawler builds the crawler.
func NewHNCrawler(name string, cfg HNConfig) (*HNCrawler, error) {
	if cfg.MinPoints < 0 {
		return nil, fmt.Errorf("hn: min_points must not be negative, got %d", cfg.MinPoints)
	}
	base := cfg.BaseURL
	if base == "" {
		base = hnAPIBase
	}
	maxStories := cfg.MaxStories
	if maxStories < 1 {
		maxStories = hnMaxStories
	}
	return &HNCrawler{
		name:       name,
		baseURL:    strings.TrimRight(base, "/"),
		minPoints:  cfg.MinPoints,
		maxStories: maxStories,
		fetcher:    NewFetcher(name, cfg.PollerConfig),
	}, nil
}

func (h *HNCrawler) Crawl(ctx context.Context, visit func(Record) bool) error {
	var ids []int64
	if err := h.fetcher.GetJSON(ctx, h.baseURL+"/newstories.json", &ids); err != nil {
		return err
	}
	if len(ids) > h.maxStories {
		ids = ids[:h.maxStories]
	}

	for _, id := range ids {
		var item hnItem
		if err := h.fetcher.GetJSON(ctx, fmt.Sprintf("%s/item/%d.json", h.baseURL, id), &item); err != nil {
			return err
		}
		// Deleted items come back as null.
		if item.ID == 0 {
			continue
		}
		if item.Type != "story" || item.Dead || item.Deleted || item.Score < h.minPoints {
			continue
		}
		if !visit(h.record(item)) {
			return nil
		}
	}
	return nil
}

func (h *HNCrawler) record(item hnItem) Record {
	postedAt := time.Unix(item.Time, 0).UTC()
	link := item.URL
	if link == "" {
		link = fmt.Sprintf(hnItemURL, item.ID)
	}
	return Record{
		ID:       item.ID,
		PostedAt: postedAt,
		Payload: map[string]any{
			"url":        fmt.Sprintf(hnItemURL, item.ID),
			"link":       link,
			"title":      item.Title,
			"body":       stripHTML(item.Text),
			"nickname":   item.By,
			"score":      item.Score,
			"comments":   item.Descendants,
			"written_at": postedAt.Format(time.RFC3339),
		},
	}
}

func (h *HNCrawler) Close() error {
	return h.fetcher.Close()
}
