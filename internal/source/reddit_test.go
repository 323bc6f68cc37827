package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
)

func redditPage(after string, posts ...redditPost) redditListing {
	var l redditListing
	l.Kind = "Listing"
	l.Data.After = after
	for _, p := range posts {
		l.Data.Children = append(l.Data.Children, redditChild{Data: p})
	}
	return l
}

func newTestReddit(t *testing.T, base string) *RedditCrawler {
	t.Helper()
	cfg := RedditConfig{PollerConfig: DefaultPollerConfig(), Subreddit: "golang", BaseURL: base}
	cfg.PageInterval = 0
	c, err := NewRedditCrawler("reddit.golang", cfg)
	if err != nil {
		t.Fatalf("NewRedditCrawler: %v", err)
	}
	return c
}

func TestNewRedditCrawler(t *testing.T) {
	if _, err := NewRedditCrawler("x", RedditConfig{}); err == nil {
		t.Error("expected error for empty subreddit")
	}
	c, err := NewRedditCrawler("x", RedditConfig{Subreddit: "r/golang"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.subreddit != "golang" {
		t.Errorf("subreddit = %q, want golang", c.subreddit)
	}
	if redditName("r/golang") != "reddit.golang" {
		t.Errorf("redditName = %q", redditName("r/golang"))
	}
}

func TestRedditCrawler_Paginates(t *testing.T) {
	var afters []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/r/golang/new.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		after := r.URL.Query().Get("after")
		afters = append(afters, after)
		w.Header().Set("Content-Type", "application/json")
		switch after {
		case "":
			_ = json.NewEncoder(w).Encode(redditPage("t3_1y",
				redditPost{ID: "1z", Title: "newest", Author: "gopher", Permalink: "/r/golang/comments/1z/", CreatedUTC: 1700000200},
				redditPost{ID: "1y", Title: "middle", Permalink: "/r/golang/comments/1y/", CreatedUTC: 1700000100},
			))
		default:
			_ = json.NewEncoder(w).Encode(redditPage("",
				redditPost{ID: "1x", Title: "oldest", Permalink: "/r/golang/comments/1x/", CreatedUTC: 1700000000},
			))
		}
	}))
	defer ts.Close()

	c := newTestReddit(t, ts.URL)
	var got []Record
	err := c.Crawl(context.Background(), func(rec Record) bool {
		got = append(got, rec)
		return true
	})
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	want, _ := strconv.ParseInt("1z", 36, 64)
	if got[0].ID != want {
		t.Errorf("id = %d, want %d", got[0].ID, want)
	}
	if got[0].ID <= got[1].ID || got[1].ID <= got[2].ID {
		t.Error("base36 ids must decrease along the listing")
	}
	if got[0].Payload["nickname"] != "gopher" {
		t.Errorf("nickname = %v", got[0].Payload["nickname"])
	}
	if got[0].Payload["url"] != "https://www.reddit.com/r/golang/comments/1z/" {
		t.Errorf("url = %v", got[0].Payload["url"])
	}
	if len(afters) != 2 || afters[1] != "t3_1y" {
		t.Errorf("after params = %v", afters)
	}
}

func TestRedditCrawler_StopsWhenVisitDeclines(t *testing.T) {
	requests := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		_ = json.NewEncoder(w).Encode(redditPage("t3_next",
			redditPost{ID: "b", CreatedUTC: 2},
			redditPost{ID: "a", CreatedUTC: 1},
		))
	}))
	defer ts.Close()

	c := newTestReddit(t, ts.URL)
	n := 0
	if err := c.Crawl(context.Background(), func(Record) bool { n++; return false }); err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if n != 1 || requests != 1 {
		t.Errorf("visited %d records over %d requests, want 1 and 1", n, requests)
	}
}

func TestRedditCrawler_UnexpectedShape(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"kind": "t3", "data": {}}`))
	}))
	defer ts.Close()

	err := newTestReddit(t, ts.URL).Crawl(context.Background(), func(Record) bool { return true })
	if Classify(err) != KindStructural {
		t.Fatalf("err = %v, want structural", err)
	}
}

func TestRedditCrawler_BadID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(redditPage("", redditPost{ID: "not-base36!"}))
	}))
	defer ts.Close()

	err := newTestReddit(t, ts.URL).Crawl(context.Background(), func(Record) bool { return true })
	if Classify(err) != KindStructural {
		t.Fatalf("err = %v, want structural", err)
	}
}
