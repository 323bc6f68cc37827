package source

import (
	"fmt"

	"github.com/ppiankov/birdman/internal/config"
	"github.com/ppiankov/birdman/internal/registry"
)

// Constructor builds a source from its composed options.
type Constructor func(opts config.Options, env Env) (Source, error)

// NewRegistry returns a registry holding every built-in source class.
func NewRegistry() *registry.Registry[Constructor] {
	reg := registry.New[Constructor]("source")
	Register(reg)
	return reg
}

// Register adds the built-in source classes to reg.
func Register(reg *registry.Registry[Constructor]) {
	reg.MustRegister(forumClass, newForum)
	reg.MustRegister(dcinsideClass, newDCInside)
	reg.MustRegister(todayhumorClass, newTodayHumor)
	reg.MustRegister(rssClass, newRSS)
	reg.MustRegister(redditClass, newReddit)
	reg.MustRegister(hnClass, newHN)
	reg.MustRegister(twitterClass, newTwitter)
	reg.MustRegister(commandClass, newCommand)
}

func nameOr(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

func newForum(opts config.Options, env Env) (Source, error) {
	cfg := ForumConfig{PollerConfig: DefaultPollerConfig()}
	if err := opts.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("forum: %w", err)
	}
	name := nameOr(cfg.Name, forumName(cfg.ListURL))
	c, err := NewForumCrawler(name, cfg)
	if err != nil {
		return nil, err
	}
	return NewPoller(name, c, cfg.PollerConfig, env), nil
}

func newPreset(opts config.Options, env Env, resolve func(config.Options) (string, config.Options, error), setup ...func(*ForumCrawler)) (Source, error) {
	name, layered, err := resolve(opts)
	if err != nil {
		return nil, err
	}
	cfg := ForumConfig{PollerConfig: DefaultPollerConfig()}
	if err := layered.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	name = nameOr(cfg.Name, name)
	c, err := NewForumCrawler(name, cfg)
	if err != nil {
		return nil, err
	}
	for _, fn := range setup {
		fn(c)
	}
	return NewPoller(name, c, cfg.PollerConfig, env), nil
}

func newDCInside(opts config.Options, env Env) (Source, error) {
	sel := struct {
		GalleryID       string `yaml:"gallery_id"`
		IncludeComments bool   `yaml:"include_comments"`
		CommentAPI      string `yaml:"comment_api"`
	}{IncludeComments: true, CommentAPI: dcinsideCommentAPI}
	if err := opts.Decode(&sel); err != nil {
		return nil, fmt.Errorf("dcinside: %w", err)
	}
	return newPreset(opts, env, dcinsideOptions, func(c *ForumCrawler) {
		comments := &dcinsideComments{
			source:    c.name,
			galleryID: sel.GalleryID,
			apiURL:    sel.CommentAPI,
			enabled:   sel.IncludeComments,
			loc:       c.loc,
			fetcher:   c.fetcher,
		}
		c.enrich = comments.attach
	})
}

func newTodayHumor(opts config.Options, env Env) (Source, error) {
	return newPreset(opts, env, todayhumorOptions)
}

func newRSS(opts config.Options, env Env) (Source, error) {
	cfg := RSSConfig{PollerConfig: DefaultPollerConfig()}
	if err := opts.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("rss: %w", err)
	}
	name := nameOr(cfg.Name, rssName(cfg.Feed))
	c, err := NewRSSCrawler(name, cfg)
	if err != nil {
		return nil, err
	}
	return NewPoller(name, c, cfg.PollerConfig, env), nil
}

func newReddit(opts config.Options, env Env) (Source, error) {
	cfg := RedditConfig{PollerConfig: DefaultPollerConfig()}
	if err := opts.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("reddit: %w", err)
	}
	c, err := NewRedditCrawler(nameOr(cfg.Name, redditName(cfg.Subreddit)), cfg)
	if err != nil {
		return nil, err
	}
	return NewPoller(c.name, c, cfg.PollerConfig, env), nil
}

func newHN(opts config.Options, env Env) (Source, error) {
	cfg := HNConfig{PollerConfig: DefaultPollerConfig()}
	if err := opts.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("hn: %w", err)
	}
	name := nameOr(cfg.Name, hnClass)
	c, err := NewHNCrawler(name, cfg)
	if err != nil {
		return nil, err
	}
	return NewPoller(name, c, cfg.PollerConfig, env), nil
}

func newCommand(opts config.Options, env Env) (Source, error) {
	cfg := CommandConfig{PollerConfig: DefaultPollerConfig()}
	if err := opts.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("command: %w", err)
	}
	name := nameOr(cfg.Name, commandName(cfg.Command))
	c, err := NewCommandCrawler(name, cfg)
	if err != nil {
		return nil, err
	}
	return NewPoller(name, c, cfg.PollerConfig, env), nil
}

func newTwitter(opts config.Options, env Env) (Source, error) {
	cfg := DefaultTwitterConfig()
	if err := opts.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("twitter: %w", err)
	}
	name := nameOr(cfg.Name, twitterName(cfg.WordList))
	c, err := NewTwitterCrawler(name, cfg)
	if err != nil {
		return nil, err
	}
	return NewPoller(name, c, cfg.PollerConfig, env), nil
}
