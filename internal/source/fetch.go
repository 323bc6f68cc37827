package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const maxBodyBytes = 10 << 20

// defaultHeader is sent unless the source configures its own values.
var defaultHeader = map[string]string{
	"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
}

// Response is a fully read HTTP response body.
type Response struct {
	URL         string
	ContentType string
	Body        []byte
}

// Fetcher performs paced GET requests for one source and retries
// transient failures at the point of failure.
type Fetcher struct {
	source       string
	client       *http.Client
	header       http.Header
	maxRetries   int
	pageInterval time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// NewFetcher builds a fetcher from the shared poller options.
func NewFetcher(source string, cfg PollerConfig) *Fetcher {
	header := make(http.Header)
	for k, v := range defaultHeader {
		header.Set(k, v)
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	header.Set("User-Agent", ua)
	for k, v := range cfg.Headers {
		header.Set(k, v)
	}

	retries := cfg.MaxRetries
	if retries < 1 {
		retries = 1
	}

	return &Fetcher{
		source:       source,
		client:       &http.Client{Timeout: cfg.Timeout},
		header:       header,
		maxRetries:   retries,
		pageInterval: cfg.PageInterval,
		sleep:        sleepContext,
	}
}

// Get waits page_interval, then fetches rawURL. Timeouts, resets and 5xx
// or 429 answers are retried with 1s, 2s, 4s… backoff up to max_retries
// attempts; a malformed URL or a 4xx answer is a StructuralError.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*Response, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return nil, &StructuralError{Source: f.source, Msg: "invalid URL, website or API address may have changed", Err: err}
	}

	var lastErr error
	for attempt := 0; attempt < f.maxRetries; attempt++ {
		if err := f.sleep(ctx, f.pageInterval); err != nil {
			return nil, err
		}

		resp, err := f.do(ctx, rawURL)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if Classify(err) != KindTransient {
			return nil, err
		}
		lastErr = err
		if attempt < f.maxRetries-1 {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			if err := f.sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}
	}

	var te *TransientError
	if errors.As(lastErr, &te) {
		return nil, lastErr
	}
	return nil, &TransientError{Source: f.source, Err: lastErr}
}

// GetJSON fetches rawURL and decodes the body into v. A body that does not
// decode is a StructuralError.
func (f *Fetcher) GetJSON(ctx context.Context, rawURL string, v any) error {
	resp, err := f.Get(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return &StructuralError{Source: f.source, Msg: "unexpected API response", Err: err}
	}
	return nil
}

func (f *Fetcher) do(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &StructuralError{Source: f.source, Msg: "invalid URL, website or API address may have changed", Err: err}
	}
	req.Header = f.header.Clone()

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &TransientError{Source: f.source, Err: fmt.Errorf("%s: HTTP %d", rawURL, resp.StatusCode)}
	case resp.StatusCode >= 400:
		return nil, &StructuralError{Source: f.source, Msg: fmt.Sprintf("HTTP %d for %s", resp.StatusCode, rawURL)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}

	return &Response{
		URL:         resp.Request.URL.String(),
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// Close drops idle connections. The fetcher stays usable.
func (f *Fetcher) Close() error {
	f.client.CloseIdleConnections()
	return nil
}
