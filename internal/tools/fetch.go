package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/parley/internal/agent"
	"github.com/felixgeelhaar/parley/internal/extract"
	"github.com/felixgeelhaar/parley/internal/guard"
	"github.com/felixgeelhaar/parley/internal/session"
)

const (
	DefaultFetchTimeout = 10 * time.Second
	maxFetchTimeout     = 60 * time.Second
	maxParallelFetches  = 4
	maxFetchURLs        = 10
	maxRedirects        = 10
)

type fetchArgs struct {
	URLs    []string `json:"urls" jsonschema:"required,description=Page URLs to retrieve"`
	Timeout int      `json:"timeout,omitempty" jsonschema:"default=10,minimum=1,maximum=60,description=HTTP timeout per URL in seconds"`
}

// FetchURL downloads pages and returns their readable text. Each URL
// succeeds or fails on its own.
type FetchURL struct {
	guard          *guard.Guard
	client         *http.Client
	defaultTimeout time.Duration
}

func NewFetchURL(g *guard.Guard, client *http.Client, defaultTimeout time.Duration) *FetchURL {
	if client == nil {
		client = &http.Client{}
	}
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultFetchTimeout
	}
	f := &FetchURL{guard: g, defaultTimeout: defaultTimeout}
	c := *client
	c.CheckRedirect = f.checkRedirect
	f.client = &c
	return f
}

// checkRedirect applies the URL policy to every hop, not just the first.
func (f *FetchURL) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if v := f.guard.CheckURL(req.URL.String()); v != nil {
		return v
	}
	return nil
}

func (f *FetchURL) Name() string { return "fetch_url_content" }

func (f *FetchURL) Description() string {
	return "Fetch one or more web pages and extract their title and main text. " +
		"Returns one entry per URL with url/title/content or url/error."
}

func (f *FetchURL) Schema() map[string]any { return agent.SchemaFor[fetchArgs]() }

func (f *FetchURL) Call(ctx context.Context, sess *session.Session, raw json.RawMessage) (any, error) {
	var args fetchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if len(args.URLs) == 0 {
		return nil, errors.New("urls is required")
	}
	if len(args.URLs) > maxFetchURLs {
		return nil, fmt.Errorf("at most %d urls per call", maxFetchURLs)
	}

	timeout := f.defaultTimeout
	if args.Timeout > 0 {
		timeout = time.Duration(args.Timeout) * time.Second
	}
	if timeout > maxFetchTimeout {
		timeout = maxFetchTimeout
	}

	return f.FetchAll(ctx, args.URLs, timeout), nil
}

// FetchAll fetches urls concurrently; the result keeps input order.
func (f *FetchURL) FetchAll(ctx context.Context, urls []string, timeout time.Duration) []map[string]string {
	results := make([]map[string]string, len(urls))

	var g errgroup.Group
	g.SetLimit(maxParallelFetches)
	for i, u := range urls {
		g.Go(func() error {
			results[i] = f.fetchOne(ctx, u, timeout)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (f *FetchURL) fetchOne(ctx context.Context, url string, timeout time.Duration) map[string]string {
	if v := f.guard.CheckURL(url); v != nil {
		return map[string]string{"url": url, "error": v.Message}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	page, err := extract.Fetch(ctx, f.client, url)
	if err != nil {
		return map[string]string{"url": url, "error": err.Error()}
	}
	return map[string]string{"url": url, "title": page.Title, "content": page.Content}
}
