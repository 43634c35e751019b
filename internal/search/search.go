// Package search queries a web search provider.
package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Recency limits results to a time window.
type Recency string

const (
	Day   Recency = "d"
	Week  Recency = "w"
	Month Recency = "m"
	Year  Recency = "y"
)

// ParseRecency accepts d, w, m or y; empty means Week.
func ParseRecency(s string) (Recency, error) {
	switch Recency(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return Week, nil
	case Day:
		return Day, nil
	case Week:
		return Week, nil
	case Month:
		return Month, nil
	case Year:
		return Year, nil
	}
	return "", fmt.Errorf("invalid timelimit %q: want one of d, w, m, y", s)
}

// Result is one search hit.
type Result struct {
	Title string `json:"title"`
	Href  string `json:"href"`
	Body  string `json:"body"`
}

// Provider runs a query and returns at most max results.
type Provider interface {
	Search(ctx context.Context, query string, recency Recency, max int) ([]Result, error)
}

const defaultDuckDuckGoURL = "https://html.duckduckgo.com/html/"

// DuckDuckGo scrapes the keyless HTML endpoint.
type DuckDuckGo struct {
	baseURL string
	client  *http.Client
}

func NewDuckDuckGo() *DuckDuckGo {
	return &DuckDuckGo{
		baseURL: defaultDuckDuckGoURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// SetBaseURL allows overriding the endpoint (useful for tests)
func (d *DuckDuckGo) SetBaseURL(u string) {
	d.baseURL = u
}

func (d *DuckDuckGo) Search(ctx context.Context, query string, recency Recency, max int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty search query")
	}
	if max <= 0 {
		return nil, nil
	}

	form := url.Values{}
	form.Set("q", query)
	if recency != "" {
		form.Set("df", string(recency))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; parley)")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search provider error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}

	results := parseResults(doc)
	if len(results) > max {
		results = results[:max]
	}
	return results, nil
}

func parseResults(doc *html.Node) []Result {
	var results []Result
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "result") && !hasClass(n, "result--ad") {
			if r, ok := parseResult(n); ok {
				results = append(results, r)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results
}

func parseResult(n *html.Node) (Result, bool) {
	var r Result
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case hasClass(n, "result__a") && r.Href == "":
				r.Title = text(n)
				r.Href = resolveHref(attr(n, "href"))
			case hasClass(n, "result__snippet") && r.Body == "":
				r.Body = text(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return r, r.Href != ""
}

// resolveHref unwraps DuckDuckGo's redirect links.
func resolveHref(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func text(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
