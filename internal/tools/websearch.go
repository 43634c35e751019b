package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/parley/internal/agent"
	"github.com/felixgeelhaar/parley/internal/memstore"
	"github.com/felixgeelhaar/parley/internal/search"
	"github.com/felixgeelhaar/parley/internal/session"
)

type webSearchArgs struct {
	Query     string `json:"query" jsonschema:"required,description=The search query"`
	Timelimit string `json:"timelimit,omitempty" jsonschema:"enum=d,enum=w,enum=m,enum=y,default=w,description=Recency window: d (day) w (week) m (month) or y (year)"`
}

// WebHit is a search result as returned to the model.
type WebHit struct {
	Title string   `json:"title"`
	Href  string   `json:"href"`
	Body  string   `json:"body"`
	Score *float32 `json:"score,omitempty"`
}

// WebSearch queries the search provider, archives every result under the
// user's web_search namespace and returns either the raw list or the
// closest archived matches.
type WebSearch struct {
	provider search.Provider
	store    memstore.Store
	now      func() time.Time
}

func NewWebSearch(p search.Provider, s memstore.Store) *WebSearch {
	return &WebSearch{provider: p, store: s, now: time.Now}
}

func (w *WebSearch) Name() string { return "search_web" }

func (w *WebSearch) Description() string {
	return "Search the web for current information about a topic."
}

func (w *WebSearch) Schema() map[string]any { return agent.SchemaFor[webSearchArgs]() }

// Enabled reports whether the session turned web search on.
func (w *WebSearch) Enabled(sess *session.Session) bool {
	return sess.Options.WebSearch
}

func (w *WebSearch) Call(ctx context.Context, sess *session.Session, raw json.RawMessage) (any, error) {
	var args webSearchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, errors.New("query is required")
	}
	recency, err := search.ParseRecency(args.Timelimit)
	if err != nil {
		return nil, err
	}

	results, err := w.provider.Search(ctx, args.Query, recency, sess.Options.NumResults)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return []WebHit{}, nil
	}

	ns := memstore.Namespace{Kind: memstore.KindWebSearch, UserID: sess.UserID}
	timestamp := w.now().UTC().Format(time.RFC3339Nano)
	batch := make(map[string]bool, len(results))

	for i, r := range results {
		key := args.Query + "_" + timestamp + "_" + strconv.Itoa(i)
		text := strings.TrimSpace(r.Title + " " + r.Body)
		if text == "" {
			text = r.Href
		}
		if text == "" {
			continue
		}
		value := map[string]string{
			"query":     args.Query,
			"title":     r.Title,
			"href":      r.Href,
			"body":      r.Body,
			"timestamp": timestamp,
			"text":      text,
		}
		if _, err := w.store.Put(ctx, ns, key, value, text); err != nil {
			return nil, fmt.Errorf("failed to archive search result %d: %w", i, err)
		}
		batch[key] = true
	}

	if !sess.Options.Rerank {
		out := make([]WebHit, 0, len(results))
		for _, r := range results {
			out = append(out, WebHit{Title: r.Title, Href: r.Href, Body: r.Body})
		}
		return out, nil
	}

	// Rank the whole namespace and keep only this batch.
	hits, err := w.store.Search(ctx, ns, args.Query, 0)
	if err != nil {
		return nil, err
	}
	out := make([]WebHit, 0, sess.Options.RerankLimit)
	for _, h := range hits {
		if !batch[h.Record.Key] {
			continue
		}
		score := h.Score
		out = append(out, WebHit{
			Title: h.Record.Value["title"],
			Href:  h.Record.Value["href"],
			Body:  h.Record.Value["body"],
			Score: &score,
		})
		if len(out) == sess.Options.RerankLimit {
			break
		}
	}
	return out, nil
}
