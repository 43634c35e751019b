// Package memstore is the long-term, namespaced, semantically searchable
// record store behind the memory and web search tools.
package memstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

var (
	// ErrNotFound is returned by Get for an unknown key.
	ErrNotFound = errors.New("memory record not found")
	// ErrEmptyText is returned by Put when there is nothing to index.
	ErrEmptyText = errors.New("record has no text to index")
)

// Well-known namespace kinds.
const (
	KindMemory    = "memory"
	KindWebSearch = "web_search"
)

// Namespace partitions records by purpose and owner.
type Namespace struct {
	Kind   string
	UserID string
}

func (n Namespace) String() string {
	return n.Kind + "/" + n.UserID
}

func (n Namespace) validate() error {
	if n.Kind == "" || n.UserID == "" {
		return fmt.Errorf("invalid namespace %q: kind and user are required", n.String())
	}
	return nil
}

func validatePut(ns Namespace, key, text string) error {
	if err := ns.validate(); err != nil {
		return err
	}
	if key == "" {
		return errors.New("key is required")
	}
	if text == "" {
		return fmt.Errorf("%s/%s: %w", ns, key, ErrEmptyText)
	}
	return nil
}

// Record is one stored item. Writing an existing (Namespace, Key) replaces
// it; records never expire.
type Record struct {
	Namespace Namespace
	Key       string
	Value     map[string]string
	Text      string
	Embedding []float32
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Hit is a search match.
type Hit struct {
	Record Record
	Score  float32
}

// Embedder turns text into a vector. provider.Provider satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store defines the interface for long-term storage and retrieval.
type Store interface {
	// Put writes value under (ns, key), embedding text for search.
	Put(ctx context.Context, ns Namespace, key string, value map[string]string, text string) (*Record, error)
	Get(ctx context.Context, ns Namespace, key string) (*Record, error)
	Delete(ctx context.Context, ns Namespace, key string) error
	// Search returns up to limit records of ns ranked by similarity to query.
	Search(ctx context.Context, ns Namespace, query string, limit int) ([]Hit, error)
	List(ctx context.Context, ns Namespace) ([]Record, error)
	Close() error
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}
	var dot, magA, magB float32
	for i := 0; i < len(a); i++ {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0.0
	}
	return dot / (float32(math.Sqrt(float64(magA))) * float32(math.Sqrt(float64(magB))))
}

// rank sorts hits by descending score, then key, and keeps the first limit.
func rank(hits []Hit, limit int) []Hit {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Record.Key < hits[j].Record.Key
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// Open builds the backend named by kind. The sqlite backend shares db with
// the checkpoint store; the chromem backend persists under dir.
func Open(kind string, db *sql.DB, dir string, embedder Embedder) (Store, error) {
	switch kind {
	case "", "sqlite":
		if db == nil {
			return nil, errors.New("sqlite memory backend needs a database handle")
		}
		return NewSQLiteStore(db, embedder)
	case "chromem":
		return NewChromemStore(dir, embedder)
	default:
		return nil, fmt.Errorf("unknown memory backend: %s", kind)
	}
}
