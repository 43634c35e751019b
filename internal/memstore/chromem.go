package memstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
)

const (
	valuePrefix = "v."
	metaCreated = "created_at"
	metaUpdated = "updated_at"
)

// ChromemStore keeps one chromem collection per namespace. Vectors are
// computed by the Embedder before they reach chromem.
type ChromemStore struct {
	db       *chromem.DB
	embedder Embedder

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
	// dims is the vector length seen per collection.
	dims map[string]int
}

// NewChromemStore opens a persistent database under dir, or an in-memory
// one when dir is empty.
func NewChromemStore(dir string, embedder Embedder) (*ChromemStore, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}

	var db *chromem.DB
	if dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create persist directory: %w", err)
		}
		var err error
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector database: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	return &ChromemStore{
		db:          db,
		embedder:    embedder,
		collections: make(map[string]*chromem.Collection),
		dims:        make(map[string]int),
	}, nil
}

// precomputed is handed to chromem so it never embeds on its own.
func precomputed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("vectors are precomputed")
}

func (s *ChromemStore) collection(ns Namespace) (*chromem.Collection, error) {
	name := ns.String()

	s.mu.RLock()
	if col, ok := s.collections[name]; ok {
		s.mu.RUnlock()
		return col, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if col, ok := s.collections[name]; ok {
		return col, nil
	}
	col, err := s.db.GetOrCreateCollection(name, nil, precomputed)
	if err != nil {
		return nil, fmt.Errorf("failed to get/create collection %q: %w", name, err)
	}
	s.collections[name] = col
	return col, nil
}

func (s *ChromemStore) Put(ctx context.Context, ns Namespace, key string, value map[string]string, text string) (*Record, error) {
	if err := validatePut(ns, key, text); err != nil {
		return nil, err
	}
	col, err := s.collection(ns)
	if err != nil {
		return nil, err
	}

	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed record %s: %w", key, err)
	}
	s.noteDims(ns, len(vector))

	now := time.Now().UTC()
	created := now
	if existing, err := col.GetByID(ctx, key); err == nil {
		created = parseNanos(existing.Metadata[metaCreated])
	}

	meta := make(map[string]string, len(value)+2)
	for k, v := range value {
		meta[valuePrefix+k] = v
	}
	meta[metaCreated] = strconv.FormatInt(created.UnixNano(), 10)
	meta[metaUpdated] = strconv.FormatInt(now.UnixNano(), 10)

	doc := chromem.Document{
		ID:        key,
		Content:   text,
		Metadata:  meta,
		Embedding: vector,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to upsert record %s: %w", key, err)
	}

	return &Record{
		Namespace: ns,
		Key:       key,
		Value:     value,
		Text:      text,
		Embedding: vector,
		CreatedAt: created,
		UpdatedAt: now,
	}, nil
}

func parseNanos(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func toRecord(ns Namespace, id, content string, meta map[string]string, embedding []float32) Record {
	value := make(map[string]string)
	for k, v := range meta {
		if strings.HasPrefix(k, valuePrefix) {
			value[strings.TrimPrefix(k, valuePrefix)] = v
		}
	}
	return Record{
		Namespace: ns,
		Key:       id,
		Value:     value,
		Text:      content,
		Embedding: embedding,
		CreatedAt: parseNanos(meta[metaCreated]),
		UpdatedAt: parseNanos(meta[metaUpdated]),
	}
}

func (s *ChromemStore) Get(ctx context.Context, ns Namespace, key string) (*Record, error) {
	col, err := s.collection(ns)
	if err != nil {
		return nil, err
	}
	doc, err := col.GetByID(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", ns, key, ErrNotFound)
	}
	rec := toRecord(ns, doc.ID, doc.Content, doc.Metadata, doc.Embedding)
	return &rec, nil
}

func (s *ChromemStore) Delete(ctx context.Context, ns Namespace, key string) error {
	col, err := s.collection(ns)
	if err != nil {
		return err
	}
	if _, err := col.GetByID(ctx, key); err != nil {
		return fmt.Errorf("%s/%s: %w", ns, key, ErrNotFound)
	}
	if err := col.Delete(ctx, nil, nil, key); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", key, err)
	}
	return nil
}

func (s *ChromemStore) Search(ctx context.Context, ns Namespace, query string, limit int) ([]Hit, error) {
	if err := ns.validate(); err != nil {
		return nil, err
	}
	col, err := s.collection(ns)
	if err != nil {
		return nil, err
	}
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	// chromem rejects n larger than the collection.
	n := limit
	if n <= 0 || n > count {
		n = count
	}

	queryVector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	s.noteDims(ns, len(queryVector))
	results, err := col.QueryEmbedding(ctx, queryVector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			Record: toRecord(ns, r.ID, r.Content, r.Metadata, r.Embedding),
			Score:  r.Similarity,
		})
	}
	return rank(hits, limit), nil
}

// List returns all records of ns, oldest first. chromem has no scan, so
// it queries every document with a constant vector; only a collection
// whose dimension is not yet known costs one embedding.
func (s *ChromemStore) List(ctx context.Context, ns Namespace) ([]Record, error) {
	if err := ns.validate(); err != nil {
		return nil, err
	}
	col, err := s.collection(ns)
	if err != nil {
		return nil, err
	}
	count := col.Count()
	if count == 0 {
		return nil, nil
	}

	dims, err := s.dimsFor(ctx, ns)
	if err != nil {
		return nil, err
	}
	anchor := make([]float32, dims)
	for i := range anchor {
		anchor[i] = 1
	}
	results, err := col.QueryEmbedding(ctx, anchor, count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}

	out := make([]Record, 0, len(results))
	for _, r := range results {
		out = append(out, toRecord(ns, r.ID, r.Content, r.Metadata, r.Embedding))
	}
	sortByCreated(out)
	return out, nil
}

func (s *ChromemStore) noteDims(ns Namespace, n int) {
	if n == 0 {
		return
	}
	s.mu.Lock()
	s.dims[ns.String()] = n
	s.mu.Unlock()
}

func (s *ChromemStore) dimsFor(ctx context.Context, ns Namespace) (int, error) {
	s.mu.RLock()
	n := s.dims[ns.String()]
	s.mu.RUnlock()
	if n > 0 {
		return n, nil
	}
	vector, err := s.embedder.Embed(ctx, ns.String())
	if err != nil {
		return 0, fmt.Errorf("failed to size list query: %w", err)
	}
	if len(vector) == 0 {
		return 0, errors.New("embedder returned an empty vector")
	}
	s.noteDims(ns, len(vector))
	return len(vector), nil
}

func sortByCreated(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Key < b.Key
	})
}

// Close is a no-op; the persistent database writes on every change.
func (s *ChromemStore) Close() error {
	return nil
}

var _ Store = (*ChromemStore)(nil)
