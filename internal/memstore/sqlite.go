package memstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore keeps records in a table next to the checkpoints and scores
// them by brute-force cosine similarity.
type SQLiteStore struct {
	db       *sql.DB
	embedder Embedder
}

// NewSQLiteStore creates the records table on db if needed. db must have a
// sqlite driver loaded.
func NewSQLiteStore(db *sql.DB, embedder Embedder) (*SQLiteStore, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	query := `CREATE TABLE IF NOT EXISTS memory_records (
		kind TEXT NOT NULL,
		user_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		text TEXT NOT NULL,
		vector BLOB,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (kind, user_id, key)
	);`
	if _, err := db.Exec(query); err != nil {
		return nil, fmt.Errorf("failed to init memory schema: %w", err)
	}
	return &SQLiteStore{db: db, embedder: embedder}, nil
}

func encodeVector(vector []float32) ([]byte, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	vecBuf := new(bytes.Buffer)
	if err := binary.Write(vecBuf, binary.LittleEndian, vector); err != nil {
		return nil, fmt.Errorf("failed to encode vector: %w", err)
	}
	return vecBuf.Bytes(), nil
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	vector := make([]float32, len(blob)/4)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, &vector); err != nil {
		return nil, err
	}
	return vector, nil
}

func (s *SQLiteStore) Put(ctx context.Context, ns Namespace, key string, value map[string]string, text string) (*Record, error) {
	if err := validatePut(ns, key, text); err != nil {
		return nil, err
	}

	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed record %s: %w", key, err)
	}
	vecBlob, err := encodeVector(vector)
	if err != nil {
		return nil, err
	}
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}

	now := time.Now().UTC()
	query := `INSERT INTO memory_records (kind, user_id, key, value, text, vector, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, user_id, key) DO UPDATE SET
			value = excluded.value, text = excluded.text, vector = excluded.vector, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, ns.Kind, ns.UserID, key, string(valueJSON), text, vecBlob, now.UnixNano(), now.UnixNano()); err != nil {
		return nil, fmt.Errorf("failed to store record %s: %w", key, err)
	}
	return s.Get(ctx, ns, key)
}

const recordColumns = `key, value, text, vector, created_at, updated_at`

func scanRecord(ns Namespace, row interface{ Scan(...any) error }) (*Record, error) {
	var rec Record
	var valueJSON string
	var vecBlob []byte
	var created, updated int64
	if err := row.Scan(&rec.Key, &valueJSON, &rec.Text, &vecBlob, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(valueJSON), &rec.Value); err != nil {
		return nil, fmt.Errorf("failed to decode value of %s: %w", rec.Key, err)
	}
	vector, err := decodeVector(vecBlob)
	if err != nil {
		return nil, fmt.Errorf("failed to decode vector of %s: %w", rec.Key, err)
	}
	rec.Namespace = ns
	rec.Embedding = vector
	rec.CreatedAt = time.Unix(0, created).UTC()
	rec.UpdatedAt = time.Unix(0, updated).UTC()
	return &rec, nil
}

func (s *SQLiteStore) Get(ctx context.Context, ns Namespace, key string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM memory_records WHERE kind = ? AND user_id = ? AND key = ?`
	rec, err := scanRecord(ns, s.db.QueryRowContext(ctx, query, ns.Kind, ns.UserID, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s/%s: %w", ns, key, ErrNotFound)
		}
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, ns Namespace, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_records WHERE kind = ? AND user_id = ? AND key = ?`, ns.Kind, ns.UserID, key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s/%s: %w", ns, key, ErrNotFound)
	}
	return nil
}

// List returns every record in ns, oldest first.
func (s *SQLiteStore) List(ctx context.Context, ns Namespace) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM memory_records WHERE kind = ? AND user_id = ? ORDER BY created_at, key`
	rows, err := s.db.QueryContext(ctx, query, ns.Kind, ns.UserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(ns, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Search loads the namespace and ranks it in memory. Fine for a personal
// store of a few thousand records.
func (s *SQLiteStore) Search(ctx context.Context, ns Namespace, query string, limit int) ([]Hit, error) {
	if err := ns.validate(); err != nil {
		return nil, err
	}
	queryVector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	records, err := s.List(ctx, ns)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(records))
	for _, rec := range records {
		if len(rec.Embedding) == 0 {
			continue
		}
		hits = append(hits, Hit{Record: rec, Score: cosineSimilarity(queryVector, rec.Embedding)})
	}
	return rank(hits, limit), nil
}

// Close is a no-op; the handle belongs to the checkpoint store.
func (s *SQLiteStore) Close() error {
	return nil
}

var _ Store = (*SQLiteStore)(nil)
