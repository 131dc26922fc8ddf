// Package pgstore is a PostgreSQL backend for imagepref datasets. Documents
// are stored as jsonb; choice embeddings go into a pgvector column.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/anatolykoptev/go-imagepref"
)

const uniqueViolation = "23505"

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS imagepref_documents (
	dataset   text        NOT NULL,
	id        text        NOT NULL,
	seq       bigserial,
	body      jsonb       NOT NULL,
	embedding vector,
	PRIMARY KEY (dataset, id)
);
CREATE INDEX IF NOT EXISTS imagepref_documents_seq_idx ON imagepref_documents (dataset, seq);
`

// Backend hands out table-backed datasets sharing one pool.
type Backend struct {
	pool *pgxpool.Pool
}

// NewPool parses databaseURL, connects and pings.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	slog.Info("pgstore: connected to PostgreSQL")
	return pool, nil
}

// New returns a Backend on pool. Call Migrate once before use.
func New(pool *pgxpool.Pool) *Backend {
	return &Backend{pool: pool}
}

// Migrate creates the vector extension and the documents table if missing.
func (b *Backend) Migrate(ctx context.Context) error {
	if _, err := b.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("pgstore migrate: %w", err)
	}
	return nil
}

// Dataset returns the store for name.
func (b *Backend) Dataset(name string) imagepref.Store {
	return &Store{pool: b.pool, dataset: name}
}

// Store is one dataset in the documents table.
type Store struct {
	pool    *pgxpool.Pool
	dataset string
}

func (s *Store) Create(ctx context.Context, doc imagepref.Document) error {
	id, data, vec, err := encodeDocument(doc)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO imagepref_documents (dataset, id, body, embedding) VALUES ($1, $2, $3, $4)`,
		s.dataset, id, data, vec,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: duplicate id %q", imagepref.ErrPersistence, id)
		}
		return fmt.Errorf("pgstore create %q: %w", id, err)
	}
	return nil
}

// Upsert inserts doc or replaces the stored document with the same id in a
// single statement. A replaced row takes a fresh seq so it sorts last.
func (s *Store) Upsert(ctx context.Context, doc imagepref.Document) error {
	id, data, vec, err := encodeDocument(doc)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO imagepref_documents (dataset, id, body, embedding) VALUES ($1, $2, $3, $4)
		ON CONFLICT (dataset, id)
		DO UPDATE SET body = EXCLUDED.body, embedding = EXCLUDED.embedding,
			seq = nextval(pg_get_serial_sequence('imagepref_documents', 'seq'))`,
		s.dataset, id, data, vec,
	)
	if err != nil {
		return fmt.Errorf("pgstore upsert %q: %w", id, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (imagepref.Document, error) {
	var (
		data []byte
		vec  *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT body, embedding::text FROM imagepref_documents WHERE dataset = $1 AND id = $2`,
		s.dataset, id,
	).Scan(&data, &vec)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", imagepref.ErrNotFound, id)
		}
		return nil, fmt.Errorf("pgstore get %q: %w", id, err)
	}
	return decodeDocument(data, vec)
}

func (s *Store) Remove(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM imagepref_documents WHERE dataset = $1 AND id = $2`,
		s.dataset, id,
	)
	if err != nil {
		return fmt.Errorf("pgstore remove %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", imagepref.ErrNotFound, id)
	}
	return nil
}

func (s *Store) Items(ctx context.Context) ([]imagepref.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT body, embedding::text FROM imagepref_documents WHERE dataset = $1 ORDER BY seq`,
		s.dataset,
	)
	if err != nil {
		return nil, fmt.Errorf("pgstore items: %w", err)
	}
	defer rows.Close()

	var docs []imagepref.Document
	for rows.Next() {
		var (
			data []byte
			vec  *string
		)
		if err := rows.Scan(&data, &vec); err != nil {
			return nil, fmt.Errorf("pgstore scan: %w", err)
		}
		doc, err := decodeDocument(data, vec)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore iterating items: %w", err)
	}
	return docs, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM imagepref_documents WHERE dataset = $1`, s.dataset,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("pgstore count: %w", err)
	}
	return n, nil
}

// encodeDocument splits a []float32 embedding out of doc into a pgvector value
// and marshals the rest as the jsonb body.
func encodeDocument(doc imagepref.Document) (string, []byte, any, error) {
	id := doc.ID()
	if id == "" {
		return "", nil, nil, fmt.Errorf("%w: document without id", imagepref.ErrPersistence)
	}

	body := maps.Clone(doc)
	var vec any
	if emb, ok := body["embedding"].([]float32); ok {
		vec = pgvector.NewVector(emb)
		delete(body, "embedding")
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", nil, nil, fmt.Errorf("%w: encode %q: %v", imagepref.ErrPersistence, id, err)
	}
	return id, data, vec, nil
}

func decodeDocument(data []byte, vec *string) (imagepref.Document, error) {
	doc := imagepref.Document{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("pgstore decode: %w", err)
	}
	if vec != nil {
		var v pgvector.Vector
		if err := v.Scan(*vec); err != nil {
			return nil, fmt.Errorf("pgstore decode embedding: %w", err)
		}
		doc["embedding"] = v.Slice()
	}
	return doc, nil
}
