package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/CS196Illinois/FA25-Group8/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// documentSchema is applied by EnsureSchema. Values are kept as BYTEA so a
// rejected write can be checked byte-for-byte against what was stored.
const documentSchema = `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT             NOT NULL,
		id         TEXT             NOT NULL,
		version    BIGINT           NOT NULL CHECK (version > 0),
		value      BYTEA            NOT NULL,
		rank       DOUBLE PRECISION NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ      NOT NULL DEFAULT now(),
		PRIMARY KEY (collection, id)
	);
	CREATE INDEX IF NOT EXISTS documents_rank_idx ON documents (collection, rank DESC, id ASC);
`

// PostgresDocumentStore implements DocumentStore for PostgreSQL.
// The compare-and-swap is a single UPDATE guarded by the version column.
type PostgresDocumentStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresDocumentStore creates a new PostgreSQL document store
func NewPostgresDocumentStore(
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
	logger *zap.Logger,
) (*PostgresDocumentStore, error) {
	connURL := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, password),
		Host:   fmt.Sprintf("%s:%d", host, port),
		Path:   "/" + database,
		RawQuery: url.Values{
			"pool_max_conns": {strconv.Itoa(maxConns)},
			"pool_min_conns": {strconv.Itoa(minConns)},
		}.Encode(),
	}
	return NewPostgresDocumentStoreFromDSN(context.Background(), connURL.String(), logger)
}

// NewPostgresDocumentStoreFromDSN creates a store from a libpq-style connection string
func NewPostgresDocumentStoreFromDSN(ctx context.Context, connString string, logger *zap.Logger) (*PostgresDocumentStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDocumentStore{
		pool:   pool,
		logger: logger,
	}, nil
}

// EnsureSchema creates the documents table and rank index if missing
func (s *PostgresDocumentStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, documentSchema); err != nil {
		return fmt.Errorf("failed to apply document schema: %w", err)
	}
	return nil
}

// Get retrieves a document with its version
func (s *PostgresDocumentStore) Get(ctx context.Context, collection, id string) (*model.Document, error) {
	query := `
		SELECT collection, id, version, value, rank, updated_at
		FROM documents
		WHERE collection = $1 AND id = $2
	`

	var doc model.Document
	err := s.pool.QueryRow(ctx, query, collection, id).Scan(
		&doc.Collection,
		&doc.ID,
		&doc.Version,
		&doc.Value,
		&doc.Rank,
		&doc.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return &doc, nil
}

// ConditionalPut replaces the document iff the stored version matches
func (s *PostgresDocumentStore) ConditionalPut(
	ctx context.Context,
	collection, id string,
	expectedVersion int64,
	value []byte,
	rank float64,
) (int64, error) {
	if expectedVersion == 0 {
		return s.create(ctx, collection, id, value, rank)
	}

	query := `
		UPDATE documents
		SET version = version + 1, value = $4, rank = $5, updated_at = now()
		WHERE collection = $1 AND id = $2 AND version = $3
	`

	result, err := s.pool.Exec(ctx, query, collection, id, expectedVersion, value, rank)
	if err != nil {
		return 0, fmt.Errorf("failed to update document: %w", err)
	}

	if result.RowsAffected() == 1 {
		return expectedVersion + 1, nil
	}

	// Nothing matched: tell a stale version apart from a vanished row
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM documents WHERE collection = $1 AND id = $2)`,
		collection, id,
	).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("failed to check document existence: %w", err)
	}
	if !exists {
		return 0, ErrNotFound
	}
	return 0, ErrConflict
}

func (s *PostgresDocumentStore) create(ctx context.Context, collection, id string, value []byte, rank float64) (int64, error) {
	query := `
		INSERT INTO documents (collection, id, version, value, rank, updated_at)
		VALUES ($1, $2, 1, $3, $4, now())
		ON CONFLICT (collection, id) DO NOTHING
	`

	result, err := s.pool.Exec(ctx, query, collection, id, value, rank)
	if err != nil {
		return 0, fmt.Errorf("failed to create document: %w", err)
	}
	if result.RowsAffected() == 0 {
		return 0, ErrConflict
	}
	return 1, nil
}

// TopRanked runs the ordered range query over the rank index
func (s *PostgresDocumentStore) TopRanked(ctx context.Context, collection string, limit int) ([]*model.Document, error) {
	query := `
		SELECT collection, id, version, value, rank, updated_at
		FROM documents
		WHERE collection = $1
		ORDER BY rank DESC, id ASC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, collection, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ranked documents: %w", err)
	}
	defer rows.Close()

	docs := make([]*model.Document, 0, limit)
	for rows.Next() {
		var doc model.Document
		if err := rows.Scan(
			&doc.Collection,
			&doc.ID,
			&doc.Version,
			&doc.Value,
			&doc.Rank,
			&doc.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, &doc)
	}

	return docs, rows.Err()
}

// Ping checks the database connection
func (s *PostgresDocumentStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresDocumentStore) Close() error {
	s.pool.Close()
	return nil
}
