package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dshills/codeindex/pkg/types"
)

// SQLiteStore implements VectorStore on a local SQLite database. Several
// workspaces can share one database file, one collection each.
type SQLiteStore struct {
	db         *sql.DB
	collection string
	dimension  int
	logger     *slog.Logger

	mu          sync.RWMutex
	initialized bool
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStore opens dbPath, applies migrations and binds the store to
// collection. Call Initialize before use.
func NewSQLiteStore(dbPath, collection string, dimension int, logger *slog.Logger) (*SQLiteStore, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrDimensionMismatch, dimension)
	}

	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteStore{
		db:         db,
		collection: collection,
		dimension:  dimension,
		logger:     logger.With(slog.String("component", "sqlite_store"), slog.String("collection", collection)),
	}, nil
}

// Initialize implements VectorStore
func (s *SQLiteStore) Initialize(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var existing int
	err = tx.QueryRowContext(ctx, "SELECT dimension FROM collections WHERE name = ?", s.collection).Scan(&existing)
	created := false
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO collections (name, dimension) VALUES (?, ?)", s.collection, s.dimension); err != nil {
			return false, fmt.Errorf("failed to create collection: %w", err)
		}
		created = true
	case err != nil:
		return false, fmt.Errorf("failed to read collection: %w", err)
	case existing != s.dimension:
		s.logger.Warn("collection dimension changed, recreating",
			slog.Int("old", existing), slog.Int("new", s.dimension))
		if _, err := tx.ExecContext(ctx, "DELETE FROM points WHERE collection = ?", s.collection); err != nil {
			return false, fmt.Errorf("failed to clear collection: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE collections SET dimension = ?, updated_at = ? WHERE name = ?",
			s.dimension, time.Now(), s.collection); err != nil {
			return false, fmt.Errorf("failed to update collection: %w", err)
		}
		created = true
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	s.initialized = true
	return created, nil
}

func (s *SQLiteStore) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	return nil
}

// UpsertPoints implements VectorStore
func (s *SQLiteStore) UpsertPoints(ctx context.Context, points []types.Point) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}
	if err := validatePoints(points, s.dimension); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO points (collection, id, file_path, code_chunk, start_line, end_line, segment_hash, vector, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			file_path = excluded.file_path,
			code_chunk = excluded.code_chunk,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			segment_hash = excluded.segment_hash,
			vector = excluded.vector,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now()
	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, s.collection, p.ID,
			p.Payload.FilePath, p.Payload.CodeChunk, p.Payload.StartLine, p.Payload.EndLine,
			p.Payload.SegmentHash, serializeVector(p.Vector), now); err != nil {
			return fmt.Errorf("failed to upsert point %s: %w", p.ID, err)
		}
	}

	return tx.Commit()
}

// Search implements VectorStore
func (s *SQLiteStore) Search(ctx context.Context, vector []float32, dirPrefix string, minScore float64, maxResults int) ([]types.SearchResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, collection %d", ErrDimensionMismatch, len(vector), s.dimension)
	}
	return searchVector(ctx, s.db, s.collection, vector, NormalizePrefix(dirPrefix), minScore, maxResults)
}

// DeletePointsByFilePath implements VectorStore
func (s *SQLiteStore) DeletePointsByFilePath(ctx context.Context, filePath string) error {
	return s.DeletePointsByMultipleFilePaths(ctx, []string{filePath})
}

// DeletePointsByMultipleFilePaths implements VectorStore
func (s *SQLiteStore) DeletePointsByMultipleFilePaths(ctx context.Context, filePaths []string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(filePaths) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filePaths)), ",")
	args := make([]any, 0, len(filePaths)+1)
	args = append(args, s.collection)
	for _, p := range filePaths {
		args = append(args, p)
	}

	query := "DELETE FROM points WHERE collection = ? AND file_path IN (" + placeholders + ")"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

// ClearCollection implements VectorStore
func (s *SQLiteStore) ClearCollection(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM points WHERE collection = ?", s.collection); err != nil {
		return fmt.Errorf("failed to clear collection: %w", err)
	}
	return nil
}

// DeleteCollection implements VectorStore. Points go with the collection
// row through the foreign key cascade.
func (s *SQLiteStore) DeleteCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM collections WHERE name = ?", s.collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	s.initialized = false
	return nil
}

// CollectionExists implements VectorStore
func (s *SQLiteStore) CollectionExists(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM collections WHERE name = ?", s.collection).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Count returns the number of points in the collection
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM points WHERE collection = ?", s.collection).Scan(&n)
	return n, err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
