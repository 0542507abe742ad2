package storage

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dshills/codeindex/internal/config"
)

// Default file names inside the storage directory
const (
	DefaultSQLiteFile = "vectors.db"
	DefaultBoltFile   = "vectors.bolt"
)

// New creates the vector store selected by cfg for workspacePath. Embedded
// stores live in storageDir unless cfg.VectorStore.Path is set.
func New(cfg config.Config, workspacePath, storageDir string, httpClient *http.Client, logger *slog.Logger) (VectorStore, error) {
	dimension := cfg.Dimension()
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: unknown dimension for model %s, set model_dimension",
			ErrDimensionMismatch, cfg.EffectiveModelID())
	}
	collection := CollectionName(workspacePath)

	switch cfg.VectorStoreProvider {
	case config.VectorStoreSQLite, "":
		path, err := embeddedPath(cfg.VectorStore.Path, storageDir, DefaultSQLiteFile)
		if err != nil {
			return nil, err
		}
		return NewSQLiteStore(path, collection, dimension, logger)
	case config.VectorStoreBolt:
		path, err := embeddedPath(cfg.VectorStore.Path, storageDir, DefaultBoltFile)
		if err != nil {
			return nil, err
		}
		return NewBoltStore(path, collection, dimension, logger)
	case config.VectorStoreQdrant:
		return NewQdrantStore(cfg.VectorStore.URL, cfg.VectorStore.APIKey, collection, dimension, httpClient, logger)
	default:
		return nil, fmt.Errorf("unsupported vector store %q", cfg.VectorStoreProvider)
	}
}

func embeddedPath(explicit, storageDir, name string) (string, error) {
	path := explicit
	if path == "" {
		path = filepath.Join(storageDir, name)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create storage directory: %w", err)
	}
	return path, nil
}
