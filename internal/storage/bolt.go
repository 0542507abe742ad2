package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/dshills/codeindex/pkg/types"
)

var (
	keyDimension = []byte("dimension")
	bucketMeta   = []byte("meta")
	bucketPoints = []byte("points")
)

// BoltStore implements VectorStore on a bbolt file. Each collection is a
// top-level bucket holding a meta and a points bucket. Points are loaded
// into memory and searched by brute force.
type BoltStore struct {
	db         *bbolt.DB
	collection []byte
	dimension  int
	logger     *slog.Logger

	mu          sync.RWMutex
	points      map[string]storedPoint
	initialized bool
}

type storedPoint struct {
	Vector  []float32     `json:"v"`
	Payload types.Payload `json:"p"`
}

// NewBoltStore opens or creates the bbolt file at path
func NewBoltStore(path, collection string, dimension int, logger *slog.Logger) (*BoltStore, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrDimensionMismatch, dimension)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BoltStore{
		db:         db,
		collection: []byte(collection),
		dimension:  dimension,
		logger:     logger.With(slog.String("component", "bolt_store"), slog.String("collection", collection)),
		points:     make(map[string]storedPoint),
	}, nil
}

// Initialize implements VectorStore
func (s *BoltStore) Initialize(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	created := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(s.collection)
		if root != nil {
			stored := 0
			if meta := root.Bucket(bucketMeta); meta != nil {
				stored = decodeDimension(meta.Get(keyDimension))
			}
			if stored == s.dimension {
				return nil
			}
			s.logger.Warn("collection dimension changed, recreating",
				slog.Int("old", stored), slog.Int("new", s.dimension))
			if err := tx.DeleteBucket(s.collection); err != nil {
				return err
			}
		}

		root, err := tx.CreateBucket(s.collection)
		if err != nil {
			return err
		}
		meta, err := root.CreateBucket(bucketMeta)
		if err != nil {
			return err
		}
		if _, err := root.CreateBucket(bucketPoints); err != nil {
			return err
		}
		created = true
		return meta.Put(keyDimension, encodeDimension(s.dimension))
	})
	if err != nil {
		return false, fmt.Errorf("failed to initialize collection: %w", err)
	}

	if err := s.loadPoints(); err != nil {
		return false, err
	}
	s.initialized = true
	return created, nil
}

// loadPoints fills the in-memory index. Caller holds mu.
func (s *BoltStore) loadPoints() error {
	s.points = make(map[string]storedPoint)
	return s.db.View(func(tx *bbolt.Tx) error {
		b := s.pointsBucket(tx)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var p storedPoint
			if err := json.Unmarshal(v, &p); err != nil {
				s.logger.Warn("skipping corrupt point", slog.String("id", string(k)))
				return nil
			}
			s.points[string(k)] = p
			return nil
		})
	})
}

func (s *BoltStore) pointsBucket(tx *bbolt.Tx) *bbolt.Bucket {
	root := tx.Bucket(s.collection)
	if root == nil {
		return nil
	}
	return root.Bucket(bucketPoints)
}

// UpsertPoints implements VectorStore
func (s *BoltStore) UpsertPoints(ctx context.Context, points []types.Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	if err := validatePoints(points, s.dimension); err != nil {
		return err
	}

	staged := make(map[string]storedPoint, len(points))
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := s.pointsBucket(tx)
		if b == nil {
			return ErrNotInitialized
		}
		for _, p := range points {
			sp := storedPoint{Vector: p.Vector, Payload: p.Payload}
			data, err := json.Marshal(sp)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(p.ID), data); err != nil {
				return err
			}
			staged[p.ID] = sp
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}

	// Memory only follows a committed transaction
	for id, sp := range staged {
		s.points[id] = sp
	}
	return nil
}

// Search implements VectorStore
func (s *BoltStore) Search(ctx context.Context, vector []float32, dirPrefix string, minScore float64, maxResults int) ([]types.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, collection %d", ErrDimensionMismatch, len(vector), s.dimension)
	}
	if maxResults <= 0 {
		return []types.SearchResult{}, nil
	}

	prefix := NormalizePrefix(dirPrefix)
	candidates := make([]candidate, 0, len(s.points))
	for id, p := range s.points {
		if !MatchesPrefix(p.Payload.FilePath, prefix) {
			continue
		}
		score := cosineSimilarity(vector, p.Vector)
		if score < minScore {
			continue
		}
		candidates = append(candidates, candidate{id: id, score: score, payload: p.Payload})
	}
	return rankCandidates(candidates, maxResults), nil
}

// DeletePointsByFilePath implements VectorStore
func (s *BoltStore) DeletePointsByFilePath(ctx context.Context, filePath string) error {
	return s.DeletePointsByMultipleFilePaths(ctx, []string{filePath})
}

// DeletePointsByMultipleFilePaths implements VectorStore
func (s *BoltStore) DeletePointsByMultipleFilePaths(ctx context.Context, filePaths []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}

	targets := make(map[string]struct{}, len(filePaths))
	for _, p := range filePaths {
		targets[p] = struct{}{}
	}
	var ids []string
	for id, p := range s.points {
		if _, ok := targets[p.Payload.FilePath]; ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := s.pointsBucket(tx)
		if b == nil {
			return ErrNotInitialized
		}
		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	for _, id := range ids {
		delete(s.points, id)
	}
	return nil
}

// ClearCollection implements VectorStore
func (s *BoltStore) ClearCollection(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(s.collection)
		if root == nil {
			return ErrNotInitialized
		}
		if err := root.DeleteBucket(bucketPoints); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		_, err := root.CreateBucket(bucketPoints)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to clear collection: %w", err)
	}
	s.points = make(map[string]storedPoint)
	return nil
}

// DeleteCollection implements VectorStore
func (s *BoltStore) DeleteCollection(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		err := tx.DeleteBucket(s.collection)
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	s.points = make(map[string]storedPoint)
	s.initialized = false
	return nil
}

// CollectionExists implements VectorStore
func (s *BoltStore) CollectionExists(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	exists := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		exists = tx.Bucket(s.collection) != nil
		return nil
	})
	return exists, err
}

// Close closes the bolt file
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func encodeDimension(d int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(d))
	return b
}

func decodeDimension(b []byte) int {
	if len(b) != 8 {
		return 0
	}
	return int(binary.BigEndian.Uint64(b))
}
