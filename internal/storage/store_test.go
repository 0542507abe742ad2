package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeindex/pkg/types"
)

type storeFactory func(t *testing.T, dir string, dimension int) VectorStore

var embeddedStores = map[string]storeFactory{
	"sqlite": func(t *testing.T, dir string, dimension int) VectorStore {
		s, err := NewSQLiteStore(filepath.Join(dir, "vectors.db"), "ws-test", dimension, nil)
		require.NoError(t, err)
		return s
	},
	"bolt": func(t *testing.T, dir string, dimension int) VectorStore {
		s, err := NewBoltStore(filepath.Join(dir, "vectors.bolt"), "ws-test", dimension, nil)
		require.NoError(t, err)
		return s
	},
}

func point(id, file string, vector ...float32) types.Point {
	return types.Point{
		ID:     id,
		Vector: vector,
		Payload: types.Payload{
			FilePath:    file,
			CodeChunk:   "code of " + id,
			StartLine:   1,
			EndLine:     10,
			SegmentHash: "hash-" + id,
		},
	}
}

func ids(results []types.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func TestVectorStores(t *testing.T) {
	for name, factory := range embeddedStores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("use before initialize", func(t *testing.T) {
				s := factory(t, t.TempDir(), 3)
				defer s.Close()
				_, err := s.Search(ctx, []float32{1, 0, 0}, "", 0, 10)
				assert.ErrorIs(t, err, ErrNotInitialized)
			})

			t.Run("initialize reports creation once", func(t *testing.T) {
				s := factory(t, t.TempDir(), 3)
				defer s.Close()

				exists, err := s.CollectionExists(ctx)
				require.NoError(t, err)
				assert.False(t, exists)

				created, err := s.Initialize(ctx)
				require.NoError(t, err)
				assert.True(t, created)

				created, err = s.Initialize(ctx)
				require.NoError(t, err)
				assert.False(t, created)

				exists, err = s.CollectionExists(ctx)
				require.NoError(t, err)
				assert.True(t, exists)
			})

			t.Run("search ranks and filters", func(t *testing.T) {
				s := factory(t, t.TempDir(), 3)
				defer s.Close()
				_, err := s.Initialize(ctx)
				require.NoError(t, err)

				require.NoError(t, s.UpsertPoints(ctx, []types.Point{
					point("a", "src/api/auth.go", 1, 0, 0),
					point("b", "src/api/user.go", 0.9, 0.1, 0),
					point("c", "src/apiary/bee.go", 0.8, 0.2, 0),
					point("d", "docs/readme.md", 0, 1, 0),
				}))

				results, err := s.Search(ctx, []float32{1, 0, 0}, "", 0.5, 10)
				require.NoError(t, err)
				assert.Equal(t, []string{"a", "b", "c"}, ids(results))
				assert.InDelta(t, 1.0, results[0].Score, 1e-6)
				assert.Equal(t, "src/api/auth.go", results[0].Payload.FilePath)
				assert.Equal(t, "code of a", results[0].Payload.CodeChunk)

				results, err = s.Search(ctx, []float32{1, 0, 0}, "./src/api/", 0, 10)
				require.NoError(t, err)
				assert.Equal(t, []string{"a", "b"}, ids(results), "prefix matches whole segments")

				results, err = s.Search(ctx, []float32{1, 0, 0}, ".", 0, 2)
				require.NoError(t, err)
				assert.Len(t, results, 2)

				_, err = s.Search(ctx, []float32{1, 0}, "", 0, 2)
				assert.ErrorIs(t, err, ErrDimensionMismatch)
			})

			t.Run("upsert replaces and validates", func(t *testing.T) {
				s := factory(t, t.TempDir(), 2)
				defer s.Close()
				_, err := s.Initialize(ctx)
				require.NoError(t, err)

				require.NoError(t, s.UpsertPoints(ctx, []types.Point{point("a", "x.go", 1, 0)}))
				require.NoError(t, s.UpsertPoints(ctx, []types.Point{point("a", "y.go", 0, 1)}))

				results, err := s.Search(ctx, []float32{0, 1}, "", 0.9, 10)
				require.NoError(t, err)
				require.Len(t, results, 1)
				assert.Equal(t, "y.go", results[0].Payload.FilePath)

				err = s.UpsertPoints(ctx, []types.Point{point("b", "z.go", 1, 0, 0)})
				assert.ErrorIs(t, err, types.ErrVectorMismatch)
			})

			t.Run("deletes", func(t *testing.T) {
				s := factory(t, t.TempDir(), 2)
				defer s.Close()
				_, err := s.Initialize(ctx)
				require.NoError(t, err)

				var points []types.Point
				for i := 0; i < 6; i++ {
					points = append(points, point(fmt.Sprintf("p%d", i), fmt.Sprintf("f%d.go", i%3), 1, float32(i)))
				}
				require.NoError(t, s.UpsertPoints(ctx, points))

				require.NoError(t, s.DeletePointsByFilePath(ctx, "f0.go"))
				results, err := s.Search(ctx, []float32{1, 1}, "", -1, 100)
				require.NoError(t, err)
				assert.Len(t, results, 4)

				require.NoError(t, s.DeletePointsByMultipleFilePaths(ctx, []string{"f1.go", "f2.go", "missing.go"}))
				results, err = s.Search(ctx, []float32{1, 1}, "", -1, 100)
				require.NoError(t, err)
				assert.Empty(t, results)
			})

			t.Run("clear keeps collection", func(t *testing.T) {
				s := factory(t, t.TempDir(), 2)
				defer s.Close()
				_, err := s.Initialize(ctx)
				require.NoError(t, err)
				require.NoError(t, s.UpsertPoints(ctx, []types.Point{point("a", "x.go", 1, 0)}))

				require.NoError(t, s.ClearCollection(ctx))
				results, err := s.Search(ctx, []float32{1, 0}, "", 0, 10)
				require.NoError(t, err)
				assert.Empty(t, results)

				exists, err := s.CollectionExists(ctx)
				require.NoError(t, err)
				assert.True(t, exists)

				require.NoError(t, s.DeleteCollection(ctx))
				exists, err = s.CollectionExists(ctx)
				require.NoError(t, err)
				assert.False(t, exists)
			})

			t.Run("dimension change recreates", func(t *testing.T) {
				dir := t.TempDir()
				s := factory(t, dir, 2)
				_, err := s.Initialize(ctx)
				require.NoError(t, err)
				require.NoError(t, s.UpsertPoints(ctx, []types.Point{point("a", "x.go", 1, 0)}))
				require.NoError(t, s.Close())

				reopened := factory(t, dir, 2)
				created, err := reopened.Initialize(ctx)
				require.NoError(t, err)
				assert.False(t, created)
				results, err := reopened.Search(ctx, []float32{1, 0}, "", 0, 10)
				require.NoError(t, err)
				assert.Len(t, results, 1, "points persist across reopen")
				require.NoError(t, reopened.Close())

				wider := factory(t, dir, 3)
				defer wider.Close()
				created, err = wider.Initialize(ctx)
				require.NoError(t, err)
				assert.True(t, created)
				results, err = wider.Search(ctx, []float32{1, 0, 0}, "", -1, 10)
				require.NoError(t, err)
				assert.Empty(t, results)
			})
		})
	}
}

func TestPrefixHelpers(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", ""},
		{".", ""},
		{"./", ""},
		{"/", ""},
		{"src", "src"},
		{"./src/api/", "src/api"},
		{"src\\api", "src/api"},
		{"src//api/../api", "src/api"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePrefix(tt.prefix), tt.prefix)
	}

	assert.True(t, MatchesPrefix("src/api/a.go", "src/api"))
	assert.True(t, MatchesPrefix("./src/api/a.go", "src/api"))
	assert.True(t, MatchesPrefix("src/api", "src/api"))
	assert.False(t, MatchesPrefix("src/apiary/a.go", "src/api"))
	assert.True(t, MatchesPrefix("anything.go", ""))
}

func TestCollectionName(t *testing.T) {
	a := CollectionName("/home/dev/project")
	assert.Equal(t, a, CollectionName("/home/dev/project"))
	assert.NotEqual(t, a, CollectionName("/home/dev/other"))
	assert.Regexp(t, `^ws-[0-9a-f]{16}$`, a)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 2}))

	v := []float32{0.25, -1.5, 3}
	assert.Equal(t, v, deserializeVector(serializeVector(v)))
}
