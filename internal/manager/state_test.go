package manager

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dshills/codeindex/pkg/types"
)

func TestStateManager(t *testing.T) {
	s := NewStateManager()
	assert.Equal(t, types.StateStandby, s.State())

	var seen []types.IndexStatus
	unsubscribe := s.Subscribe(func(st types.IndexStatus) { seen = append(seen, st) })

	s.ReportProgress(1, 10, "files")
	assert.Empty(t, seen, "progress outside Indexing is ignored")

	s.SetSystemState(types.StateIndexing, "Scanning workspace")
	s.ReportProgress(3, 10, "files")
	assert.Equal(t, types.IndexStatus{
		State: types.StateIndexing, Message: "Scanning workspace",
		ProcessedItems: 3, TotalItems: 10, CurrentUnit: "files",
	}, s.Status())

	s.SetSystemState(types.StateIndexing, "Still scanning")
	assert.Equal(t, 3, s.Status().ProcessedItems, "progress kept while indexing")

	s.SetSystemState(types.StateIndexed, "done")
	assert.Zero(t, s.Status().ProcessedItems)
	assert.Len(t, seen, 4)

	unsubscribe()
	s.SetSystemState(types.StateError, "x")
	assert.Len(t, seen, 4)
	assert.Equal(t, types.StateError, s.State())
}
