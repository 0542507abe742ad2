package manager

import (
	"sync"

	"github.com/dshills/codeindex/pkg/types"
)

// Listener receives every status change
type Listener func(types.IndexStatus)

// StateManager holds the index state and notifies listeners of changes.
// Listeners run synchronously on the goroutine that changed the state.
type StateManager struct {
	mu        sync.RWMutex
	status    types.IndexStatus
	listeners map[int]Listener
	nextID    int
}

// NewStateManager starts in Standby
func NewStateManager() *StateManager {
	return &StateManager{
		status:    types.IndexStatus{State: types.StateStandby},
		listeners: make(map[int]Listener),
	}
}

// State returns the current state
func (s *StateManager) State() types.IndexState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status.State
}

// Status returns a snapshot of the state and progress
func (s *StateManager) Status() types.IndexStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetSystemState changes the state. Progress is reset unless the index
// stays in Indexing.
func (s *StateManager) SetSystemState(state types.IndexState, message string) {
	s.mu.Lock()
	next := s.status
	if state != types.StateIndexing || next.State != types.StateIndexing {
		next.ProcessedItems, next.TotalItems, next.CurrentUnit = 0, 0, ""
	}
	next.State = state
	next.Message = message
	s.status = next
	s.mu.Unlock()
	s.notify(next)
}

// ReportProgress updates progress while indexing. It is ignored in any
// other state.
func (s *StateManager) ReportProgress(processed, total int, unit string) {
	s.mu.Lock()
	if s.status.State != types.StateIndexing {
		s.mu.Unlock()
		return
	}
	s.status.ProcessedItems = processed
	s.status.TotalItems = total
	s.status.CurrentUnit = unit
	next := s.status
	s.mu.Unlock()
	s.notify(next)
}

// Subscribe registers fn and returns a function removing it
func (s *StateManager) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *StateManager) notify(status types.IndexStatus) {
	s.mu.RLock()
	fns := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(status)
	}
}
