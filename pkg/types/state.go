package types

// IndexState is the lifecycle state of a workspace index
type IndexState string

const (
	StateStandby  IndexState = "Standby"
	StateIndexing IndexState = "Indexing"
	StateIndexed  IndexState = "Indexed"
	StateError    IndexState = "Error"
)

// CanServeQueries reports whether searches may run in this state.
// A partially built index still answers queries while indexing.
func (s IndexState) CanServeQueries() bool {
	return s == StateIndexed || s == StateIndexing
}

// IndexStatus is a snapshot of the index state and progress
type IndexStatus struct {
	State          IndexState `json:"state"`
	Message        string     `json:"message"`
	ProcessedItems int        `json:"processedItems"`
	TotalItems     int        `json:"totalItems"`
	CurrentUnit    string     `json:"currentUnit"`
}
