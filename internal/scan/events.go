package scan

// Status classifies one relative path after reconciliation. It is a pure
// function of source presence, dest presence, and the comparator outcome.
type Status string

const (
	StatusNew      Status = "new"
	StatusModified Status = "modified"
	StatusDeleted  Status = "deleted"
	StatusSame     Status = "same"
)

// DiffEntry is one classified, non-directory entry of the diff.
type DiffEntry struct {
	RelPath    string `json:"relative_path"`
	Status     Status `json:"status"`
	SourceSize int64  `json:"source_size"`
	DestSize   int64  `json:"dest_size"`
}

// Counts are the running session counters. Same entries are counted for
// completeness but excluded from the default changed view.
type Counts struct {
	New      int `json:"new_count"`
	Modified int `json:"modified"`
	Deleted  int `json:"deleted"`
	Same     int `json:"-"`
}

// Event is implemented by all scan events delivered to the caller.
type Event interface {
	isEvent()
}

// EventFunc receives scan events as they are produced. It is invoked from
// the scan's own goroutines and must not block for long.
type EventFunc func(Event)

// EntryEvent is emitted for each classified entry.
type EntryEvent struct {
	RelativePath string `json:"relative_path"`
	Status       Status `json:"status"`
	SourceSize   int64  `json:"source_size"`
	DestSize     int64  `json:"dest_size"`
}

func (EntryEvent) isEvent() {}

// DoneEvent is the terminal summary, emitted exactly once per scan whether
// it completed, was cancelled, or failed.
type DoneEvent struct {
	NewCount int    `json:"new_count"`
	Modified int    `json:"modified"`
	Deleted  int    `json:"deleted"`
	Error    string `json:"error,omitempty"`
}

func (DoneEvent) isEvent() {}
