package scan

import (
	"context"
	"sync"

	"github.com/duopane/dirsync/internal/tree"
)

// State is a session's completion state. Running is the only non-terminal
// state; there are no transitions out of the others.
type State int

const (
	StateRunning State = iota
	StateDone
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session owns one diff run: its append-only entry log, counters, and
// completion bookkeeping. It is mutated only by the scan's own producer;
// callers get snapshots.
type Session struct {
	id         string
	sourceRoot *tree.Root
	destRoot   *tree.Root
	cancel     context.CancelFunc
	done       chan struct{}

	mu      sync.RWMutex
	entries []*DiffEntry
	counts  Counts
	state   State
	err     error
}

func newSession(id string, sourceRoot, destRoot *tree.Root, cancel context.CancelFunc) *Session {
	return &Session{
		id:         id,
		sourceRoot: sourceRoot,
		destRoot:   destRoot,
		cancel:     cancel,
		done:       make(chan struct{}),
		state:      StateRunning,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) SourceRoot() *tree.Root {
	return s.sourceRoot
}

func (s *Session) DestRoot() *tree.Root {
	return s.destRoot
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err returns the fatal error for failed sessions, nil otherwise.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *Session) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts
}

// Entries snapshots the full log, same entries included, in the order they
// were first classified.
func (s *Session) Entries() []*DiffEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*DiffEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Changed is the default view: the log without same entries.
func (s *Session) Changed() []*DiffEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*DiffEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.Status != StatusSame {
			out = append(out, e)
		}
	}
	return out
}

// Done is closed once the session reaches a terminal state and the terminal
// event has been delivered.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Cancel requests the producer to stop. Idempotent; a no-op on sessions
// already in a terminal state. The state flips immediately so no further
// entries are appended, and the scan context is cancelled so no new listing
// calls start.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.state == StateRunning {
		s.state = StateCancelled
	}
	s.mu.Unlock()
	s.cancel()
}

// append adds one classified entry to the log. Returns false once the
// session left the running state; late classifications are dropped.
func (s *Session) append(e *DiffEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		return false
	}
	s.entries = append(s.entries, e)
	switch e.Status {
	case StatusNew:
		s.counts.New++
	case StatusModified:
		s.counts.Modified++
	case StatusDeleted:
		s.counts.Deleted++
	case StatusSame:
		s.counts.Same++
	}
	return true
}

// setFinal records the terminal state, keeping an earlier cancellation.
func (s *Session) setFinal(state State, err error) {
	s.mu.Lock()
	if s.state == StateRunning {
		s.state = state
		s.err = err
	}
	s.mu.Unlock()
}

// close marks the end of production. Called exactly once, by the producer.
func (s *Session) close() {
	close(s.done)
}
