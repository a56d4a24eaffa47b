package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/duopane/dirsync/internal/tree"
)

const defaultChecksumWorkers = 8

var (
	ErrSessionNotFound = errors.New("scan session not found")
)

// Engine runs scan sessions and turns selections into operation plans. One
// engine serves many sessions; each session's production runs on its own
// goroutines and never blocks the caller.
type Engine struct {
	mu       sync.Mutex
	sessions map[string]*Session

	mtimeTolerance  time.Duration
	checksumWorkers int
}

type Option func(*Engine)

// WithMTimeTolerance sets the modification-time window within which two
// entries of equal size compare as same in size_mtime mode.
func WithMTimeTolerance(d time.Duration) Option {
	return func(e *Engine) { e.mtimeTolerance = d }
}

// WithChecksumWorkers bounds concurrent content comparisons in checksum
// mode.
func WithChecksumWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.checksumWorkers = n
		}
	}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		sessions:        make(map[string]*Session),
		mtimeTolerance:  DefaultMTimeTolerance,
		checksumWorkers: defaultChecksumWorkers,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ScanParams describes one scan run.
type ScanParams struct {
	// SessionID must be unique among concurrently active sessions. Starting
	// a scan with the id of a running session supersedes (cancels) it.
	SessionID string

	Source tree.Tree
	Dest   tree.Tree

	// ExcludePatterns are glob patterns pruned from both listings.
	ExcludePatterns []string

	// Mode defaults to ModeSizeMTime.
	Mode Mode

	// OnEvent receives entry events as they are classified and one terminal
	// DoneEvent. Optional.
	OnEvent EventFunc
}

// StartScan begins asynchronous production and returns immediately. The
// returned session is live: its log, counters and state fill in as the scan
// progresses, and Done is closed after the terminal event.
func (e *Engine) StartScan(ctx context.Context, p *ScanParams) (*Session, error) {
	if p.SessionID == "" {
		return nil, errors.New("scan requires a session id")
	}
	if p.Source == nil || p.Dest == nil {
		return nil, errors.New("scan requires a source and a dest tree")
	}

	mode := p.Mode
	if mode == "" {
		mode = ModeSizeMTime
	}
	if mode != ModeSizeMTime && mode != ModeChecksum {
		return nil, fmt.Errorf("unknown comparison mode %q", mode)
	}

	filter, err := NewExcludeFilter(p.ExcludePatterns)
	if err != nil {
		return nil, err
	}

	scanCtx, cancel := context.WithCancel(ctx)
	session := newSession(p.SessionID, p.Source.Root(), p.Dest.Root(), cancel)

	e.mu.Lock()
	if prev := e.sessions[p.SessionID]; prev != nil && prev.State() == StateRunning {
		slog.Info("scan superseded", "session", p.SessionID)
		prev.Cancel()
	}
	e.sessions[p.SessionID] = session
	e.mu.Unlock()

	r := &reconciler{
		source:  p.Source,
		dest:    p.Dest,
		filter:  filter,
		cmp:     &Comparator{Mode: mode, MTimeTolerance: e.mtimeTolerance},
		workers: e.checksumWorkers,
		session: session,
		onEvent: p.OnEvent,
	}

	go e.runScan(scanCtx, session, r, p.OnEvent)

	return session, nil
}

func (e *Engine) runScan(ctx context.Context, s *Session, r *reconciler, onEvent EventFunc) {
	defer s.cancel()

	slog.Info("scan start",
		"session", s.id,
		"source", s.sourceRoot,
		"dest", s.destRoot,
		"mode", r.cmp.Mode,
	)

	err := r.run(ctx)

	switch {
	case err == nil:
		s.setFinal(StateDone, nil)
	case errors.Is(err, context.Canceled):
		s.setFinal(StateCancelled, nil)
	default:
		s.setFinal(StateFailed, err)
	}

	counts := s.Counts()
	slog.Info("scan finished",
		"session", s.id,
		"state", s.State(),
		"new", counts.New,
		"modified", counts.Modified,
		"deleted", counts.Deleted,
		"same", counts.Same,
		"error", s.Err(),
	)

	if onEvent != nil {
		done := DoneEvent{
			NewCount: counts.New,
			Modified: counts.Modified,
			Deleted:  counts.Deleted,
		}
		if ferr := s.Err(); ferr != nil {
			done.Error = ferr.Error()
		}
		onEvent(done)
	}

	s.close()
}

// CancelScan stops a running session. Idempotent; unknown ids and sessions
// already in a terminal state are no-ops.
func (e *Engine) CancelScan(sessionID string) {
	e.mu.Lock()
	s := e.sessions[sessionID]
	e.mu.Unlock()

	if s == nil {
		return
	}
	s.Cancel()
}

// Session returns the session for a pull-based snapshot of its log.
func (e *Engine) Session(sessionID string) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sessionID]
	return s, ok
}

// ApplySync turns the caller's selection into an operation plan. Valid
// during or after a scan; it operates on the entries present in the session
// log at call time.
func (e *Engine) ApplySync(sessionID string, selected SelectionSet) (*OperationPlan, error) {
	s, ok := e.Session(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return BuildPlan(s.id, s.Entries(), selected, s.sourceRoot, s.destRoot), nil
}
