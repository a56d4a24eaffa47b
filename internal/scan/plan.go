package scan

import (
	"github.com/duopane/dirsync/internal/tree"
)

// SelectionSet is the caller-chosen subset of relative paths to turn into
// operations. The engine only reads it.
type SelectionSet map[string]struct{}

func NewSelectionSet(paths ...string) SelectionSet {
	s := make(SelectionSet, len(paths))
	for _, p := range paths {
		s[p] = struct{}{}
	}
	return s
}

func (s SelectionSet) Has(path string) bool {
	_, ok := s[path]
	return ok
}

// OpKind is the kind of a planned operation.
type OpKind string

const (
	// OpCopy copies (or overwrites) a source entry into the dest tree.
	OpCopy OpKind = "copy"
	// OpRemove removes an entry from the dest tree.
	OpRemove OpKind = "remove"
)

// Operation is one planned action for the external transfer subsystem.
// Root is the source root for copies and the dest root for removes.
type Operation struct {
	Kind    OpKind     `json:"kind"`
	Root    *tree.Root `json:"root"`
	RelPath string     `json:"relative_path"`
	Size    int64      `json:"size"`
}

// OperationPlan groups planned operations by kind, each group preserving
// the order entries were first classified in. Execution order across the
// groups is the executor's policy.
type OperationPlan struct {
	SessionID string      `json:"session_id"`
	Copies    []Operation `json:"copies"`
	Removes   []Operation `json:"removes"`
}

// Operations flattens the plan, copies first.
func (p *OperationPlan) Operations() []Operation {
	out := make([]Operation, 0, len(p.Copies)+len(p.Removes))
	out = append(out, p.Copies...)
	out = append(out, p.Removes...)
	return out
}

// BuildPlan is a pure transformation of classified entries and a selection
// into an operation plan. Entries must be in first-classified order; same
// entries and unselected paths contribute nothing.
func BuildPlan(sessionID string, entries []*DiffEntry, selected SelectionSet, sourceRoot, destRoot *tree.Root) *OperationPlan {
	plan := &OperationPlan{SessionID: sessionID}

	for _, e := range entries {
		if !selected.Has(e.RelPath) {
			continue
		}
		switch e.Status {
		case StatusNew, StatusModified:
			plan.Copies = append(plan.Copies, Operation{
				Kind:    OpCopy,
				Root:    sourceRoot,
				RelPath: e.RelPath,
				Size:    e.SourceSize,
			})
		case StatusDeleted:
			plan.Removes = append(plan.Removes, Operation{
				Kind:    OpRemove,
				Root:    destRoot,
				RelPath: e.RelPath,
				Size:    e.DestSize,
			})
		}
	}

	return plan
}
