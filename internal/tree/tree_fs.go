package tree

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/duopane/dirsync/internal/utils"
)

// FSTree lists a local directory with filepath.WalkDir. Entries come out in
// lexical order, which keeps listings deterministic for a given tree state.
type FSTree struct {
	root *Root
	dir  string
}

func NewFSTree(dir string) *FSTree {
	return &FSTree{
		root: &Root{Kind: KindFilesystem, Path: dir},
		dir:  dir,
	}
}

func (t *FSTree) Root() *Root {
	return t.root
}

func (t *FSTree) List(ctx context.Context, skip SkipFunc, visit VisitFunc) error {
	if !utils.DirExists(t.dir) {
		return fmt.Errorf("%w: %s", ErrRootUnreachable, t.dir)
	}

	return filepath.WalkDir(t.dir, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if walkErr != nil {
			if path == t.dir {
				return fmt.Errorf("%w: %s: %v", ErrRootUnreachable, t.dir, walkErr)
			}
			// Unreadable sub-path: skip it, keep listing.
			slog.Warn("fs listing skipped entry", "path", path, "error", walkErr)
			return nil
		}

		if path == t.dir {
			return nil
		}

		rel, err := filepath.Rel(t.dir, path)
		if err != nil {
			slog.Warn("fs listing skipped entry", "path", path, "error", err)
			return nil
		}
		rel = utils.NormPath(rel)

		isDir := d.IsDir()
		if skip != nil && skip(rel, isDir) {
			if isDir {
				return fs.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			slog.Warn("fs listing skipped entry", "path", path, "error", err)
			return nil
		}

		entry := &Entry{
			Path:    rel,
			ModTime: info.ModTime(),
			IsDir:   isDir,
		}
		if !isDir {
			entry.Size = info.Size()
		}
		return visit(entry)
	})
}

func (t *FSTree) Open(_ context.Context, relPath string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(t.dir, filepath.FromSlash(relPath)))
}
