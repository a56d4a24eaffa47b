package tree

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/duopane/dirsync/internal/utils"
)

// ZipTree lists the members of a zip archive, optionally rooted at an inner
// path. Only the archive's central directory is read; member bytes are
// touched solely by Open.
type ZipTree struct {
	root    *Root
	archive string
	inner   string // normalized: "" or "a/b" without slashes at either end
}

func NewZipTree(archive, inner string) *ZipTree {
	inner = strings.Trim(inner, "/")
	return &ZipTree{
		root:    &Root{Kind: KindArchive, Path: archive, Inner: inner},
		archive: archive,
		inner:   inner,
	}
}

func (t *ZipTree) Root() *Root {
	return t.root
}

func (t *ZipTree) List(ctx context.Context, skip SkipFunc, visit VisitFunc) error {
	zr, err := zip.OpenReader(t.archive)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrRootUnreachable, t.archive, err)
	}
	defer zr.Close()

	entries, rootSeen := t.index(&zr.Reader)
	if t.inner != "" && !rootSeen {
		return fmt.Errorf("%w: %s: no entries under %q", ErrRootUnreachable, t.archive, t.inner)
	}

	paths := make([]string, 0, len(entries))
	for p := range entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	// Sorted order guarantees a pruned directory precedes its descendants.
	var pruned []string
	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if underAny(pruned, rel) {
			continue
		}

		e := entries[rel]
		if skip != nil && skip(rel, e.IsDir) {
			if e.IsDir {
				pruned = append(pruned, rel+"/")
			}
			continue
		}
		if err := visit(e); err != nil {
			return err
		}
	}

	return nil
}

func (t *ZipTree) Open(_ context.Context, relPath string) (io.ReadCloser, error) {
	zr, err := zip.OpenReader(t.archive)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", t.archive, err)
	}

	want := relPath
	if t.inner != "" {
		want = t.inner + "/" + relPath
	}
	for _, f := range zr.File {
		if utils.NormPath(f.Name) != want {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			zr.Close()
			return nil, fmt.Errorf("open archive member %q: %w", want, err)
		}
		return &zipMemberReader{rc: rc, zr: zr}, nil
	}

	zr.Close()
	return nil, fmt.Errorf("archive member %q not found in %s", want, t.archive)
}

// index maps relative paths to entries, synthesizing parent directories the
// archive does not record explicitly. rootSeen reports whether any member
// fell under the inner root, including the root's own directory entry.
func (t *ZipTree) index(zr *zip.Reader) (map[string]*Entry, bool) {
	entries := make(map[string]*Entry)
	rootSeen := t.inner == ""

	addDir := func(rel string) {
		if _, ok := entries[rel]; !ok {
			entries[rel] = &Entry{Path: rel, IsDir: true}
		}
	}

	for _, f := range zr.File {
		name := utils.NormPath(f.Name)
		isDir := strings.HasSuffix(f.Name, "/") || f.FileInfo().IsDir()

		rel, ok := t.relMember(name)
		if !ok {
			continue
		}
		rootSeen = true

		for _, parent := range parentDirs(rel) {
			addDir(parent)
		}

		if isDir {
			if rel != "" {
				addDir(rel)
				entries[rel].ModTime = f.Modified
			}
			continue
		}
		if rel == "" {
			continue
		}
		entries[rel] = &Entry{
			Path:    rel,
			Size:    int64(f.UncompressedSize64),
			ModTime: f.Modified,
		}
	}

	return entries, rootSeen
}

func (t *ZipTree) relMember(name string) (string, bool) {
	if t.inner == "" {
		return name, true
	}
	if name == t.inner {
		return "", true
	}
	if rel, ok := strings.CutPrefix(name, t.inner+"/"); ok {
		return rel, true
	}
	return "", false
}

func parentDirs(rel string) []string {
	var dirs []string
	for i, r := range rel {
		if r == '/' {
			dirs = append(dirs, rel[:i])
		}
	}
	return dirs
}

func underAny(prefixes []string, rel string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(rel, p) {
			return true
		}
	}
	return false
}

type zipMemberReader struct {
	rc io.ReadCloser
	zr *zip.ReadCloser
}

func (r *zipMemberReader) Read(p []byte) (int, error) {
	return r.rc.Read(p)
}

func (r *zipMemberReader) Close() error {
	err := r.rc.Close()
	if cerr := r.zr.Close(); err == nil {
		err = cerr
	}
	return err
}
