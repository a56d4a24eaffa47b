package tree

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

var (
	// ErrRootUnreachable marks a root-level listing failure. It is fatal to
	// the scan, unlike per-entry failures which are skipped.
	ErrRootUnreachable = errors.New("tree root unreachable")
)

// Kind identifies the backend a tree root lives on.
type Kind string

const (
	KindFilesystem Kind = "filesystem"
	KindS3         Kind = "object-store"
	KindArchive    Kind = "archive"
)

// S3Config holds the credentials and endpoint for an object-store root.
type S3Config struct {
	AccessKey string
	SecretKey string
	Region    string
	Endpoint  string
}

// Root anchors one side of a comparison. It is immutable for the lifetime
// of a scan.
type Root struct {
	Kind Kind `json:"kind"`

	// Path is the directory for filesystem roots or the archive file for
	// archive roots.
	Path string `json:"path,omitempty"`

	// Bucket and Prefix locate an object-store root.
	Bucket string `json:"bucket,omitempty"`
	Prefix string `json:"prefix,omitempty"`

	// Inner is the path inside the archive for archive roots.
	Inner string `json:"inner,omitempty"`

	// S3 carries object-store credentials. Never serialized.
	S3 *S3Config `json:"-"`
}

func (r *Root) String() string {
	switch r.Kind {
	case KindS3:
		if r.Prefix == "" {
			return "s3://" + r.Bucket
		}
		return "s3://" + r.Bucket + "/" + r.Prefix
	case KindArchive:
		if r.Inner == "" {
			return r.Path
		}
		return r.Path + "!" + r.Inner
	default:
		return r.Path
	}
}

// Entry is the normalized metadata for one tree member. Paths are
// slash-separated, relative to the root, with no leading slash.
type Entry struct {
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// SkipFunc decides whether a relative path is pruned from the listing.
// Returning true for a directory prunes its entire subtree: the lister must
// not descend into it.
type SkipFunc func(relPath string, isDir bool) bool

// VisitFunc receives one listed entry. Returning a non-nil error stops the
// enumeration and is returned from List.
type VisitFunc func(e *Entry) error

// Tree is the common contract over filesystem, object-store and archive
// backends: a restartable, lazy, deterministic listing plus a byte-read
// capability for checksum comparison.
//
// List reports a root-level failure as an error wrapping ErrRootUnreachable.
// Per-entry failures are logged and skipped. Stopping early (visit error or
// context cancellation) must not leak handles or list cursors.
type Tree interface {
	Root() *Root
	List(ctx context.Context, skip SkipFunc, visit VisitFunc) error
	Open(ctx context.Context, relPath string) (io.ReadCloser, error)
}

// Open constructs the backend Tree for a root.
func Open(ctx context.Context, root *Root) (Tree, error) {
	switch root.Kind {
	case KindFilesystem:
		return NewFSTree(root.Path), nil
	case KindS3:
		return NewS3TreeFromConfig(ctx, root)
	case KindArchive:
		return NewZipTree(root.Path, root.Inner), nil
	default:
		return nil, fmt.Errorf("unknown root kind %q", root.Kind)
	}
}

// ParseLocator parses a CLI locator into a Root. Supported forms:
//
//	/some/dir                     filesystem
//	s3://bucket/prefix            object store
//	backup.zip!docs/reports       archive member subtree
//	backup.zip                    whole archive
func ParseLocator(locator string) (*Root, error) {
	if locator == "" {
		return nil, errors.New("empty locator")
	}

	if after, ok := strings.CutPrefix(locator, "s3://"); ok {
		bucket, prefix, _ := strings.Cut(after, "/")
		if bucket == "" {
			return nil, fmt.Errorf("locator %q: missing bucket", locator)
		}
		return &Root{
			Kind:   KindS3,
			Bucket: bucket,
			Prefix: strings.Trim(prefix, "/"),
		}, nil
	}

	if archive, inner, ok := cutArchive(locator); ok {
		return &Root{
			Kind:  KindArchive,
			Path:  archive,
			Inner: strings.Trim(inner, "/"),
		}, nil
	}

	return &Root{Kind: KindFilesystem, Path: locator}, nil
}

func cutArchive(locator string) (archive, inner string, ok bool) {
	if archive, inner, found := strings.Cut(locator, "!"); found {
		return archive, inner, true
	}
	if strings.HasSuffix(strings.ToLower(locator), ".zip") {
		return locator, "", true
	}
	return "", "", false
}
