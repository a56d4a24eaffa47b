package scan

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/duopane/dirsync/internal/tree"
)

// Mode selects the equality notion for entries present on both sides.
type Mode string

const (
	// ModeSizeMTime compares size and modification time only. Default.
	ModeSizeMTime Mode = "size_mtime"
	// ModeChecksum compares size and a streamed content digest.
	ModeChecksum Mode = "checksum"
)

// DefaultMTimeTolerance absorbs clock and precision skew across backends;
// some object stores truncate timestamps to the second.
const DefaultMTimeTolerance = time.Second

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case "":
		return ModeSizeMTime, nil
	case ModeSizeMTime, ModeChecksum:
		return m, nil
	default:
		return "", fmt.Errorf("unknown comparison mode %q", s)
	}
}

// Comparator decides same vs modified for a path present in both trees.
// Entries present on one side only never reach it.
type Comparator struct {
	Mode           Mode
	MTimeTolerance time.Duration
}

// Compare classifies a matched pair of non-directory entries. It never
// returns an error: a checksum read failure conservatively classifies the
// pair as modified, since hiding a possibly-real difference is worse than a
// false positive.
func (c *Comparator) Compare(ctx context.Context, source, dest tree.Tree, src, dst *tree.Entry) Status {
	if src.Size != dst.Size {
		return StatusModified
	}

	if c.Mode == ModeChecksum {
		return c.compareContent(ctx, source, dest, src.Path)
	}

	delta := src.ModTime.Sub(dst.ModTime)
	if delta < 0 {
		delta = -delta
	}
	if delta > c.MTimeTolerance {
		return StatusModified
	}
	return StatusSame
}

func (c *Comparator) compareContent(ctx context.Context, source, dest tree.Tree, relPath string) Status {
	var srcSum, dstSum string

	// Both sides stream concurrently; each digest is computed once.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sum, err := digest(gctx, source, relPath)
		srcSum = sum
		return err
	})
	g.Go(func() error {
		sum, err := digest(gctx, dest, relPath)
		dstSum = sum
		return err
	})

	if err := g.Wait(); err != nil {
		slog.Warn("checksum failed, assuming modified", "path", relPath, "error", err)
		return StatusModified
	}

	if srcSum != dstSum {
		return StatusModified
	}
	return StatusSame
}

// digest streams a member through MD5 so memory stays bounded regardless of
// file size.
func digest(ctx context.Context, t tree.Tree, relPath string) (string, error) {
	rc, err := t.Open(ctx, relPath)
	if err != nil {
		return "", fmt.Errorf("open %q: %w", relPath, err)
	}
	defer rc.Close()

	h := md5.New()
	if _, err := io.Copy(h, rc); err != nil {
		return "", fmt.Errorf("read %q: %w", relPath, err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
