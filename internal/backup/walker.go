package backup

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"splitbackup/internal/errors"
	"splitbackup/pkg/models"
)

// Item is one entry produced by the Walker. For files Content is an open
// handle positioned at the start; whoever receives the Item closes it.
type Item struct {
	Entry   models.Entry
	Source  string
	Content *os.File
}

// Walker enumerates a directory tree depth first. A directory comes before
// its children and children are visited in name order, so an unchanged tree
// always yields the same sequence. Symbolic links and other non-regular files
// are skipped, never followed.
type Walker struct {
	root string
	log  *zap.Logger

	// Error is called when a directory cannot be listed or a file cannot be
	// opened. Returning nil skips the entry (a directory with all of its
	// children), returning an error aborts the walk. The default aborts.
	Error func(path string, err error) error

	// Exclude reports whether the OS path should be left out of the walk.
	Exclude func(path string) bool

	readDir func(name string) ([]os.DirEntry, error)
	open    func(name string) (*os.File, error)
}

func NewWalker(root string, log *zap.Logger) *Walker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Walker{
		root:    root,
		log:     log,
		Error:   func(_ string, err error) error { return err },
		readDir: os.ReadDir,
		open:    os.Open,
	}
}

// Walk calls fn for every entry below the root. An unreadable root is always
// an AccessError, regardless of the Error policy.
func (w *Walker) Walk(ctx context.Context, fn func(Item) error) error {
	fi, err := os.Stat(w.root)
	if err != nil {
		return errors.Access("read source", w.root, err)
	}
	if !fi.IsDir() {
		return errors.Access("read source", w.root, errors.New("not a directory"))
	}
	entries, err := w.readDir(w.root)
	if err != nil {
		return errors.Access("read source", w.root, err)
	}
	return w.walkDir(ctx, w.root, nil, entries, fn)
}

func (w *Walker) walkDir(ctx context.Context, dir string, rel models.Path, entries []os.DirEntry, fn func(Item) error) error {
	for _, de := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		full := filepath.Join(dir, de.Name())
		p := rel.Child(de.Name())
		if w.Exclude != nil && w.Exclude(full) {
			w.log.Debug("excluded", zap.String("path", full))
			continue
		}

		switch {
		case de.IsDir():
			children, err := w.readDir(full)
			if err != nil {
				if err := w.fail(p, full, "list directory", err); err != nil {
					return err
				}
				continue
			}
			w.log.Debug("enter directory", zap.String("path", p.String()))
			if err := fn(Item{Entry: models.Entry{Path: p, Kind: models.KindDirectory}, Source: full}); err != nil {
				return err
			}
			if err := w.walkDir(ctx, full, p, children, fn); err != nil {
				return err
			}

		case de.Type().IsRegular():
			item, ok, err := w.openFile(p, full)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := fn(item); err != nil {
				return err
			}

		default:
			w.log.Debug("skipping non-regular file", zap.String("path", full), zap.Stringer("mode", de.Type()))
		}
	}
	return nil
}

func (w *Walker) openFile(p models.Path, full string) (Item, bool, error) {
	f, err := w.open(full)
	if err != nil {
		return Item{}, false, w.fail(p, full, "open file", err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return Item{}, false, w.fail(p, full, "stat file", err)
	}
	if !fi.Mode().IsRegular() {
		_ = f.Close()
		w.log.Debug("skipping non-regular file", zap.String("path", full), zap.Stringer("mode", fi.Mode()))
		return Item{}, false, nil
	}
	entry := models.Entry{Path: p, Kind: models.KindFile, Size: uint64(fi.Size())}
	return Item{Entry: entry, Source: full, Content: f}, true, nil
}

func (w *Walker) fail(p models.Path, full, op string, err error) error {
	err = errors.Access(op, full, err)
	if w.Error == nil {
		return err
	}
	return w.Error(p.String(), err)
}
