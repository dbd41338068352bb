package restore

import (
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"splitbackup/internal/errors"
	"splitbackup/internal/utils"
	"splitbackup/pkg/models"
)

// Builder materializes decoded entries below a destination directory. Every
// filesystem call goes through an os.Root opened on the destination.
type Builder struct {
	dest      string
	root      *os.Root
	overwrite bool
	log       *zap.Logger

	dirs map[string]struct{}
	seen map[string]struct{}

	files       int
	directories int
	bytes       uint64
}

func NewBuilder(dest string, overwrite bool, log *zap.Logger) (*Builder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := utils.EnsureDirectoryExists(dest); err != nil {
		return nil, errors.IO("create target directory", dest, err)
	}
	root, err := os.OpenRoot(dest)
	if err != nil {
		return nil, errors.IO("open target directory", dest, err)
	}
	return &Builder{
		dest:      dest,
		root:      root,
		overwrite: overwrite,
		log:       log,
		dirs:      make(map[string]struct{}),
		seen:      make(map[string]struct{}),
	}, nil
}

// Apply creates the object for entry. For files content must yield exactly
// entry.Size bytes.
func (b *Builder) Apply(entry models.Entry, content io.Reader) error {
	rel, err := utils.LocalPath(entry.Path)
	if err != nil {
		return err
	}
	key := entry.Path.String()
	if _, dup := b.seen[key]; dup {
		return errors.Corruptf("restore", key, "duplicate entry")
	}
	if parent := entry.Path.Parent(); len(parent) > 0 {
		if _, ok := b.dirs[parent.String()]; !ok {
			return errors.Corruptf("restore", key, "parent directory %q was not restored first", parent.String())
		}
	}
	b.seen[key] = struct{}{}

	switch entry.Kind {
	case models.KindDirectory:
		if err := b.mkdir(rel); err != nil {
			return err
		}
		b.dirs[key] = struct{}{}
		b.directories++
		return nil
	case models.KindFile:
		return b.writeFile(rel, entry.Size, content)
	}
	return errors.Corruptf("restore", key, "unknown entry kind %d", entry.Kind)
}

func (b *Builder) mkdir(rel string) error {
	full := filepath.Join(b.dest, rel)
	fi, err := b.root.Lstat(rel)
	switch {
	case err == nil && fi.IsDir():
		return nil
	case err == nil:
		return errors.Conflict("create directory", full, "a non-directory object already exists")
	case !os.IsNotExist(err):
		return errors.IO("create directory", full, err)
	}
	if err := b.root.Mkdir(rel, 0755); err != nil {
		return errors.IO("create directory", full, err)
	}
	b.log.Debug("restored directory", zap.String("path", rel))
	return nil
}

func (b *Builder) writeFile(rel string, size uint64, content io.Reader) error {
	full := filepath.Join(b.dest, rel)
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL

	fi, err := b.root.Lstat(rel)
	switch {
	case err == nil && !fi.Mode().IsRegular():
		return errors.Conflict("create file", full, "a non-file object already exists")
	case err == nil && !b.overwrite:
		return errors.Conflict("create file", full, "file already exists")
	case err == nil:
		flags = os.O_WRONLY | os.O_TRUNC
	case !os.IsNotExist(err):
		return errors.IO("create file", full, err)
	}

	f, err := b.root.OpenFile(rel, flags, 0644)
	if err != nil {
		if os.IsExist(err) {
			return errors.Conflict("create file", full, "file already exists")
		}
		return errors.IO("create file", full, err)
	}
	if content == nil {
		content = eofReader{}
	}
	n, err := io.Copy(f, content)
	if err != nil {
		_ = f.Close()
		return errors.Ensure(errors.KindIO, "write file", full, err)
	}
	if err := f.Close(); err != nil {
		return errors.IO("write file", full, err)
	}
	if uint64(n) != size {
		return errors.Corruptf("write file", full, "restored %d bytes, entry declares %d", n, size)
	}

	b.files++
	b.bytes += size
	b.log.Debug("restored file", zap.String("path", rel), zap.Uint64("size", size))
	return nil
}

func (b *Builder) Close() error {
	return b.root.Close()
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
