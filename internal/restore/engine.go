package restore

import (
	"context"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"splitbackup/internal/errors"
	"splitbackup/internal/multipart"
	"splitbackup/internal/report"
	"splitbackup/internal/utils"
	"splitbackup/pkg/models"
)

type Options struct {
	// Overwrite replaces existing regular files at the target. Existing
	// directories are always reused.
	Overwrite bool
	Logger    *zap.Logger
}

// Summary describes a decoded part set.
type Summary struct {
	Parts       int
	Entries     uint64
	Files       int
	Directories int
	Bytes       uint64
}

/*
Engine reads a part set back:
  - RestoreAll materializes the tree at the target path
  - ListFiles reports each entry without writing anything
  - ValidateBackup decodes everything and checks digests against a JSON
    report if one sits next to the parts

Restore stops at the first error and leaves what it already wrote in place.
*/
type Engine struct {
	backupPath string
	targetPath string
	opts       Options
	log        *zap.Logger
}

func NewEngine(backupPath, targetPath string, opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		backupPath: backupPath,
		targetPath: targetPath,
		opts:       opts,
		log:        log,
	}
}

// Restore rebuilds the tree stored at origin into destination.
func Restore(ctx context.Context, origin, destination string, opts Options) error {
	_, err := NewEngine(origin, destination, opts).RestoreAll(ctx)
	return err
}

// List calls fn for every entry stored at origin, in stream order.
func List(ctx context.Context, origin string, fn func(models.Entry) error, opts Options) error {
	return NewEngine(origin, "", opts).ListFiles(ctx, fn)
}

// Verify decodes the whole part set at origin.
func Verify(ctx context.Context, origin string, opts Options) (*Summary, error) {
	return NewEngine(origin, "", opts).ValidateBackup(ctx)
}

func (e *Engine) RestoreAll(ctx context.Context) (*Summary, error) {
	e.log.Info("starting restore", zap.String("backup", e.backupPath), zap.String("target", e.targetPath))

	a, err := openArchive(e.backupPath, e.log)
	if err != nil {
		return nil, errors.Wrap(err, "restore")
	}
	defer a.close()

	b, err := NewBuilder(e.targetPath, e.opts.Overwrite, e.log)
	if err != nil {
		return nil, errors.Wrap(err, "restore")
	}
	defer b.Close()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, content, err := a.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "restore")
		}
		if err := b.Apply(entry, content); err != nil {
			return nil, errors.Wrap(err, "restore")
		}
	}

	sum := &Summary{
		Parts:       a.parts.Parts(),
		Entries:     a.dec.Entries(),
		Files:       b.files,
		Directories: b.directories,
		Bytes:       b.bytes,
	}
	e.log.Info("restore complete",
		zap.Uint64("entries", sum.Entries),
		zap.Int("parts", sum.Parts),
		zap.String("content", humanize.IBytes(sum.Bytes)))
	return sum, nil
}

func (e *Engine) ListFiles(ctx context.Context, fn func(models.Entry) error) error {
	_, err := e.scan(ctx, func(entry models.Entry, _ io.Reader) error {
		return fn(entry)
	})
	return err
}

func (e *Engine) ValidateBackup(ctx context.Context) (*Summary, error) {
	rep := e.loadReport()
	if err := e.verifyParts(rep); err != nil {
		return nil, err
	}
	digests := make(map[string]string)
	if rep != nil {
		for _, entry := range rep.Entries {
			if entry.Digest != "" {
				digests[entry.Path] = entry.Digest
			}
		}
	}

	sum, err := e.scan(ctx, func(entry models.Entry, content io.Reader) error {
		if content == nil {
			return nil
		}
		want, ok := digests[entry.Path.String()]
		if !ok {
			return nil
		}
		h := utils.NewDigest()
		if _, err := io.Copy(h, content); err != nil {
			return err
		}
		if got := hex.EncodeToString(h.Sum(nil)); got != want {
			return errors.Corruptf("verify", entry.Path.String(), "content digest %s does not match report digest %s", got, want)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("backup verified",
		zap.Uint64("entries", sum.Entries),
		zap.Int("parts", sum.Parts),
		zap.Int("digests_checked", len(digests)))
	return sum, nil
}

// loadReport returns the JSON report stored with the parts. The report is
// advisory, so a missing or unreadable one yields nil.
func (e *Engine) loadReport() *models.BackupReport {
	path := filepath.Join(e.backupPath, report.FileName(report.FormatJSON))
	r, err := report.LoadJSON(path)
	if err != nil {
		if !os.IsNotExist(err) {
			e.log.Warn("ignoring unreadable report", zap.String("path", path), zap.Error(err))
		}
		return nil
	}
	return r
}

// verifyParts compares every part file against the digest the report
// recorded for it.
func (e *Engine) verifyParts(rep *models.BackupReport) error {
	if rep == nil {
		return nil
	}
	for _, p := range rep.Parts {
		if p.Digest == "" {
			continue
		}
		if _, ok := multipart.ParsePartName(p.Filename); !ok {
			return errors.Corruptf("verify part", p.Filename, "report names an invalid part file")
		}
		path := filepath.Join(e.backupPath, p.Filename)
		got, err := utils.CalculateFileHash(path)
		if os.IsNotExist(err) {
			return errors.MissingPart(path, err)
		}
		if err != nil {
			return errors.IO("verify part", path, err)
		}
		if got != p.Digest {
			return errors.Corruptf("verify part", path, "part digest %s does not match report digest %s", got, p.Digest)
		}
		e.log.Debug("part digest ok", zap.String("part", p.Filename))
	}
	return nil
}

// scan decodes every entry and drains whatever content fn leaves unread.
func (e *Engine) scan(ctx context.Context, fn func(models.Entry, io.Reader) error) (*Summary, error) {
	a, err := openArchive(e.backupPath, e.log)
	if err != nil {
		return nil, err
	}
	defer a.close()

	sum := &Summary{Parts: a.parts.Parts()}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, content, err := a.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := fn(entry, content); err != nil {
			return nil, err
		}
		if content != nil {
			if _, err := io.Copy(io.Discard, content); err != nil {
				return nil, err
			}
			sum.Files++
			sum.Bytes += entry.Size
		} else {
			sum.Directories++
		}
	}
	sum.Entries = a.dec.Entries()
	return sum, nil
}
