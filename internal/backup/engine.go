package backup

import (
	"context"
	"encoding/hex"
	"hash"
	"io"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"splitbackup/internal/errors"
	"splitbackup/internal/multipart"
	"splitbackup/internal/report"
	"splitbackup/internal/stream"
	"splitbackup/internal/utils"
	"splitbackup/pkg/models"
)

// Options configure one backup run. MaxPartSize has no default here; the
// caller supplies it.
type Options struct {
	MaxPartSize    uint64
	WriteReport    bool
	ReportFormat   report.Format
	Overwrite      bool
	SkipUnreadable bool
	Logger         *zap.Logger
}

// Result summarizes a finished backup.
type Result struct {
	Parts       []models.PartInfo
	Entries     uint64
	Files       int
	Directories int
	Bytes       uint64
	StreamBytes uint64
	Skipped     int
	ReportPath  string
}

/*
Engine runs a single backup pass:
 1. the walker enumerates the origin in a goroutine and hands items over a channel
 2. the encoder turns each item into records and content on the logical stream
 3. the part writer cuts that stream into parts
 4. the report generator, if enabled, sees every entry as it is encoded and is
    saved once the part set is complete

The first error stops the run. Parts already written are left in place.
*/
type Engine struct {
	origin      string
	destination string
	opts        Options
	log         *zap.Logger
}

func NewEngine(origin, destination string, opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.ReportFormat == "" {
		opts.ReportFormat = report.FormatText
	}
	return &Engine{
		origin:      origin,
		destination: destination,
		opts:        opts,
		log:         log,
	}
}

// Backup writes origin into a part set at destination.
func Backup(ctx context.Context, origin, destination string, opts Options) (*Result, error) {
	return NewEngine(origin, destination, opts).Run(ctx)
}

func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if e.opts.MaxPartSize == 0 {
		return nil, errors.New("max part size must be positive")
	}
	origin, err := filepath.Abs(e.origin)
	if err != nil {
		return nil, errors.Access("resolve source", e.origin, err)
	}
	destination, err := filepath.Abs(e.destination)
	if err != nil {
		return nil, errors.IO("resolve destination", e.destination, err)
	}
	if origin == destination {
		return nil, errors.Conflict("backup", destination, "destination is the source directory")
	}

	e.log.Info("starting backup",
		zap.String("source", origin),
		zap.String("destination", destination),
		zap.String("max_part_size", humanize.IBytes(e.opts.MaxPartSize)))

	res := &Result{}
	walker := NewWalker(origin, e.log)
	walker.Exclude = func(path string) bool {
		return utils.IsWithin(destination, path)
	}
	if e.opts.SkipUnreadable {
		walker.Error = func(path string, err error) error {
			e.log.Warn("skipping unreadable entry", zap.String("path", path), zap.Error(err))
			res.Skipped++
			return nil
		}
	}

	w, err := multipart.NewWriter(destination, e.opts.MaxPartSize,
		multipart.WithLogger(e.log), multipart.WithOverwrite(e.opts.Overwrite))
	if err != nil {
		return nil, err
	}
	enc := stream.NewEncoder(w)

	var gen *report.Generator
	if e.opts.WriteReport {
		gen = report.NewGenerator(origin, e.opts.MaxPartSize)
	}

	items := make(chan Item, 16)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(items)
		return walker.Walk(gctx, func(it Item) error {
			select {
			case items <- it:
				return nil
			case <-gctx.Done():
				closeItem(it)
				return gctx.Err()
			}
		})
	})
	g.Go(func() error {
		for it := range items {
			if err := e.encode(enc, gen, it, res); err != nil {
				return err
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		for it := range items {
			closeItem(it)
		}
		_ = w.Close()
		return nil, errors.Wrap(err, "backup")
	}

	if err := enc.Close(); err != nil {
		_ = w.Close()
		return nil, errors.Wrap(errors.Ensure(errors.KindIO, "finish stream", destination, err), "backup")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "backup")
	}
	res.Parts = w.Parts()
	res.Entries = enc.Entries()
	res.StreamBytes = w.Total()

	if gen != nil && e.opts.ReportFormat == report.FormatJSON {
		for i := range res.Parts {
			path := filepath.Join(destination, res.Parts[i].Filename)
			digest, err := utils.CalculateFileHash(path)
			if err != nil {
				return nil, errors.Wrap(errors.IO("hash part", path, err), "backup")
			}
			res.Parts[i].Digest = digest
		}
	}

	if gen != nil {
		path, err := gen.Save(destination, e.opts.ReportFormat, res.Parts)
		if err != nil {
			return nil, errors.Wrap(errors.IO("write report", destination, err), "backup")
		}
		res.ReportPath = path
	}

	e.log.Info("backup complete",
		zap.Uint64("entries", res.Entries),
		zap.Int("parts", len(res.Parts)),
		zap.String("content", humanize.IBytes(res.Bytes)),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

func (e *Engine) encode(enc *stream.Encoder, gen *report.Generator, it Item, res *Result) error {
	defer closeItem(it)

	if gen != nil {
		gen.Add(it.Entry)
	}

	var (
		content io.Reader
		digest  hash.Hash
	)
	if !it.Entry.IsDir() {
		content = it.Content
		if gen != nil && e.opts.ReportFormat == report.FormatJSON {
			digest = utils.NewDigest()
			content = io.TeeReader(content, digest)
		}
	}
	if err := enc.Write(it.Entry, content); err != nil {
		if it.Entry.IsDir() {
			return errors.Ensure(errors.KindIO, "write directory", it.Source, err)
		}
		return errors.Ensure(errors.KindAccess, "read file", it.Source, err)
	}
	if it.Entry.IsDir() {
		res.Directories++
		return nil
	}
	if digest != nil {
		gen.SetDigest(it.Entry.Path, hex.EncodeToString(digest.Sum(nil)))
	}

	res.Files++
	res.Bytes += it.Entry.Size
	e.log.Debug("encoded file", zap.String("path", it.Entry.Path.String()), zap.Uint64("size", it.Entry.Size))
	return nil
}

func closeItem(it Item) {
	if it.Content != nil {
		_ = it.Content.Close()
	}
}
