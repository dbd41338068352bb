package multipart

import (
	"bufio"
	"math"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"splitbackup/internal/errors"
	"splitbackup/pkg/models"
)

const writeBufferSize = 1024 * 1024

/*
Writer is the part splitter. Bytes written to it are appended to the current
part until its payload reaches the maximum, then the part is closed and the
next index is opened. Boundaries fall wherever the limit is hit, inside a
record or inside file content alike.

Each part starts with a header whose payload length is patched in when the
part is closed. Part 0 always exists, even for an empty stream.
*/
type Writer struct {
	dir        string
	maxPayload uint64
	log        *zap.Logger

	index   uint32
	name    string
	file    *os.File
	buf     *bufio.Writer
	written uint64
	total   uint64
	parts   []models.PartInfo
	closed  bool
	err     error
}

// NewWriter creates dir if needed and opens part 0. The destination must not
// hold part files unless WithOverwrite is given.
func NewWriter(dir string, maxPayload uint64, opts ...Option) (*Writer, error) {
	if maxPayload == 0 {
		return nil, errors.New("max part size must be positive")
	}
	o := applyOptions(opts)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.IO("create destination", dir, err)
	}
	existing, err := ListParts(dir)
	if err != nil {
		return nil, errors.IO("list parts", dir, err)
	}
	if len(existing) > 0 {
		if !o.overwrite {
			return nil, errors.Conflict("create part set", dir, "destination already contains part files")
		}
		for _, p := range existing {
			if err := os.Remove(filepath.Join(dir, p.Name)); err != nil {
				return nil, errors.IO("remove stale part", p.Name, err)
			}
		}
		o.log.Info("removed stale parts", zap.String("dir", dir), zap.Int("count", len(existing)))
	}

	w := &Writer{
		dir:        dir,
		maxPayload: maxPayload,
		log:        o.log,
		buf:        bufio.NewWriterSize(nil, writeBufferSize),
	}
	if err := w.openPart(0); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) openPart(index uint32) error {
	name := PartName(index)
	f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return errors.IO("create part", name, err)
	}
	hdr := Header{Index: index}.Encode()
	if _, err := f.Write(hdr[:]); err != nil {
		_ = f.Close()
		return errors.IO("write part header", name, err)
	}

	w.index = index
	w.name = name
	w.file = f
	w.buf.Reset(f)
	w.written = 0
	w.log.Debug("opened part", zap.String("part", name))
	return nil
}

func (w *Writer) finishPart() error {
	if err := w.buf.Flush(); err != nil {
		_ = w.file.Close()
		return errors.IO("write part", w.name, err)
	}
	hdr := Header{Index: w.index, PayloadLength: w.written}.Encode()
	if _, err := w.file.WriteAt(hdr[:], 0); err != nil {
		_ = w.file.Close()
		return errors.IO("write part header", w.name, err)
	}
	if err := w.file.Close(); err != nil {
		return errors.IO("close part", w.name, err)
	}

	w.parts = append(w.parts, models.PartInfo{
		Index:       w.index,
		Filename:    w.name,
		PayloadSize: w.written,
		Size:        w.written + HeaderSize,
	})
	w.file = nil
	w.log.Debug("closed part", zap.String("part", w.name), zap.Uint64("payload", w.written))
	return nil
}

func (w *Writer) roll() error {
	if w.index == math.MaxUint32 {
		return errors.IO("create part", w.dir, errors.New("too many parts"))
	}
	if err := w.finishPart(); err != nil {
		return err
	}
	return w.openPart(w.index + 1)
}

// Write implements io.Writer. A failed write leaves the writer unusable.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.New("write to closed part writer")
	}
	if w.err != nil {
		return 0, w.err
	}

	var n int
	for len(p) > 0 {
		if w.written == w.maxPayload {
			if err := w.roll(); err != nil {
				w.err = err
				return n, err
			}
		}
		chunk := p
		if room := w.maxPayload - w.written; uint64(len(chunk)) > room {
			chunk = chunk[:room]
		}
		m, err := w.buf.Write(chunk)
		n += m
		w.written += uint64(m)
		w.total += uint64(m)
		if err != nil {
			w.err = errors.IO("write part", w.name, err)
			return n, w.err
		}
		p = p[m:]
	}
	return n, nil
}

// Close finishes the current part. The parts written so far stay in place
// even if an earlier write failed.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.file == nil {
		return w.err
	}
	return w.finishPart()
}

// Parts returns the parts finished so far, in index order.
func (w *Writer) Parts() []models.PartInfo {
	return append([]models.PartInfo(nil), w.parts...)
}

// Total returns the number of payload bytes written across all parts.
func (w *Writer) Total() uint64 {
	return w.total
}
