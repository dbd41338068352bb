package stream

import (
	"io"

	"splitbackup/internal/errors"
	"splitbackup/pkg/models"
)

// Encoder writes entries into the logical stream. It knows nothing about part
// boundaries; those are inserted by whatever io.Writer it is given.
type Encoder struct {
	w       io.Writer
	buf     []byte
	entries uint64
	closed  bool
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w, buf: make([]byte, 0, 256)}
}

// Entries returns the number of entries encoded so far.
func (e *Encoder) Entries() uint64 {
	return e.entries
}

func (e *Encoder) writeRecord(path string, tag uint8, size uint64) error {
	e.buf = appendRecord(e.buf[:0], path, tag, size)
	_, err := e.w.Write(e.buf)
	return err
}

func (e *Encoder) checkPath(p models.Path) (string, error) {
	if e.closed {
		return "", errors.New("encoder is closed")
	}
	s := p.String()
	if len(p) == 0 || len(s) > MaxPathLength {
		return "", errors.Errorf("invalid entry path %q", s)
	}
	return s, nil
}

// WriteDirectory emits the metadata record of a directory.
func (e *Encoder) WriteDirectory(p models.Path) error {
	s, err := e.checkPath(p)
	if err != nil {
		return err
	}
	if err := e.writeRecord(s, tagDirectory, 0); err != nil {
		return errors.Wrapf(err, "write record %q", s)
	}
	e.entries++
	return nil
}

// WriteFile emits the metadata record of a file followed by exactly size bytes
// read from content. Content that ends early is an error, extra bytes are
// not read.
func (e *Encoder) WriteFile(p models.Path, size uint64, content io.Reader) error {
	s, err := e.checkPath(p)
	if err != nil {
		return err
	}
	if err := e.writeRecord(s, tagFile, size); err != nil {
		return errors.Wrapf(err, "write record %q", s)
	}
	e.entries++

	n, err := io.CopyN(e.w, content, int64(size))
	if err == io.EOF {
		return errors.Errorf("file %q shrank during backup: wrote %d of %d bytes", s, n, size)
	}
	return errors.Wrapf(err, "write content %q", s)
}

// Write emits the record for entry, reading file content from content.
func (e *Encoder) Write(entry models.Entry, content io.Reader) error {
	if _, err := tagOf(entry.Kind); err != nil {
		return err
	}
	if entry.IsDir() {
		return e.WriteDirectory(entry.Path)
	}
	return e.WriteFile(entry.Path, entry.Size, content)
}

// Close writes the end record. It does not close the underlying writer.
func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	if err := e.writeRecord("", tagEnd, e.entries); err != nil {
		return errors.Wrap(err, "write end record")
	}
	e.closed = true
	return nil
}
