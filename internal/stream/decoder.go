package stream

import (
	"bufio"
	"encoding/binary"
	"io"

	"splitbackup/internal/errors"
	"splitbackup/pkg/models"
)

// ErrUnexpectedEnd is the cause of the CorruptFormat error returned when the
// stream ends before the end record.
var ErrUnexpectedEnd = errors.New("unexpected end of stream")

// Decoder parses records from the logical stream. Record boundaries are found
// only from previously decoded lengths.
type Decoder struct {
	r       *bufio.Reader
	content *contentReader
	offset  uint64
	entries uint64
	done    bool
	hdr     [trailerSize]byte
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// Entries returns the number of entries decoded so far.
func (d *Decoder) Entries() uint64 {
	return d.entries
}

func (d *Decoder) readFull(buf []byte, what string) error {
	n, err := io.ReadFull(d.r, buf)
	d.offset += uint64(n)
	switch err {
	case nil:
		return nil
	case io.EOF, io.ErrUnexpectedEOF:
		return errors.Corrupt("read "+what, "", errors.Wrapf(ErrUnexpectedEnd, "at offset %d", d.offset))
	}
	return err
}

// Next returns the next entry. For files the returned reader yields exactly
// entry.Size bytes and is valid until the following call to Next; any unread
// content is skipped. For directories the reader is nil. At the end of the
// archive Next returns io.EOF.
func (d *Decoder) Next() (models.Entry, io.Reader, error) {
	if d.done {
		return models.Entry{}, nil, io.EOF
	}
	if d.content != nil {
		if _, err := io.Copy(io.Discard, d.content); err != nil {
			return models.Entry{}, nil, err
		}
		d.offset = d.content.offset
		d.content = nil
	}

	start := d.offset
	var lenBuf [pathLenSize]byte
	if err := d.readFull(lenBuf[:], "record"); err != nil {
		return models.Entry{}, nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > MaxPathLength {
		return models.Entry{}, nil, errors.Corruptf("decode record", "", "path length %d at offset %d exceeds limit", n, start)
	}
	path := make([]byte, n)
	if err := d.readFull(path, "record path"); err != nil {
		return models.Entry{}, nil, err
	}
	if err := d.readFull(d.hdr[:], "record"); err != nil {
		return models.Entry{}, nil, err
	}
	tag := d.hdr[0]
	size := binary.LittleEndian.Uint64(d.hdr[1:])

	switch tag {
	case tagEnd:
		return models.Entry{}, nil, d.finish(n, size, start)
	case tagDirectory:
		if n == 0 {
			return models.Entry{}, nil, errors.Corruptf("decode record", "", "empty directory path at offset %d", start)
		}
		if size != 0 {
			return models.Entry{}, nil, errors.Corruptf("decode record", string(path), "directory with size %d", size)
		}
		d.entries++
		return models.Entry{Path: models.ParsePath(string(path)), Kind: models.KindDirectory}, nil, nil
	case tagFile:
		if n == 0 {
			return models.Entry{}, nil, errors.Corruptf("decode record", "", "empty file path at offset %d", start)
		}
		d.entries++
		d.content = &contentReader{r: d.r, remaining: size, offset: d.offset, path: string(path)}
		return models.Entry{Path: models.ParsePath(string(path)), Kind: models.KindFile, Size: size}, d.content, nil
	}
	return models.Entry{}, nil, errors.Corruptf("decode record", string(path), "unknown kind tag %#x at offset %d", tag, start)
}

func (d *Decoder) finish(pathLen uint32, count uint64, start uint64) error {
	if pathLen != 0 {
		return errors.Corruptf("decode record", "", "end record with path at offset %d", start)
	}
	if count != d.entries {
		return errors.Corruptf("decode record", "", "end record announces %d entries, decoded %d", count, d.entries)
	}
	_, err := d.r.ReadByte()
	switch err {
	case io.EOF:
		d.done = true
		return io.EOF
	case nil:
		return errors.Corruptf("decode record", "", "trailing data after end record at offset %d", d.offset)
	}
	return err
}

type contentReader struct {
	r         io.Reader
	remaining uint64
	offset    uint64
	path      string
}

func (c *contentReader) Read(p []byte) (int, error) {
	if c.remaining == 0 {
		return 0, io.EOF
	}
	if uint64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.r.Read(p)
	c.remaining -= uint64(n)
	c.offset += uint64(n)
	if err == io.EOF {
		if c.remaining > 0 {
			return n, errors.Corrupt("read file content", c.path, errors.Wrapf(ErrUnexpectedEnd, "%d bytes missing", c.remaining))
		}
		err = nil
	}
	return n, err
}
