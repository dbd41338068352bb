package multipart

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"splitbackup/internal/errors"
)

// Reader joins the payloads of all parts in dir into one continuous stream.
// Parts are opened strictly in index order, one at a time.
type Reader struct {
	dir   string
	parts []PartFile
	log   *zap.Logger

	next      int
	name      string
	file      *os.File
	buf       *bufio.Reader
	remaining uint64
}

// OpenReader lists the part files in dir, checks that their indices form the
// gap free sequence 0..n-1 and opens part 0.
func OpenReader(dir string, opts ...Option) (*Reader, error) {
	o := applyOptions(opts)

	parts, err := ListParts(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.MissingPart(filepath.Join(dir, PartName(0)), err)
		}
		return nil, errors.IO("list parts", dir, err)
	}
	if len(parts) == 0 {
		return nil, errors.MissingPart(filepath.Join(dir, PartName(0)), os.ErrNotExist)
	}
	for i, p := range parts {
		if p.Index == uint32(i) {
			continue
		}
		if i > 0 && p.Index == parts[i-1].Index {
			return nil, errors.Corruptf("list parts", p.Name, "duplicate part index %d (also %s)", p.Index, parts[i-1].Name)
		}
		return nil, errors.MissingPart(filepath.Join(dir, PartName(uint32(i))), os.ErrNotExist)
	}

	r := &Reader{
		dir:   dir,
		parts: parts,
		log:   o.log,
		buf:   bufio.NewReaderSize(nil, 256*1024),
	}
	if err := r.openNext(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) openNext() error {
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}

	p := r.parts[r.next]
	f, err := os.Open(filepath.Join(r.dir, p.Name))
	if err != nil {
		if os.IsNotExist(err) {
			return errors.MissingPart(filepath.Join(r.dir, p.Name), err)
		}
		return errors.IO("open part", p.Name, err)
	}

	var b [HeaderSize]byte
	if _, err := io.ReadFull(f, b[:]); err != nil {
		_ = f.Close()
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return errors.Corruptf("read part header", p.Name, "truncated header")
		}
		return errors.IO("read part header", p.Name, err)
	}
	hdr, err := DecodeHeader(b[:])
	if err != nil {
		_ = f.Close()
		return errors.Corrupt("read part header", p.Name, err)
	}
	if hdr.Index != p.Index {
		_ = f.Close()
		return errors.Corruptf("read part header", p.Name, "part declares index %d, expected %d", hdr.Index, p.Index)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return errors.IO("stat part", p.Name, err)
	}
	if actual := uint64(fi.Size()) - HeaderSize; actual != hdr.PayloadLength {
		_ = f.Close()
		return errors.Corruptf("read part header", p.Name, "declared payload length %d, file holds %d", hdr.PayloadLength, actual)
	}

	r.next++
	r.name = p.Name
	r.file = f
	r.buf.Reset(f)
	r.remaining = hdr.PayloadLength
	r.log.Debug("reading part", zap.String("part", p.Name), zap.Uint64("payload", hdr.PayloadLength))
	return nil
}

// Read implements io.Reader. It returns io.EOF after the payload of the last
// part found in the directory.
func (r *Reader) Read(p []byte) (int, error) {
	for r.remaining == 0 {
		if r.next >= len(r.parts) {
			return 0, io.EOF
		}
		if err := r.openNext(); err != nil {
			return 0, err
		}
	}
	if len(p) == 0 {
		return 0, nil
	}
	if uint64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.buf.Read(p)
	r.remaining -= uint64(n)
	switch {
	case err == io.EOF:
		if r.remaining > 0 {
			return n, errors.Corruptf("read part", r.name, "payload ends %d bytes early", r.remaining)
		}
		err = nil
	case err != nil:
		err = errors.IO("read part", r.name, err)
	}
	return n, err
}

// Parts returns the number of parts in the set.
func (r *Reader) Parts() int {
	return len(r.parts)
}

// NextPartName is the path of the part that would follow the last one.
func (r *Reader) NextPartName() string {
	return filepath.Join(r.dir, PartName(uint32(len(r.parts))))
}

func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
