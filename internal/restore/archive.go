package restore

import (
	"io"

	"go.uber.org/zap"

	"splitbackup/internal/errors"
	"splitbackup/internal/multipart"
	"splitbackup/internal/stream"
	"splitbackup/pkg/models"
)

// archive decodes entries from a part set. A stream that ends before its end
// record means trailing parts are gone, so that case is reported as a
// missing part rather than as a format error.
type archive struct {
	parts *multipart.Reader
	dec   *stream.Decoder
}

func openArchive(dir string, log *zap.Logger) (*archive, error) {
	parts, err := multipart.OpenReader(dir, multipart.WithLogger(log))
	if err != nil {
		return nil, err
	}
	return &archive{parts: parts, dec: stream.NewDecoder(parts)}, nil
}

func (a *archive) next() (models.Entry, io.Reader, error) {
	entry, content, err := a.dec.Next()
	if err != nil {
		if err == io.EOF {
			return models.Entry{}, nil, io.EOF
		}
		return models.Entry{}, nil, a.classify(err)
	}
	if content != nil {
		content = &archiveContent{r: content, a: a}
	}
	return entry, content, nil
}

func (a *archive) classify(err error) error {
	if errors.Is(err, stream.ErrUnexpectedEnd) {
		return errors.MissingPart(a.parts.NextPartName(), err)
	}
	return err
}

func (a *archive) close() error {
	return a.parts.Close()
}

type archiveContent struct {
	r io.Reader
	a *archive
}

func (c *archiveContent) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if err != nil && err != io.EOF {
		err = c.a.classify(err)
	}
	return n, err
}
