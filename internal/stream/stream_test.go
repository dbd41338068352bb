package stream

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splitbackup/internal/errors"
	"splitbackup/pkg/models"
)

type decoded struct {
	path    string
	kind    models.Kind
	size    uint64
	content string
}

func encodeSample(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.WriteDirectory(models.Path{"docs"}))
	require.NoError(t, enc.WriteFile(models.Path{"docs", "a.txt"}, 5, strings.NewReader("hello")))
	require.NoError(t, enc.WriteFile(models.Path{"docs", "empty"}, 0, strings.NewReader("")))
	require.NoError(t, enc.WriteFile(models.Path{"top.bin"}, 3, strings.NewReader("xyz and more")))
	require.NoError(t, enc.Close())
	assert.Equal(t, uint64(4), enc.Entries())
	return buf.Bytes()
}

func decodeAll(t *testing.T, r io.Reader) ([]decoded, error) {
	t.Helper()
	dec := NewDecoder(r)
	var out []decoded
	for {
		entry, content, err := dec.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		d := decoded{path: entry.Path.String(), kind: entry.Kind, size: entry.Size}
		if content != nil {
			data, err := io.ReadAll(content)
			if err != nil {
				return out, err
			}
			d.content = string(data)
		}
		out = append(out, d)
	}
}

func TestRoundTrip(t *testing.T) {
	data := encodeSample(t)

	want := []decoded{
		{path: "docs", kind: models.KindDirectory},
		{path: "docs/a.txt", kind: models.KindFile, size: 5, content: "hello"},
		{path: "docs/empty", kind: models.KindFile},
		{path: "top.bin", kind: models.KindFile, size: 3, content: "xyz"},
	}

	got, err := decodeAll(t, bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// one byte per read exercises every record field crossing a read boundary
	got, err = decodeAll(t, iotest.OneByteReader(bytes.NewReader(data)))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRecordLayout(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.WriteFile(models.Path{"a", "b"}, 2, strings.NewReader("hi")))

	b := buf.Bytes()
	require.Len(t, b, recordSize(len("a/b"))+2)
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(b[0:4]))
	assert.Equal(t, "a/b", string(b[4:7]))
	assert.Equal(t, tagFile, b[7])
	assert.Equal(t, uint64(2), binary.LittleEndian.Uint64(b[8:16]))
	assert.Equal(t, "hi", string(b[16:]))
}

func TestSkipsUnreadContent(t *testing.T) {
	dec := NewDecoder(bytes.NewReader(encodeSample(t)))

	var paths []string
	for {
		entry, _, err := dec.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		paths = append(paths, entry.Path.String())
	}
	assert.Equal(t, []string{"docs", "docs/a.txt", "docs/empty", "top.bin"}, paths)
	assert.Equal(t, uint64(4), dec.Entries())
}

func TestEmptyArchive(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.Close())
	assert.Equal(t, recordSize(0), buf.Len())

	got, err := decodeAll(t, &buf)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTruncatedStream(t *testing.T) {
	data := encodeSample(t)

	for _, cut := range []int{0, 2, 6, 12, 20, 42, len(data) - 1} {
		_, err := decodeAll(t, bytes.NewReader(data[:cut]))
		require.Error(t, err, "cut at %d", cut)
		assert.True(t, errors.Is(err, errors.ErrCorruptFormat), "cut at %d: %v", cut, err)
		assert.True(t, errors.Is(err, ErrUnexpectedEnd), "cut at %d: %v", cut, err)
	}
}

func TestTrailingData(t *testing.T) {
	data := append(encodeSample(t), 0)
	_, err := decodeAll(t, bytes.NewReader(data))
	assert.True(t, errors.Is(err, errors.ErrCorruptFormat))
	assert.ErrorContains(t, err, "trailing data")
}

func TestMalformedRecords(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		msg  string
	}{
		{"unknown tag", appendRecord(nil, "x", 7, 0), "unknown kind tag"},
		{"directory with size", appendRecord(nil, "x", tagDirectory, 10), "directory with size"},
		{"empty file path", appendRecord(nil, "", tagFile, 0), "empty file path"},
		{"end record count", appendRecord(appendRecord(nil, "d", tagDirectory, 0), "", tagEnd, 5), "announces 5 entries"},
		{"end record path", appendRecord(nil, "x", tagEnd, 0), "end record with path"},
		{"path too long", binary.LittleEndian.AppendUint32(nil, MaxPathLength+1), "exceeds limit"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := decodeAll(t, bytes.NewReader(test.data))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCorruptFormat), "%v", err)
			assert.ErrorContains(t, err, test.msg)
		})
	}
}

func TestEncoderRejectsShortContent(t *testing.T) {
	enc := NewEncoder(io.Discard)
	err := enc.WriteFile(models.Path{"f"}, 10, strings.NewReader("abc"))
	assert.ErrorContains(t, err, "shrank during backup")
}

func TestEncoderRejectsEmptyPath(t *testing.T) {
	enc := NewEncoder(io.Discard)
	assert.Error(t, enc.WriteDirectory(nil))
	assert.Error(t, enc.Write(models.Entry{Path: models.Path{"x"}, Kind: 9}, nil))
}

func TestEncoderClosed(t *testing.T) {
	enc := NewEncoder(io.Discard)
	require.NoError(t, enc.Close())
	require.NoError(t, enc.Close())
	assert.Error(t, enc.WriteDirectory(models.Path{"late"}))
}
