// Package stream implements the logical stream: the ordered concatenation of
// entry metadata records, each followed by the raw content of the file it
// describes.
//
// Record layout, all integers little-endian:
//
//	uint32  path length n
//	[n]byte path, components joined by "/"
//	uint8   kind tag (1 directory, 2 file, 0xFF end of archive)
//	uint64  size (file bytes, 0 for directories, entry count for the end record)
//
// The stream is terminated by a single end record with an empty path.
package stream

import (
	"encoding/binary"
	"slices"

	"splitbackup/internal/errors"
	"splitbackup/pkg/models"
)

const (
	tagDirectory = uint8(models.KindDirectory)
	tagFile      = uint8(models.KindFile)
	tagEnd       = uint8(0xFF)

	// MaxPathLength bounds the path field so that a damaged length prefix cannot
	// trigger a huge allocation.
	MaxPathLength = 64*1024 - 1

	pathLenSize = 4
	trailerSize = 1 + 8
)

// recordSize is the encoded size of a metadata record with an n byte path.
func recordSize(n int) int {
	return pathLenSize + n + trailerSize
}

func tagOf(k models.Kind) (uint8, error) {
	switch k {
	case models.KindDirectory:
		return tagDirectory, nil
	case models.KindFile:
		return tagFile, nil
	}
	return 0, errors.Errorf("invalid entry kind %d", k)
}

func appendRecord(buf []byte, path string, tag uint8, size uint64) []byte {
	buf = slices.Grow(buf, recordSize(len(path)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(path)))
	buf = append(buf, path...)
	buf = append(buf, tag)
	buf = binary.LittleEndian.AppendUint64(buf, size)
	return buf
}
