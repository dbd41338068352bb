// Package multipart splits the logical stream into size bounded part files
// and joins them back into one continuous byte stream.
package multipart

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"splitbackup/internal/errors"
)

// HeaderSize is the size of the header at the start of every part file.
const HeaderSize = 16

var magic = [4]byte{'S', 'B', 'P', 'T'}

// Header is the fixed part header. It carries no information about record
// boundaries in the payload.
type Header struct {
	Index         uint32
	PayloadLength uint64
}

func (h Header) Encode() [HeaderSize]byte {
	var b [HeaderSize]byte
	copy(b[:4], magic[:])
	binary.LittleEndian.PutUint32(b[4:8], h.Index)
	binary.LittleEndian.PutUint64(b[8:16], h.PayloadLength)
	return b
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, errors.Errorf("header too short: %d bytes", len(b))
	}
	if [4]byte(b[:4]) != magic {
		return Header{}, errors.Errorf("bad magic %q", b[:4])
	}
	return Header{
		Index:         binary.LittleEndian.Uint32(b[4:8]),
		PayloadLength: binary.LittleEndian.Uint64(b[8:16]),
	}, nil
}

const (
	partPrefix = "part_"
	partSuffix = ".bin"
	partDigits = 6
)

// PartName returns the file name of the part with the given sequence index.
func PartName(index uint32) string {
	return fmt.Sprintf("%s%0*d%s", partPrefix, partDigits, index, partSuffix)
}

// ParsePartName is the inverse of PartName.
func ParsePartName(name string) (uint32, bool) {
	digits, ok := strings.CutPrefix(name, partPrefix)
	if !ok {
		return 0, false
	}
	digits, ok = strings.CutSuffix(digits, partSuffix)
	if !ok || len(digits) < partDigits {
		return 0, false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	index, err := strconv.ParseUint(digits, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(index), true
}

// PartFile is a part file found in a backup directory.
type PartFile struct {
	Index uint32
	Name  string
}

// ListParts returns the part files in dir ordered by index. Files with other
// names are ignored. Duplicate indices are returned as found.
func ListParts(dir string) ([]PartFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var parts []PartFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if index, ok := ParsePartName(entry.Name()); ok {
			parts = append(parts, PartFile{Index: index, Name: entry.Name()})
		}
	}
	sort.SliceStable(parts, func(i, j int) bool {
		return parts[i].Index < parts[j].Index
	})
	return parts, nil
}
