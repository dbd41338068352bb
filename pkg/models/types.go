package models

import (
	"strings"
	"time"
)

// Kind tells files and directories apart.
type Kind uint8

const (
	KindDirectory Kind = 1
	KindFile      Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "dir"
	case KindFile:
		return "file"
	default:
		return "unknown"
	}
}

// Path is a relative path inside the backed up tree, one element per component.
type Path []string

// ParsePath splits a forward-slash path into components. It does not validate them.
func ParsePath(s string) Path {
	if s == "" {
		return nil
	}
	return Path(strings.Split(s, "/"))
}

func (p Path) String() string {
	return strings.Join(p, "/")
}

// Parent returns the path of the enclosing directory, empty for top level entries.
func (p Path) Parent() Path {
	if len(p) <= 1 {
		return nil
	}
	return p[:len(p)-1]
}

// Child returns a new path with name appended.
func (p Path) Child(name string) Path {
	child := make(Path, len(p)+1)
	copy(child, p)
	child[len(p)] = name
	return child
}

// Entry is one filesystem object as it appears in the logical stream.
type Entry struct {
	Path Path
	Kind Kind
	Size uint64
}

func (e Entry) IsDir() bool {
	return e.Kind == KindDirectory
}

// PartInfo describes one written part file.
type PartInfo struct {
	Index       uint32 `json:"index"`
	Filename    string `json:"filename"`
	PayloadSize uint64 `json:"payload_size"`
	Size        uint64 `json:"size"`
	// Digest covers the whole part file, header included.
	Digest string `json:"blake3,omitempty"`
}

type ReportEntry struct {
	Path   string `json:"path"`
	Kind   string `json:"kind"`
	Size   uint64 `json:"size"`
	Digest string `json:"blake3,omitempty"`
}

type BackupReport struct {
	Version     string        `json:"version"`
	CreatedAt   time.Time     `json:"created_at"`
	Source      string        `json:"source"`
	MaxPartSize uint64        `json:"max_part_size"`
	Entries     []ReportEntry `json:"entries"`
	Parts       []PartInfo    `json:"parts"`
}

type FileEvent struct {
	Path      string
	Operation string // CREATE, MODIFY, DELETE, RENAME
	Timestamp time.Time
}
