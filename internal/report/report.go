package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"splitbackup/internal/errors"
	"splitbackup/internal/utils"
	"splitbackup/pkg/models"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

const reportVersion = "1.0"

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatText, FormatJSON:
		return Format(s), nil
	case "":
		return FormatText, nil
	}
	return "", errors.Errorf("unknown report format %q", s)
}

// FileName is the name of the report file written for format.
func FileName(format Format) string {
	if format == FormatJSON {
		return "backup_report.json"
	}
	return "backup_report.txt"
}

/*
Generator records every entry of a backup run in stream order. Nothing is
written until Save is called after the part set is complete, so a failed run
leaves no report behind. Restore never reads the report.
*/
type Generator struct {
	source      string
	maxPartSize uint64
	createdAt   time.Time
	entries     []models.ReportEntry
	index       map[string]int
	mu          sync.Mutex
}

func NewGenerator(source string, maxPartSize uint64) *Generator {
	return &Generator{
		source:      source,
		maxPartSize: maxPartSize,
		createdAt:   time.Now(),
		index:       make(map[string]int),
	}
}

// Add records entry. Adding the same path twice is a programming error in
// the caller and panics.
func (g *Generator) Add(entry models.Entry) {
	g.mu.Lock()
	defer g.mu.Unlock()

	path := entry.Path.String()
	if _, exists := g.index[path]; exists {
		panic(fmt.Sprintf("report: duplicate entry %q", path))
	}
	g.index[path] = len(g.entries)
	g.entries = append(g.entries, models.ReportEntry{
		Path: path,
		Kind: entry.Kind.String(),
		Size: entry.Size,
	})
}

// SetDigest attaches the content digest of a file added earlier.
func (g *Generator) SetDigest(path models.Path, digest string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if i, ok := g.index[path.String()]; ok {
		g.entries[i].Digest = digest
	}
}

func (g *Generator) Entries() []models.ReportEntry {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]models.ReportEntry, len(g.entries))
	copy(out, g.entries)
	return out
}

func (g *Generator) Report(parts []models.PartInfo) *models.BackupReport {
	if parts == nil {
		parts = []models.PartInfo{}
	}
	return &models.BackupReport{
		Version:     reportVersion,
		CreatedAt:   g.createdAt,
		Source:      g.source,
		MaxPartSize: g.maxPartSize,
		Entries:     g.Entries(),
		Parts:       parts,
	}
}

// WriteText writes one line per entry: kind, size and path separated by tabs.
// A path holding a control character or starting with a double quote is
// written as a Go quoted string, so every entry stays on its own line.
func WriteText(w io.Writer, entries []models.ReportEntry) error {
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		if _, err := fmt.Fprintf(bw, "%s\t%d\t%s\n", e.Kind, e.Size, textPath(e.Path)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func textPath(p string) string {
	if strings.HasPrefix(p, `"`) || strings.IndexFunc(p, unicode.IsControl) >= 0 {
		return strconv.Quote(p)
	}
	return p
}

// Save writes the report into dir and returns its path.
func (g *Generator) Save(dir string, format Format, parts []models.PartInfo) (string, error) {
	if err := utils.EnsureDirectoryExists(dir); err != nil {
		return "", err
	}

	reportPath := filepath.Join(dir, FileName(format))
	tempPath := reportPath + ".tmp"

	f, err := os.Create(tempPath)
	if err != nil {
		return "", err
	}

	switch format {
	case FormatJSON:
		var data []byte
		data, err = json.MarshalIndent(g.Report(parts), "", "  ")
		if err == nil {
			_, err = f.Write(append(data, '\n'))
		}
	default:
		err = WriteText(f, g.Entries())
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tempPath)
		return "", err
	}

	// Atomic rename
	if err := os.Rename(tempPath, reportPath); err != nil {
		return "", err
	}
	return reportPath, nil
}

// LoadJSON reads a report written with FormatJSON.
func LoadJSON(path string) (*models.BackupReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r models.BackupReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrapf(err, "parse report %s", path)
	}
	return &r, nil
}
