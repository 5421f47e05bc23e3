package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/trafficlab/settle95/pkg/settle"
)

// ErrExport marks artifact write failures. A failed write leaves no partial
// file behind.
var ErrExport = errors.New("export error")

// Format is an artifact file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

// ParseFormat validates a format string.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatXLSX, FormatJSON:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unsupported export format %q: %w", s, ErrExport)
	}
}

// Artifact describes one file produced by a run.
type Artifact struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Path     string `json:"-"`
}

// Meta is the context block embedded in JSON artifacts.
type Meta struct {
	WindowStart time.Time        `json:"window_start"`
	WindowEnd   time.Time        `json:"window_end"`
	Direction   settle.Direction `json:"direction"`
	Mode        settle.Mode      `json:"mode"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// Exporter writes run artifacts under root/results/<runID>/.
type Exporter struct {
	root string
}

// NewExporter creates an exporter rooted at the given directory.
func NewExporter(root string) *Exporter {
	return &Exporter{root: root}
}

// RunDir returns the artifact directory for a run.
func (e *Exporter) RunDir(runID string) string {
	return filepath.Join(e.root, "results", runID)
}

// Export writes one settlement table as an artifact in the given format.
// baseName carries no extension; the format supplies it.
func (e *Exporter) Export(runID, baseName string, format Format, results []settle.Result, meta Meta) (Artifact, error) {
	dir := e.RunDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("failed to create artifact dir: %w", errors.Join(ErrExport, err))
	}

	filename := baseName + "." + string(format)
	path := filepath.Join(dir, filename)

	var err error
	switch format {
	case FormatCSV:
		err = writeCSV(path, results)
	case FormatXLSX:
		err = writeXLSX(path, results)
	case FormatJSON:
		err = writeJSON(path, results, meta)
	default:
		return Artifact{}, fmt.Errorf("unsupported export format %q: %w", format, ErrExport)
	}
	if err != nil {
		os.Remove(path)
		return Artifact{}, fmt.Errorf("failed to write %s: %w", filename, errors.Join(ErrExport, err))
	}

	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to stat %s: %w", filename, errors.Join(ErrExport, err))
	}
	return Artifact{Filename: filename, Size: info.Size(), Path: path}, nil
}

// WriteRoster writes a plain-text name roster. Duplicate names collapse to a
// single "name xN" line; lines are sorted for stable diffs.
func (e *Exporter) WriteRoster(runID, filename string, names []string) (Artifact, error) {
	counts := make(map[string]int, len(names))
	for _, n := range names {
		counts[n]++
	}
	unique := make([]string, 0, len(counts))
	for n := range counts {
		unique = append(unique, n)
	}
	sort.Strings(unique)

	var body []byte
	for _, n := range unique {
		line := n
		if counts[n] > 1 {
			line = fmt.Sprintf("%s x%d", n, counts[n])
		}
		body = append(body, line...)
		body = append(body, '\n')
	}
	return e.writeRaw(runID, filename, body)
}

// WriteNote writes a small plain-text artifact, e.g. a no-data marker.
func (e *Exporter) WriteNote(runID, filename, text string) (Artifact, error) {
	return e.writeRaw(runID, filename, []byte(text+"\n"))
}

func (e *Exporter) writeRaw(runID, filename string, body []byte) (Artifact, error) {
	dir := e.RunDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("failed to create artifact dir: %w", errors.Join(ErrExport, err))
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		os.Remove(path)
		return Artifact{}, fmt.Errorf("failed to write %s: %w", filename, errors.Join(ErrExport, err))
	}
	return Artifact{Filename: filename, Size: int64(len(body)), Path: path}, nil
}

var tableHeader = []string{"entity_name", "date", "settlement_mbps", "data_points", "direction", "mode"}

func tableRow(r settle.Result) []string {
	return []string{
		r.EntityName,
		r.Date,
		strconv.FormatFloat(r.Value, 'f', 2, 64),
		strconv.Itoa(r.Samples),
		string(r.Direction),
		string(r.Mode),
	}
}

// writeCSV writes the settlement table; an empty result set still gets the
// header row so downstream tooling sees the schema.
func writeCSV(path string, results []settle.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(tableHeader); err != nil {
		return err
	}
	for _, r := range results {
		if err := w.Write(tableRow(r)); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func writeXLSX(path string, results []settle.Result) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Settlement"
	f.SetSheetName("Sheet1", sheet)

	for col, h := range tableHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	for i, r := range results {
		values := []any{r.EntityName, r.Date, r.Value, r.Samples, string(r.Direction), string(r.Mode)}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}
	return f.SaveAs(path)
}

func writeJSON(path string, results []settle.Result, meta Meta) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	payload := struct {
		Metadata Meta            `json:"metadata"`
		Results  []settle.Result `json:"results"`
	}{Metadata: meta, Results: results}
	if payload.Results == nil {
		payload.Results = []settle.Result{}
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return err
	}
	return f.Close()
}
