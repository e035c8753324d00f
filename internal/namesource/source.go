// Package namesource loads the entity list for a fresh harvest run from a local file.
package namesource

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

// Supported file formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatYAML = "yaml"
	FormatXLSX = "xlsx"
)

// ErrUnknownFormat is returned when the format cannot be determined or is unsupported.
var ErrUnknownFormat = errors.New("unknown name source format")

// fieldAliases lists accepted column names per field, most preferred first.
var fieldAliases = map[string][]string{
	"name":    {"name", "university_name", "university"},
	"website": {"website", "url", "seed_url"},
	"country": {"country"},
	"source":  {"source"},
	"id":      {"id"},
}

// File reads entities from a JSON, CSV, YAML or XLSX file.
type File struct {
	Path string
	// Format overrides detection from the file extension.
	Format string
	// Limit caps the number of entities returned; zero means no limit.
	Limit  int
	Logger *zap.Logger
}

// Entities implements harvest.NameSource.
func (f File) Entities(ctx context.Context) ([]harvest.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load entities: %w", err)
	}
	format, err := f.format()
	if err != nil {
		return nil, err
	}

	var records []map[string]string
	switch format {
	case FormatXLSX:
		records, err = readXLSX(f.Path)
	default:
		var data []byte
		data, err = os.ReadFile(f.Path)
		if err != nil {
			return nil, fmt.Errorf("read name source: %w", err)
		}
		switch format {
		case FormatJSON:
			records, err = readJSON(data)
		case FormatCSV:
			records, err = readCSV(data)
		case FormatYAML:
			records, err = readYAML(data)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s name source %s: %w", format, f.Path, err)
	}

	entities := f.build(records)
	if f.Limit > 0 && len(entities) > f.Limit {
		entities = entities[:f.Limit]
	}
	return entities, nil
}

func (f File) format() (string, error) {
	format := strings.ToLower(strings.TrimSpace(f.Format))
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(f.Path)), ".")
	}
	switch format {
	case FormatJSON, FormatCSV, FormatXLSX:
		return format, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%q: %w", format, ErrUnknownFormat)
	}
}

func (f File) build(records []map[string]string) []harvest.Entity {
	logger := f.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	seen := make(map[string]struct{}, len(records))
	out := make([]harvest.Entity, 0, len(records))
	for i, rec := range records {
		name := strings.TrimSpace(rec["name"])
		if name == "" {
			logger.Debug("skipping record without name", zap.Int("row", i))
			continue
		}
		id := harvest.EntityID(rec["id"], name)
		if _, dup := seen[id]; dup {
			logger.Debug("skipping duplicate entity", zap.String("entity_id", id))
			continue
		}
		seen[id] = struct{}{}

		seed := strings.TrimSpace(rec["website"])
		if seed != "" && !strings.Contains(seed, "://") {
			seed = "https://" + seed
		}
		country := strings.TrimSpace(rec["country"])
		if country == "" {
			country = InferCountry(seed)
		}
		out = append(out, harvest.Entity{
			ID:      id,
			Name:    name,
			Country: country,
			SeedURL: seed,
			Source:  strings.TrimSpace(rec["source"]),
		})
	}
	return out
}

func canonicalize(raw map[string]string) map[string]string {
	lowered := make(map[string]string, len(raw))
	for k, v := range raw {
		lowered[strings.ToLower(strings.TrimSpace(k))] = v
	}
	rec := make(map[string]string, len(fieldAliases))
	for field, aliases := range fieldAliases {
		for _, alias := range aliases {
			if v := strings.TrimSpace(lowered[alias]); v != "" {
				rec[field] = v
				break
			}
		}
	}
	return rec
}

func readJSON(data []byte) ([]map[string]string, error) {
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return fromAny(raw), nil
}

func readYAML(data []byte) ([]map[string]string, error) {
	var raw []map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return fromAny(raw), nil
}

func fromAny(raw []map[string]any) []map[string]string {
	out := make([]map[string]string, 0, len(raw))
	for _, obj := range raw {
		flat := make(map[string]string, len(obj))
		for k, v := range obj {
			if v == nil {
				continue
			}
			flat[k] = fmt.Sprint(v)
		}
		out = append(out, canonicalize(flat))
	}
	return out
}

func readCSV(data []byte) ([]map[string]string, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rows [][]string
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return fromRows(header, rows), nil
}

func readXLSX(path string) ([]map[string]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	if len(f.Sheets) == 0 {
		return nil, nil
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, nil
	}
	header := cellStrings(sheet.Rows[0])
	rows := make([][]string, 0, len(sheet.Rows)-1)
	for _, row := range sheet.Rows[1:] {
		rows = append(rows, cellStrings(row))
	}
	return fromRows(header, rows), nil
}

func cellStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for i, cell := range row.Cells {
		cells[i] = cell.String()
	}
	return cells
}

func fromRows(header []string, rows [][]string) []map[string]string {
	out := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		raw := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(row) {
				raw[col] = row[i]
			}
		}
		out = append(out, canonicalize(raw))
	}
	return out
}
