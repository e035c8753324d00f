// Package export writes final harvest results to files and databases.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tealeg/xlsx/v2"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
	"github.com/JakeFAU/contact-harvester/internal/storage/local"
)

// Default output file names.
const (
	DefaultCSVName  = "results.csv"
	DefaultJSONName = "results.json"
	DefaultXLSXName = "results.xlsx"
)

// Columns is the tabular layout shared by the CSV and XLSX sinks.
var Columns = []string{
	"name", "country", "website", "best_email", "email_2", "email_3", "emails_found", "source", "error",
}

// Row flattens a result into the tabular column layout.
func Row(r harvest.Result) []string {
	addresses := r.Addresses()
	extra := func(i int) string {
		if i < len(addresses) {
			return addresses[i]
		}
		return ""
	}
	return []string{
		r.Name,
		r.Country,
		r.Website,
		r.BestEmail,
		extra(1),
		extra(2),
		strconv.Itoa(r.EmailsFound),
		r.Source,
		r.Error,
	}
}

// CSV writes results as a CSV file with a header row.
type CSV struct {
	Files    *local.Store
	FileName string
}

// Name implements harvest.ResultSink.
func (s CSV) Name() string { return "csv" }

// Write implements harvest.ResultSink.
func (s CSV) Write(ctx context.Context, results []harvest.Result) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range results {
		if err := w.Write(Row(r)); err != nil {
			return fmt.Errorf("write csv row %s: %w", r.EntityID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return writeFile(ctx, s.Files, nameOr(s.FileName, DefaultCSVName), buf.Bytes())
}

// JSON writes results as an indented JSON array of full result objects.
type JSON struct {
	Files    *local.Store
	FileName string
}

// Name implements harvest.ResultSink.
func (s JSON) Name() string { return "json" }

// Write implements harvest.ResultSink.
func (s JSON) Write(ctx context.Context, results []harvest.Result) error {
	if results == nil {
		results = []harvest.Result{}
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	return writeFile(ctx, s.Files, nameOr(s.FileName, DefaultJSONName), append(data, '\n'))
}

// XLSX writes results to a single-sheet workbook.
type XLSX struct {
	Files     *local.Store
	FileName  string
	SheetName string
}

// Name implements harvest.ResultSink.
func (s XLSX) Name() string { return "xlsx" }

// Write implements harvest.ResultSink.
func (s XLSX) Write(ctx context.Context, results []harvest.Result) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(nameOr(s.SheetName, "Results"))
	if err != nil {
		return fmt.Errorf("add sheet: %w", err)
	}
	addRow(sheet, Columns)
	for _, r := range results {
		addRow(sheet, Row(r))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return fmt.Errorf("encode workbook: %w", err)
	}
	return writeFile(ctx, s.Files, nameOr(s.FileName, DefaultXLSXName), buf.Bytes())
}

func addRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func writeFile(ctx context.Context, files *local.Store, name string, data []byte) error {
	if files == nil {
		return fmt.Errorf("export %s: no output directory configured", name)
	}
	if err := files.WriteAtomic(ctx, name, data); err != nil {
		return fmt.Errorf("export %s: %w", name, err)
	}
	return nil
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
