// Package export renders records as spreadsheets for offline review.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/JakeFAU/nga-monitor/internal/crawler"
)

// SheetName is the worksheet holding the records in xlsx output.
const SheetName = "posts"

// Columns is the header row shared by every format.
var Columns = []string{"id", "title", "author", "time", "reply_count", "sentiment", "risk_level", "content"}

// Format selects an output encoding.
type Format string

// Supported formats.
const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// ParseFormat accepts a format name or a file name with a known extension.
func ParseFormat(s string) (Format, error) {
	lower := strings.ToLower(strings.TrimSpace(s))
	switch {
	case lower == "xlsx" || strings.HasSuffix(lower, ".xlsx"):
		return FormatXLSX, nil
	case lower == "csv" || strings.HasSuffix(lower, ".csv"):
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// ContentType is the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Write encodes records to w.
func Write(w io.Writer, format Format, records []crawler.PostRecord) error {
	switch format {
	case FormatXLSX:
		return WriteXLSX(w, records)
	case FormatCSV:
		return WriteCSV(w, records)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

func row(rec crawler.PostRecord) []string {
	postTime := ""
	if !rec.PostTime.IsZero() {
		postTime = rec.PostTime.Format(crawler.TimeLayout)
	}
	return []string{
		strconv.FormatInt(rec.PostID, 10),
		rec.Title,
		rec.Author,
		postTime,
		strconv.Itoa(rec.ReplyCount),
		strconv.FormatFloat(rec.EffectiveSentiment(), 'f', 4, 64),
		strconv.Itoa(rec.RiskLevel),
		rec.Content,
	}
}

// WriteCSV writes a UTF-8 CSV with a BOM so spreadsheet tools pick the right
// encoding for Chinese text.
func WriteCSV(w io.Writer, records []crawler.PostRecord) error {
	if _, err := io.WriteString(w, "\ufeff"); err != nil {
		return fmt.Errorf("write bom: %w", err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, rec := range records {
		if err := cw.Write(row(rec)); err != nil {
			return fmt.Errorf("write post %d: %w", rec.PostID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// WriteXLSX writes a workbook with a single "posts" sheet. Numeric columns
// are stored as numbers.
func WriteXLSX(w io.Writer, records []crawler.PostRecord) (err error) {
	f := excelize.NewFile()
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close workbook: %w", closeErr)
		}
	}()
	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]any, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, rec := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("cell for row %d: %w", i+2, err)
		}
		values := row(rec)
		line := []any{
			rec.PostID,
			values[1],
			values[2],
			values[3],
			rec.ReplyCount,
			rec.EffectiveSentiment(),
			rec.RiskLevel,
			values[7],
		}
		if err := f.SetSheetRow(SheetName, cell, &line); err != nil {
			return fmt.Errorf("write post %d: %w", rec.PostID, err)
		}
	}
	if err := f.SetColWidth(SheetName, "B", "B", 40); err != nil {
		return fmt.Errorf("size title column: %w", err)
	}
	if err := f.SetColWidth(SheetName, "H", "H", 80); err != nil {
		return fmt.Errorf("size content column: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
