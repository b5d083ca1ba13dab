package export

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/xuri/excelize/v2"

	"qrmark/internal/store"
)

// displayTimeLayout is the fixed human-readable pattern used by the admin view
// and both export formats.
const displayTimeLayout = "2006-01-02 15:04:05"

// Row is the admin-facing projection of a record: device id stripped,
// timestamp reformatted. The cid stays internal to the store.
type Row struct {
	Timestamp string
	SlotKey   string
	Name      string
	Email     string
}

var exportHeader = []string{"timestamp", "slot_key", "name", "email"}

// Project converts raw records into the stripped, reformatted projection.
func Project(records []store.Record) []Row {
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, Row{
			Timestamp: rec.Timestamp.UTC().Format(displayTimeLayout),
			SlotKey:   rec.SlotKey,
			Name:      rec.Name,
			Email:     rec.Email,
		})
	}
	return rows
}

// CSV serializes rows as a CSV document with a header line.
func CSV(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for _, r := range rows {
		if err := w.Write([]string{r.Timestamp, r.SlotKey, r.Name, r.Email}); err != nil {
			return nil, fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// XLSX serializes rows as a single-sheet workbook named "attendance".
func XLSX(rows []Row) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "attendance"
	idx, err := f.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("drop default sheet: %w", err)
	}

	for col, name := range exportHeader {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheet, cell, name); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	for i, r := range rows {
		values := []string{r.Timestamp, r.SlotKey, r.Name, r.Email}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, fmt.Errorf("write row %d: %w", i+1, err)
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}
