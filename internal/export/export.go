package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cast"
	"github.com/xuri/excelize/v2"

	"datagrid-backend/internal/metadata"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// ParseFormat resolves a format name; empty means csv.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Filename returns the download name for a table export.
func (f Format) Filename(table string, at time.Time) string {
	return fmt.Sprintf("%s-%s.%s", table, at.Format("20060102-150405"), f)
}

// Exporter renders table rows for download. Dates are shown in Location.
type Exporter struct {
	Table    *metadata.Table
	Location *time.Location
}

func New(tbl *metadata.Table, loc *time.Location) *Exporter {
	if loc == nil {
		loc = time.UTC
	}
	return &Exporter{Table: tbl, Location: loc}
}

// Columns returns the exported columns: every column that is not hidden.
func (e *Exporter) Columns() []metadata.Column {
	var cols []metadata.Column
	for _, c := range e.Table.Columns {
		if !c.Hidden {
			cols = append(cols, c)
		}
	}
	return cols
}

// Write renders rows in format f.
func (e *Exporter) Write(w io.Writer, f Format, rows []map[string]any) error {
	switch f {
	case FormatJSON:
		return e.JSON(w, rows)
	case FormatXLSX:
		return e.XLSX(w, rows)
	}
	return e.CSV(w, rows)
}

// CSV writes a header of column labels followed by one line per row.
func (e *Exporter) CSV(w io.Writer, rows []map[string]any) error {
	cols := e.Columns()
	cw := csv.NewWriter(w)

	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = c.DisplayLabel()
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	record := make([]string, len(cols))
	for _, row := range rows {
		for i, c := range cols {
			record[i] = e.FormatCell(c, row[c.Name])
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// JSON writes the rows as a JSON array, keeping stored values.
func (e *Exporter) JSON(w io.Writer, rows []map[string]any) error {
	if rows == nil {
		rows = []map[string]any{}
	}
	out := make([]map[string]any, len(rows))
	cols := e.Columns()
	for i, row := range rows {
		m := make(map[string]any, len(cols))
		for _, c := range cols {
			m[c.Name] = row[c.Name]
		}
		out[i] = m
	}
	return json.NewEncoder(w).Encode(out)
}

// XLSX writes a single sheet workbook with the same cells as CSV.
func (e *Exporter) XLSX(w io.Writer, rows []map[string]any) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Sheet1"
	cols := e.Columns()
	header := make([]any, len(cols))
	for i, c := range cols {
		header[i] = c.DisplayLabel()
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for r, row := range rows {
		values := make([]any, len(cols))
		for i, c := range cols {
			values[i] = e.xlsxValue(c, row[c.Name])
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
	}
	return f.Write(w)
}

// xlsxValue keeps numbers numeric so spreadsheet formulas work on them.
func (e *Exporter) xlsxValue(c metadata.Column, v any) any {
	if c.Type == metadata.TypeInt || c.Type == metadata.TypeNumber {
		if n, err := cast.ToFloat64E(v); err == nil && v != nil {
			return n
		}
	}
	return e.FormatCell(c, v)
}

// FormatCell renders one value for people: option labels instead of stored
// values, Yes/No for booleans, dates in the exporter's location.
func (e *Exporter) FormatCell(c metadata.Column, v any) string {
	if v == nil {
		return ""
	}
	switch c.Type {
	case metadata.TypeSelect:
		return c.OptionLabel(cast.ToString(v))
	case metadata.TypeMultiSelect:
		values := listValues(v)
		labels := make([]string, len(values))
		for i, s := range values {
			labels[i] = c.OptionLabel(s)
		}
		return strings.Join(labels, ", ")
	case metadata.TypeBoolean:
		b, err := cast.ToBoolE(v)
		if err != nil {
			return cast.ToString(v)
		}
		if b {
			return "Yes"
		}
		return "No"
	case metadata.TypeDate, metadata.TypeDateTime:
		layout := "2006-01-02"
		if c.Type == metadata.TypeDateTime {
			layout = "2006-01-02 15:04:05"
		}
		if t, ok := v.(time.Time); ok {
			if c.Type == metadata.TypeDate {
				// date columns carry no zone
				return t.Format(layout)
			}
			return t.In(e.Location).Format(layout)
		}
		return cast.ToString(v)
	case metadata.TypeInt, metadata.TypeNumber:
		if c.Precision > 0 {
			if n, err := cast.ToFloat64E(v); err == nil {
				return strconv.FormatFloat(n, 'f', c.Precision, 64)
			}
		}
		return cast.ToString(v)
	}

	switch val := v.(type) {
	case []any, []string:
		return strings.Join(listValues(val), ", ")
	case map[string]any:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
	return cast.ToString(v)
}

// listValues flattens slice values, and JSON array text as stored by SQLite.
func listValues(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		return cast.ToStringSlice(val)
	case string:
		var arr []string
		if strings.HasPrefix(val, "[") && json.Unmarshal([]byte(val), &arr) == nil {
			return arr
		}
		if val == "" {
			return nil
		}
		return []string{val}
	}
	return []string{cast.ToString(v)}
}
