package upload

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"datagrid-backend/internal/instrument"
	"datagrid-backend/internal/logger"
)

// ValidationError is one rejected cell or row. Row is the spreadsheet row
// number (the header is row 1); Row 0 marks a failure of the whole file.
type ValidationError struct {
	Row      int      `json:"row"`
	Column   string   `json:"column"`
	Message  string   `json:"message"`
	Value    any      `json:"value,omitempty"`
	Expected []string `json:"expected,omitempty"`
}

// Result is the outcome of processing one file.
type Result struct {
	ValidRows []map[string]any `json:"valid_rows"`
	// SourceRows holds the sheet row number of each entry of ValidRows.
	SourceRows   []int             `json:"-"`
	Errors       []ValidationError `json:"errors"`
	TotalRows    int               `json:"total_rows"`
	ValidCount   int               `json:"valid_count"`
	InvalidCount int               `json:"invalid_count"`
	ErrorCount   int               `json:"error_count"`
}

// SourceRow returns the sheet row number of ValidRows[i].
func (r *Result) SourceRow(i int) int {
	if i < len(r.SourceRows) {
		return r.SourceRows[i]
	}
	return i + 2
}

// HasErrors reports whether any row or the file itself failed.
func (r *Result) HasErrors() bool {
	return len(r.Errors) > 0
}

func fileError(err error) *Result {
	return &Result{
		ValidRows:  []map[string]any{},
		Errors:     []ValidationError{{Row: 0, Column: "", Message: err.Error()}},
		ErrorCount: 1,
	}
}

// Pipeline converts sheet rows into validated records.
type Pipeline struct {
	Columns   []ColumnTemplate
	Validator Validator
	// Location resolves text dates without a zone.
	Location *time.Location
	// MaxRows rejects larger files when positive.
	MaxRows int
}

// NewPipeline returns a pipeline using the default schema validator.
func NewPipeline(columns []ColumnTemplate) *Pipeline {
	return &Pipeline{Columns: columns, Validator: NewSchemaValidator(columns, nil), Location: time.UTC}
}

// Process reads an uploaded file and validates its rows. It never fails:
// problems with the file itself come back as a single row 0 error.
func (p *Pipeline) Process(ctx context.Context, r io.Reader, filename string) *Result {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "upload", "upload.process")
	defer span.End()
	span.SetMetadata("filename", filename)

	sheet, err := ReadSheet(r, filename)
	if err != nil {
		logger.Warnf("upload %s: %v", filename, err)
		span.SetStatus("error")
		return fileError(err)
	}

	res := p.ProcessSheet(ctx, sheet)
	span.SetMetadata("total_rows", res.TotalRows)
	span.SetMetadata("error_count", res.ErrorCount)
	if res.HasErrors() {
		span.SetStatus("error")
	} else {
		span.SetStatus("ok")
	}
	return res
}

// ProcessSheet validates already parsed rows.
func (p *Pipeline) ProcessSheet(ctx context.Context, sheet *Sheet) *Result {
	positions := matchHeader(p.Columns, sheet.Header)

	var missing []string
	for _, col := range p.Columns {
		if _, ok := positions[col.Key]; !ok && col.Required {
			missing = append(missing, col.Label)
		}
	}
	if len(missing) > 0 {
		return fileError(fmt.Errorf("missing required columns: %s", strings.Join(missing, ", ")))
	}
	if len(positions) == 0 {
		return fileError(fmt.Errorf("header row matches none of the template columns"))
	}

	if p.MaxRows > 0 {
		n := 0
		for _, row := range sheet.Rows {
			if !blankRow(row) {
				n++
			}
		}
		if n > p.MaxRows {
			return fileError(fmt.Errorf("file has %d rows, the limit is %d", n, p.MaxRows))
		}
	}

	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	labels := make(map[string]string, len(p.Columns))
	for _, col := range p.Columns {
		labels[col.Key] = col.Label
	}

	res := &Result{ValidRows: []map[string]any{}, Errors: []ValidationError{}}
	for idx, row := range sheet.Rows {
		if blankRow(row) {
			continue
		}
		res.TotalRows++
		rowNum := idx + 2

		record := make(map[string]any, len(p.Columns))
		raw := make(map[string]string, len(p.Columns))
		var rowErrs []ValidationError
		failed := map[string]bool{}
		for _, col := range p.Columns {
			pos, ok := positions[col.Key]
			if !ok {
				continue
			}
			value := cell(row, pos)
			raw[col.Key] = value
			converted, cerr := convert(col, value, loc)
			if cerr != nil {
				rowErrs = append(rowErrs, ValidationError{
					Row: rowNum, Column: col.Label, Message: cerr.message, Value: value, Expected: cerr.expected,
				})
				failed[col.Key] = true
				continue
			}
			record[col.Key] = converted
		}

		if p.Validator != nil {
			for _, fe := range p.Validator.Validate(ctx, record) {
				if failed[fe.Column] {
					continue
				}
				ve := ValidationError{Row: rowNum, Column: labels[fe.Column], Message: fe.Message, Expected: fe.Expected}
				if ve.Column == "" {
					ve.Column = fe.Column
				}
				if v, ok := raw[fe.Column]; ok {
					ve.Value = v
				}
				rowErrs = append(rowErrs, ve)
			}
		}

		if len(rowErrs) > 0 {
			res.InvalidCount++
			res.Errors = append(res.Errors, rowErrs...)
			continue
		}
		res.ValidRows = append(res.ValidRows, record)
		res.SourceRows = append(res.SourceRows, rowNum)
	}

	res.ValidCount = len(res.ValidRows)
	res.ErrorCount = len(res.Errors)
	logger.Debugf("upload processed: %d rows, %d valid, %d errors", res.TotalRows, res.ValidCount, res.ErrorCount)
	return res
}
