package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cast"

	"datagrid-backend/internal/metadata"
)

// Canonical text layouts for date and datetime values.
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02 15:04:05"
)

// EncodeValue converts a record value into a driver parameter for col.
// Datetime strings without a zone are read in loc.
func EncodeValue(d Dialect, col metadata.Column, v any, loc *time.Location) (any, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" && col.Type != metadata.TypeText {
		return nil, nil
	}

	switch col.Type {
	case metadata.TypeInt:
		return cast.ToInt64E(v)
	case metadata.TypeNumber:
		return cast.ToFloat64E(v)
	case metadata.TypeBoolean:
		b, err := cast.ToBoolE(v)
		if err != nil {
			return nil, err
		}
		if d.NeedsBoolFix() {
			if b {
				return int64(1), nil
			}
			return int64(0), nil
		}
		return b, nil
	case metadata.TypeDate:
		t, err := toTime(v, loc)
		if err != nil {
			return nil, err
		}
		return t.Format(DateLayout), nil
	case metadata.TypeDateTime:
		t, err := toTime(v, loc)
		if err != nil {
			return nil, err
		}
		if d.Name() == "sqlite" {
			return t.UTC().Format(time.RFC3339), nil
		}
		return t, nil
	case metadata.TypeMultiSelect:
		vals, err := cast.ToStringSliceE(v)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(vals)
		return string(b), err
	case metadata.TypeJSON:
		if s, ok := v.(string); ok && json.Valid([]byte(s)) {
			return s, nil
		}
		b, err := json.Marshal(v)
		return string(b), err
	default:
		return cast.ToStringE(v)
	}
}

// EncodeRecord encodes every column of tbl present in record.
func EncodeRecord(d Dialect, tbl *metadata.Table, record map[string]any, loc *time.Location) (map[string]any, error) {
	out := make(map[string]any, len(record))
	for k, v := range record {
		col := tbl.GetColumn(k)
		if col == nil {
			continue
		}
		enc, err := EncodeValue(d, *col, v, loc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = enc
	}
	return out, nil
}

// DecodeRows converts stored values back to their column types in place:
// booleans from integers, multiselect and JSON from text, dates as
// "2006-01-02" strings and datetimes as times.
func DecodeRows(tbl *metadata.Table, rows []map[string]any) {
	for _, row := range rows {
		for i := range tbl.Columns {
			col := &tbl.Columns[i]
			v, ok := row[col.Name]
			if !ok || v == nil {
				continue
			}
			row[col.Name] = decodeValue(col, v)
		}
	}
}

func decodeValue(col *metadata.Column, v any) any {
	switch col.Type {
	case metadata.TypeBoolean:
		if b, err := cast.ToBoolE(v); err == nil {
			return b
		}
	case metadata.TypeInt:
		if n, err := cast.ToInt64E(v); err == nil {
			return n
		}
	case metadata.TypeNumber:
		// NUMERIC arrives as text through pgx/stdlib
		if f, err := cast.ToFloat64E(v); err == nil {
			return f
		}
	case metadata.TypeDate:
		switch d := v.(type) {
		case time.Time:
			return d.Format(DateLayout)
		case string:
			if len(d) > len(DateLayout) {
				return d[:len(DateLayout)]
			}
		}
	case metadata.TypeDateTime:
		if s, ok := v.(string); ok {
			if t, err := cast.ToTimeE(s); err == nil {
				return t
			}
		}
	case metadata.TypeMultiSelect, metadata.TypeJSON:
		if s, ok := v.(string); ok {
			var out any
			if err := json.Unmarshal([]byte(s), &out); err == nil {
				return out
			}
		}
	}
	return v
}

func toTime(v any, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if s, ok := v.(string); ok {
		return cast.ToTimeInDefaultLocationE(strings.TrimSpace(s), loc)
	}
	return cast.ToTimeInDefaultLocationE(v, loc)
}
