package upload

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/xuri/excelize/v2"
)

// dateLayouts are tried in order for text date cells. Slash and dash forms
// are day first.
var dateLayouts = []string{
	DateLayout,
	DateTimeLayout,
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006/01/02",
	"02/01/2006",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02-01-2006",
	"02-01-2006 15:04:05",
	"02.01.2006",
	"2-Jan-2006",
	"02-Jan-2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"January 2, 2006",
}

// cellError is a cell that could not be converted to its column type.
type cellError struct {
	message  string
	expected []string
}

// convert turns a raw cell into the record value for col. Empty cells yield nil.
func convert(col ColumnTemplate, raw string, loc *time.Location) (any, *cellError) {
	if raw == "" {
		return nil, nil
	}
	label := col.Label

	switch col.Type {
	case TypeNumber:
		n, err := cast.ToFloat64E(strings.ReplaceAll(raw, ",", ""))
		if err != nil {
			return nil, &cellError{message: fmt.Sprintf("%s must be a number", label)}
		}
		if col.Integer {
			if n != float64(int64(n)) {
				return nil, &cellError{message: fmt.Sprintf("%s must be a whole number", label)}
			}
			return int64(n), nil
		}
		return n, nil

	case TypeBoolean:
		switch strings.ToLower(raw) {
		case "true", "yes", "y", "1":
			return true, nil
		case "false", "no", "n", "0":
			return false, nil
		}
		return nil, &cellError{message: fmt.Sprintf("%s must be Yes or No", label), expected: []string{"Yes", "No"}}

	case TypeDate, TypeDateTime:
		t, ok := parseDate(raw, loc)
		if !ok {
			return nil, &cellError{message: fmt.Sprintf("%s must be a valid date", label)}
		}
		if col.Type == TypeDate {
			return t.Format(DateLayout), nil
		}
		return t.Format(DateTimeLayout), nil

	case TypeDropdown:
		if !col.Multiple {
			v, ok := col.OptionValue(raw)
			if !ok {
				return nil, choiceError(col)
			}
			return v, nil
		}
		var values []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			v, ok := col.OptionValue(part)
			if !ok {
				return nil, choiceError(col)
			}
			values = append(values, v)
		}
		return values, nil
	}
	return raw, nil
}

func choiceError(col ColumnTemplate) *cellError {
	labels := col.OptionLabels()
	return &cellError{
		message:  fmt.Sprintf("%s must be one of: %s", col.Label, strings.Join(labels, ", ")),
		expected: labels,
	}
}

// parseDate accepts spreadsheet serial numbers and the text layouts above.
// Serials carry no zone and are kept as wall clock values.
func parseDate(raw string, loc *time.Location) (time.Time, bool) {
	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		if serial <= 0 {
			return time.Time{}, false
		}
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, false
		}
		// round away float noise in the time fraction
		return t.Round(time.Second), true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.In(loc), true
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
