package upload

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Sheet names used in generated templates.
const (
	DataSheet  = "Data"
	ListsSheet = "Lists"
)

// maxTemplateRow bounds the drop-down validation ranges.
const maxTemplateRow = 10001

// WriteTemplate writes an empty upload workbook for cols: a header row on
// the data sheet, with required columns marked "*", and drop-down lists for
// dropdown and boolean columns backed by a hidden lists sheet.
func WriteTemplate(w io.Writer, cols []ColumnTemplate) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", DataSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(ListsSheet); err != nil {
		return fmt.Errorf("create lists sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0EBF5"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	dateStyle, err := f.NewStyle(&excelize.Style{NumFmt: 14})
	if err != nil {
		return fmt.Errorf("date style: %w", err)
	}
	dateTimeStyle, err := f.NewStyle(&excelize.Style{NumFmt: 22})
	if err != nil {
		return fmt.Errorf("datetime style: %w", err)
	}

	listCol := 0
	for i, col := range cols {
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		label := col.Label
		if col.Required {
			label += " *"
		}
		if err := f.SetCellValue(DataSheet, name+"1", label); err != nil {
			return err
		}
		if err := f.SetColWidth(DataSheet, name, name, float64(max(14, len(label)+4))); err != nil {
			return err
		}

		switch col.Type {
		case TypeDate:
			err = f.SetCellStyle(DataSheet, name+"2", fmt.Sprintf("%s%d", name, maxTemplateRow), dateStyle)
		case TypeDateTime:
			err = f.SetCellStyle(DataSheet, name+"2", fmt.Sprintf("%s%d", name, maxTemplateRow), dateTimeStyle)
		}
		if err != nil {
			return err
		}

		var choices []string
		switch {
		case col.Type == TypeDropdown && !col.Multiple:
			choices = col.OptionLabels()
		case col.Type == TypeBoolean:
			choices = []string{"Yes", "No"}
		}
		if len(choices) == 0 {
			continue
		}

		listCol++
		listName, err := excelize.ColumnNumberToName(listCol)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(ListsSheet, listName+"1", col.Label); err != nil {
			return err
		}
		for j, choice := range choices {
			if err := f.SetCellValue(ListsSheet, fmt.Sprintf("%s%d", listName, j+2), choice); err != nil {
				return err
			}
		}

		dv := excelize.NewDataValidation(!col.Required)
		dv.Sqref = fmt.Sprintf("%s2:%s%d", name, name, maxTemplateRow)
		dv.SetSqrefDropList(fmt.Sprintf("%s!$%s$2:$%s$%d", ListsSheet, listName, listName, len(choices)+1))
		if err := f.AddDataValidation(DataSheet, dv); err != nil {
			return fmt.Errorf("drop-down for %s: %w", col.Label, err)
		}
	}

	if len(cols) > 0 {
		last, err := excelize.ColumnNumberToName(len(cols))
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(DataSheet, "A1", last+"1", headerStyle); err != nil {
			return err
		}
	}
	if err := f.SetPanes(DataSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}
	if err := f.SetSheetVisible(ListsSheet, false); err != nil {
		return err
	}
	return f.Write(w)
}

// WriteErrorsCSV writes validation errors as a CSV report.
func WriteErrorsCSV(w io.Writer, errs []ValidationError) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Row", "Column", "Message", "Value", "Expected"}); err != nil {
		return err
	}
	for _, e := range errs {
		value := ""
		if e.Value != nil {
			value = fmt.Sprint(e.Value)
		}
		record := []string{fmt.Sprint(e.Row), e.Column, e.Message, value, strings.Join(e.Expected, ", ")}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
