package upload

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"datagrid-backend/internal/metadata"
)

func assetColumns() []ColumnTemplate {
	return []ColumnTemplate{
		{Key: "asset_name", Label: "Asset Name", Type: TypeText, Required: true},
		{Key: "site_id", Label: "Site", Type: TypeDropdown, Required: true, Options: []metadata.Option{
			{Label: "Site 1", Value: "1"},
			{Label: "Site 2", Value: "2"},
		}},
		{Key: "installed_on", Label: "Installed On", Type: TypeDate},
		{Key: "capacity", Label: "Capacity", Type: TypeNumber, Integer: true},
		{Key: "active", Label: "Active", Type: TypeBoolean},
		{Key: "email", Label: "Owner Email", Type: TypeText, Validate: "email"},
	}
}

func processCSV(t *testing.T, p *Pipeline, body string) *Result {
	t.Helper()
	return p.Process(context.Background(), strings.NewReader(body), "assets.csv")
}

func TestProcess_DropdownLabelBecomesValue(t *testing.T) {
	p := NewPipeline(assetColumns())
	res := processCSV(t, p, "Asset Name,Site\nPump A,Site 1\n")

	require.Empty(t, res.Errors)
	require.Len(t, res.ValidRows, 1)
	assert.Equal(t, "1", res.ValidRows[0]["site_id"])
	assert.Equal(t, "Pump A", res.ValidRows[0]["asset_name"])
}

func TestProcess_InvalidRowExcludedOthersKept(t *testing.T) {
	p := NewPipeline(assetColumns())
	body := "Asset Name,Site,Capacity\n" +
		"Pump A,Site 1,10\n" +
		",Site 2,20\n" +
		"Pump C,Site 2,30\n"
	res := processCSV(t, p, body)

	assert.Equal(t, 3, res.TotalRows)
	assert.Equal(t, 2, res.ValidCount)
	assert.Equal(t, 1, res.InvalidCount)
	require.Equal(t, 1, res.ErrorCount)

	e := res.Errors[0]
	assert.Equal(t, 3, e.Row, "second data row sits on sheet row 3")
	assert.Equal(t, "Asset Name", e.Column)
	assert.Contains(t, e.Message, "Asset Name")
	assert.Contains(t, e.Message, "required")

	assert.Equal(t, "Pump A", res.ValidRows[0]["asset_name"])
	assert.Equal(t, int64(30), res.ValidRows[1]["capacity"])
	assert.Equal(t, []int{2, 4}, res.SourceRows)
	assert.Equal(t, 4, res.SourceRow(1))
}

func TestProcess_AccumulatesAllFieldErrors(t *testing.T) {
	p := NewPipeline(assetColumns())
	body := "Asset Name,Site,Installed On,Capacity,Active,Owner Email\n" +
		"Pump A,Site 9,not a date,1.5,maybe,nobody\n"
	res := processCSV(t, p, body)

	require.Empty(t, res.ValidRows)
	assert.Equal(t, 1, res.InvalidCount)
	assert.Equal(t, 5, res.ErrorCount)

	byColumn := map[string]ValidationError{}
	for _, e := range res.Errors {
		assert.Equal(t, 2, e.Row)
		byColumn[e.Column] = e
	}
	assert.Equal(t, []string{"Site 1", "Site 2"}, byColumn["Site"].Expected)
	assert.Equal(t, "Site 9", byColumn["Site"].Value)
	assert.Contains(t, byColumn["Installed On"].Message, "valid date")
	assert.Contains(t, byColumn["Capacity"].Message, "whole number")
	assert.Equal(t, []string{"Yes", "No"}, byColumn["Active"].Expected)
	assert.Equal(t, "nobody", byColumn["Owner Email"].Value)
}

func TestProcess_HeaderMatching(t *testing.T) {
	p := NewPipeline(assetColumns())
	res := processCSV(t, p, "\ufeff  asset   NAME *,site_id,Unrelated\nPump A,Site 2,x\n")
	require.Empty(t, res.Errors)
	assert.Equal(t, "2", res.ValidRows[0]["site_id"])
	assert.NotContains(t, res.ValidRows[0], "Unrelated")
}

func TestProcess_StructuralFailures(t *testing.T) {
	p := NewPipeline(assetColumns())

	cases := map[string]struct {
		filename, body, want string
	}{
		"missing column": {"a.csv", "Asset Name\nPump\n", "missing required columns: Site"},
		"empty file":     {"a.csv", "", "file is empty"},
		"bad format":     {"a.pdf", "x", "unsupported file format"},
		"broken xlsx":    {"a.xlsx", "not a zip", "open workbook"},
		"broken csv":     {"a.csv", "Asset Name,Site\n\"unterminated,x\n", "parse csv"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			res := p.Process(context.Background(), strings.NewReader(tc.body), tc.filename)
			require.Len(t, res.Errors, 1)
			assert.Equal(t, 0, res.Errors[0].Row)
			assert.Contains(t, res.Errors[0].Message, tc.want)
			assert.Equal(t, 1, res.ErrorCount)
			assert.Empty(t, res.ValidRows)
		})
	}
}

func TestProcess_MaxRowsAndBlankRows(t *testing.T) {
	p := NewPipeline(assetColumns())
	p.MaxRows = 2
	body := "Asset Name,Site\nA,Site 1\n,\nB,Site 1\n"
	res := processCSV(t, p, body)
	require.Empty(t, res.Errors, "blank rows are skipped and not counted")
	assert.Equal(t, 2, res.TotalRows)

	res = processCSV(t, p, body+"C,Site 2\n")
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "limit is 2")
}

func TestProcess_RulesRunAfterColumnChecks(t *testing.T) {
	cols := assetColumns()
	p := NewPipeline(cols)
	p.Validator = NewSchemaValidator(cols, []*metadata.Rule{{
		Table: "assets",
		Type:  metadata.RuleExpression,
		Definition: metadata.RuleDefinition{
			Field:      "capacity",
			Expression: "record.active == true && record.capacity == nil",
			Message:    "Active assets need a capacity",
		},
	}})
	res := processCSV(t, p, "Asset Name,Site,Active,Capacity\nA,Site 1,Yes,\nB,Site 1,No,\n")
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "Capacity", res.Errors[0].Column)
	assert.Equal(t, "Active assets need a capacity", res.Errors[0].Message)
	assert.Equal(t, 1, res.ValidCount)
}

func TestProcess_CustomValidator(t *testing.T) {
	p := NewPipeline(assetColumns())
	p.Validator = ValidatorFunc(func(_ context.Context, record map[string]any) []FieldError {
		if record["asset_name"] == "Blocked" {
			return []FieldError{{Column: "asset_name", Message: "name is reserved"}}
		}
		return nil
	})
	res := processCSV(t, p, "Asset Name,Site\nBlocked,Site 1\nFine,Site 1\n")
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "Asset Name", res.Errors[0].Column)
	assert.Equal(t, "Blocked", res.Errors[0].Value)
}

func TestProcess_Workbook(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"Asset Name", "Site", "Installed On", "Active"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"Pump A", "Site 2", 45366, "yes"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]any{"Pump B", "Site 1", "01/02/2024", "No"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	p := NewPipeline(assetColumns())
	res := p.Process(context.Background(), buf, "assets.xlsx")
	require.Empty(t, res.Errors)
	require.Len(t, res.ValidRows, 2)
	assert.Equal(t, "2024-03-15", res.ValidRows[0]["installed_on"])
	assert.Equal(t, true, res.ValidRows[0]["active"])
	assert.Equal(t, "2024-02-01", res.ValidRows[1]["installed_on"], "slash dates are day first")
}

func TestConvert_Dates(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	dt := ColumnTemplate{Label: "At", Type: TypeDateTime}

	v, cerr := convert(dt, "45366.5", time.UTC)
	require.Nil(t, cerr)
	assert.Equal(t, "2024-03-15 12:00:00", v)

	v, cerr = convert(dt, "2024-03-15T06:30:00Z", ist)
	require.Nil(t, cerr)
	assert.Equal(t, "2024-03-15 12:00:00", v, "zoned text is shown in the upload location")

	v, cerr = convert(ColumnTemplate{Type: TypeDate}, "15-Mar-2024", time.UTC)
	require.Nil(t, cerr)
	assert.Equal(t, "2024-03-15", v)

	_, cerr = convert(ColumnTemplate{Type: TypeDate}, "-3", time.UTC)
	assert.NotNil(t, cerr)
}

func TestConvert_MultipleDropdown(t *testing.T) {
	col := ColumnTemplate{Label: "Tags", Type: TypeDropdown, Multiple: true, Options: []metadata.Option{
		{Label: "Critical", Value: "crit"}, {Label: "Outdoor", Value: "out"},
	}}
	v, cerr := convert(col, "critical, Outdoor", time.UTC)
	require.Nil(t, cerr)
	assert.Equal(t, []string{"crit", "out"}, v)

	_, cerr = convert(col, "Critical, Indoor", time.UTC)
	require.NotNil(t, cerr)
	assert.Equal(t, []string{"Critical", "Outdoor"}, cerr.expected)

	v, cerr = convert(ColumnTemplate{Type: TypeNumber}, "1,250.5", time.UTC)
	require.Nil(t, cerr)
	assert.Equal(t, 1250.5, v)
}

func TestFromTable(t *testing.T) {
	tbl := &metadata.Table{
		Name:       "assets",
		PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
		Columns: []metadata.Column{
			{Name: "id", Type: metadata.TypeUUID},
			{Name: "asset_name", Type: metadata.TypeText, Required: true},
			{Name: "units", Type: metadata.TypeInt},
			{Name: "tags", Type: metadata.TypeMultiSelect, Options: []metadata.Option{{Label: "A", Value: "a"}}},
			{Name: "extra", Type: metadata.TypeJSON},
			{Name: "created_at", Type: metadata.TypeDateTime, Auto: "create"},
		},
	}
	cols := FromTable(tbl)
	require.Len(t, cols, 3)
	assert.Equal(t, "Asset Name", cols[0].Label)
	assert.True(t, cols[1].Integer)
	assert.Equal(t, TypeDropdown, cols[2].Type)
	assert.True(t, cols[2].Multiple)
}

func TestWriteErrorsCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteErrorsCSV(&buf, []ValidationError{
		{Row: 3, Column: "Site", Message: "Site must be one of: Site 1, Site 2", Value: "Site 9", Expected: []string{"Site 1", "Site 2"}},
		{Row: 0, Message: "file is empty"},
	})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Row,Column,Message,Value,Expected", lines[0])
	assert.Equal(t, `3,Site,"Site must be one of: Site 1, Site 2",Site 9,"Site 1, Site 2"`, lines[1])
	assert.Equal(t, "0,,file is empty,,", lines[2])
}
