package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"datagrid-backend/internal/metadata"
	"datagrid-backend/internal/upload"
)

var (
	tablePath  string
	timezone   string
	maxRows    int
	errorsPath string
)

var checkCmd = &cobra.Command{
	Use:   "check --table def.json FILE",
	Short: "Validate an .xlsx or .csv file against a table definition",
	Long: `Runs the bulk-upload pipeline offline and prints the result as JSON.
Exits non-zero when any row or the file itself is rejected.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

var templateCmd = &cobra.Command{
	Use:   "template --table def.json OUT.xlsx",
	Short: "Write the upload workbook for a table definition",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplate,
}

func init() {
	for _, cmd := range []*cobra.Command{checkCmd, templateCmd} {
		cmd.Flags().StringVarP(&tablePath, "table", "t", "", "table definition (JSON)")
		_ = cmd.MarkFlagRequired("table")
	}
	checkCmd.Flags().StringVar(&timezone, "timezone", "UTC", "zone for dates written as text")
	checkCmd.Flags().IntVar(&maxRows, "max-rows", 0, "reject files with more data rows (0 for no limit)")
	checkCmd.Flags().StringVar(&errorsPath, "errors", "", "also write the error report as CSV to this path")
}

func runCheck(cmd *cobra.Command, args []string) error {
	tbl, err := metadata.LoadTableFile(tablePath)
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return fmt.Errorf("timezone: %w", err)
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	p := upload.NewPipeline(upload.FromTable(tbl))
	p.Location = loc
	p.MaxRows = maxRows
	res := p.Process(cmd.Context(), f, filepath.Base(args[0]))

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if errorsPath != "" && res.HasErrors() {
		if err := writeErrorReport(errorsPath, res.Errors); err != nil {
			return err
		}
	}
	if res.HasErrors() {
		return fmt.Errorf("%s: %d errors in %d rows", args[0], res.ErrorCount, res.InvalidCount)
	}
	return nil
}

func writeErrorReport(path string, errs []upload.ValidationError) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := upload.WriteErrorsCSV(f, errs); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func runTemplate(cmd *cobra.Command, args []string) error {
	tbl, err := metadata.LoadTableFile(tablePath)
	if err != nil {
		return err
	}
	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	if err := upload.WriteTemplate(f, upload.FromTable(tbl)); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d columns)\n", args[0], len(upload.FromTable(tbl)))
	return nil
}
