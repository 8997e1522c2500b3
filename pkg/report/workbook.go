package report

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/synaptica-ai/vision-uploader/pkg/acquisition"
)

const sheet = "Sheet1"

var workbookHeaders = []interface{}{
	"Accession Number",
	"List of Findings",
	"Report Embedded",
	"Link to Report Folder",
	"Link to Secondary Capture Folder",
}

// Row is one accession in the summary workbook. Links are written as
// hyperlinks when set.
type Row struct {
	Accession            string
	Findings             []string
	Report               string
	ReportLink           string
	SecondaryCaptureLink string
}

// NewRow summarises a result. reportDir may be empty when no text reports
// were written.
func NewRow(result acquisition.Result, reportDir string) Row {
	row := Row{Accession: result.Accession}
	if result.Outcome != acquisition.OutcomeComplete {
		row.Report = string(result.Outcome)
		return row
	}
	if findings, err := ExtractFindings(result.Classification); err == nil {
		row.Findings = findings.Names()
	}
	if text, err := TextReport(result); err == nil {
		row.Report = text
	}
	if reportDir != "" {
		if abs, err := filepath.Abs(filepath.Join(reportDir, result.Accession+".txt")); err == nil {
			row.ReportLink = "file://" + filepath.ToSlash(abs)
		}
	}
	return row
}

// WriteWorkbook writes rows below a header row to a new xlsx file.
func WriteWorkbook(path string, rows []Row) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetRow(sheet, "A1", &workbookHeaders); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "A", "E", 30); err != nil {
		return err
	}
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", "E1", header); err != nil {
		return err
	}
	link, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Color: "1265BE", Underline: "single"}})
	if err != nil {
		return err
	}

	for i, row := range rows {
		r := i + 2
		cell, err := excelize.CoordinatesToCellName(1, r)
		if err != nil {
			return err
		}
		values := []interface{}{
			row.Accession,
			strings.Join(row.Findings, ", "),
			row.Report,
			row.ReportLink,
			row.SecondaryCaptureLink,
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("writing row for %s: %w", row.Accession, err)
		}
		for col, target := range map[int]string{4: row.ReportLink, 5: row.SecondaryCaptureLink} {
			if target == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(col, r)
			if err != nil {
				return err
			}
			if err := f.SetCellHyperLink(sheet, cell, target, "External"); err != nil {
				return err
			}
			if err := f.SetCellStyle(sheet, cell, cell, link); err != nil {
				return err
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook %s: %w", path, err)
	}
	return nil
}
