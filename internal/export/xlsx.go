package export

import (
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docs2md/internal/common"
	"github.com/joseph-ayodele/docs2md/internal/pipeline"
)

const resultsSheet = "Results"

var summaryHeaders = []string{
	"File Name",
	"Pages",
	"Processing Time (s)",
	"Status",
	"Diagnostic",
	"Content Preview",
	"Debug PDF",
}

// SummaryXLSX returns a workbook (as bytes) with one row per result.
func (p *Packager) SummaryXLSX(results []pipeline.FileResult) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	// rename the default sheet rather than leaving an empty "Sheet1"
	if err := f.SetSheetName(f.GetSheetName(0), resultsSheet); err != nil {
		return nil, common.NewPackagingError("create sheet", err)
	}
	index, err := f.GetSheetIndex(resultsSheet)
	if err != nil {
		return nil, common.NewPackagingError("create sheet", err)
	}
	f.SetActiveSheet(index)

	for i, h := range summaryHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(resultsSheet, cell, h)
	}

	rows := p.Rows(results)
	for i, r := range rows {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(resultsSheet, cell, v)
		}
		write(1, r.Filename)
		write(2, r.PageCount)
		write(3, r.Seconds)
		write(4, r.Status)
		write(5, r.Diagnostic)
		write(6, r.Preview)
		write(7, r.DebugPDFID)
	}

	// Widen a few columns
	_ = f.SetColWidth(resultsSheet, "A", "A", 32) // file
	_ = f.SetColWidth(resultsSheet, "B", "D", 14)
	_ = f.SetColWidth(resultsSheet, "E", "E", 48) // diagnostic
	_ = f.SetColWidth(resultsSheet, "F", "F", 60) // preview
	_ = f.SetColWidth(resultsSheet, "G", "G", 38) // uuid

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, common.NewPackagingError("xlsx write", err)
	}

	p.logger.Info("export.xlsx.ok",
		"rows", len(rows),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}
