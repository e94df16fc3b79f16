package excel

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/nurpe/procurement-workflow/internal/service"
)

const (
	summarySheet = "Resumen"
	rowsSheet    = "Filas"
)

// Generator renders a bulk import outcome as a workbook.
type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

func (g *Generator) Generate(result service.BulkResult) ([]byte, error) {
	file := excelize.NewFile()
	defer file.Close()

	if err := file.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if err := g.writeSummary(file, result); err != nil {
		return nil, err
	}
	if _, err := file.NewSheet(rowsSheet); err != nil {
		return nil, err
	}
	if err := g.writeRows(file, result); err != nil {
		return nil, err
	}

	file.SetActiveSheet(0)
	buf, err := file.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *Generator) writeSummary(file *excelize.File, result service.BulkResult) error {
	set := func(cell string, value interface{}) {
		_ = file.SetCellValue(summarySheet, cell, value)
	}

	mode := "Confirmación"
	if result.DryRun {
		mode = "Simulación"
	}
	set("A1", "Modo")
	set("B1", mode)

	headers := []string{"Tipo", "Creados", "Actualizados", "Omitidos", "Errores"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 3)
		set(cell, header)
	}
	lines := []struct {
		label   string
		summary service.BulkSummary
	}{
		{label: "OC", summary: result.ByType[service.BulkRowOC]},
		{label: "Facturas", summary: result.ByType[service.BulkRowInvoice]},
		{label: "Total", summary: result.Summary},
	}
	for i, line := range lines {
		row := 4 + i
		set(fmt.Sprintf("A%d", row), line.label)
		set(fmt.Sprintf("B%d", row), line.summary.Created)
		set(fmt.Sprintf("C%d", row), line.summary.Updated)
		set(fmt.Sprintf("D%d", row), line.summary.Skipped)
		set(fmt.Sprintf("E%d", row), line.summary.Errors)
	}

	_ = file.SetColWidth(summarySheet, "A", "A", 16)
	_ = file.SetColWidth(summarySheet, "B", "E", 14)
	return nil
}

func (g *Generator) writeRows(file *excelize.File, result service.BulkResult) error {
	set := func(cell string, value interface{}) {
		_ = file.SetCellValue(rowsSheet, cell, value)
	}

	headers := []string{"Fila", "Tipo", "Resultado", "ID", "Mensaje", "Observaciones"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		set(cell, header)
	}

	for i, r := range result.Rows {
		row := 2 + i
		id := ""
		if r.ID != nil {
			id = r.ID.String()
		}
		set(fmt.Sprintf("A%d", row), r.Row)
		set(fmt.Sprintf("B%d", row), string(r.Type))
		set(fmt.Sprintf("C%d", row), string(r.Action))
		set(fmt.Sprintf("D%d", row), id)
		set(fmt.Sprintf("E%d", row), r.Message)
		set(fmt.Sprintf("F%d", row), formatIssues(r))
	}

	_ = file.SetColWidth(rowsSheet, "A", "C", 12)
	_ = file.SetColWidth(rowsSheet, "D", "D", 38)
	_ = file.SetColWidth(rowsSheet, "E", "F", 60)
	return nil
}

func formatIssues(r service.BulkRowResult) string {
	parts := make([]string, 0, len(r.Issues))
	for _, issue := range r.Issues {
		if len(issue.Path) == 0 {
			parts = append(parts, issue.Message)
			continue
		}
		parts = append(parts, strings.Join(issue.Path, ".")+": "+issue.Message)
	}
	return strings.Join(parts, "\n")
}
