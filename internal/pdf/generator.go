package pdf

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"

	"github.com/nurpe/procurement-workflow/internal/model"
)

// Generator renders the consumption statement of an OC. It uses a core font,
// with text translated to cp1252 so Spanish accents survive.
type Generator struct {
	fontName string
}

func NewGenerator() *Generator {
	return &Generator{fontName: "Helvetica"}
}

func (g *Generator) Generate(statement model.ConsumptionStatement) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetTitle("Estado de consumo de OC", true)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	oc := statement.OC
	c := statement.Consumption

	pdf.SetFont(g.fontName, "B", 14)
	pdf.CellFormat(0, 10, tr("Estado de consumo de orden de compra"), "", 1, "C", false, 0, "")

	pdf.SetFont(g.fontName, "", 10)
	lines := []string{
		fmt.Sprintf("OC: %s", safeValue(oc.Number)),
		fmt.Sprintf("ID: %s", oc.ID),
		fmt.Sprintf("Estado: %s", oc.Status),
		fmt.Sprintf("Solicitante: %s", safeValue(oc.Requester)),
		fmt.Sprintf("Periodo presupuestal: %s a %s", oc.BudgetPeriodFrom, oc.BudgetPeriodTo),
		fmt.Sprintf("Emitido: %s", formatDateTime(statement.GeneratedAt)),
	}
	for _, line := range lines {
		pdf.MultiCell(0, 5, tr(line), "", "L", false)
	}
	pdf.Ln(4)

	pdf.SetFont(g.fontName, "B", 12)
	pdf.CellFormat(0, 8, tr("Saldo"), "", 1, "L", false, 0, "")
	balance := [][]string{
		{"Monto de la OC (sin IGV)", formatAmount(c.Total, c.Currency)},
		{"Consumido", formatAmount(c.Consumed, c.Currency)},
		{"Disponible", formatAmount(c.Available, c.Currency)},
		{"Documentos", fmt.Sprintf("%d", c.InvoiceCount)},
	}
	for _, row := range balance {
		drawTableRow(pdf, g.fontName, tr, row, []float64{90, 60}, false)
	}
	if c.OverConsumed() {
		pdf.SetTextColor(200, 0, 0)
		pdf.MultiCell(0, 6, tr("Atención: el consumo supera el monto comprometido por la OC."), "", "L", false)
		pdf.SetTextColor(0, 0, 0)
	}
	pdf.Ln(4)

	pdf.SetFont(g.fontName, "B", 12)
	pdf.CellFormat(0, 8, tr("Documentos imputados"), "", 1, "L", false, 0, "")
	widths := []float64{35, 30, 45, 40, 30}
	drawTableRow(pdf, g.fontName, tr, []string{"Número", "Tipo", "Estado", "Monto", "Registro"}, widths, true)
	for _, inv := range statement.Invoices {
		drawTableRow(pdf, g.fontName, tr, []string{
			safeValue(inv.Number),
			docTypeLabel(inv.DocType),
			string(inv.Status),
			formatAmount(inv.SignedAmount(), inv.Currency),
			formatDate(inv.CreatedAt),
		}, widths, false)
	}
	if len(statement.Invoices) == 0 {
		pdf.SetFont(g.fontName, "", 10)
		pdf.CellFormat(0, 8, tr("Sin documentos."), "", 1, "L", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func drawTableRow(pdf *gofpdf.Fpdf, fontName string, tr func(string) string, cols []string, widths []float64, header bool) {
	style := ""
	if header {
		style = "B"
	}
	pdf.SetFont(fontName, style, 10)
	for i, col := range cols {
		align := "L"
		if i > 0 && !header {
			align = "R"
		}
		pdf.CellFormat(widths[i], 8, tr(col), "1", 0, align, false, 0, "")
	}
	pdf.Ln(-1)
}

func docTypeLabel(docType model.DocType) string {
	if docType == model.DocTypeCreditNote {
		return "Nota de crédito"
	}
	return "Factura"
}

func safeValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func formatAmount(value decimal.Decimal, currency string) string {
	return value.StringFixed(2) + " " + currency
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("02/01/2006")
}

func formatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("02/01/2006 15:04")
}
