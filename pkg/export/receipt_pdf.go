package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// ReceiptLine is one printed row of a receipt.
type ReceiptLine struct {
	Description string
	Amount      string
}

// ReceiptDocument carries pre-formatted receipt values.
type ReceiptDocument struct {
	SchoolName       string
	ReceiptNumber    string
	CollectionDate   string
	StudentName      string
	StudentNumber    string
	CollectedBy      string
	PaymentMode      string
	ReferenceNumber  string
	Remarks          string
	Lines            []ReceiptLine
	Total            string
	BalanceNote      string
	Verified         bool
	VerificationCode string
}

// RenderReceipt lays out a single-page A5 receipt.
func (e *PDFExporter) RenderReceipt(doc ReceiptDocument) ([]byte, error) {
	if doc.ReceiptNumber == "" {
		return nil, fmt.Errorf("receipt number required")
	}
	pdf := gofpdf.New("P", "mm", "A5", "")
	pdf.SetMargins(10, 12, 10)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 13)
	pdf.CellFormat(0, 8, doc.SchoolName, "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 6, "Fee Receipt", "", 1, "C", false, 0, "")
	pdf.Ln(3)

	header := [][2]string{
		{"Receipt No.", doc.ReceiptNumber},
		{"Date", doc.CollectionDate},
		{"Student", fmt.Sprintf("%s (%s)", doc.StudentName, doc.StudentNumber)},
		{"Payment mode", doc.PaymentMode},
	}
	if doc.ReferenceNumber != "" {
		header = append(header, [2]string{"Reference", doc.ReferenceNumber})
	}
	header = append(header, [2]string{"Collected by", doc.CollectedBy})
	for _, row := range header {
		pdf.SetFont("Arial", "B", 9)
		pdf.CellFormat(32, 6, row[0], "", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 9)
		pdf.CellFormat(0, 6, row[1], "", 1, "", false, 0, "")
	}
	pdf.Ln(3)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(98, 7, "Description", "1", 0, "", false, 0, "")
	pdf.CellFormat(30, 7, "Amount", "1", 1, "R", false, 0, "")
	pdf.SetFont("Arial", "", 9)
	for _, line := range doc.Lines {
		pdf.CellFormat(98, 7, line.Description, "1", 0, "", false, 0, "")
		pdf.CellFormat(30, 7, line.Amount, "1", 1, "R", false, 0, "")
	}
	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(98, 7, "Total", "1", 0, "R", false, 0, "")
	pdf.CellFormat(30, 7, doc.Total, "1", 1, "R", false, 0, "")
	pdf.Ln(3)

	pdf.SetFont("Arial", "", 8)
	if doc.BalanceNote != "" {
		pdf.MultiCell(0, 5, doc.BalanceNote, "", "", false)
	}
	if doc.Remarks != "" {
		pdf.MultiCell(0, 5, "Remarks: "+doc.Remarks, "", "", false)
	}
	status := "Pending verification"
	if doc.Verified {
		status = "Verified"
	}
	pdf.CellFormat(0, 5, "Status: "+status, "", 1, "", false, 0, "")
	if doc.VerificationCode != "" {
		pdf.CellFormat(0, 5, "Verification code: "+doc.VerificationCode, "", 1, "", false, 0, "")
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render receipt pdf: %w", err)
	}
	return buf.Bytes(), nil
}
