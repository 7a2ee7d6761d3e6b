package report

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"example.com/u3vlog/internal/analyzer"
)

// PDFOptions carries optional content for the run report. ResultDigest is
// the SHA-256 of the result text file and is printed with its QR code.
type PDFOptions struct {
	ResultDigest string
	MaxFindings  int
}

// SaveAcceptancePDF renders the acceptance report into a PDF document.
func SaveAcceptancePDF(rep analyzer.AcceptanceReport, out string, opts PDFOptions) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("U3V Capture Analysis", false)
	pdf.SetAuthor("u3vctl", false)
	pdf.SetCreator("u3vctl", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	addPDFTitle(pdf, "U3V Capture Analysis")
	addSummarySection(pdf, rep)
	if err := addDigestSection(pdf, opts.ResultDigest); err != nil {
		return err
	}
	addFramesSection(pdf, rep.Frames)
	addFindingsSection(pdf, rep.Findings, opts.MaxFindings)

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.OutputFileAndClose(out)
}

func addPDFTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)
}

func addSummarySection(pdf *gofpdf.Fpdf, rep analyzer.AcceptanceReport) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Summary")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 11)
	s := rep.Stats
	items := []struct {
		label string
		value string
	}{
		{label: "Input", value: emptyFallback(rep.Summary.Input, "-")},
		{label: "Modules", value: strconv.Itoa(s.Modules)},
		{label: "Control Packets", value: strconv.Itoa(s.ControlPackets)},
		{label: "Frames", value: fmt.Sprintf("%d (%d complete, %d incomplete)", s.Frames, s.FramesComplete, s.FramesIncomplete)},
		{label: "Endpoints", value: emptyFallback(strings.Join(s.Endpoints, ", "), "-")},
		{label: "Errors", value: strconv.Itoa(rep.Summary.Errors)},
		{label: "Warnings", value: strconv.Itoa(rep.Summary.Warnings)},
		{label: "Overall", value: passLabel(rep.Summary.Pass)},
	}
	for _, item := range items {
		pdf.CellFormat(50, 6, item.label, "", 0, "L", false, 0, "")
		pdf.MultiCell(0, 6, item.value, "", "L", false)
	}
	pdf.Ln(4)
}

func addDigestSection(pdf *gofpdf.Fpdf, digest string) error {
	if strings.TrimSpace(digest) == "" {
		return nil
	}
	png, err := DigestToQR(digest, 256)
	if err != nil {
		return err
	}
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Result Digest")
	pdf.Ln(8)
	pdf.SetFont("Courier", "", 9)
	pdf.MultiCell(0, 5, "SHA-256 "+digest, "", "L", false)

	opt := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("result-digest", opt, bytes.NewReader(png))
	x, y := pdf.GetX(), pdf.GetY()
	pdf.ImageOptions("result-digest", x, y, 30, 30, false, opt, 0, "")
	pdf.SetXY(x, y+32)
	return nil
}

func addFramesSection(pdf *gofpdf.Fpdf, frames []analyzer.FrameRecord) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Frames")
	pdf.Ln(9)

	if len(frames) == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, "No image frames in capture.", "", "L", false)
		pdf.Ln(4)
		return
	}

	headers := []string{"Endpoint", "Block", "Size", "Bytes", "Expected", "Status", "File"}
	widths := []float64{20, 18, 22, 20, 20, 22, 58}

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for _, f := range frames {
		expected := "-"
		if f.Expected != 0 || f.Complete {
			expected = strconv.FormatUint(f.Expected, 10)
		}
		status := "OK"
		if !f.Complete {
			status = emptyFallback(f.Reason, "incomplete")
		}
		values := []string{
			f.Endpoint,
			fmt.Sprintf("0x%x", f.BlockID),
			fmt.Sprintf("%dx%d", f.SizeX, f.SizeY),
			strconv.FormatUint(f.Bytes, 10),
			expected,
			status,
			f.Path,
		}
		renderTableRow(pdf, widths, values, 5)
	}
	pdf.Ln(4)
}

func addFindingsSection(pdf *gofpdf.Fpdf, findings []analyzer.Diagnostic, limit int) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Findings")
	pdf.Ln(9)

	var shown []analyzer.Diagnostic
	for _, d := range findings {
		if d.Severity != analyzer.INFO {
			shown = append(shown, d)
		}
	}
	if len(shown) == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, "No findings recorded.", "", "L", false)
		return
	}
	omitted := 0
	if limit > 0 && len(shown) > limit {
		omitted = len(shown) - limit
		shown = shown[:limit]
	}

	for i, d := range shown {
		pdf.SetFont("Helvetica", "B", 10)
		header := fmt.Sprintf("%d. %s (%s)", i+1, d.Kind, severityLabel(d.Severity))
		pdf.MultiCell(0, 5, header, "", "L", false)

		if msg := strings.TrimSpace(d.Message); msg != "" {
			pdf.SetFont("Helvetica", "", 10)
			pdf.MultiCell(0, 5, msg, "", "L", false)
		}
		if meta := findingMetadata(d); meta != "" {
			pdf.SetFont("Helvetica", "", 9)
			pdf.MultiCell(0, 4, meta, "", "L", false)
		}
		pdf.Ln(2)
	}
	if omitted > 0 {
		pdf.SetFont("Helvetica", "I", 9)
		pdf.MultiCell(0, 5, fmt.Sprintf("%d further findings omitted.", omitted), "", "L", false)
	}
}

func renderTableRow(pdf *gofpdf.Fpdf, widths []float64, values []string, lineHeight float64) {
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	splitCols := make([][]string, len(values))
	for i, val := range values {
		text := strings.TrimSpace(val)
		if text == "" {
			text = "-"
		}
		lines := pdf.SplitText(text, widths[i]-2)
		if len(lines) == 0 {
			lines = []string{""}
		}
		splitCols[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	rowHeight := float64(maxLines) * lineHeight
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		pdf.MultiCell(widths[i], lineHeight, strings.Join(lines, "\n"), "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+rowHeight)
}

func passLabel(pass bool) string {
	if pass {
		return "PASS"
	}
	return "FAIL"
}

func severityLabel(sev analyzer.Severity) string {
	if s := strings.TrimSpace(string(sev)); s != "" {
		return s
	}
	return "UNKNOWN"
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}

func findingMetadata(d analyzer.Diagnostic) string {
	parts := make([]string, 0, 5)
	if !d.Ts.IsZero() {
		parts = append(parts, d.Ts.Format(time.RFC3339))
	}
	if d.Endpoint != "" {
		parts = append(parts, "Endpoint "+d.Endpoint)
	}
	if d.Module != 0 {
		parts = append(parts, fmt.Sprintf("Module %d", d.Module))
	}
	if d.Line != 0 {
		parts = append(parts, fmt.Sprintf("Line %d", d.Line))
	}
	if d.BlockID != nil {
		parts = append(parts, fmt.Sprintf("Block 0x%x", *d.BlockID))
	}
	return strings.Join(parts, " - ")
}
