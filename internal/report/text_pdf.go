package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/smorand/team-slides-dashboard/internal/state"
)

// Text PDF geometry, in points on US Letter, measured from the top-left corner.
const (
	textLeft           = 100.0
	textBoxWidth       = 400.0
	textBoxHeight      = 60.0
	textBoxStep        = 80.0
	textFirstBoxTop    = 220.0
	textContinuedTop   = 100.0
	textBottomLimit    = 100.0
	descriptionMaxRune = 100
)

// TextPlaceholder is printed inside every slide box of the text-only report.
const TextPlaceholder = "[Slide image would appear here with proper permissions]"

// TextPDF builds a US Letter report with a bordered placeholder box per slide. It never
// contacts the remote service.
func (b *Builder) TextPDF(ctx context.Context, records []state.PresentationRecord) (*Result, error) {
	start := time.Now()
	now := b.config.Now()
	stats := ComputeStats(records)

	pdf := b.newPDF("P", "pt", "Letter", now)
	pdf.SetAutoPageBreak(false, 0)
	pageWidth, pageHeight := pdf.GetPageSize()

	// title page
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 24)
	centered(pdf, pageWidth, 100, pdfText(ReportTitle))
	pdf.SetFont("Helvetica", "", 14)
	centered(pdf, pageWidth, 140, generatedAt(now))

	pdf.SetFont("Helvetica", "", 12)
	pdf.Text(textLeft, 200, fmt.Sprintf("Team Members: %d", stats.Members))
	pdf.Text(textLeft, 220, fmt.Sprintf("Total Presentations: %d", stats.Presentations))
	pdf.Text(textLeft, 240, fmt.Sprintf("Total Slides: %d", stats.TotalSlides))
	if stats.Members > 0 {
		pdf.Text(textLeft, 260, pdfText("Members: "+strings.Join(stats.MemberNames, ", ")))
	}

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pdf.AddPage()
		title := titleOrUntitled(rec.Title)

		pdf.SetFont("Helvetica", "B", 18)
		pdf.Text(textLeft, 100, pdfText(fmt.Sprintf("Presentation %d: %s", i+1, title)))

		pdf.SetFont("Helvetica", "", 12)
		pdf.Text(textLeft, 130, pdfText("Uploader: "+rec.Uploader))
		pdf.Text(textLeft, 150, fmt.Sprintf("Slides: %d", rec.SlideCount))
		pdf.Text(textLeft, 170, "Uploaded: "+rec.UploadDate.Date())
		if rec.Description != "" {
			pdf.Text(textLeft, 190, pdfText("Description: "+truncate(rec.Description, descriptionMaxRune)))
		}

		top := textFirstBoxTop
		pdf.SetFont("Helvetica", "", 10)
		for s := 0; s < rec.SlideCount; s++ {
			if top > pageHeight-textBottomLimit {
				pdf.AddPage()
				pdf.SetFont("Helvetica", "", 10)
				top = textContinuedTop
			}
			pdf.Rect(textLeft, top, textBoxWidth, textBoxHeight, "D")
			pdf.Text(textLeft+10, top+20, pdfText(fmt.Sprintf("Slide %d - %s", s+1, title)))
			pdf.Text(textLeft+10, top+35, TextPlaceholder)
			top += textBoxStep
		}
	}

	data, pages, err := b.finishPDF(pdf)
	if err != nil {
		return nil, err
	}

	b.config.Logger.Info("text report built",
		slog.Int("presentations", stats.Presentations),
		slog.Int("total_slides", stats.TotalSlides),
		slog.Int("pages", pages),
		slog.Duration("duration", time.Since(start)),
	)

	return &Result{
		Data:        data,
		ContentType: ContentTypePDF,
		FileName:    b.fileName(now, "_text.pdf"),
		Stats:       stats,
		Pages:       pages,
	}, nil
}

func centered(pdf *fpdf.Fpdf, pageWidth, y float64, text string) {
	pdf.Text((pageWidth-pdf.GetStringWidth(text))/2, y, text)
}
