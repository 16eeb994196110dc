package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"golang.org/x/sync/errgroup"

	"github.com/smorand/team-slides-dashboard/internal/state"
)

// Image PDF geometry, in millimetres on A4.
const (
	imageMargin      = 12.7
	imageSlideWidth  = 180.0
	imageSlideHeight = 101.25
	imageLineHeight  = 6.0
)

var fpdfImageTypes = map[string]string{
	"png":  "PNG",
	"jpeg": "JPG",
	"gif":  "GIF",
}

var errNoImageSource = errors.New("no image source")

type slideImage struct {
	data []byte
	err  error
}

// ImagePDF builds an A4 report that embeds one image per slide. A slide whose image cannot be
// fetched or decoded is replaced by a text placeholder and counted in Result.FailedSlides.
func (b *Builder) ImagePDF(ctx context.Context, records []state.PresentationRecord, images ImageFunc) (*Result, error) {
	start := time.Now()
	now := b.config.Now()
	stats := ComputeStats(records)

	fetched := b.fetchImages(ctx, records, images)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pdf := b.newPDF("P", "mm", "A4", now)
	pdf.SetMargins(imageMargin, imageMargin, imageMargin)
	pdf.SetAutoPageBreak(true, imageMargin)

	b.imageTitlePage(pdf, now, stats)

	failed := 0
	for i, rec := range records {
		pdf.AddPage()
		imagePresentationHeader(pdf, i, rec)

		for s := 0; s < rec.SlideCount; s++ {
			if !b.placeSlide(pdf, i, s, fetched[i][s]) {
				failed++
			}
		}
	}

	data, pages, err := b.finishPDF(pdf)
	if err != nil {
		return nil, err
	}

	b.config.Logger.Info("image report built",
		slog.Int("presentations", stats.Presentations),
		slog.Int("total_slides", stats.TotalSlides),
		slog.Int("failed_slides", failed),
		slog.Int("pages", pages),
		slog.Duration("duration", time.Since(start)),
	)

	return &Result{
		Data:         data,
		ContentType:  ContentTypePDF,
		FileName:     b.fileName(now, ".pdf"),
		Stats:        stats,
		FailedSlides: failed,
		Pages:        pages,
	}, nil
}

// fetchImages downloads every slide image with a bounded pool. Results are indexed by
// presentation and slide so completion order does not affect document order.
func (b *Builder) fetchImages(ctx context.Context, records []state.PresentationRecord, images ImageFunc) [][]slideImage {
	results := make([][]slideImage, len(records))
	for i, rec := range records {
		results[i] = make([]slideImage, max(rec.SlideCount, 0))
	}
	if images == nil {
		for i := range results {
			for s := range results[i] {
				results[i][s].err = errNoImageSource
			}
		}
		return results
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.config.Workers)
	for i, rec := range records {
		for s := range results[i] {
			presentationID := rec.PresentationID
			g.Go(func() error {
				data, err := images(gctx, presentationID, s+1)
				results[i][s] = slideImage{data: data, err: err}
				if err != nil {
					b.config.Logger.Debug("slide image unavailable",
						slog.String("presentation_id", presentationID),
						slog.Int("slide_index", s+1),
						slog.Any("error", err),
					)
				}
				// per-slide failures become placeholders, never abort the group
				return nil
			})
		}
	}
	_ = g.Wait()
	return results
}

func (b *Builder) imageTitlePage(pdf *fpdf.Fpdf, now time.Time, stats Stats) {
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 24)
	pdf.SetTextColor(44, 62, 80)
	pdf.CellFormat(0, 14, pdfText(ReportTitle), "", 1, "C", false, 0, "")
	pdf.Ln(5)

	pdf.SetFont("Helvetica", "", 14)
	pdf.SetTextColor(127, 140, 141)
	pdf.CellFormat(0, 8, pdfText("Generated: "+generatedAt(now)), "", 1, "C", false, 0, "")
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "", 11)
	pdf.SetTextColor(0, 0, 0)
	lines := []string{
		fmt.Sprintf("Team Members: %d", stats.Members),
		fmt.Sprintf("Total Presentations: %d", stats.Presentations),
		fmt.Sprintf("Total Slides: %d", stats.TotalSlides),
	}
	if stats.Members > 0 {
		lines = append(lines, "Members: "+strings.Join(stats.MemberNames, ", "))
	}
	for _, line := range lines {
		pdf.MultiCell(0, imageLineHeight, pdfText(line), "", "L", false)
	}
}

func imagePresentationHeader(pdf *fpdf.Fpdf, i int, rec state.PresentationRecord) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.SetTextColor(52, 152, 219)
	pdf.MultiCell(0, 9, pdfText(fmt.Sprintf("Presentation %d: %s", i+1, titleOrUntitled(rec.Title))), "", "L", false)
	pdf.Ln(3)

	pdf.SetFont("Helvetica", "", 11)
	pdf.SetTextColor(0, 0, 0)
	pdf.MultiCell(0, imageLineHeight, pdfText("Uploader: "+rec.Uploader), "", "L", false)
	pdf.MultiCell(0, imageLineHeight, fmt.Sprintf("Slides: %d", rec.SlideCount), "", "L", false)
	pdf.MultiCell(0, imageLineHeight, "Uploaded: "+rec.UploadDate.Date(), "", "L", false)
	if rec.Description != "" {
		pdf.MultiCell(0, imageLineHeight, pdfText("Description: "+rec.Description), "", "L", false)
	}
	pdf.Ln(5)
}

// placeSlide embeds one slide image with its caption, or a placeholder. It reports success.
func (b *Builder) placeSlide(pdf *fpdf.Fpdf, presentation, slide int, img slideImage) bool {
	n := slide + 1
	if img.err != nil || len(img.data) == 0 {
		placeholder(pdf, fmt.Sprintf("[Slide %d - Image unavailable]", n))
		return false
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(img.data))
	imageType, supported := fpdfImageTypes[format]
	if err != nil || !supported {
		placeholder(pdf, fmt.Sprintf("[Slide %d image could not be loaded]", n))
		return false
	}

	name := fmt.Sprintf("p%d-s%d", presentation, n)
	options := fpdf.ImageOptions{ImageType: imageType}
	pdf.RegisterImageOptionsReader(name, options, bytes.NewReader(img.data))
	if pdf.Err() {
		b.config.Logger.Debug("slide image rejected by pdf encoder",
			slog.Int("slide_index", n),
			slog.Any("error", pdf.Error()),
		)
		pdf.ClearError()
		placeholder(pdf, fmt.Sprintf("[Slide %d image could not be loaded]", n))
		return false
	}

	_, pageHeight := pdf.GetPageSize()
	if pdf.GetY()+imageSlideHeight+imageLineHeight+2 > pageHeight-imageMargin {
		pdf.AddPage()
	}
	pageWidth, _ := pdf.GetPageSize()
	x := (pageWidth - imageSlideWidth) / 2
	y := pdf.GetY()
	pdf.ImageOptions(name, x, y, imageSlideWidth, imageSlideHeight, false, options, 0, "")
	pdf.SetY(y + imageSlideHeight + 2)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, imageLineHeight, fmt.Sprintf("Slide %d", n), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.Ln(4)
	return true
}

func placeholder(pdf *fpdf.Fpdf, text string) {
	pdf.SetFont("Helvetica", "I", 11)
	pdf.SetTextColor(127, 140, 141)
	pdf.MultiCell(0, imageLineHeight, text, "", "L", false)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 11)
	pdf.Ln(2)
}

