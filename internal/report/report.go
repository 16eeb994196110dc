// Package report composes the combined team report from presentation records, as an
// image PDF, a text-only PDF or an HTML page.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/smorand/team-slides-dashboard/internal/state"
)

// Sentinel errors for report building.
var (
	ErrUnknownFormat = errors.New("unknown report format")
	ErrBuild         = errors.New("failed to build report")
)

// Content types of report outputs.
const (
	ContentTypePDF  = "application/pdf"
	ContentTypeHTML = "text/html; charset=utf-8"
)

// ReportTitle is the heading of every report.
const ReportTitle = "Team Slides Combined Report"

// Format selects a report output mode.
type Format string

// Report formats.
const (
	FormatPDF  Format = "pdf"
	FormatText Format = "text"
	FormatHTML Format = "html"
)

// ParseFormat returns the Format named by s; empty selects FormatPDF.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatPDF, nil
	case FormatPDF, FormatText, FormatHTML:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// ImageFunc returns the encoded image of the slide at the 1-based index.
type ImageFunc func(ctx context.Context, presentationID string, index int) ([]byte, error)

// Stats are the aggregate figures shown in every report mode.
type Stats struct {
	Members       int      `json:"members"`
	MemberNames   []string `json:"member_names"`
	Presentations int      `json:"presentations"`
	TotalSlides   int      `json:"total_slides"`
}

// ComputeStats counts distinct uploaders, presentations and slides.
func ComputeStats(records []state.PresentationRecord) Stats {
	seen := make(map[string]struct{})
	stats := Stats{MemberNames: []string{}, Presentations: len(records)}
	for _, r := range records {
		if _, ok := seen[r.Uploader]; !ok {
			seen[r.Uploader] = struct{}{}
			stats.MemberNames = append(stats.MemberNames, r.Uploader)
		}
		stats.TotalSlides += r.SlideCount
	}
	sort.Strings(stats.MemberNames)
	stats.Members = len(stats.MemberNames)
	return stats
}

// Result is a built report.
type Result struct {
	Data         []byte
	ContentType  string
	FileName     string
	Stats        Stats
	FailedSlides int
	Pages        int
}

// Config holds configuration for the Builder.
type Config struct {
	// Workers bounds concurrent image fetches (default: 4).
	Workers int
	// RefreshInterval is the HTML auto-reload period (default: 30s, negative disables).
	RefreshInterval time.Duration
	// TempDir holds transient PDF files (default: os.TempDir()).
	TempDir string
	// DisableCompression writes uncompressed PDF streams.
	DisableCompression bool
	Now                func() time.Time
	Logger             *slog.Logger
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Workers:         4,
		RefreshInterval: 30 * time.Second,
		Now:             time.Now,
		Logger:          slog.Default(),
	}
}

// Builder builds reports.
type Builder struct {
	config   Config
	writePDF func(pdf *fpdf.Fpdf, path string) error
}

// New creates a Builder.
func New(config Config) *Builder {
	defaults := DefaultConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.RefreshInterval == 0 {
		config.RefreshInterval = defaults.RefreshInterval
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Builder{config: config, writePDF: (*fpdf.Fpdf).OutputFileAndClose}
}

// Build dispatches to the builder for format. images is only used by FormatPDF.
func (b *Builder) Build(ctx context.Context, format Format, records []state.PresentationRecord, images ImageFunc) (*Result, error) {
	switch format {
	case FormatPDF:
		return b.ImagePDF(ctx, records, images)
	case FormatText:
		return b.TextPDF(ctx, records)
	case FormatHTML:
		return b.HTML(records)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func (b *Builder) fileName(now time.Time, suffix string) string {
	return "team_slides_combined_" + now.Format("20060102_150405") + suffix
}

func generatedAt(now time.Time) string {
	return now.Format("January 02, 2006 15:04:05")
}

func titleOrUntitled(title string) string {
	if title == "" {
		return "Untitled"
	}
	return title
}

// newPDF applies the settings shared by both PDF modes.
func (b *Builder) newPDF(orientation, unit, size string, now time.Time) *fpdf.Fpdf {
	pdf := fpdf.New(orientation, unit, size, "")
	pdf.SetCompression(!b.config.DisableCompression)
	pdf.SetCreator("team-slides-dashboard", false)
	pdf.SetTitle(ReportTitle, false)
	pdf.SetCreationDate(now)
	pdf.SetModificationDate(now)
	return pdf
}

// finishPDF writes pdf through a temporary file that is removed on every exit path.
func (b *Builder) finishPDF(pdf *fpdf.Fpdf) ([]byte, int, error) {
	if err := pdf.Error(); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrBuild, err)
	}

	tmp, err := os.CreateTemp(b.config.TempDir, "team-slides-*.pdf")
	if err != nil {
		return nil, 0, fmt.Errorf("%w: failed to create temp file: %v", ErrBuild, err)
	}
	path := tmp.Name()
	defer os.Remove(path)
	if err := tmp.Close(); err != nil {
		return nil, 0, fmt.Errorf("%w: failed to close temp file: %v", ErrBuild, err)
	}

	if err := b.writePDF(pdf, path); err != nil {
		return nil, 0, fmt.Errorf("%w: failed to write pdf: %v", ErrBuild, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: failed to read pdf: %v", ErrBuild, err)
	}
	return data, CountPages(data), nil
}

var cp1252 = encoding.ReplaceUnsupported(charmap.Windows1252.NewEncoder())

// pdfText transcodes s for the core PDF fonts. Runes outside Windows-1252 become '?'.
func pdfText(s string) string {
	out, err := cp1252.String(s)
	if err != nil {
		return strings.Map(func(r rune) rune {
			if r > 0x7e {
				return '?'
			}
			return r
		}, s)
	}
	return strings.ReplaceAll(out, "\x1a", "?")
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// CountPages counts page objects in a PDF by looking for /Type /Page markers that are not
// the /Type /Pages tree root. It is a heuristic that holds for PDFs without object streams.
func CountPages(data []byte) int {
	count := 0
	for _, marker := range [][]byte{[]byte("/Type /Page"), []byte("/Type/Page")} {
		rest := data
		for {
			i := bytes.Index(rest, marker)
			if i < 0 {
				break
			}
			end := i + len(marker)
			if end < len(rest) && rest[end] != 's' {
				count++
			}
			rest = rest[end:]
		}
	}
	return count
}
