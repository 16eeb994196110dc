package report

import (
	"bytes"
	"fmt"
	"html/template"
	"log/slog"

	"github.com/smorand/team-slides-dashboard/internal/state"
)

// EmbedURL returns the live viewer URL of a slide; slide is 0-based.
func EmbedURL(presentationID string, slide int) string {
	return fmt.Sprintf("https://docs.google.com/presentation/d/%s/embed?start=false&loop=false&delayms=3000&slide=id.p%d",
		presentationID, slide)
}

type htmlSlide struct {
	Number   int
	EmbedURL string
}

type htmlPresentation struct {
	Number      int
	Title       string
	Uploader    string
	SlideCount  int
	Uploaded    string
	Description string
	Slides      []htmlSlide
}

type htmlPage struct {
	Title         string
	Generated     string
	Stats         Stats
	Presentations []htmlPresentation
	RefreshMillis int64
}

var htmlTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: Arial, sans-serif; margin: 40px; background-color: #f5f5f5; }
.header { background-color: #2C3E50; color: white; padding: 30px; border-radius: 10px; margin-bottom: 30px; }
.header h1 { color: white; }
.presentation { background-color: white; border-radius: 10px; padding: 20px; margin-bottom: 30px; box-shadow: 0 2px 10px rgba(0,0,0,0.1); }
.slide-container { margin: 20px 0; border: 1px solid #ddd; border-radius: 5px; padding: 10px; background-color: #fafafa; }
.slide-info { text-align: center; margin-top: 10px; color: #666; font-size: 14px; }
.stats { display: flex; justify-content: space-around; background-color: #3498DB; color: white; padding: 15px; border-radius: 5px; margin: 20px 0; }
.stat-item { text-align: center; }
.stat-item h3 { color: white; }
h1, h2, h3 { color: #2C3E50; }
</style>
</head>
<body>
<div class="header">
<h1>{{.Title}}</h1>
<p>Generated: {{.Generated}}</p>
</div>
<div class="stats">
<div class="stat-item"><h3>Team Members</h3><p id="stat-members">{{.Stats.Members}}</p></div>
<div class="stat-item"><h3>Presentations</h3><p id="stat-presentations">{{.Stats.Presentations}}</p></div>
<div class="stat-item"><h3>Total Slides</h3><p id="stat-slides">{{.Stats.TotalSlides}}</p></div>
</div>
{{- range .Presentations}}
{{- $p := .}}
<div class="presentation">
<h2>Presentation {{.Number}}: {{.Title}}</h2>
<p><strong>Uploader:</strong> {{.Uploader}} | <strong>Slides:</strong> {{.SlideCount}} | <strong>Uploaded:</strong> {{.Uploaded}}</p>
{{- if .Description}}
<p><strong>Description:</strong> {{.Description}}</p>
{{- end}}
{{- range .Slides}}
<div class="slide-container">
<h3>Slide {{.Number}}</h3>
<iframe src="{{.EmbedURL}}" width="100%" height="500" frameborder="0" allowfullscreen="true"></iframe>
<div class="slide-info">{{$p.Title}} - Slide {{.Number}} | Uploader: {{$p.Uploader}}</div>
</div>
{{- end}}
</div>
{{- end}}
{{- if gt .RefreshMillis 0}}
<script>
setTimeout(function() { location.reload(); }, {{.RefreshMillis}});
</script>
{{- end}}
</body>
</html>
`))

// HTML builds a self-refreshing page that embeds the live viewer of every slide.
func (b *Builder) HTML(records []state.PresentationRecord) (*Result, error) {
	now := b.config.Now()
	stats := ComputeStats(records)

	page := htmlPage{
		Title:         ReportTitle,
		Generated:     generatedAt(now),
		Stats:         stats,
		Presentations: make([]htmlPresentation, 0, len(records)),
	}
	if b.config.RefreshInterval > 0 {
		page.RefreshMillis = b.config.RefreshInterval.Milliseconds()
	}

	for i, rec := range records {
		p := htmlPresentation{
			Number:      i + 1,
			Title:       titleOrUntitled(rec.Title),
			Uploader:    rec.Uploader,
			SlideCount:  rec.SlideCount,
			Uploaded:    rec.UploadDate.Date(),
			Description: rec.Description,
		}
		for s := 0; s < rec.SlideCount; s++ {
			p.Slides = append(p.Slides, htmlSlide{Number: s + 1, EmbedURL: EmbedURL(rec.PresentationID, s)})
		}
		page.Presentations = append(page.Presentations, p)
	}

	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, page); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuild, err)
	}

	b.config.Logger.Info("html report built",
		slog.Int("presentations", stats.Presentations),
		slog.Int("total_slides", stats.TotalSlides),
	)

	return &Result{
		Data:        buf.Bytes(),
		ContentType: ContentTypeHTML,
		FileName:    b.fileName(now, ".html"),
		Stats:       stats,
	}, nil
}
