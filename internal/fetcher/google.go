package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/api/slides/v1"

	"github.com/smorand/team-slides-dashboard/internal/cache"
	"github.com/smorand/team-slides-dashboard/internal/retry"
)

// ThumbnailSize is the Slides API thumbnail size used for report images.
const ThumbnailSize = "LARGE"

// maxImageBytes bounds a downloaded thumbnail.
const maxImageBytes = 20 << 20

// SlidesService abstracts the Google Slides API for testing.
type SlidesService interface {
	GetPresentation(ctx context.Context, presentationID string) (*slides.Presentation, error)
	GetThumbnail(ctx context.Context, presentationID, pageObjectID string) (*slides.Thumbnail, error)
}

// SlidesServiceFactory creates a Slides service from a token source.
type SlidesServiceFactory func(ctx context.Context, tokenSource oauth2.TokenSource) (SlidesService, error)

type realSlidesService struct {
	service *slides.Service
}

func (s *realSlidesService) GetPresentation(ctx context.Context, presentationID string) (*slides.Presentation, error) {
	return s.service.Presentations.Get(presentationID).
		Fields("presentationId,title,slides(objectId)").
		Context(ctx).
		Do()
}

func (s *realSlidesService) GetThumbnail(ctx context.Context, presentationID, pageObjectID string) (*slides.Thumbnail, error) {
	return s.service.Presentations.Pages.GetThumbnail(presentationID, pageObjectID).
		ThumbnailPropertiesThumbnailSize(ThumbnailSize).
		Context(ctx).
		Do()
}

// NewRealSlidesServiceFactory returns a factory that creates real Slides services.
func NewRealSlidesServiceFactory() SlidesServiceFactory {
	return func(ctx context.Context, tokenSource oauth2.TokenSource) (SlidesService, error) {
		service, err := slides.NewService(ctx, option.WithTokenSource(tokenSource))
		if err != nil {
			return nil, err
		}
		return &realSlidesService{service: service}, nil
	}
}

// GoogleConfig holds configuration for the Google fetcher.
type GoogleConfig struct {
	// MaxRetries bounds retries of transient failures (default: 3, negative disables).
	MaxRetries   int
	InitialDelay time.Duration
	// CacheTTL is how long metadata stays cached (default: 2m).
	CacheTTL        time.Duration
	CacheMaxEntries int
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// DefaultGoogleConfig returns default configuration.
func DefaultGoogleConfig() GoogleConfig {
	return GoogleConfig{
		MaxRetries:      3,
		InitialDelay:    500 * time.Millisecond,
		CacheTTL:        2 * time.Minute,
		CacheMaxEntries: 500,
		HTTPClient:      &http.Client{Timeout: 30 * time.Second},
		Logger:          slog.Default(),
	}
}

// Google implements Fetcher with the Slides API.
type Google struct {
	config   GoogleConfig
	factory  SlidesServiceFactory
	retryer  *retry.Retryer
	metadata *cache.LRU[Metadata]
	group    singleflight.Group
}

// NewGoogle creates a Google fetcher. A nil factory uses the real Slides API.
func NewGoogle(config GoogleConfig, factory SlidesServiceFactory) *Google {
	defaults := DefaultGoogleConfig()
	if config.CacheTTL <= 0 {
		config.CacheTTL = defaults.CacheTTL
	}
	if config.CacheMaxEntries <= 0 {
		config.CacheMaxEntries = defaults.CacheMaxEntries
	}
	if config.HTTPClient == nil {
		config.HTTPClient = defaults.HTTPClient
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if factory == nil {
		factory = NewRealSlidesServiceFactory()
	}

	return &Google{
		config:  config,
		factory: factory,
		retryer: retry.New(retry.Config{
			MaxRetries:   config.MaxRetries,
			InitialDelay: config.InitialDelay,
			Retryable:    IsTransient,
			Logger:       config.Logger,
		}),
		metadata: cache.New[Metadata](cache.Config{
			Name:       "presentation_metadata",
			MaxEntries: config.CacheMaxEntries,
			DefaultTTL: config.CacheTTL,
			Logger:     config.Logger,
		}),
	}
}

// GetMetadata returns the title and slide list of a presentation, served from cache when fresh.
// Entries are scoped to the caller's access token so one user's lookup is never served to
// another. Concurrent misses for the same key share a single API call.
func (g *Google) GetMetadata(ctx context.Context, presentationID string, ts oauth2.TokenSource) (Metadata, error) {
	if presentationID == "" {
		return Metadata{}, fmt.Errorf("%w: empty presentation id", ErrNotFound)
	}
	key, err := metadataKey(presentationID, ts)
	if err != nil {
		return Metadata{}, err
	}
	if md, ok := g.metadata.Get(key); ok {
		return md, nil
	}

	v, err, _ := g.group.Do(key, func() (any, error) {
		md, err := g.fetchMetadata(ctx, presentationID, ts)
		if err != nil {
			return nil, err
		}
		g.metadata.Set(key, md)
		return md, nil
	})
	if err != nil {
		return Metadata{}, err
	}
	return v.(Metadata), nil
}

func (g *Google) fetchMetadata(ctx context.Context, presentationID string, ts oauth2.TokenSource) (Metadata, error) {
	service, err := g.factory(ctx, ts)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: failed to create slides service: %w", ErrAuth, err)
	}

	md, err := retry.DoWithResult(ctx, g.retryer, func(ctx context.Context) (Metadata, error) {
		p, err := service.GetPresentation(ctx, presentationID)
		if err != nil {
			return Metadata{}, classify(err)
		}
		return toMetadata(presentationID, p), nil
	})
	if err != nil {
		g.config.Logger.Warn("failed to fetch presentation metadata",
			slog.String("presentation_id", presentationID),
			slog.Any("error", err),
		)
		return Metadata{}, unwrapRetry(err)
	}

	g.config.Logger.Debug("presentation metadata fetched",
		slog.String("presentation_id", presentationID),
		slog.Int("slide_count", md.SlideCount),
	)
	return md, nil
}

// metadataKey scopes a cache entry to presentationID and a digest of the caller's access token.
func metadataKey(presentationID string, ts oauth2.TokenSource) (string, error) {
	if ts == nil {
		return "", fmt.Errorf("%w: no token source", ErrAuth)
	}
	token, err := ts.Token()
	if err != nil {
		return "", fmt.Errorf("%w: failed to obtain access token: %w", ErrAuth, err)
	}
	sum := sha256.Sum256([]byte(token.AccessToken))
	return metadataKeyPrefix(presentationID) + hex.EncodeToString(sum[:8]), nil
}

func metadataKeyPrefix(presentationID string) string {
	return presentationID + "\x00"
}

// GetSlideImage downloads the thumbnail of the slide at the 1-based index.
func (g *Google) GetSlideImage(ctx context.Context, presentationID string, index int, ts oauth2.TokenSource) ([]byte, error) {
	md, err := g.GetMetadata(ctx, presentationID, ts)
	if err != nil {
		return nil, err
	}
	if index < 1 || index > len(md.SlideIDs) {
		return nil, fmt.Errorf("%w: slide %d out of range (1-%d)", ErrNotFound, index, len(md.SlideIDs))
	}
	pageID := md.SlideIDs[index-1]

	service, err := g.factory(ctx, ts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create slides service: %w", ErrAuth, err)
	}

	data, err := retry.DoWithResult(ctx, g.retryer, func(ctx context.Context) ([]byte, error) {
		thumbnail, err := service.GetThumbnail(ctx, presentationID, pageID)
		if err != nil {
			return nil, classify(err)
		}
		if thumbnail == nil || thumbnail.ContentUrl == "" {
			return nil, fmt.Errorf("%w: empty thumbnail for slide %d", ErrNotFound, index)
		}
		return g.download(ctx, thumbnail.ContentUrl)
	})
	if err != nil {
		g.config.Logger.Warn("failed to fetch slide image",
			slog.String("presentation_id", presentationID),
			slog.Int("slide_index", index),
			slog.Any("error", err),
		)
		return nil, unwrapRetry(err)
	}
	return data, nil
}

// Invalidate drops cached metadata for presentationID, for every caller.
func (g *Google) Invalidate(presentationID string) {
	g.metadata.DeletePrefix(metadataKeyPrefix(presentationID))
}

func (g *Google) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := g.config.HTTPClient.Do(req)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to fetch thumbnail: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read thumbnail: %w", ErrTransient, err)
	}
	return data, nil
}

func toMetadata(presentationID string, p *slides.Presentation) Metadata {
	md := Metadata{PresentationID: presentationID}
	if p == nil {
		return md
	}
	md.Title = p.Title
	md.SlideIDs = make([]string, 0, len(p.Slides))
	for _, s := range p.Slides {
		if s != nil {
			md.SlideIDs = append(md.SlideIDs, s.ObjectId)
		}
	}
	md.SlideCount = len(md.SlideIDs)
	return md
}

// unwrapRetry strips the retry wrapper so callers see the classified error chain.
func unwrapRetry(err error) error {
	var retryErr *retry.Error
	if errors.As(err, &retryErr) {
		return retryErr.Err
	}
	return err
}
