// Package fetcher retrieves presentation metadata and slide images from Google Slides.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// Sentinel errors for fetcher operations.
var (
	ErrNotFound  = errors.New("presentation or slide not found")
	ErrAuth      = errors.New("not authorized to access presentation")
	ErrTransient = errors.New("transient remote failure")
)

// Metadata describes a remote presentation.
type Metadata struct {
	PresentationID string
	Title          string
	SlideCount     int
	SlideIDs       []string
}

// Fetcher reads presentations on behalf of the owner of a token source.
type Fetcher interface {
	GetMetadata(ctx context.Context, presentationID string, ts oauth2.TokenSource) (Metadata, error)
	// GetSlideImage returns the encoded image of the slide at the 1-based index.
	GetSlideImage(ctx context.Context, presentationID string, index int, ts oauth2.TokenSource) ([]byte, error)
	// Invalidate drops any cached metadata for presentationID.
	Invalidate(presentationID string)
}

// classify maps a Google API or transport error onto the fetcher sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAuth) || errors.Is(err, ErrTransient) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.Code, err)
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}

	// anything else failed before an HTTP status was received
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

func classifyStatus(code int, err error) error {
	switch {
	case code == http.StatusNotFound, code == http.StatusBadRequest:
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrAuth, err)
	case code == http.StatusTooManyRequests, code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %w", ErrTransient, err)
	default:
		return err
	}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// ParsePresentationID accepts a bare presentation ID or a Google Slides URL such as
// https://docs.google.com/presentation/d/<id>/edit and returns the ID.
func ParsePresentationID(input string) string {
	input = strings.TrimSpace(input)
	const marker = "/presentation/d/"
	i := strings.Index(input, marker)
	if i < 0 {
		return input
	}
	id := input[i+len(marker):]
	if end := strings.IndexAny(id, "/?#"); end >= 0 {
		id = id[:end]
	}
	return id
}
