package integration

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/slides/v1"
)

// Environment variable names for integration tests.
const (
	EnvIntegrationTest    = "INTEGRATION_TEST"
	EnvGoogleClientID     = "GOOGLE_CLIENT_ID"
	EnvGoogleClientSecret = "GOOGLE_CLIENT_SECRET"
	EnvGoogleRefreshToken = "GOOGLE_REFRESH_TOKEN"
	EnvTestPresentationID = "TEST_PRESENTATION_ID"
)

// TestConfig holds configuration for integration tests.
type TestConfig struct {
	ClientID           string
	ClientSecret       string
	RefreshToken       string
	TestPresentationID string
}

// SkipIfNoIntegration skips the test if integration tests are not enabled.
func SkipIfNoIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv(EnvIntegrationTest) != "1" {
		t.Skip("Integration tests are disabled. Set INTEGRATION_TEST=1 to enable.")
	}
}

// LoadConfig loads test configuration from environment variables.
func LoadConfig(t *testing.T) *TestConfig {
	t.Helper()

	clientID := os.Getenv(EnvGoogleClientID)
	clientSecret := os.Getenv(EnvGoogleClientSecret)
	refreshToken := os.Getenv(EnvGoogleRefreshToken)

	if clientID == "" || clientSecret == "" || refreshToken == "" {
		t.Skipf("Missing required environment variables (%s, %s, %s)",
			EnvGoogleClientID, EnvGoogleClientSecret, EnvGoogleRefreshToken)
	}

	return &TestConfig{
		ClientID:           clientID,
		ClientSecret:       clientSecret,
		RefreshToken:       refreshToken,
		TestPresentationID: os.Getenv(EnvTestPresentationID),
	}
}

// Fixtures manages temporary presentations and their cleanup.
type Fixtures struct {
	t            *testing.T
	config       *TestConfig
	tokenSource  oauth2.TokenSource
	slidesClient *slides.Service
	driveClient  *drive.Service

	mu            sync.Mutex
	presentations []string
}

// NewFixtures creates a fixtures manager authorized with the test account.
func NewFixtures(t *testing.T, config *TestConfig) *Fixtures {
	t.Helper()

	oauthConfig := &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes: []string{
			"https://www.googleapis.com/auth/presentations",
			"https://www.googleapis.com/auth/drive.file",
		},
	}

	ctx := context.Background()
	f := &Fixtures{
		t:           t,
		config:      config,
		tokenSource: oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: config.RefreshToken}),
	}

	var err error
	f.slidesClient, err = slides.NewService(ctx, option.WithTokenSource(f.tokenSource))
	if err != nil {
		t.Fatalf("Failed to create Slides service: %v", err)
	}
	f.driveClient, err = drive.NewService(ctx, option.WithTokenSource(f.tokenSource))
	if err != nil {
		t.Fatalf("Failed to create Drive service: %v", err)
	}

	t.Cleanup(f.Cleanup)
	return f
}

// TokenSource returns the OAuth2 token source for testing.
func (f *Fixtures) TokenSource() oauth2.TokenSource {
	return f.tokenSource
}

// CreateTestPresentation creates a presentation with extraSlides blank slides after the
// title slide. It is deleted when the test completes.
func (f *Fixtures) CreateTestPresentation(title string, extraSlides int) *slides.Presentation {
	f.t.Helper()

	ctx, cancel := TestTimeout(f.t)
	defer cancel()

	created, err := f.slidesClient.Presentations.Create(&slides.Presentation{Title: title}).Context(ctx).Do()
	if err != nil {
		f.t.Fatalf("Failed to create test presentation: %v", err)
	}
	f.mu.Lock()
	f.presentations = append(f.presentations, created.PresentationId)
	f.mu.Unlock()

	for i := 0; i < extraSlides; i++ {
		f.AddSlide(created.PresentationId)
	}

	f.t.Logf("Created test presentation: %s (ID: %s)", title, created.PresentationId)
	return created
}

// AddSlide appends a blank slide and returns its object ID.
func (f *Fixtures) AddSlide(presentationID string) string {
	f.t.Helper()

	ctx, cancel := TestTimeout(f.t)
	defer cancel()

	req := &slides.BatchUpdatePresentationRequest{
		Requests: []*slides.Request{
			{
				CreateSlide: &slides.CreateSlideRequest{
					SlideLayoutReference: &slides.LayoutReference{PredefinedLayout: "BLANK"},
				},
			},
		},
	}

	resp, err := f.slidesClient.Presentations.BatchUpdate(presentationID, req).Context(ctx).Do()
	if err != nil {
		f.t.Fatalf("Failed to add slide: %v", err)
	}
	if len(resp.Replies) == 0 || resp.Replies[0].CreateSlide == nil {
		f.t.Fatal("No slide created in response")
	}
	return resp.Replies[0].CreateSlide.ObjectId
}

// Cleanup deletes every presentation created by the fixtures.
func (f *Fixtures) Cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, id := range f.presentations {
		if id == f.config.TestPresentationID {
			continue
		}
		if err := f.driveClient.Files.Delete(id).Context(ctx).Do(); err != nil {
			f.t.Logf("Warning: failed to delete test presentation %s: %v", id, err)
		} else {
			f.t.Logf("Deleted test presentation: %s", id)
		}
	}
	f.presentations = nil
}

// TestTimeout returns a context with a standard timeout for integration tests.
func TestTimeout(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 60*time.Second)
}
