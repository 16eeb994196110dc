// Package integration holds end-to-end tests that exercise the Google fetcher and the
// per-user credential flow against the real Slides API.
//
// The tests are skipped unless INTEGRATION_TEST is set:
//
//	INTEGRATION_TEST=1 go test -v ./internal/integration/...
//
// # Required Environment Variables
//
//   - INTEGRATION_TEST: Set to "1" to enable integration tests
//   - GOOGLE_CLIENT_ID: OAuth2 client ID
//   - GOOGLE_CLIENT_SECRET: OAuth2 client secret
//   - GOOGLE_REFRESH_TOKEN: Refresh token of a test account
//   - TEST_PRESENTATION_ID: (Optional) Existing presentation used instead of a temporary one
//
// Presentations created by a test are deleted through the Drive API when it completes.
package integration
