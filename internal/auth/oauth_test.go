package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type ctxUserKey struct{}

func withUser(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, ctxUserKey{}, username)
}

func userFromContext(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(ctxUserKey{}).(string)
	return username, ok && username != ""
}

// newTokenServer serves a fixed token response and records the posted form.
func newTokenServer(t *testing.T, status int, refreshToken string) (*httptest.Server, *url.Values) {
	t.Helper()
	var form url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse token request: %v", err)
		}
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		body := map[string]any{
			"access_token": "access-" + r.PostForm.Get("grant_type"),
			"token_type":   "Bearer",
			"expires_in":   3600,
		}
		if refreshToken != "" {
			body["refresh_token"] = refreshToken
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(server.Close)
	return server, &form
}

func testOAuthConfig(tokenURL string) OAuthConfig {
	return OAuthConfig{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		RedirectURI:  "http://localhost:8080/auth/google/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://accounts.example.com/auth",
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func newTestHandler(t *testing.T, tokenURL string) (*OAuthHandler, *StateSigner) {
	t.Helper()
	signer, err := NewStateSigner([]byte("state-key"), 0)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	return NewOAuthHandler(testOAuthConfig(tokenURL), signer, userFromContext, testLogger()), signer
}

func TestOAuthConfig_Defaults(t *testing.T) {
	config := OAuthConfig{ClientID: "id", ClientSecret: "secret", RedirectURI: "http://localhost/cb"}
	oc := config.OAuth2()

	if len(oc.Scopes) != len(DefaultScopes) {
		t.Fatalf("expected %d scopes, got %d", len(DefaultScopes), len(oc.Scopes))
	}
	for _, scope := range oc.Scopes {
		if !strings.HasSuffix(scope, ".readonly") {
			t.Errorf("expected read-only scope, got %s", scope)
		}
	}
	if !strings.Contains(oc.Endpoint.TokenURL, "google") {
		t.Errorf("expected google token endpoint, got %s", oc.Endpoint.TokenURL)
	}
	if !config.Enabled() {
		t.Error("expected config to be enabled")
	}
	if (OAuthConfig{ClientID: "id"}).Enabled() {
		t.Error("expected config without secret to be disabled")
	}
}

func TestHandleConnect_ReturnsAuthorizationURL(t *testing.T) {
	handler, signer := newTestHandler(t, "http://unused")

	req := httptest.NewRequest(http.MethodGet, "/auth/google", nil)
	req = req.WithContext(withUser(req.Context(), "alice"))
	rec := httptest.NewRecorder()

	handler.HandleConnect(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	parsedURL, err := url.Parse(response["authorization_url"])
	if err != nil {
		t.Fatalf("failed to parse authorization URL: %v", err)
	}

	query := parsedURL.Query()
	if parsedURL.Host != "accounts.example.com" {
		t.Errorf("expected host accounts.example.com, got %s", parsedURL.Host)
	}
	if query.Get("client_id") != "test-client-id" {
		t.Errorf("unexpected client_id %s", query.Get("client_id"))
	}
	if query.Get("access_type") != "offline" {
		t.Errorf("expected access_type offline, got %s", query.Get("access_type"))
	}
	if query.Get("prompt") != "consent" {
		t.Errorf("expected prompt consent, got %s", query.Get("prompt"))
	}

	username, err := signer.Verify(query.Get("state"))
	if err != nil {
		t.Fatalf("state did not verify: %v", err)
	}
	if username != "alice" {
		t.Errorf("expected state bound to alice, got %s", username)
	}
}

func TestHandleConnect_RequiresUser(t *testing.T) {
	handler, _ := newTestHandler(t, "http://unused")

	rec := httptest.NewRecorder()
	handler.HandleConnect(rec, httptest.NewRequest(http.MethodGet, "/auth/google", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestHandleConnect_MethodNotAllowed(t *testing.T) {
	handler, _ := newTestHandler(t, "http://unused")

	rec := httptest.NewRecorder()
	handler.HandleConnect(rec, httptest.NewRequest(http.MethodPost, "/auth/google", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}

func TestHandleCallback_Success(t *testing.T) {
	server, form := newTokenServer(t, http.StatusOK, "refresh-1")
	handler, signer := newTestHandler(t, server.URL)

	var gotUser string
	var gotToken *oauth2.Token
	handler.SetOnTokenFunc(func(ctx context.Context, username string, token *oauth2.Token) error {
		gotUser = username
		gotToken = token
		return nil
	})

	state, err := signer.Issue("alice")
	if err != nil {
		t.Fatalf("failed to issue state: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=the-code&state="+url.QueryEscape(state), nil)
	rec := httptest.NewRecorder()
	handler.HandleCallback(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	if form.Get("code") != "the-code" {
		t.Errorf("expected code to be exchanged, got %q", form.Get("code"))
	}
	if gotUser != "alice" {
		t.Errorf("expected token for alice, got %q", gotUser)
	}
	if gotToken == nil || gotToken.RefreshToken != "refresh-1" {
		t.Errorf("expected refresh token to reach the callback, got %+v", gotToken)
	}

	var response map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response["has_refresh_token"] != true {
		t.Errorf("expected has_refresh_token in response, got %v", response)
	}
	if _, leaked := response["refresh_token"]; leaked {
		t.Error("refresh token must not be returned")
	}
}

func TestHandleCallback_Errors(t *testing.T) {
	server, _ := newTokenServer(t, http.StatusBadRequest, "")
	handler, signer := newTestHandler(t, server.URL)

	otherSigner, _ := NewStateSigner([]byte("another-key"), 0)
	forged, _ := otherSigner.Issue("mallory")
	valid, _ := signer.Issue("alice")

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{name: "provider error", query: "error=access_denied&error_description=denied", status: http.StatusBadRequest},
		{name: "missing state", query: "code=abc", status: http.StatusBadRequest},
		{name: "forged state", query: "code=abc&state=" + url.QueryEscape(forged), status: http.StatusBadRequest},
		{name: "garbage state", query: "code=abc&state=not-a-jwt", status: http.StatusBadRequest},
		{name: "missing code", query: "state=" + url.QueryEscape(valid), status: http.StatusBadRequest},
		{name: "exchange failure", query: "code=abc&state=" + url.QueryEscape(valid), status: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.HandleCallback(rec, httptest.NewRequest(http.MethodGet, "/auth/google/callback?"+tt.query, nil))
			if rec.Code != tt.status {
				t.Errorf("expected status %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandleCallback_CallbackFailure(t *testing.T) {
	server, _ := newTokenServer(t, http.StatusOK, "refresh-1")
	handler, signer := newTestHandler(t, server.URL)
	handler.SetOnTokenFunc(func(ctx context.Context, username string, token *oauth2.Token) error {
		return errors.New("store down")
	})

	state, _ := signer.Issue("alice")
	rec := httptest.NewRecorder()
	handler.HandleCallback(rec, httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=abc&state="+url.QueryEscape(state), nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, rec.Code)
	}
}
