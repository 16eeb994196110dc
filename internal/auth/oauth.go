package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// DefaultScopes are the read-only scopes needed to read presentation metadata and slide images.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/presentations.readonly",
	"https://www.googleapis.com/auth/drive.readonly",
}

// OAuthConfig holds OAuth2 configuration.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	// Endpoint overrides the Google endpoint, mainly for tests.
	Endpoint oauth2.Endpoint
}

// Enabled reports whether client credentials are configured.
func (c OAuthConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// OAuth2 builds the oauth2.Config for c.
func (c OAuthConfig) OAuth2() *oauth2.Config {
	scopes := c.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	endpoint := c.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURI,
		Scopes:       scopes,
		Endpoint:     endpoint,
	}
}

// TokenFunc receives the token obtained for a dashboard user.
type TokenFunc func(ctx context.Context, username string, token *oauth2.Token) error

// UsernameFunc resolves the signed-in dashboard user of a request.
type UsernameFunc func(ctx context.Context) (string, bool)

// OAuthHandler handles the per-user Google connect flow.
type OAuthHandler struct {
	config   *oauth2.Config
	states   *StateSigner
	username UsernameFunc
	logger   *slog.Logger
	onToken  TokenFunc
}

// NewOAuthHandler creates a new OAuth handler.
func NewOAuthHandler(config OAuthConfig, states *StateSigner, username UsernameFunc, logger *slog.Logger) *OAuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OAuthHandler{
		config:   config.OAuth2(),
		states:   states,
		username: username,
		logger:   logger,
	}
}

// SetOnTokenFunc sets the callback function called when a token is obtained.
func (h *OAuthHandler) SetOnTokenFunc(fn TokenFunc) {
	h.onToken = fn
}

// HandleConnect handles GET /auth/google and returns the authorization URL for the signed-in user.
func (h *OAuthHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	username, ok := h.username(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "not signed in")
		return
	}

	state, err := h.states.Issue(username)
	if err != nil {
		h.logger.Error("failed to issue state", slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, "failed to generate state")
		return
	}

	h.logger.Info("google connect initiated",
		slog.String("username", username),
		slog.String("redirect_uri", h.config.RedirectURL),
	)

	writeJSON(w, http.StatusOK, map[string]string{
		"authorization_url": h.AuthURL(state),
		"message":           "Please visit the authorization URL to connect your Google account",
	})
}

// HandleCallback handles GET /auth/google/callback with the OAuth2 authorization code.
func (h *OAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	query := r.URL.Query()
	if errParam := query.Get("error"); errParam != "" {
		errDesc := query.Get("error_description")
		h.logger.Warn("oauth2 error from provider",
			slog.String("error", errParam),
			slog.String("description", errDesc),
		)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("OAuth2 error: %s - %s", errParam, errDesc))
		return
	}

	state := query.Get("state")
	if state == "" {
		h.writeError(w, http.StatusBadRequest, "missing state parameter")
		return
	}
	username, err := h.states.Verify(state)
	if err != nil {
		h.logger.Warn("rejected oauth state", slog.Any("error", err))
		h.writeError(w, http.StatusBadRequest, "invalid state parameter")
		return
	}

	code := query.Get("code")
	if code == "" {
		h.writeError(w, http.StatusBadRequest, "missing authorization code")
		return
	}

	token, err := h.config.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("failed to exchange code for token",
			slog.String("username", username),
			slog.Any("error", err),
		)
		h.writeError(w, http.StatusBadGateway, "failed to exchange code for token")
		return
	}

	h.logger.Info("oauth2 token obtained",
		slog.String("username", username),
		slog.Bool("has_refresh_token", token.RefreshToken != ""),
		slog.Time("expiry", token.Expiry),
	)

	if h.onToken != nil {
		if err := h.onToken(r.Context(), username, token); err != nil {
			h.logger.Error("token callback failed", slog.Any("error", err))
			h.writeError(w, http.StatusInternalServerError, "failed to process token")
			return
		}
	}

	response := map[string]any{
		"message":  "Google account connected",
		"username": username,
		"expiry":   token.Expiry,
	}
	if token.RefreshToken != "" {
		response["has_refresh_token"] = true
	}
	writeJSON(w, http.StatusOK, response)
}

// AuthURL returns the OAuth2 authorization URL with the given state.
func (h *OAuthHandler) AuthURL(state string) string {
	return h.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (h *OAuthHandler) writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
