package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/smorand/team-slides-dashboard/internal/auth"
	"github.com/smorand/team-slides-dashboard/internal/fetcher"
	"github.com/smorand/team-slides-dashboard/internal/middleware"
	"github.com/smorand/team-slides-dashboard/internal/registry"
	"github.com/smorand/team-slides-dashboard/internal/report"
	"github.com/smorand/team-slides-dashboard/internal/session"
	"github.com/smorand/team-slides-dashboard/internal/state"
	"github.com/smorand/team-slides-dashboard/internal/store"
)

const (
	maxRequestBody       = 1 << 20
	defaultActivityLimit = 50
)

// Credentials provides Google token sources per dashboard user.
type Credentials interface {
	TokenSource(ctx context.Context, username string) (oauth2.TokenSource, error)
	Connected(ctx context.Context, username string) (bool, error)
	Disconnect(ctx context.Context, username string) error
}

// APIConfig holds the collaborators of the dashboard API.
type APIConfig struct {
	Registry    *registry.Registry
	Sessions    session.Store
	Fetcher     fetcher.Fetcher
	Credentials Credentials // nil when Google sign-in is not configured
	Reports     *report.Builder
	// SessionTTL sets the cookie lifetime.
	SessionTTL time.Duration
	// SecureCookies marks the session cookie Secure.
	SecureCookies bool
	Logger        *slog.Logger
}

// API serves the dashboard JSON endpoints.
type API struct {
	config APIConfig
	logger *slog.Logger
}

// NewAPI creates the dashboard API.
func NewAPI(config APIConfig) *API {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = session.DefaultTTL
	}
	if config.Reports == nil {
		config.Reports = report.New(report.Config{Logger: config.Logger})
	}
	return &API{config: config, logger: config.Logger}
}

type registerRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string            `json:"token"`
	User  registry.UserInfo `json:"user"`
}

type meResponse struct {
	User            registry.UserInfo `json:"user"`
	GoogleConnected bool              `json:"google_connected"`
}

type presentationsResponse struct {
	Presentations []state.PresentationRecord `json:"presentations"`
	Stats         report.Stats               `json:"stats"`
}

type savePresentationRequest struct {
	// PresentationID accepts a bare ID or a Google Slides URL.
	PresentationID string `json:"presentation_id"`
	Description    string `json:"description"`
}

type savePresentationResponse struct {
	Created      bool                     `json:"created"`
	Presentation state.PresentationRecord `json:"presentation"`
}

type setRoleRequest struct {
	Role state.Role `json:"role"`
}

// HandleRegister handles POST /api/register.
func (a *API) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.config.Registry.Register(r.Context(), req.Username, req.Password, req.ConfirmPassword); err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"message":  "Registration successful! Please login.",
		"username": req.Username,
	})
}

// HandleLogin handles POST /api/login and opens a session.
func (a *API) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.decode(w, r, &req) {
		return
	}
	user, err := a.config.Registry.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}

	token, err := a.config.Sessions.Create(r.Context(), user.Username)
	if err != nil {
		a.logger.Error("failed to create session", slog.String("username", user.Username), slog.Any("error", err))
		writeError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(a.config.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   a.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: user})
}

// HandleLogout handles POST /api/logout and ends the current session.
func (a *API) HandleLogout(w http.ResponseWriter, r *http.Request) {
	username, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	if err := a.config.Sessions.Delete(r.Context(), middleware.GetSessionToken(r.Context())); err != nil {
		a.logger.Warn("failed to delete session", slog.String("username", username), slog.Any("error", err))
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	if err := a.config.Registry.Logout(r.Context(), username); err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// HandleMe handles GET /api/me.
func (a *API) HandleMe(w http.ResponseWriter, r *http.Request) {
	username, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	user, err := a.config.Registry.User(r.Context(), username)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}

	resp := meResponse{User: user}
	if a.config.Credentials != nil {
		connected, err := a.config.Credentials.Connected(r.Context(), username)
		if err != nil {
			a.logger.Warn("failed to check google connection", slog.String("username", username), slog.Any("error", err))
		}
		resp.GoogleConnected = connected
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleListPresentations handles GET /api/presentations. With mine=true only the caller's
// uploads are listed.
func (a *API) HandleListPresentations(w http.ResponseWriter, r *http.Request) {
	username, ok := a.requireUser(w, r)
	if !ok {
		return
	}

	var records []state.PresentationRecord
	if mine, _ := strconv.ParseBool(r.URL.Query().Get("mine")); mine {
		records = a.config.Registry.PresentationsBy(r.Context(), username)
	} else {
		records = a.config.Registry.Presentations(r.Context())
	}
	writeJSON(w, http.StatusOK, presentationsResponse{
		Presentations: records,
		Stats:         report.ComputeStats(records),
	})
}

// HandleSavePresentation handles POST /api/presentations. It reads the presentation's title and
// slide count from Google, then adds or updates the record.
func (a *API) HandleSavePresentation(w http.ResponseWriter, r *http.Request) {
	username, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	var req savePresentationRequest
	if !a.decode(w, r, &req) {
		return
	}
	id := fetcher.ParsePresentationID(req.PresentationID)
	if id == "" {
		writeError(w, http.StatusBadRequest, "presentation_id is required")
		return
	}

	fetch, err := a.metadataFunc(r.Context(), username, true)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	md, err := fetch(r.Context(), id)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}

	created, err := a.config.Registry.UpsertPresentation(r.Context(), username, registry.UpsertInput{
		PresentationID: id,
		Title:          md.Title,
		SlideCount:     md.SlideCount,
		Description:    req.Description,
	})
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	record, err := a.config.Registry.Presentation(r.Context(), id)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, savePresentationResponse{Created: created, Presentation: record})
}

// HandleDeletePresentation handles DELETE /api/presentations/{id}.
func (a *API) HandleDeletePresentation(w http.ResponseWriter, r *http.Request) {
	username, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := a.config.Registry.RemovePresentation(r.Context(), username, id); err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	if a.config.Fetcher != nil {
		a.config.Fetcher.Invalidate(id)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Presentation removed"})
}

// HandleRefreshPresentation handles POST /api/presentations/{id}/refresh.
func (a *API) HandleRefreshPresentation(w http.ResponseWriter, r *http.Request) {
	username, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	fetch, err := a.metadataFunc(r.Context(), username, true)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	record, err := a.config.Registry.RefreshPresentation(r.Context(), username, r.PathValue("id"), fetch)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// HandleCheckUpdates handles POST /api/presentations/check-updates.
func (a *API) HandleCheckUpdates(w http.ResponseWriter, r *http.Request) {
	username, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	fetch, err := a.metadataFunc(r.Context(), username, true)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	result, err := a.config.Registry.CheckForUpdates(r.Context(), fetch)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleListUsers handles GET /api/users. Admin only.
func (a *API) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": a.config.Registry.Users(r.Context())})
}

// HandleSetRole handles PUT /api/users/{username}/role.
func (a *API) HandleSetRole(w http.ResponseWriter, r *http.Request) {
	username, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	var req setRoleRequest
	if !a.decode(w, r, &req) {
		return
	}
	target := r.PathValue("username")
	if err := a.config.Registry.SetRole(r.Context(), username, target, req.Role); err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	user, err := a.config.Registry.User(r.Context(), target)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleActivities handles GET /api/activities?limit=n. Admin only.
func (a *API) HandleActivities(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"activities": a.config.Registry.Activities(r.Context(), limit)})
}

// HandleReport handles GET /api/report?format=pdf|text|html and sends the report as an
// attachment. The image PDF needs a connected Google account.
func (a *API) HandleReport(w http.ResponseWriter, r *http.Request) {
	username, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}

	var images report.ImageFunc
	if format == report.FormatPDF {
		images, err = a.imageFunc(r.Context(), username)
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
	}

	records := a.config.Registry.Presentations(r.Context())
	result, err := a.config.Reports.Build(r.Context(), format, records, images)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.Header().Set("X-Report-Presentations", strconv.Itoa(result.Stats.Presentations))
	w.Header().Set("X-Report-Failed-Slides", strconv.Itoa(result.FailedSlides))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Data); err != nil {
		a.logger.Warn("failed to write report", slog.Any("error", err))
	}
}

// HandleDisconnectGoogle handles DELETE /auth/google.
func (a *API) HandleDisconnectGoogle(w http.ResponseWriter, r *http.Request) {
	username, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	if a.config.Credentials == nil {
		writeError(w, http.StatusServiceUnavailable, "google sign-in not configured")
		return
	}
	if err := a.config.Credentials.Disconnect(r.Context(), username); err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Google account disconnected"})
}

func (a *API) tokenSource(ctx context.Context, username string) (oauth2.TokenSource, error) {
	if a.config.Credentials == nil || a.config.Fetcher == nil {
		return nil, auth.ErrNotConnected
	}
	return a.config.Credentials.TokenSource(ctx, username)
}

// metadataFunc binds the fetcher to the caller's Google account. With fresh set the metadata
// cache is bypassed.
func (a *API) metadataFunc(ctx context.Context, username string, fresh bool) (registry.MetadataFunc, error) {
	ts, err := a.tokenSource(ctx, username)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, presentationID string) (fetcher.Metadata, error) {
		if fresh {
			a.config.Fetcher.Invalidate(presentationID)
		}
		return a.config.Fetcher.GetMetadata(ctx, presentationID, ts)
	}, nil
}

func (a *API) imageFunc(ctx context.Context, username string) (report.ImageFunc, error) {
	ts, err := a.tokenSource(ctx, username)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, presentationID string, index int) ([]byte, error) {
		return a.config.Fetcher.GetSlideImage(ctx, presentationID, index, ts)
	}, nil
}

func (a *API) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	username, ok := middleware.GetUsername(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not signed in")
		return "", false
	}
	return username, true
}

func (a *API) requireAdmin(w http.ResponseWriter, r *http.Request) (string, bool) {
	username, ok := a.requireUser(w, r)
	if !ok {
		return "", false
	}
	if !a.config.Registry.IsAdmin(r.Context(), username) {
		writeError(w, http.StatusForbidden, "admin access required")
		return "", false
	}
	return username, true
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, fetcher.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, registry.ErrDuplicateUser):
		return http.StatusConflict
	case errors.Is(err, registry.ErrWeakPassword),
		errors.Is(err, registry.ErrPasswordMismatch),
		errors.Is(err, registry.ErrInvalidInput),
		errors.Is(err, report.ErrUnknownFormat):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrInvalidCredentials),
		errors.Is(err, auth.ErrNotConnected),
		errors.Is(err, fetcher.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, fetcher.ErrTransient),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		a.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		message = "internal error"
		if errors.Is(err, store.ErrPersistence) {
			message = "failed to persist shared state"
		}
	}
	writeError(w, status, message)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
