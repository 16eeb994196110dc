// Package registry implements the users, presentations and activity operations of the
// dashboard over the shared state.
//
// Every operation first reconciles the working copy with the persisted copy (load, merge,
// save) and persists again after mutating. Authorization is enforced here, not by callers.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/smorand/team-slides-dashboard/internal/fetcher"
	"github.com/smorand/team-slides-dashboard/internal/state"
	"github.com/smorand/team-slides-dashboard/internal/store"
)

// Sentinel errors for registry operations.
var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrDuplicateUser      = errors.New("username already exists")
	ErrWeakPassword       = errors.New("password too short")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidInput       = errors.New("invalid input")
)

// MinPasswordLength is the default minimum password length.
const MinPasswordLength = 6

// MetadataFunc fetches the current metadata of a presentation.
type MetadataFunc func(ctx context.Context, presentationID string) (fetcher.Metadata, error)

// Config holds configuration for the Registry.
type Config struct {
	MinPasswordLength int
	// HashCost is the bcrypt cost (0 = bcrypt.DefaultCost).
	HashCost int
	Logger   *slog.Logger
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		MinPasswordLength: MinPasswordLength,
		Logger:            slog.Default(),
	}
}

// Registry owns the working copy of the shared state and its load, merge and save lifecycle.
type Registry struct {
	config Config
	store  store.Store

	mu    sync.Mutex
	state *state.SharedState
}

// New creates a Registry backed by st. The working copy starts empty and is filled by the
// first operation.
func New(config Config, st store.Store) *Registry {
	if config.MinPasswordLength <= 0 {
		config.MinPasswordLength = MinPasswordLength
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Registry{
		config: config,
		store:  st,
		state:  state.New(),
	}
}

// Refresh reconciles the working copy with the persisted state and writes the result back.
func (r *Registry) Refresh(ctx context.Context) (state.MergeResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := r.mergeLocked(ctx)
	return res, r.saveLocked(ctx)
}

// mergeLocked loads the persisted state and merges it into the working copy. A load failure
// still yields the default state, so the merge proceeds and the next save repairs the file.
func (r *Registry) mergeLocked(ctx context.Context) state.MergeResult {
	disk, err := r.store.Load(ctx)
	if err != nil {
		r.config.Logger.Warn("failed to load shared state, continuing with defaults",
			slog.Any("error", err),
		)
	}
	res := state.Merge(r.state, disk)
	if res.Changed() {
		r.config.Logger.Debug("shared state merged",
			slog.Int("users_added", res.UsersAdded),
			slog.Int("slides_added", res.SlidesAdded),
			slog.Int("slides_replaced", res.SlidesReplaced),
			slog.Int("activities_added", res.ActivitiesAdded),
		)
	}
	return res
}

func (r *Registry) saveLocked(ctx context.Context) error {
	if err := r.store.Save(ctx, r.state); err != nil {
		r.config.Logger.Error("failed to save shared state", slog.Any("error", err))
		return err
	}
	return nil
}

// do runs fn on the freshly merged working copy and saves afterwards. fn must leave the state
// untouched when it returns an error.
func (r *Registry) do(ctx context.Context, fn func(s *state.SharedState) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.mergeLocked(ctx)
	opErr := fn(r.state)
	saveErr := r.saveLocked(ctx)
	if opErr != nil {
		return opErr
	}
	return saveErr
}

// Register creates a member account.
func (r *Registry) Register(ctx context.Context, username, password, confirm string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidInput)
	}

	return r.do(ctx, func(s *state.SharedState) error {
		if _, exists := s.Users[username]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateUser, username)
		}
		if password != confirm {
			return ErrPasswordMismatch
		}
		if len(password) < r.config.MinPasswordLength {
			return fmt.Errorf("%w: must be at least %d characters", ErrWeakPassword, r.config.MinPasswordLength)
		}

		hash, err := state.HashPassword(password, r.config.HashCost)
		if err != nil {
			return err
		}
		s.Users[username] = &state.User{
			Username:     username,
			PasswordHash: hash,
			Role:         state.RoleMember,
		}
		s.Append(username, state.ActionRegister, "New user registered")

		r.config.Logger.Info("user registered", slog.String("username", username))
		return nil
	})
}

// Authenticate reports whether password matches the stored hash of username.
func (r *Registry) Authenticate(ctx context.Context, username, password string) bool {
	var ok bool
	_ = r.do(ctx, func(s *state.SharedState) error {
		u, exists := s.Users[username]
		ok = exists && state.CheckPassword(u.PasswordHash, password)
		return nil
	})
	return ok
}

// Login authenticates the user, records last_login and appends a LOGIN activity. Legacy
// password digests are upgraded to bcrypt on success.
func (r *Registry) Login(ctx context.Context, username, password string) (UserInfo, error) {
	var info UserInfo
	err := r.do(ctx, func(s *state.SharedState) error {
		u, exists := s.Users[username]
		if !exists || !state.CheckPassword(u.PasswordHash, password) {
			return ErrInvalidCredentials
		}

		if state.NeedsRehash(u.PasswordHash) {
			if hash, err := state.HashPassword(password, r.config.HashCost); err == nil {
				u.PasswordHash = hash
			} else {
				r.config.Logger.Warn("failed to upgrade password hash",
					slog.String("username", username),
					slog.Any("error", err),
				)
			}
		}
		now := state.Now()
		u.LastLogin = &now
		s.Append(username, state.ActionLogin, "User logged in")

		info = toUserInfo(u)
		return nil
	})
	return info, err
}

// Logout appends a LOGOUT activity.
func (r *Registry) Logout(ctx context.Context, username string) error {
	return r.RecordActivity(ctx, username, state.ActionLogout, "User logged out")
}

// RecordActivity appends an arbitrary activity record.
func (r *Registry) RecordActivity(ctx context.Context, username string, action state.Action, details string) error {
	return r.do(ctx, func(s *state.SharedState) error {
		s.Append(username, action, details)
		return nil
	})
}

// SetRole changes the role of target. Only admins may change roles.
func (r *Registry) SetRole(ctx context.Context, acting, target string, role state.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}

	return r.do(ctx, func(s *state.SharedState) error {
		if !s.Users[acting].IsAdmin() {
			return fmt.Errorf("%w: only admins can change roles", ErrForbidden)
		}
		u, exists := s.Users[target]
		if !exists {
			return fmt.Errorf("%w: user %s", ErrNotFound, target)
		}

		old := u.Role
		u.Role = role
		s.Append(acting, state.ActionRoleChange, fmt.Sprintf("Changed %s from %s to %s", target, old, role))

		r.config.Logger.Info("role changed",
			slog.String("acting_user", acting),
			slog.String("username", target),
			slog.String("old_role", string(old)),
			slog.String("new_role", string(role)),
		)
		return nil
	})
}

// UpsertInput holds the mutable fields of a presentation record.
type UpsertInput struct {
	PresentationID string
	Title          string
	SlideCount     int
	Description    string
}

// UpsertPresentation creates a record owned by acting, or overwrites an existing record when
// acting is its uploader or an admin. It reports whether a record was created.
func (r *Registry) UpsertPresentation(ctx context.Context, acting string, in UpsertInput) (bool, error) {
	in.PresentationID = strings.TrimSpace(in.PresentationID)
	if in.PresentationID == "" {
		return false, fmt.Errorf("%w: presentation id is required", ErrInvalidInput)
	}
	if in.SlideCount < 0 {
		return false, fmt.Errorf("%w: slide count must not be negative", ErrInvalidInput)
	}

	var created bool
	err := r.do(ctx, func(s *state.SharedState) error {
		user, exists := s.Users[acting]
		if !exists {
			return fmt.Errorf("%w: unknown user %s", ErrForbidden, acting)
		}

		now := state.Now()
		if i := s.FindPresentation(in.PresentationID); i >= 0 {
			p := s.Slides[i]
			if p.Uploader != acting && !user.IsAdmin() {
				return fmt.Errorf("%w: %s is not the uploader of %s", ErrForbidden, acting, in.PresentationID)
			}
			p.Title = in.Title
			p.SlideCount = in.SlideCount
			p.Description = in.Description
			p.LastModified = now
			s.Append(acting, state.ActionUpdate, fmt.Sprintf("Updated '%s'", in.Title))
			return nil
		}

		s.Slides = append(s.Slides, &state.PresentationRecord{
			PresentationID:   in.PresentationID,
			Title:            in.Title,
			PresentationLink: state.PresentationLink(in.PresentationID),
			Description:      in.Description,
			Uploader:         acting,
			UploadDate:       now,
			SlideCount:       in.SlideCount,
			LastModified:     now,
			Status:           state.StatusActive,
		})
		s.Append(acting, state.ActionUpload, fmt.Sprintf("Uploaded '%s'", in.Title))
		created = true
		return nil
	})
	if err == nil {
		r.config.Logger.Info("presentation saved",
			slog.String("presentation_id", in.PresentationID),
			slog.String("username", acting),
			slog.Bool("created", created),
		)
	}
	return created, err
}

// RemovePresentation deletes a record. The uploader may delete it (DELETE); an admin may delete
// any record, logged as ADMIN_DELETE when the admin is not the uploader.
func (r *Registry) RemovePresentation(ctx context.Context, acting, presentationID string) error {
	return r.do(ctx, func(s *state.SharedState) error {
		i := s.FindPresentation(presentationID)
		if i < 0 {
			return fmt.Errorf("%w: presentation %s", ErrNotFound, presentationID)
		}
		p := s.Slides[i]

		var action state.Action
		var details string
		switch {
		case p.Uploader == acting:
			action = state.ActionDelete
			details = fmt.Sprintf("Deleted '%s'", titleOrUntitled(p.Title))
		case s.Users[acting].IsAdmin():
			action = state.ActionAdminDelete
			details = fmt.Sprintf("Admin removed '%s'", titleOrUntitled(p.Title))
		default:
			return fmt.Errorf("%w: %s is not the uploader of %s", ErrForbidden, acting, presentationID)
		}

		s.Slides = append(s.Slides[:i], s.Slides[i+1:]...)
		s.Append(acting, action, details)

		r.config.Logger.Info("presentation removed",
			slog.String("presentation_id", presentationID),
			slog.String("username", acting),
			slog.String("action", string(action)),
		)
		return nil
	})
}

// RefreshPresentation re-reads a record's title and slide count from the remote service.
// Only the uploader or an admin may refresh. The fetch runs without holding the registry lock.
func (r *Registry) RefreshPresentation(ctx context.Context, acting, presentationID string, fetch MetadataFunc) (state.PresentationRecord, error) {
	if err := r.authorizeOwner(ctx, acting, presentationID); err != nil {
		return state.PresentationRecord{}, err
	}

	md, err := fetch(ctx, presentationID)
	if err != nil {
		return state.PresentationRecord{}, err
	}

	var updated state.PresentationRecord
	err = r.do(ctx, func(s *state.SharedState) error {
		i := s.FindPresentation(presentationID)
		if i < 0 {
			return fmt.Errorf("%w: presentation %s", ErrNotFound, presentationID)
		}
		p := s.Slides[i]
		p.Title = md.Title
		p.SlideCount = md.SlideCount
		p.LastModified = state.Now()
		s.Append(acting, state.ActionManualUpdate, fmt.Sprintf("Updated '%s'", p.Title))
		updated = *p
		return nil
	})
	return updated, err
}

func (r *Registry) authorizeOwner(ctx context.Context, acting, presentationID string) error {
	return r.do(ctx, func(s *state.SharedState) error {
		i := s.FindPresentation(presentationID)
		if i < 0 {
			return fmt.Errorf("%w: presentation %s", ErrNotFound, presentationID)
		}
		if s.Slides[i].Uploader != acting && !s.Users[acting].IsAdmin() {
			return fmt.Errorf("%w: %s is not the uploader of %s", ErrForbidden, acting, presentationID)
		}
		return nil
	})
}

// UpdateReport summarizes a CheckForUpdates scan.
type UpdateReport struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// CheckForUpdates fetches metadata for every presentation and records slide count changes.
// A failing presentation is counted and skipped. The only error returned is a persistence
// failure while saving the result.
func (r *Registry) CheckForUpdates(ctx context.Context, fetch MetadataFunc) (UpdateReport, error) {
	var ids []string
	if err := r.do(ctx, func(s *state.SharedState) error {
		for _, p := range s.Slides {
			ids = append(ids, p.PresentationID)
		}
		return nil
	}); err != nil {
		r.config.Logger.Warn("failed to persist state before update check", slog.Any("error", err))
	}

	report := UpdateReport{Checked: len(ids)}
	fetched := make(map[string]fetcher.Metadata, len(ids))
	start := time.Now()
	for _, id := range ids {
		md, err := fetch(ctx, id)
		if err != nil {
			report.Failed++
			r.config.Logger.Warn("update check failed",
				slog.String("presentation_id", id),
				slog.Any("error", err),
			)
			continue
		}
		fetched[id] = md
	}

	err := r.do(ctx, func(s *state.SharedState) error {
		for _, id := range ids {
			md, ok := fetched[id]
			if !ok {
				continue
			}
			i := s.FindPresentation(id)
			if i < 0 {
				continue
			}
			p := s.Slides[i]
			if p.SlideCount == md.SlideCount {
				continue
			}
			s.Append(p.Uploader, state.ActionSlideUpdate,
				fmt.Sprintf("Updated '%s' from %d to %d slides", p.Title, p.SlideCount, md.SlideCount))
			p.SlideCount = md.SlideCount
			p.Title = md.Title
			p.LastModified = state.Now()
			report.Updated++
		}
		return nil
	})

	r.config.Logger.Info("update check completed",
		slog.Int("checked", report.Checked),
		slog.Int("updated", report.Updated),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", time.Since(start)),
	)
	return report, err
}

func titleOrUntitled(title string) string {
	if title == "" {
		return "Untitled"
	}
	return title
}
