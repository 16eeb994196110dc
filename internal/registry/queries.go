package registry

import (
	"context"

	"github.com/smorand/team-slides-dashboard/internal/state"
)

// UserInfo is a user without credentials.
type UserInfo struct {
	Username  string           `json:"username"`
	Role      state.Role       `json:"role"`
	LastLogin *state.Timestamp `json:"last_login,omitempty"`
}

func toUserInfo(u *state.User) UserInfo {
	info := UserInfo{Username: u.Username, Role: u.Role}
	if u.LastLogin != nil {
		ll := *u.LastLogin
		info.LastLogin = &ll
	}
	return info
}

// Presentations returns a copy of all presentation records in registry order.
func (r *Registry) Presentations(ctx context.Context) []state.PresentationRecord {
	return r.PresentationsBy(ctx, "")
}

// PresentationsBy returns the records uploaded by uploader; an empty uploader returns all.
func (r *Registry) PresentationsBy(ctx context.Context, uploader string) []state.PresentationRecord {
	var out []state.PresentationRecord
	_ = r.do(ctx, func(s *state.SharedState) error {
		out = make([]state.PresentationRecord, 0, len(s.Slides))
		for _, p := range s.Slides {
			if uploader == "" || p.Uploader == uploader {
				out = append(out, *p)
			}
		}
		return nil
	})
	return out
}

// Presentation returns one record.
func (r *Registry) Presentation(ctx context.Context, presentationID string) (state.PresentationRecord, error) {
	var out state.PresentationRecord
	err := r.do(ctx, func(s *state.SharedState) error {
		i := s.FindPresentation(presentationID)
		if i < 0 {
			return ErrNotFound
		}
		out = *s.Slides[i]
		return nil
	})
	return out, err
}

// Users returns all users sorted by username.
func (r *Registry) Users(ctx context.Context) []UserInfo {
	var out []UserInfo
	_ = r.do(ctx, func(s *state.SharedState) error {
		for _, name := range s.Usernames() {
			out = append(out, toUserInfo(s.Users[name]))
		}
		return nil
	})
	return out
}

// User returns one user.
func (r *Registry) User(ctx context.Context, username string) (UserInfo, error) {
	var out UserInfo
	err := r.do(ctx, func(s *state.SharedState) error {
		u, ok := s.Users[username]
		if !ok {
			return ErrNotFound
		}
		out = toUserInfo(u)
		return nil
	})
	return out, err
}

// IsAdmin reports whether username exists and has the admin role.
func (r *Registry) IsAdmin(ctx context.Context, username string) bool {
	var admin bool
	_ = r.do(ctx, func(s *state.SharedState) error {
		admin = s.Users[username].IsAdmin()
		return nil
	})
	return admin
}

// Activities returns the most recent limit records, oldest first. limit <= 0 returns all.
func (r *Registry) Activities(ctx context.Context, limit int) []state.ActivityRecord {
	var out []state.ActivityRecord
	_ = r.do(ctx, func(s *state.SharedState) error {
		src := s.Activities
		if limit > 0 && len(src) > limit {
			src = src[len(src)-limit:]
		}
		out = append([]state.ActivityRecord(nil), src...)
		return nil
	})
	return out
}
