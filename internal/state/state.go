// Package state defines the shared dashboard state (users, presentations, activity log)
// and the merge policy that reconciles a working copy with the persisted copy.
package state

import (
	"fmt"
	"sort"
)

// Role is a dashboard user role.
type Role string

// Roles.
const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleMember || r == RoleAdmin
}

// Action identifies the kind of an activity record.
type Action string

// Activity actions.
const (
	ActionLogin            Action = "LOGIN"
	ActionLogout           Action = "LOGOUT"
	ActionRegister         Action = "REGISTER"
	ActionUpload           Action = "UPLOAD"
	ActionUpdate           Action = "UPDATE"
	ActionDelete           Action = "DELETE"
	ActionManualUpdate     Action = "MANUAL_UPDATE"
	ActionAdminDelete      Action = "ADMIN_DELETE"
	ActionRoleChange       Action = "ROLE_CHANGE"
	ActionGoogleAuth       Action = "GOOGLE_AUTH"
	ActionGoogleDisconnect Action = "GOOGLE_DISCONNECT"
	ActionSlideUpdate      Action = "SLIDE_UPDATE"
)

// StatusActive is the only presentation status.
const StatusActive = "active"

// DefaultAdminUsername is the account present in a freshly bootstrapped state.
const DefaultAdminUsername = "admin"

// User is a dashboard account. The username is the key of SharedState.Users.
type User struct {
	Username     string     `json:"-"`
	PasswordHash string     `json:"password"`
	Role         Role       `json:"role"`
	LastLogin    *Timestamp `json:"last_login,omitempty"`
}

// IsAdmin reports whether the user has the admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Clone returns a deep copy.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.LastLogin != nil {
		ll := *u.LastLogin
		c.LastLogin = &ll
	}
	return &c
}

// PresentationRecord tracks one externally hosted slide deck.
type PresentationRecord struct {
	PresentationID   string    `json:"presentation_id"`
	Title            string    `json:"title"`
	PresentationLink string    `json:"presentation_link"`
	Description      string    `json:"description,omitempty"`
	Uploader         string    `json:"uploader"`
	UploadDate       Timestamp `json:"upload_date"`
	SlideCount       int       `json:"slide_count"`
	LastModified     Timestamp `json:"last_modified"`
	Status           string    `json:"status"`
}

// Clone returns a copy.
func (p *PresentationRecord) Clone() *PresentationRecord {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// PresentationLink returns the edit URL of a Google Slides presentation.
func PresentationLink(presentationID string) string {
	return fmt.Sprintf("https://docs.google.com/presentation/d/%s/edit", presentationID)
}

// ActivityRecord is one entry of the append-only activity log.
type ActivityRecord struct {
	Timestamp Timestamp `json:"timestamp"`
	User      string    `json:"user"`
	Action    Action    `json:"action"`
	Details   string    `json:"details"`
}

// Equal reports structural equality on the persisted representation.
func (a ActivityRecord) Equal(b ActivityRecord) bool {
	return a.key() == b.key()
}

type activityKey struct {
	timestamp string
	user      string
	action    Action
	details   string
}

func (a ActivityRecord) key() activityKey {
	return activityKey{
		timestamp: a.Timestamp.String(),
		user:      a.User,
		action:    a.Action,
		details:   a.Details,
	}
}

// SharedState is the unit of persistence and of merge.
type SharedState struct {
	Users      map[string]*User      `json:"users"`
	Slides     []*PresentationRecord `json:"slides"`
	Activities []ActivityRecord      `json:"activities"`
}

// New returns an empty state with all collections allocated.
func New() *SharedState {
	return &SharedState{
		Users:      make(map[string]*User),
		Slides:     []*PresentationRecord{},
		Activities: []ActivityRecord{},
	}
}

// Default returns the bootstrap state: a single admin account and nothing else.
func Default(adminPasswordHash string) *SharedState {
	s := New()
	s.Users[DefaultAdminUsername] = &User{
		Username:     DefaultAdminUsername,
		PasswordHash: adminPasswordHash,
		Role:         RoleAdmin,
	}
	return s
}

// Normalize allocates missing collections, fills usernames from map keys and defaults
// empty roles and statuses. It is applied after decoding.
func (s *SharedState) Normalize() {
	if s.Users == nil {
		s.Users = make(map[string]*User)
	}
	if s.Slides == nil {
		s.Slides = []*PresentationRecord{}
	}
	if s.Activities == nil {
		s.Activities = []ActivityRecord{}
	}
	for name, u := range s.Users {
		if u == nil {
			delete(s.Users, name)
			continue
		}
		u.Username = name
		if !u.Role.Valid() {
			u.Role = RoleMember
		}
	}
	slides := s.Slides[:0]
	for _, p := range s.Slides {
		if p == nil || p.PresentationID == "" {
			continue
		}
		if p.Status == "" {
			p.Status = StatusActive
		}
		if p.SlideCount < 0 {
			p.SlideCount = 0
		}
		slides = append(slides, p)
	}
	s.Slides = slides
}

// Clone returns a deep copy.
func (s *SharedState) Clone() *SharedState {
	c := New()
	for name, u := range s.Users {
		c.Users[name] = u.Clone()
	}
	for _, p := range s.Slides {
		c.Slides = append(c.Slides, p.Clone())
	}
	c.Activities = append(c.Activities, s.Activities...)
	return c
}

// FindPresentation returns the index of the record with the given id, or -1.
func (s *SharedState) FindPresentation(presentationID string) int {
	for i, p := range s.Slides {
		if p.PresentationID == presentationID {
			return i
		}
	}
	return -1
}

// Usernames returns all usernames sorted.
func (s *SharedState) Usernames() []string {
	names := make([]string, 0, len(s.Users))
	for name := range s.Users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Append adds an activity record.
func (s *SharedState) Append(user string, action Action, details string) ActivityRecord {
	rec := ActivityRecord{
		Timestamp: Now(),
		User:      user,
		Action:    action,
		Details:   details,
	}
	s.Activities = append(s.Activities, rec)
	return rec
}
