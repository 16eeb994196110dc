package state

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestTimestampRoundTripLayout(t *testing.T) {
	ts := ParseTimestamp("2024-01-02 09:00:00")
	require.False(t, ts.IsZero())
	assert.Equal(t, "2024-01-02 09:00:00", ts.String())
	assert.Equal(t, "2024-01-02", ts.Date())

	data, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2024-01-02 09:00:00"`, string(data))
}

func TestTimestampLenientDecode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		zero  bool
	}{
		{name: "layout", input: `"2024-05-06 07:08:09"`},
		{name: "rfc3339", input: `"2024-05-06T07:08:09Z"`},
		{name: "empty", input: `""`, zero: true},
		{name: "garbage", input: `"not a time"`, zero: true},
		{name: "number", input: `42`, zero: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			require.NoError(t, json.Unmarshal([]byte(tt.input), &ts))
			assert.Equal(t, tt.zero, ts.IsZero())
		})
	}
}

func TestTimestampOrderingUsesTime(t *testing.T) {
	older := ParseTimestamp("2024-01-01 10:00:00")
	newer := ParseTimestamp("2024-01-02 09:00:00")
	assert.True(t, newer.After(older))
	assert.False(t, older.After(newer))
	assert.True(t, older.After(Timestamp{}))
	assert.True(t, NewTimestamp(time.Now()).After(older))
}

func TestSharedStateDecodeAndNormalize(t *testing.T) {
	raw := `{
		"users": {"admin": {"password": "x", "role": "admin"}, "bob": {"password": "y", "role": "boss"}},
		"slides": [
			{"presentation_id": "A", "title": "Deck", "slide_count": 3, "last_modified": "2024-01-01 10:00:00"},
			{"presentation_id": "", "title": "broken"}
		]
	}`
	var s SharedState
	require.NoError(t, json.Unmarshal([]byte(raw), &s))
	s.Normalize()

	assert.Equal(t, "admin", s.Users["admin"].Username)
	assert.Equal(t, RoleMember, s.Users["bob"].Role)
	require.Len(t, s.Slides, 1)
	assert.Equal(t, StatusActive, s.Slides[0].Status)
	assert.NotNil(t, s.Activities)
	assert.Equal(t, 0, s.FindPresentation("A"))
	assert.Equal(t, -1, s.FindPresentation("B"))
}

func TestSharedStateEncodeKeys(t *testing.T) {
	s := Default("hash")
	s.Slides = append(s.Slides, &PresentationRecord{PresentationID: "A", Status: StatusActive})
	s.Append("admin", ActionLogin, "User logged in")

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var generic map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &generic))
	assert.Contains(t, generic, "users")
	assert.Contains(t, generic, "slides")
	assert.Contains(t, generic, "activities")
	assert.Contains(t, string(generic["users"]), `"password":"hash"`)
	assert.NotContains(t, string(generic["users"]), "username")
}

func TestCloneIsDeep(t *testing.T) {
	s := Default("hash")
	s.Slides = append(s.Slides, &PresentationRecord{PresentationID: "A", SlideCount: 1})
	c := s.Clone()

	c.Users["admin"].Role = RoleMember
	c.Slides[0].SlideCount = 99

	assert.Equal(t, RoleAdmin, s.Users["admin"].Role)
	assert.Equal(t, 1, s.Slides[0].SlideCount)
}

func TestPasswords(t *testing.T) {
	hash, err := HashPassword("secret1", bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "secret1"))
	assert.False(t, CheckPassword(hash, "secret2"))
	assert.False(t, NeedsRehash(hash))

	// sha256("admin123")
	legacy := "240be518fabd2724ddb6f04eeb1da5967448d7e831c08c8fa822809f74c720a9"
	assert.True(t, CheckPassword(legacy, "admin123"))
	assert.False(t, CheckPassword(legacy, "admin124"))
	assert.True(t, NeedsRehash(legacy))

	assert.False(t, CheckPassword("", ""))
}
