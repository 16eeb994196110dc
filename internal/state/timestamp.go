package state

import (
	"encoding/json"
	"time"
)

// TimestampLayout is the on-disk format of every timestamp in the shared state file.
const TimestampLayout = "2006-01-02 15:04:05"

// Timestamp is a second-precision point in time persisted as TimestampLayout.
// Comparisons use the parsed time, never the string.
type Timestamp struct {
	t time.Time
}

// Now returns the current time truncated to the persisted precision.
func Now() Timestamp {
	return NewTimestamp(time.Now())
}

// NewTimestamp wraps t, dropping sub-second precision and the monotonic reading.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t: t.Truncate(time.Second)}
}

// ParseTimestamp parses s as TimestampLayout in local time, falling back to RFC 3339.
// Empty or unparseable input yields the zero Timestamp.
func ParseTimestamp(s string) Timestamp {
	if s == "" {
		return Timestamp{}
	}
	if t, err := time.ParseInLocation(TimestampLayout, s, time.Local); err == nil {
		return Timestamp{t: t}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return NewTimestamp(t.Local())
	}
	return Timestamp{}
}

// Time returns the wrapped time.
func (ts Timestamp) Time() time.Time {
	return ts.t
}

// IsZero reports whether the timestamp is unset.
func (ts Timestamp) IsZero() bool {
	return ts.t.IsZero()
}

// After reports whether ts is strictly later than other.
func (ts Timestamp) After(other Timestamp) bool {
	return ts.t.After(other.t)
}

// Equal reports whether both timestamps denote the same instant.
func (ts Timestamp) Equal(other Timestamp) bool {
	return ts.t.Equal(other.t)
}

// String formats the timestamp with TimestampLayout, or "" when zero.
func (ts Timestamp) String() string {
	if ts.t.IsZero() {
		return ""
	}
	return ts.t.Format(TimestampLayout)
}

// Date returns the YYYY-MM-DD part.
func (ts Timestamp) Date() string {
	if ts.t.IsZero() {
		return ""
	}
	return ts.t.Format("2006-01-02")
}

// MarshalJSON implements json.Marshaler.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.String())
}

// UnmarshalJSON implements json.Unmarshaler. Malformed values decode to zero rather than
// failing the whole document.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*ts = Timestamp{}
		return nil
	}
	*ts = ParseTimestamp(s)
	return nil
}
