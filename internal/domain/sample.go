package domain

import (
	"strings"
	"time"
)

// DateLayout is the wire and storage layout for calendar dates.
const DateLayout = "2006-01-02"

// Sample represents a tracked laboratory specimen.
type Sample struct {
	ID         int64     `json:"sample_id"`
	PreparedOn time.Time `json:"prepared_on"`
	AuthorName *string   `json:"author_name,omitempty"`
	Deleted    bool      `json:"deleted"`
	Version    int64     `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewSample carries the caller supplied fields of a sample that has not been
// persisted yet. The repository assigns the identifier and timestamps.
type NewSample struct {
	PreparedOn time.Time
	AuthorName *string
	CreatedAt  time.Time
}

// SampleSnapshot is a sample together with its current parameter values
// ordered by parameter name.
type SampleSnapshot struct {
	Sample     Sample                 `json:"sample"`
	Parameters []SampleParameterValue `json:"parameters"`
}

// TruncateDate drops the clock part of t, keeping the calendar date in UTC.
func TruncateDate(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(raw string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, strings.TrimSpace(raw), time.UTC)
}

// NormalizeAuthorName trims the author name and maps blank values to nil.
func NormalizeAuthorName(name *string) *string {
	if name == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*name)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
