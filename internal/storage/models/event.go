package models

import (
	"time"
)

// Event is a timed entry on a personal or group calendar.
type Event struct {
	ID          string    `json:"eventId"`
	CalendarID  string    `json:"calendarId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	CreatorID   string    `json:"creatorId"`
	UpdatedBy   string    `json:"updatedBy"`
	Locked      bool      `json:"locked"`
	// Recurrence is an RFC 5545 RRULE, e.g. "FREQ=WEEKLY;COUNT=4".
	Recurrence     *string   `json:"recurrence,omitempty"`
	IdempotencyKey *string   `json:"-"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Duration returns the length of a single occurrence.
func (e *Event) Duration() time.Duration {
	return e.EndTime.Sub(e.StartTime)
}

// IsRecurring reports whether the event carries a recurrence rule.
func (e *Event) IsRecurring() bool {
	return e.Recurrence != nil && *e.Recurrence != ""
}

// EventPatch holds the fields of a partial update. Nil fields are left unchanged.
type EventPatch struct {
	Title       *string
	Description *string
	StartTime   *time.Time
	EndTime     *time.Time
	Locked      *bool
	// Recurrence set to an empty string clears the rule.
	Recurrence *string
}

// Empty reports whether the patch changes nothing.
func (p EventPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.StartTime == nil &&
		p.EndTime == nil && p.Locked == nil && p.Recurrence == nil
}

// BusyInterval is a half-open [Start, End) span during which a user is busy.
type BusyInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
