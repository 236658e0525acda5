package calendar

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/SarveshMina/CAD-gcw-backend/internal/recurrence"
	"github.com/SarveshMina/CAD-gcw-backend/internal/storage/models"
)

// ProductID identifies this server in exported calendars.
const ProductID = "-//CAD-gcw//Collaborative Calendar//EN"

// ImportedEvent is a VEVENT read from an ICS payload, normalized to minute precision.
type ImportedEvent struct {
	UID         string
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	Recurrence  string
}

// IdempotencyKey derives a stable key so re-importing the same feed does not
// duplicate events.
func (e ImportedEvent) IdempotencyKey() string {
	return "ics:" + e.UID
}

// ImportResult is the outcome of parsing an ICS payload.
type ImportResult struct {
	Events  []ImportedEvent
	Skipped int
}

// ParseICS reads an ICS payload. Events missing a UID, a start or an end, or
// carrying an unusable recurrence rule are skipped and counted.
func ParseICS(r io.Reader) (*ImportResult, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading calendar: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty calendar body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing calendar: %w", err)
	}

	result := &ImportResult{}
	for _, ve := range cal.Events() {
		ev, ok := parseVEvent(ve)
		if !ok {
			result.Skipped++
			continue
		}
		result.Events = append(result.Events, ev)
	}
	return result, nil
}

func parseVEvent(ve *ical.VEvent) (ImportedEvent, bool) {
	var out ImportedEvent

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || strings.TrimSpace(uid.Value) == "" {
		return out, false
	}
	out.UID = strings.TrimSpace(uid.Value)

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Title = strings.TrimSpace(p.Value)
	}
	if out.Title == "" {
		out.Title = "Untitled event"
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, false
	}
	end, err := ve.GetEndAt()
	if err != nil {
		return out, false
	}
	out.Start = start.Truncate(time.Minute)
	out.End = end.Truncate(time.Minute)
	if !out.Start.Before(out.End) {
		return out, false
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		rule := recurrence.Normalize(p.Value)
		if err := recurrence.Validate(rule); err != nil {
			return out, false
		}
		out.Recurrence = rule
	}

	return out, true
}

// ExportICS renders a calendar and its events as an ICS document.
func ExportICS(cal *models.Calendar, events []models.Event, now time.Time) string {
	c := ical.NewCalendar()
	c.SetMethod(ical.MethodPublish)
	c.SetProductId(ProductID)
	c.SetXWRCalName(cal.Name)

	for _, e := range events {
		ve := c.AddEvent(e.ID)
		ve.SetDtStampTime(now.UTC())
		ve.SetCreatedTime(e.CreatedAt)
		ve.SetModifiedAt(e.UpdatedAt)
		ve.SetStartAt(e.StartTime)
		ve.SetEndAt(e.EndTime)
		ve.SetSummary(e.Title)
		if e.Description != "" {
			ve.SetDescription(e.Description)
		}
		if e.IsRecurring() {
			ve.AddProperty(ical.ComponentPropertyRrule, *e.Recurrence)
		}
	}

	return c.Serialize()
}
