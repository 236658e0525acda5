// Package ledger owns calendar events. Every write first confirms the owning
// calendar exists, then authorizes the actor, then validates, then writes with
// a statement that re-checks the calendar at commit time.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/SarveshMina/CAD-gcw-backend/internal/apperr"
	"github.com/SarveshMina/CAD-gcw-backend/internal/notify"
	"github.com/SarveshMina/CAD-gcw-backend/internal/recurrence"
	"github.com/SarveshMina/CAD-gcw-backend/internal/storage/models"
)

// MutationPolicy decides who may update or delete an existing event.
type MutationPolicy string

const (
	// PolicyMember lets any current member of the calendar mutate any event on it.
	PolicyMember MutationPolicy = "member"
	// PolicyOwner restricts mutations to the calendar owner.
	PolicyOwner MutationPolicy = "owner"
	// PolicyCreator restricts mutations to the event's creator while it is still a member.
	PolicyCreator MutationPolicy = "creator"
)

// ParsePolicy converts a configuration value to a MutationPolicy. The empty
// string selects PolicyMember.
func ParsePolicy(s string) (MutationPolicy, error) {
	switch p := MutationPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyMember, nil
	case PolicyMember, PolicyOwner, PolicyCreator:
		return p, nil
	default:
		return "", fmt.Errorf("unknown mutation policy %q", s)
	}
}

// CalendarResolver confirms calendar existence.
type CalendarResolver interface {
	ResolveCalendar(ctx context.Context, calendarID string) (*models.Calendar, error)
}

// EventStore persists events.
type EventStore interface {
	CreateIfCalendarExists(ctx context.Context, e *models.Event) error
	GetByID(ctx context.Context, id string) (*models.Event, error)
	GetByIdempotencyKey(ctx context.Context, calendarID, key string) (*models.Event, error)
	ListByCalendar(ctx context.Context, calendarID string) ([]models.Event, error)
	ListInWindow(ctx context.Context, calendarIDs []string, from, to time.Time) ([]models.Event, error)
	Update(ctx context.Context, e *models.Event, expectedVersion int64) error
	Delete(ctx context.Context, id string) error
}

// Ledger implements the event operations.
type Ledger struct {
	calendars       CalendarResolver
	events          EventStore
	publisher       notify.Publisher
	policy          MutationPolicy
	retry           apperr.RetryPolicy
	conflictRetries int
	logger          *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithPolicy sets the mutation policy.
func WithPolicy(p MutationPolicy) Option {
	return func(l *Ledger) { l.policy = p }
}

// WithPublisher sets where committed event changes are announced.
func WithPublisher(p notify.Publisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

// WithRetryPolicy overrides the upstream retry policy.
func WithRetryPolicy(p apperr.RetryPolicy) Option {
	return func(l *Ledger) { l.retry = p }
}

// WithConflictRetries sets how many times an update that lost a version
// race is re-read and retried. Values below one are ignored.
func WithConflictRetries(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.conflictRetries = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Ledger) { l.logger = lg }
}

// New creates a ledger.
func New(calendars CalendarResolver, events EventStore, opts ...Option) *Ledger {
	l := &Ledger{
		calendars:       calendars,
		events:          events,
		publisher:       notify.NewFanout(nil, nil),
		policy:          PolicyMember,
		retry:           apperr.DefaultRetryPolicy,
		conflictRetries: 5,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the configured mutation policy.
func (l *Ledger) Policy() MutationPolicy {
	return l.policy
}

func (l *Ledger) do(ctx context.Context, fn func(ctx context.Context) error) error {
	return apperr.Retry(ctx, l.retry, fn)
}

// NewEvent holds the caller-supplied fields of an event being created.
type NewEvent struct {
	Title       string
	Description string
	StartTime   time.Time
	EndTime     time.Time
	// Locked defaults to true on personal calendars and false on groups.
	Locked     *bool
	Recurrence string
	// IdempotencyKey makes retried creates return the original event.
	IdempotencyKey string
}

// AddEvent creates an event on calendarID on behalf of actorID. A replay
// carrying an already used idempotency key returns the original event.
func (l *Ledger) AddEvent(ctx context.Context, calendarID, actorID string, in NewEvent) (*models.Event, error) {
	cal, err := l.calendars.ResolveCalendar(ctx, calendarID)
	if err != nil {
		return nil, err
	}
	if !cal.HasMember(actorID) {
		return nil, apperr.Forbidden("You are not a member of this calendar")
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperr.InvalidInput("Title is required")
	}
	if err := ValidateRange(in.StartTime, in.EndTime); err != nil {
		return nil, err
	}
	rule := recurrence.Normalize(in.Recurrence)
	if err := recurrence.Validate(rule); err != nil {
		return nil, err
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		if existing, err := l.byKey(ctx, calendarID, key); err != nil || existing != nil {
			return existing, err
		}
	}

	e := &models.Event{
		CalendarID:  calendarID,
		Title:       title,
		Description: in.Description,
		StartTime:   in.StartTime,
		EndTime:     in.EndTime,
		CreatorID:   actorID,
		UpdatedBy:   actorID,
		Locked:      !cal.IsGroup(),
	}
	if in.Locked != nil {
		e.Locked = *in.Locked
	}
	if rule != "" {
		e.Recurrence = &rule
	}
	if key != "" {
		e.IdempotencyKey = &key
	}

	err = l.do(ctx, func(ctx context.Context) error {
		return l.events.CreateIfCalendarExists(ctx, e)
	})
	if apperr.Is(err, apperr.KindAlreadyExists) && key != "" {
		// Lost a race with a concurrent replay of the same request.
		if existing, gerr := l.byKey(ctx, calendarID, key); gerr != nil || existing != nil {
			return existing, gerr
		}
	}
	if err != nil {
		return nil, err
	}

	l.logger.Info("event created", "calendar_id", calendarID, "event_id", e.ID, "actor_id", actorID)
	change := notify.ChangeFor(notify.EventCreated, cal, actorID)
	change.EventID = e.ID
	change.Title = e.Title
	l.publisher.Publish(ctx, change)
	return e, nil
}

func (l *Ledger) byKey(ctx context.Context, calendarID, key string) (*models.Event, error) {
	var e *models.Event
	err := l.do(ctx, func(ctx context.Context) error {
		var err error
		e, err = l.events.GetByIdempotencyKey(ctx, calendarID, key)
		return err
	})
	return e, err
}

// resolveEvent returns the calendar and the event, failing with not_found if
// either is missing or the event belongs to another calendar.
func (l *Ledger) resolveEvent(ctx context.Context, calendarID, eventID string) (*models.Calendar, *models.Event, error) {
	cal, err := l.calendars.ResolveCalendar(ctx, calendarID)
	if err != nil {
		return nil, nil, err
	}

	var e *models.Event
	err = l.do(ctx, func(ctx context.Context) error {
		var err error
		e, err = l.events.GetByID(ctx, eventID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	if e == nil || e.CalendarID != calendarID {
		return nil, nil, apperr.NotFound("Event not found")
	}
	return cal, e, nil
}

// authorizeMutation applies the configured policy. Under every policy the
// actor must still belong to the calendar.
func (l *Ledger) authorizeMutation(cal *models.Calendar, e *models.Event, actorID string) error {
	if !cal.HasMember(actorID) {
		return apperr.Forbidden("You are not a member of this calendar")
	}
	switch l.policy {
	case PolicyOwner:
		if actorID != cal.OwnerID {
			return apperr.Forbidden("Only the calendar owner can modify events")
		}
	case PolicyCreator:
		if actorID != e.CreatorID {
			return apperr.Forbidden("Only the event creator can modify this event")
		}
	}
	return nil
}

// UpdateEvent applies the fields present in patch. The resulting time range
// is validated before anything is written.
func (l *Ledger) UpdateEvent(ctx context.Context, calendarID, eventID, actorID string, patch models.EventPatch) (*models.Event, error) {
	for attempt := 0; attempt < l.conflictRetries; attempt++ {
		cal, current, err := l.resolveEvent(ctx, calendarID, eventID)
		if err != nil {
			return nil, err
		}
		if err := l.authorizeMutation(cal, current, actorID); err != nil {
			return nil, err
		}
		if patch.Empty() {
			return current, nil
		}

		updated, err := applyPatch(*current, patch)
		if err != nil {
			return nil, err
		}
		updated.UpdatedBy = actorID

		err = l.do(ctx, func(ctx context.Context) error {
			return l.events.Update(ctx, &updated, current.Version)
		})
		if apperr.Is(err, apperr.KindConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		l.logger.Info("event updated", "calendar_id", calendarID, "event_id", eventID, "actor_id", actorID)
		change := notify.ChangeFor(notify.EventUpdated, cal, actorID)
		change.EventID = eventID
		change.Title = updated.Title
		l.publisher.Publish(ctx, change)
		return &updated, nil
	}
	return nil, apperr.Conflict("Event was modified concurrently, please retry")
}

func applyPatch(e models.Event, p models.EventPatch) (models.Event, error) {
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return e, apperr.InvalidInput("Title is required")
		}
		e.Title = title
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.StartTime != nil {
		e.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		e.EndTime = *p.EndTime
	}
	if p.Locked != nil {
		e.Locked = *p.Locked
	}
	if p.Recurrence != nil {
		rule := recurrence.Normalize(*p.Recurrence)
		if err := recurrence.Validate(rule); err != nil {
			return e, err
		}
		if rule == "" {
			e.Recurrence = nil
		} else {
			e.Recurrence = &rule
		}
	}
	if p.StartTime != nil || p.EndTime != nil {
		if err := ValidateRange(e.StartTime, e.EndTime); err != nil {
			return e, err
		}
	}
	return e, nil
}

// DeleteEvent permanently removes an event.
func (l *Ledger) DeleteEvent(ctx context.Context, calendarID, eventID, actorID string) error {
	cal, current, err := l.resolveEvent(ctx, calendarID, eventID)
	if err != nil {
		return err
	}
	if err := l.authorizeMutation(cal, current, actorID); err != nil {
		return err
	}

	if err := l.do(ctx, func(ctx context.Context) error { return l.events.Delete(ctx, eventID) }); err != nil {
		return err
	}

	l.logger.Info("event deleted", "calendar_id", calendarID, "event_id", eventID, "actor_id", actorID)
	change := notify.ChangeFor(notify.EventDeleted, cal, actorID)
	change.EventID = eventID
	change.Title = current.Title
	l.publisher.Publish(ctx, change)
	return nil
}

// ListEvents returns the events of a calendar ordered by start time. Events
// whose calendar disappeared after the existence check are filtered out.
func (l *Ledger) ListEvents(ctx context.Context, calendarID string) ([]models.Event, error) {
	if _, err := l.calendars.ResolveCalendar(ctx, calendarID); err != nil {
		return nil, err
	}

	var events []models.Event
	err := l.do(ctx, func(ctx context.Context) error {
		var err error
		events, err = l.events.ListByCalendar(ctx, calendarID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// ListEventsInWindow returns events on the given calendars that may intersect
// [from, to), including recurring events that started earlier.
func (l *Ledger) ListEventsInWindow(ctx context.Context, calendarIDs []string, from, to time.Time) ([]models.Event, error) {
	var events []models.Event
	err := l.do(ctx, func(ctx context.Context) error {
		var err error
		events, err = l.events.ListInWindow(ctx, calendarIDs, from, to)
		return err
	})
	return events, err
}

// ValidateRange enforces minute precision and start < end.
func ValidateRange(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return apperr.InvalidInput("startTime and endTime are required")
	}
	if !IsMinutePrecision(start) || !IsMinutePrecision(end) {
		return apperr.InvalidInput("Times must have minute precision")
	}
	if !start.Before(end) {
		return apperr.New(apperr.KindInvalidTimeRange, "startTime must be before endTime")
	}
	return nil
}

// IsMinutePrecision reports whether t has no seconds or sub-second component.
func IsMinutePrecision(t time.Time) bool {
	return t.Second() == 0 && t.Nanosecond() == 0
}
