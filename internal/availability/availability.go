// Package availability derives busy intervals for users from the events on
// their home and group calendars. It never writes.
package availability

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/rdleal/intervalst/interval"

	"github.com/SarveshMina/CAD-gcw-backend/internal/apperr"
	"github.com/SarveshMina/CAD-gcw-backend/internal/recurrence"
	"github.com/SarveshMina/CAD-gcw-backend/internal/storage/models"
)

// DefaultMaxWindow bounds a single availability query.
const DefaultMaxWindow = 31 * 24 * time.Hour

// UserDirectory resolves users and their home calendar.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// CalendarDirectory lists group calendars and answers sharing questions.
type CalendarDirectory interface {
	ListGroupsForMember(ctx context.Context, userID string) ([]models.Calendar, error)
	SharesGroup(ctx context.Context, userA, userB string) (bool, error)
}

// EventSource reads the events of several calendars that may intersect a window.
type EventSource interface {
	ListEventsInWindow(ctx context.Context, calendarIDs []string, from, to time.Time) ([]models.Event, error)
}

// Query describes one availability request.
type Query struct {
	RequesterID string
	UserIDs     []string
	Start       time.Time
	End         time.Time
	// AllBusy additionally computes the spans during which every user is busy.
	AllBusy bool
}

// Result holds merged busy intervals per user, ordered by start.
type Result struct {
	Users   map[string][]models.BusyInterval `json:"users"`
	AllBusy []models.BusyInterval            `json:"allBusy,omitempty"`
}

// Aggregator computes availability.
type Aggregator struct {
	users            UserDirectory
	calendars        CalendarDirectory
	events           EventSource
	restrictToShared bool
	maxWindow        time.Duration
	maxOccurrences   int
	retry            apperr.RetryPolicy
	logger           *slog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithRestrictToShared controls whether a requester may only query users it
// shares a group calendar with.
func WithRestrictToShared(on bool) Option {
	return func(a *Aggregator) { a.restrictToShared = on }
}

// WithMaxWindow sets the largest allowed query window.
func WithMaxWindow(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.maxWindow = d
		}
	}
}

// WithMaxOccurrences caps how many instances of one recurring event are expanded.
func WithMaxOccurrences(n int) Option {
	return func(a *Aggregator) { a.maxOccurrences = n }
}

// WithRetryPolicy overrides the upstream retry policy.
func WithRetryPolicy(p apperr.RetryPolicy) Option {
	return func(a *Aggregator) { a.retry = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// New creates an aggregator. Queries are restricted to shared calendars unless
// WithRestrictToShared(false) is given.
func New(users UserDirectory, calendars CalendarDirectory, events EventSource, opts ...Option) *Aggregator {
	a := &Aggregator{
		users:            users,
		calendars:        calendars,
		events:           events,
		restrictToShared: true,
		maxWindow:        DefaultMaxWindow,
		maxOccurrences:   recurrence.DefaultMaxOccurrences,
		retry:            apperr.DefaultRetryPolicy,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) do(ctx context.Context, fn func(ctx context.Context) error) error {
	return apperr.Retry(ctx, a.retry, fn)
}

// ComputeAvailability returns the busy intervals of every requested user
// within [q.Start, q.End).
func (a *Aggregator) ComputeAvailability(ctx context.Context, q Query) (*Result, error) {
	if q.Start.IsZero() || q.End.IsZero() {
		return nil, apperr.InvalidInput("windowStart and windowEnd are required")
	}
	if !q.Start.Before(q.End) {
		return nil, apperr.New(apperr.KindInvalidTimeRange, "windowStart must be before windowEnd")
	}
	if q.End.Sub(q.Start) > a.maxWindow {
		return nil, apperr.InvalidInput("Availability window must not exceed %s", a.maxWindow)
	}

	userIDs := models.NewMemberSet(q.UserIDs...)
	if len(userIDs) == 0 {
		return nil, apperr.InvalidInput("userIds is required")
	}

	result := &Result{Users: make(map[string][]models.BusyInterval, len(userIDs))}
	for _, id := range userIDs {
		if err := a.authorize(ctx, q.RequesterID, id); err != nil {
			return nil, err
		}
		busy, err := a.busyFor(ctx, id, q.Start, q.End)
		if err != nil {
			return nil, err
		}
		result.Users[id] = busy
	}

	if q.AllBusy {
		var all []models.BusyInterval
		for i, id := range userIDs {
			if i == 0 {
				all = result.Users[id]
				continue
			}
			all = Intersect(all, result.Users[id])
		}
		result.AllBusy = all
	}

	a.logger.Debug("availability computed", "requester_id", q.RequesterID, "users", len(userIDs),
		"window_start", q.Start, "window_end", q.End)
	return result, nil
}

func (a *Aggregator) authorize(ctx context.Context, requesterID, userID string) error {
	if !a.restrictToShared || requesterID == userID {
		return nil
	}
	if requesterID == "" {
		return apperr.Forbidden("Requester is required")
	}
	var shared bool
	err := a.do(ctx, func(ctx context.Context) error {
		var err error
		shared, err = a.calendars.SharesGroup(ctx, requesterID, userID)
		return err
	})
	if err != nil {
		return err
	}
	if !shared {
		return apperr.Forbidden("You do not share a calendar with user %s", userID)
	}
	return nil
}

// calendarsFor returns the home calendar of userID followed by its group calendars.
func (a *Aggregator) calendarsFor(ctx context.Context, userID string) ([]string, error) {
	var (
		u      *models.User
		groups []models.Calendar
	)
	err := a.do(ctx, func(ctx context.Context) error {
		var err error
		if u, err = a.users.GetByID(ctx, userID); err != nil || u == nil {
			return err
		}
		groups, err = a.calendars.ListGroupsForMember(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperr.NotFound("User not found")
	}

	ids := make([]string, 0, len(groups)+1)
	ids = append(ids, u.HomeCalendarID)
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	return ids, nil
}

func (a *Aggregator) busyFor(ctx context.Context, userID string, from, to time.Time) ([]models.BusyInterval, error) {
	calendarIDs, err := a.calendarsFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	var events []models.Event
	err = a.do(ctx, func(ctx context.Context) error {
		var err error
		events, err = a.events.ListEventsInWindow(ctx, calendarIDs, from, to)
		return err
	})
	if err != nil {
		return nil, err
	}

	tree := interval.NewSearchTree[models.BusyInterval](func(x, y time.Time) int { return x.Compare(y) })
	for i := range events {
		e := &events[i]
		rule := ""
		if e.IsRecurring() {
			rule = *e.Recurrence
		}
		occurrences, err := recurrence.Expand(e.StartTime, e.Duration(), rule, from, to, a.maxOccurrences)
		if err != nil {
			// A stored rule was validated on write; skip rather than fail the whole query.
			a.logger.Warn("skipping event with unusable recurrence", "event_id", e.ID, "error", err)
			continue
		}
		for _, o := range occurrences {
			span := models.BusyInterval{Start: o.Start.UTC(), End: o.End.UTC()}
			if err := tree.Insert(span.Start, span.End, span); err != nil {
				return nil, fmt.Errorf("indexing busy interval: %w", err)
			}
		}
	}

	// The tree matches closed intervals; spans that only touch the window edge
	// are dropped by Clip.
	spans, _ := tree.AllIntersections(from.UTC(), to.UTC())
	clipped := make([]models.BusyInterval, 0, len(spans))
	for _, s := range spans {
		if c, ok := Clip(s, from, to); ok {
			clipped = append(clipped, c)
		}
	}
	return Merge(clipped), nil
}

// Clip restricts span to [from, to). It reports false when nothing remains.
func Clip(span models.BusyInterval, from, to time.Time) (models.BusyInterval, bool) {
	from, to = from.UTC(), to.UTC()
	if span.Start.Before(from) {
		span.Start = from
	}
	if span.End.After(to) {
		span.End = to
	}
	return span, span.Start.Before(span.End)
}

// Merge returns the union of spans as maximal, non-touching intervals ordered
// by start. Spans where next.Start <= current.End are joined.
func Merge(spans []models.BusyInterval) []models.BusyInterval {
	if len(spans) == 0 {
		return []models.BusyInterval{}
	}
	sorted := append([]models.BusyInterval(nil), spans...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].End.Before(sorted[j].End)
		}
		return sorted[i].Start.Before(sorted[j].Start)
	})

	out := []models.BusyInterval{sorted[0]}
	for _, s := range sorted[1:] {
		cur := &out[len(out)-1]
		if !s.Start.After(cur.End) {
			if s.End.After(cur.End) {
				cur.End = s.End
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

// Intersect returns the spans covered by both a and b. Both inputs must be
// merged and ordered.
func Intersect(a, b []models.BusyInterval) []models.BusyInterval {
	out := []models.BusyInterval{}
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		start := a[i].Start
		if b[j].Start.After(start) {
			start = b[j].Start
		}
		end := a[i].End
		if b[j].End.Before(end) {
			end = b[j].End
		}
		if start.Before(end) {
			out = append(out, models.BusyInterval{Start: start, End: end})
		}
		if a[i].End.Before(b[j].End) {
			i++
		} else {
			j++
		}
	}
	return out
}
