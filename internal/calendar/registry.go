// Package calendar owns personal and group calendars: the home calendar
// invariant, group membership and cascading deletes. It also carries the ICS
// import/export codec and the background repair scheduler.
package calendar

import (
	"context"
	"log/slog"
	"strings"

	"github.com/SarveshMina/CAD-gcw-backend/internal/apperr"
	"github.com/SarveshMina/CAD-gcw-backend/internal/notify"
	"github.com/SarveshMina/CAD-gcw-backend/internal/storage/models"
)

// HomeCalendarName is the name given to every user's home calendar.
const HomeCalendarName = "Home"

// UserDirectory resolves user identities.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)
}

// CalendarStore persists calendars with conditional writes.
type CalendarStore interface {
	Create(ctx context.Context, cal *models.Calendar) error
	GetByID(ctx context.Context, id string) (*models.Calendar, error)
	GetHomeByOwner(ctx context.Context, ownerID string) (*models.Calendar, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.Calendar, error)
	ListGroupsForMember(ctx context.Context, userID string) ([]models.Calendar, error)
	UpdateMembers(ctx context.Context, cal *models.Calendar, members models.MemberSet, expectedVersion int64, actorID string) error
	Delete(ctx context.Context, id string, expectedVersion int64) error
}

// EventPurger removes the events of a deleted calendar.
type EventPurger interface {
	DeleteByCalendar(ctx context.Context, calendarID string) (int64, error)
}

// Registry implements the calendar operations.
type Registry struct {
	users     UserDirectory
	calendars CalendarStore
	events    EventPurger
	publisher notify.Publisher
	retry     apperr.RetryPolicy
	// conflictRetries bounds how often a membership write is recomputed
	// after losing an optimistic concurrency race.
	conflictRetries int
	logger          *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithPublisher sets where committed membership changes are announced.
func WithPublisher(p notify.Publisher) Option {
	return func(r *Registry) { r.publisher = p }
}

// WithRetryPolicy overrides the upstream retry policy.
func WithRetryPolicy(p apperr.RetryPolicy) Option {
	return func(r *Registry) { r.retry = p }
}

// WithConflictRetries sets how many times a conflicting write is retried.
func WithConflictRetries(n int) Option {
	return func(r *Registry) { r.conflictRetries = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates a calendar registry.
func NewRegistry(users UserDirectory, calendars CalendarStore, events EventPurger, opts ...Option) *Registry {
	r := &Registry{
		users:           users,
		calendars:       calendars,
		events:          events,
		publisher:       notify.NewFanout(nil, nil),
		retry:           apperr.DefaultRetryPolicy,
		conflictRetries: 5,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.conflictRetries < 1 {
		r.conflictRetries = 1
	}
	return r
}

func (r *Registry) do(ctx context.Context, fn func(ctx context.Context) error) error {
	return apperr.Retry(ctx, r.retry, fn)
}

// ResolveCalendar returns the calendar with the given ID or not_found.
func (r *Registry) ResolveCalendar(ctx context.Context, calendarID string) (*models.Calendar, error) {
	var cal *models.Calendar
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		cal, err = r.calendars.GetByID(ctx, calendarID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if cal == nil {
		return nil, apperr.NotFound("Calendar not found")
	}
	return cal, nil
}

func (r *Registry) requireUser(ctx context.Context, userID string) (*models.User, error) {
	if userID == "" {
		return nil, apperr.InvalidInput("userId is required")
	}
	var u *models.User
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		u, err = r.users.GetByID(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperr.NotFound("User not found")
	}
	return u, nil
}

// CreateHomeCalendar creates the home calendar of userID under the ID fixed
// at registration. If the user already has a home calendar it fails with
// already_exists and returns the existing calendar's ID, so retried
// registrations can recognise their own earlier write.
func (r *Registry) CreateHomeCalendar(ctx context.Context, userID string) (string, error) {
	u, err := r.requireUser(ctx, userID)
	if err != nil {
		return "", err
	}

	cal := &models.Calendar{
		ID:        u.HomeCalendarID,
		Kind:      models.CalendarPersonal,
		OwnerID:   u.ID,
		Name:      HomeCalendarName,
		IsHome:    true,
		UpdatedBy: u.ID,
	}
	err = r.do(ctx, func(ctx context.Context) error {
		return r.calendars.Create(ctx, cal)
	})
	if apperr.Is(err, apperr.KindAlreadyExists) {
		existing, gerr := r.calendars.GetHomeByOwner(ctx, u.ID)
		if gerr != nil {
			return "", gerr
		}
		if existing != nil {
			return existing.ID, err
		}
	}
	if err != nil {
		return "", err
	}

	r.logger.Info("home calendar created", "user_id", u.ID, "calendar_id", cal.ID)
	return cal.ID, nil
}

// CreatePersonalCalendar creates a non-home personal calendar.
func (r *Registry) CreatePersonalCalendar(ctx context.Context, ownerID, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.InvalidInput("Calendar name is required")
	}
	if _, err := r.requireUser(ctx, ownerID); err != nil {
		return "", err
	}

	cal := &models.Calendar{
		Kind:      models.CalendarPersonal,
		OwnerID:   ownerID,
		Name:      name,
		UpdatedBy: ownerID,
	}
	if err := r.do(ctx, func(ctx context.Context) error { return r.calendars.Create(ctx, cal) }); err != nil {
		return "", err
	}

	r.logger.Info("personal calendar created", "owner_id", ownerID, "calendar_id", cal.ID)
	return cal.ID, nil
}

// GroupCreation is the result of CreateGroupCalendar.
type GroupCreation struct {
	CalendarID string   `json:"calendarId"`
	Members    []string `json:"members"`
	// Dropped lists requested members that are not registered users.
	Dropped []string `json:"droppedMembers,omitempty"`
}

// CreateGroupCalendar creates a group owned by ownerID. Unknown initial
// members are dropped and reported; the owner is always a member.
func (r *Registry) CreateGroupCalendar(ctx context.Context, ownerID, name string, initialMembers []string) (*GroupCreation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.InvalidInput("Calendar name is required")
	}
	if _, err := r.requireUser(ctx, ownerID); err != nil {
		return nil, err
	}

	requested := models.NewMemberSet(initialMembers...)
	var known map[string]bool
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		known, err = r.users.ExistingIDs(ctx, requested)
		return err
	})
	if err != nil {
		return nil, err
	}

	ids := []string{ownerID}
	var dropped []string
	for _, id := range requested {
		if known[id] {
			ids = append(ids, id)
		} else {
			dropped = append(dropped, id)
		}
	}

	cal := &models.Calendar{
		Kind:      models.CalendarGroup,
		OwnerID:   ownerID,
		Name:      name,
		Members:   models.NewMemberSet(ids...),
		UpdatedBy: ownerID,
	}
	if err := r.do(ctx, func(ctx context.Context) error { return r.calendars.Create(ctx, cal) }); err != nil {
		return nil, err
	}

	r.logger.Info("group calendar created",
		"owner_id", ownerID, "calendar_id", cal.ID, "members", len(cal.Members), "dropped", len(dropped))
	return &GroupCreation{CalendarID: cal.ID, Members: cal.Members, Dropped: dropped}, nil
}

// MembershipResult reports the outcome of AddMember or RemoveMember.
// Changed is false when the call was a no-op.
type MembershipResult struct {
	Calendar *models.Calendar
	Changed  bool
}

func (r *Registry) resolveGroup(ctx context.Context, calendarID string) (*models.Calendar, error) {
	cal, err := r.ResolveCalendar(ctx, calendarID)
	if err != nil {
		return nil, err
	}
	if !cal.IsGroup() {
		return nil, apperr.InvalidOperation("Calendar is not a group calendar")
	}
	return cal, nil
}

// AddMember adds targetUserID to a group calendar. Only the owner may add
// members; adding an existing member is a no-op.
func (r *Registry) AddMember(ctx context.Context, calendarID, actorID, targetUserID string) (*MembershipResult, error) {
	targetChecked := false

	for attempt := 0; attempt < r.conflictRetries; attempt++ {
		cal, err := r.resolveGroup(ctx, calendarID)
		if err != nil {
			return nil, err
		}
		if actorID != cal.OwnerID {
			return nil, apperr.Forbidden("Only the calendar owner can add members")
		}
		if !targetChecked {
			if _, err := r.requireUser(ctx, targetUserID); err != nil {
				return nil, err
			}
			targetChecked = true
		}

		members, added := cal.Members.With(targetUserID)
		if !added {
			return &MembershipResult{Calendar: cal, Changed: false}, nil
		}

		expected := cal.Version
		err = r.do(ctx, func(ctx context.Context) error {
			return r.calendars.UpdateMembers(ctx, cal, members, expected, actorID)
		})
		if apperr.Is(err, apperr.KindConflict) {
			r.logger.Debug("membership write conflict, retrying", "calendar_id", calendarID, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}

		r.logger.Info("member added", "calendar_id", calendarID, "actor_id", actorID, "user_id", targetUserID)
		change := notify.ChangeFor(notify.MemberAdded, cal, actorID)
		change.TargetUserID = targetUserID
		r.publisher.Publish(ctx, change)
		return &MembershipResult{Calendar: cal, Changed: true}, nil
	}

	return nil, apperr.Conflict("Calendar was modified concurrently, please retry")
}

// RemoveMember removes targetUserID from a group calendar. The owner can
// never be removed, whoever asks; otherwise only the owner may remove
// members. Removing a non-member is a no-op.
func (r *Registry) RemoveMember(ctx context.Context, calendarID, actorID, targetUserID string) (*MembershipResult, error) {
	for attempt := 0; attempt < r.conflictRetries; attempt++ {
		cal, err := r.resolveGroup(ctx, calendarID)
		if err != nil {
			return nil, err
		}
		if targetUserID == cal.OwnerID {
			return nil, apperr.InvalidOperation("Cannot remove the calendar owner")
		}
		if actorID != cal.OwnerID {
			return nil, apperr.Forbidden("Only the calendar owner can remove members")
		}

		members, removed := cal.Members.Without(targetUserID)
		if !removed {
			return &MembershipResult{Calendar: cal, Changed: false}, nil
		}

		expected := cal.Version
		err = r.do(ctx, func(ctx context.Context) error {
			return r.calendars.UpdateMembers(ctx, cal, members, expected, actorID)
		})
		if apperr.Is(err, apperr.KindConflict) {
			r.logger.Debug("membership write conflict, retrying", "calendar_id", calendarID, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}

		r.logger.Info("member removed", "calendar_id", calendarID, "actor_id", actorID, "user_id", targetUserID)
		change := notify.ChangeFor(notify.MemberRemoved, cal, actorID)
		change.TargetUserID = targetUserID
		r.publisher.Publish(ctx, change)
		return &MembershipResult{Calendar: cal, Changed: true}, nil
	}

	return nil, apperr.Conflict("Calendar was modified concurrently, please retry")
}

// DeletePersonalCalendar deletes a non-home personal calendar owned by
// userID, then its events. Home calendars can never be deleted.
func (r *Registry) DeletePersonalCalendar(ctx context.Context, userID, calendarID string) error {
	return r.deleteCalendar(ctx, userID, calendarID, func(cal *models.Calendar) error {
		if cal.IsGroup() {
			return apperr.InvalidOperation("Calendar is not a personal calendar")
		}
		if cal.IsHome {
			return apperr.InvalidOperation("Cannot delete the home calendar")
		}
		if cal.OwnerID != userID {
			return apperr.Forbidden("Only the calendar owner can delete this calendar")
		}
		return nil
	})
}

// DeleteGroupCalendar deletes a group calendar owned by actorID, then its events.
func (r *Registry) DeleteGroupCalendar(ctx context.Context, actorID, calendarID string) error {
	return r.deleteCalendar(ctx, actorID, calendarID, func(cal *models.Calendar) error {
		if !cal.IsGroup() {
			return apperr.InvalidOperation("Calendar is not a group calendar")
		}
		if cal.OwnerID != actorID {
			return apperr.Forbidden("Only the calendar owner can delete this calendar")
		}
		return nil
	})
}

// deleteCalendar removes the calendar row before its events so that readers
// observe not_found as soon as the delete commits. Events left behind by a
// failed cascade are invisible to readers and purged by the repair scheduler.
func (r *Registry) deleteCalendar(ctx context.Context, actorID, calendarID string, check func(*models.Calendar) error) error {
	var deleted *models.Calendar

	for attempt := 0; attempt < r.conflictRetries && deleted == nil; attempt++ {
		cal, err := r.ResolveCalendar(ctx, calendarID)
		if err != nil {
			return err
		}
		if err := check(cal); err != nil {
			return err
		}

		err = r.do(ctx, func(ctx context.Context) error {
			return r.calendars.Delete(ctx, cal.ID, cal.Version)
		})
		if apperr.Is(err, apperr.KindConflict) {
			continue
		}
		if err != nil {
			return err
		}
		deleted = cal
	}
	if deleted == nil {
		return apperr.Conflict("Calendar was modified concurrently, please retry")
	}

	var purged int64
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		purged, err = r.events.DeleteByCalendar(ctx, calendarID)
		return err
	})
	if err != nil {
		r.logger.Warn("cascading event delete failed, leaving for repair", "calendar_id", calendarID, "error", err)
	}

	r.logger.Info("calendar deleted", "calendar_id", calendarID, "actor_id", actorID, "events_removed", purged)
	r.publisher.Publish(ctx, notify.ChangeFor(notify.CalendarDeleted, deleted, actorID))
	return nil
}

// ListCalendarsForUser returns the personal calendars userID owns followed by
// the group calendars it belongs to.
func (r *Registry) ListCalendarsForUser(ctx context.Context, userID string) ([]models.Calendar, error) {
	if _, err := r.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	var owned, groups []models.Calendar
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		if owned, err = r.calendars.ListByOwner(ctx, userID); err != nil {
			return err
		}
		groups, err = r.calendars.ListGroupsForMember(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return append(owned, groups...), nil
}
