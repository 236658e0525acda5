package calendar

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/SarveshMina/CAD-gcw-backend/internal/apperr"
	"github.com/SarveshMina/CAD-gcw-backend/internal/notify"
	"github.com/SarveshMina/CAD-gcw-backend/internal/storage"
	"github.com/SarveshMina/CAD-gcw-backend/internal/storage/models"
)

type recordingPublisher struct {
	mu      sync.Mutex
	changes []notify.Change
}

func (p *recordingPublisher) Publish(ctx context.Context, c notify.Change) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, c)
}

type fixture struct {
	db        *storage.DB
	users     *storage.UserRepository
	calendars *storage.CalendarRepository
	events    *storage.EventRepository
	registry  *Registry
	published *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "calendar.db"), storage.Options{})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.RunMigrations(context.Background(), db, nil); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	f := &fixture{
		db:        db,
		users:     storage.NewUserRepository(db),
		calendars: storage.NewCalendarRepository(db),
		events:    storage.NewEventRepository(db),
		published: &recordingPublisher{},
	}
	f.registry = NewRegistry(f.users, f.calendars, f.events,
		WithPublisher(f.published),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return f
}

// register stores a user and its home calendar the way registration does.
func (f *fixture) register(t *testing.T, name string) *models.User {
	t.Helper()
	u := &models.User{Username: name, PasswordHash: "x", HomeCalendarID: storage.GenerateID()}
	if err := f.users.Create(context.Background(), u); err != nil {
		t.Fatalf("creating user %s: %v", name, err)
	}
	if _, err := f.registry.CreateHomeCalendar(context.Background(), u.ID); err != nil {
		t.Fatalf("creating home calendar for %s: %v", name, err)
	}
	return u
}

func (f *fixture) members(t *testing.T, calendarID string) models.MemberSet {
	t.Helper()
	cal, err := f.registry.ResolveCalendar(context.Background(), calendarID)
	if err != nil {
		t.Fatalf("ResolveCalendar: %v", err)
	}
	return cal.Members
}

func TestHomeCalendarIsUniqueAndUndeletable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")
	bob := f.register(t, "bobby")

	id, err := f.registry.CreateHomeCalendar(ctx, alice.ID)
	if !apperr.Is(err, apperr.KindAlreadyExists) {
		t.Fatalf("second home calendar error = %v, want already_exists", err)
	}
	if id != alice.HomeCalendarID {
		t.Errorf("existing home id = %q, want %q", id, alice.HomeCalendarID)
	}

	// Deleting a home calendar fails the same way whoever asks.
	for _, actor := range []string{alice.ID, bob.ID} {
		err := f.registry.DeletePersonalCalendar(ctx, actor, alice.HomeCalendarID)
		if !apperr.Is(err, apperr.KindInvalidOperation) {
			t.Errorf("delete home by %s error = %v, want invalid_operation", actor, err)
		}
	}

	owned, err := f.calendars.ListByOwner(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	homes := 0
	for _, c := range owned {
		if c.IsHome {
			homes++
		}
	}
	if homes != 1 {
		t.Errorf("alice has %d home calendars, want 1", homes)
	}
}

func TestCreatePersonalCalendar(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")

	if _, err := f.registry.CreatePersonalCalendar(ctx, alice.ID, "   "); !apperr.Is(err, apperr.KindInvalidInput) {
		t.Errorf("blank name error = %v, want invalid_input", err)
	}
	if _, err := f.registry.CreatePersonalCalendar(ctx, "ghost", "Work"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("unknown owner error = %v, want not_found", err)
	}

	id, err := f.registry.CreatePersonalCalendar(ctx, alice.ID, "Work")
	if err != nil {
		t.Fatalf("CreatePersonalCalendar: %v", err)
	}
	cal, err := f.registry.ResolveCalendar(ctx, id)
	if err != nil {
		t.Fatalf("ResolveCalendar: %v", err)
	}
	if cal.IsHome || cal.OwnerID != alice.ID || cal.Kind != models.CalendarPersonal {
		t.Errorf("calendar = %+v", cal)
	}
}

func TestCreateGroupCalendarFiltersUnknownMembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")
	bob := f.register(t, "bobby")

	res, err := f.registry.CreateGroupCalendar(ctx, alice.ID, "Team", []string{bob.ID, bob.ID, "ghost"})
	if err != nil {
		t.Fatalf("CreateGroupCalendar: %v", err)
	}
	want := models.NewMemberSet(alice.ID, bob.ID)
	if !reflect.DeepEqual(models.MemberSet(res.Members), want) {
		t.Errorf("members = %v, want %v", res.Members, want)
	}
	if !reflect.DeepEqual(res.Dropped, []string{"ghost"}) {
		t.Errorf("dropped = %v, want [ghost]", res.Dropped)
	}
}

func TestAddMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")
	bob := f.register(t, "bobby")
	carol := f.register(t, "carol")

	group, err := f.registry.CreateGroupCalendar(ctx, alice.ID, "Team", nil)
	if err != nil {
		t.Fatalf("CreateGroupCalendar: %v", err)
	}

	res, err := f.registry.AddMember(ctx, group.CalendarID, alice.ID, bob.ID)
	if err != nil || !res.Changed {
		t.Fatalf("AddMember = %+v, %v", res, err)
	}

	// Adding again is a no-op, not an error.
	res, err = f.registry.AddMember(ctx, group.CalendarID, alice.ID, bob.ID)
	if err != nil || res.Changed {
		t.Fatalf("repeated AddMember = %+v, %v", res, err)
	}
	if got := f.members(t, group.CalendarID); len(got) != 2 {
		t.Errorf("members = %v, want 2 without duplicates", got)
	}

	// A non-owner is forbidden and nothing changes.
	_, err = f.registry.AddMember(ctx, group.CalendarID, bob.ID, carol.ID)
	if !apperr.Is(err, apperr.KindForbidden) {
		t.Errorf("non-owner add error = %v, want forbidden", err)
	}
	if f.members(t, group.CalendarID).Contains(carol.ID) {
		t.Errorf("forbidden add changed the member set")
	}

	if _, err := f.registry.AddMember(ctx, group.CalendarID, alice.ID, "ghost"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("unknown target error = %v, want not_found", err)
	}
	if _, err := f.registry.AddMember(ctx, "missing", alice.ID, bob.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("unknown calendar error = %v, want not_found", err)
	}
	if _, err := f.registry.AddMember(ctx, alice.HomeCalendarID, alice.ID, bob.ID); !apperr.Is(err, apperr.KindInvalidOperation) {
		t.Errorf("add to personal calendar error = %v, want invalid_operation", err)
	}

	cal, _ := f.registry.ResolveCalendar(ctx, group.CalendarID)
	if cal.UpdatedBy != alice.ID {
		t.Errorf("updated_by = %q, want the acting owner", cal.UpdatedBy)
	}

	if len(f.published.changes) != 1 {
		t.Fatalf("published %d changes, want 1", len(f.published.changes))
	}
	change := f.published.changes[0]
	if change.Kind != notify.MemberAdded || change.TargetUserID != bob.ID {
		t.Errorf("change = %+v", change)
	}
}

func TestRemoveMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")
	bob := f.register(t, "bobby")

	group, err := f.registry.CreateGroupCalendar(ctx, alice.ID, "Team", []string{bob.ID})
	if err != nil {
		t.Fatalf("CreateGroupCalendar: %v", err)
	}

	// The owner can never be removed, whoever asks.
	for _, actor := range []string{alice.ID, bob.ID, "ghost"} {
		_, err := f.registry.RemoveMember(ctx, group.CalendarID, actor, alice.ID)
		if !apperr.Is(err, apperr.KindInvalidOperation) {
			t.Errorf("remove owner by %s error = %v, want invalid_operation", actor, err)
		}
	}

	if _, err := f.registry.RemoveMember(ctx, group.CalendarID, bob.ID, bob.ID); !apperr.Is(err, apperr.KindForbidden) {
		t.Errorf("non-owner remove error = %v, want forbidden", err)
	}

	res, err := f.registry.RemoveMember(ctx, group.CalendarID, alice.ID, bob.ID)
	if err != nil || !res.Changed {
		t.Fatalf("RemoveMember = %+v, %v", res, err)
	}
	if got := f.members(t, group.CalendarID); !reflect.DeepEqual(got, models.MemberSet{alice.ID}) {
		t.Errorf("members = %v, want only the owner", got)
	}

	res, err = f.registry.RemoveMember(ctx, group.CalendarID, alice.ID, bob.ID)
	if err != nil || res.Changed {
		t.Errorf("removing a non-member = %+v, %v; want no-op", res, err)
	}
}

func TestConcurrentMembershipChangesAreNotLost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")

	var targets []string
	for _, name := range []string{"user1", "user2", "user3", "user4", "user5", "user6"} {
		targets = append(targets, f.register(t, name).ID)
	}

	f.registry.conflictRetries = 50
	group, err := f.registry.CreateGroupCalendar(ctx, alice.ID, "Team", nil)
	if err != nil {
		t.Fatalf("CreateGroupCalendar: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(targets))
	for _, id := range targets {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := f.registry.AddMember(ctx, group.CalendarID, alice.ID, id); err != nil {
				errs <- err
			}
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("AddMember: %v", err)
	}

	got := f.members(t, group.CalendarID)
	if len(got) != len(targets)+1 {
		t.Errorf("members = %v, want %d entries", got, len(targets)+1)
	}
}

func TestDeleteCalendarCascadesEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")
	bob := f.register(t, "bobby")

	id, err := f.registry.CreatePersonalCalendar(ctx, alice.ID, "Work")
	if err != nil {
		t.Fatalf("CreatePersonalCalendar: %v", err)
	}
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	e := &models.Event{CalendarID: id, Title: "x", StartTime: start, EndTime: start.Add(time.Hour), CreatorID: alice.ID, UpdatedBy: alice.ID}
	if err := f.events.CreateIfCalendarExists(ctx, e); err != nil {
		t.Fatalf("creating event: %v", err)
	}

	if err := f.registry.DeletePersonalCalendar(ctx, bob.ID, id); !apperr.Is(err, apperr.KindForbidden) {
		t.Errorf("delete by non-owner error = %v, want forbidden", err)
	}
	if err := f.registry.DeletePersonalCalendar(ctx, alice.ID, id); err != nil {
		t.Fatalf("DeletePersonalCalendar: %v", err)
	}
	if _, err := f.registry.ResolveCalendar(ctx, id); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("deleted calendar still resolves: %v", err)
	}
	if left, _ := f.events.GetByID(ctx, e.ID); left != nil {
		t.Errorf("event survived calendar deletion")
	}
}

func TestDeleteGroupCalendar(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")
	bob := f.register(t, "bobby")

	group, err := f.registry.CreateGroupCalendar(ctx, alice.ID, "Team", []string{bob.ID})
	if err != nil {
		t.Fatalf("CreateGroupCalendar: %v", err)
	}
	if err := f.registry.DeleteGroupCalendar(ctx, bob.ID, group.CalendarID); !apperr.Is(err, apperr.KindForbidden) {
		t.Errorf("member delete error = %v, want forbidden", err)
	}
	if err := f.registry.DeletePersonalCalendar(ctx, alice.ID, group.CalendarID); !apperr.Is(err, apperr.KindInvalidOperation) {
		t.Errorf("personal delete of a group error = %v, want invalid_operation", err)
	}
	if err := f.registry.DeleteGroupCalendar(ctx, alice.ID, group.CalendarID); err != nil {
		t.Fatalf("DeleteGroupCalendar: %v", err)
	}

	cals, err := f.registry.ListCalendarsForUser(ctx, bob.ID)
	if err != nil {
		t.Fatalf("ListCalendarsForUser: %v", err)
	}
	if len(cals) != 1 || !cals[0].IsHome {
		t.Errorf("bob's calendars = %+v, want only his home", cals)
	}
}

func TestListCalendarsForUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")
	bob := f.register(t, "bobby")

	if _, err := f.registry.CreateGroupCalendar(ctx, alice.ID, "Team", []string{bob.ID}); err != nil {
		t.Fatalf("CreateGroupCalendar: %v", err)
	}
	if _, err := f.registry.CreatePersonalCalendar(ctx, bob.ID, "Gym"); err != nil {
		t.Fatalf("CreatePersonalCalendar: %v", err)
	}

	cals, err := f.registry.ListCalendarsForUser(ctx, bob.ID)
	if err != nil {
		t.Fatalf("ListCalendarsForUser: %v", err)
	}
	if len(cals) != 3 {
		t.Fatalf("got %d calendars, want 3: %+v", len(cals), cals)
	}
	if !cals[0].IsHome || cals[2].Kind != models.CalendarGroup {
		t.Errorf("unexpected order: %+v", cals)
	}

	if _, err := f.registry.ListCalendarsForUser(ctx, "ghost"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("unknown user error = %v, want not_found", err)
	}
}
