package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/SarveshMina/CAD-gcw-backend/internal/apperr"
	"github.com/SarveshMina/CAD-gcw-backend/internal/storage/models"
)

// CalendarRepository provides data access for personal and group calendars.
type CalendarRepository struct {
	BaseRepository
}

// NewCalendarRepository creates a new calendar repository.
func NewCalendarRepository(db *DB) *CalendarRepository {
	return &CalendarRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const calendarColumns = `id, kind, owner_id, name, is_home, members, version, updated_by, created_at, updated_at`

// memberOf matches calendars whose owner or member set contains the bound user ID.
const memberOf = `(owner_id = ? OR EXISTS (SELECT 1 FROM json_each(calendars.members) WHERE json_each.value = ?))`

// Create inserts a new calendar. A second home calendar for the same owner
// fails with already_exists.
func (r *CalendarRepository) Create(ctx context.Context, cal *models.Calendar) error {
	db, err := r.conn()
	if err != nil {
		return err
	}
	if cal.ID == "" {
		cal.ID = GenerateID()
	}
	if cal.Members == nil {
		cal.Members = models.MemberSet{}
	}
	cal.Version = 1
	cal.CreatedAt = r.Now()
	cal.UpdatedAt = cal.CreatedAt

	_, err = db.NamedExecContext(ctx, `
		INSERT INTO calendars (`+calendarColumns+`)
		VALUES (:id, :kind, :owner_id, :name, :is_home, :members, :version, :updated_by, :created_at, :updated_at)
	`, cal)
	if isUniqueViolation(err) {
		if cal.IsHome {
			return apperr.New(apperr.KindAlreadyExists, "User already has a home calendar")
		}
		return apperr.New(apperr.KindAlreadyExists, "Calendar already exists")
	}
	return classify("inserting calendar", err)
}

// GetByID retrieves a calendar by its ID. Returns nil, nil when absent.
func (r *CalendarRepository) GetByID(ctx context.Context, id string) (*models.Calendar, error) {
	return r.getOne(ctx, "querying calendar", `SELECT `+calendarColumns+` FROM calendars WHERE id = ?`, id)
}

// GetHomeByOwner retrieves the home calendar of a user. Returns nil, nil when absent.
func (r *CalendarRepository) GetHomeByOwner(ctx context.Context, ownerID string) (*models.Calendar, error) {
	return r.getOne(ctx, "querying home calendar",
		`SELECT `+calendarColumns+` FROM calendars WHERE owner_id = ? AND is_home = 1`, ownerID)
}

func (r *CalendarRepository) getOne(ctx context.Context, op, query string, args ...any) (*models.Calendar, error) {
	db, err := r.conn()
	if err != nil {
		return nil, err
	}

	cal := &models.Calendar{}
	err = db.GetContext(ctx, cal, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return cal, nil
}

// ListByOwner retrieves the personal calendars owned by a user, home first.
func (r *CalendarRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.Calendar, error) {
	return r.list(ctx, "querying personal calendars", `
		SELECT `+calendarColumns+` FROM calendars
		WHERE kind = 'personal' AND owner_id = ?
		ORDER BY is_home DESC, name, id
	`, ownerID)
}

// ListGroupsForMember retrieves the group calendars a user owns or belongs to.
func (r *CalendarRepository) ListGroupsForMember(ctx context.Context, userID string) ([]models.Calendar, error) {
	return r.list(ctx, "querying group calendars", `
		SELECT `+calendarColumns+` FROM calendars
		WHERE kind = 'group' AND `+memberOf+`
		ORDER BY name, id
	`, userID, userID)
}

func (r *CalendarRepository) list(ctx context.Context, op, query string, args ...any) ([]models.Calendar, error) {
	db, err := r.conn()
	if err != nil {
		return nil, err
	}

	var calendars []models.Calendar
	if err := db.SelectContext(ctx, &calendars, query, args...); err != nil {
		return nil, classify(op, err)
	}
	return calendars, nil
}

// UpdateMembers replaces the member set of a group calendar if its version
// still equals expectedVersion. A stale version fails with conflict. On
// success cal carries the new version.
func (r *CalendarRepository) UpdateMembers(ctx context.Context, cal *models.Calendar, members models.MemberSet, expectedVersion int64, actorID string) error {
	db, err := r.conn()
	if err != nil {
		return err
	}
	now := r.Now()

	result, err := db.ExecContext(ctx, `
		UPDATE calendars SET
			members = ?, version = version + 1, updated_by = ?, updated_at = ?
		WHERE id = ? AND kind = 'group' AND version = ?
	`, members, actorID, now, cal.ID, expectedVersion)
	if err != nil {
		return classify("updating calendar members", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return apperr.Conflict("calendar %s was modified concurrently", cal.ID)
	}

	cal.Members = members
	cal.Version = expectedVersion + 1
	cal.UpdatedBy = actorID
	cal.UpdatedAt = now
	return nil
}

// Delete removes a non-home calendar if its version still equals
// expectedVersion. Home calendars are never matched.
func (r *CalendarRepository) Delete(ctx context.Context, id string, expectedVersion int64) error {
	db, err := r.conn()
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx,
		`DELETE FROM calendars WHERE id = ? AND version = ? AND is_home = 0`, id, expectedVersion)
	if err != nil {
		return classify("deleting calendar", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return apperr.Conflict("calendar %s was modified concurrently", id)
	}
	return nil
}

// ExistingIDs returns the subset of ids that still reference a calendar.
func (r *CalendarRepository) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	db, err := r.conn()
	if err != nil {
		return nil, err
	}

	query, args, err := sqlx.In(`SELECT id FROM calendars WHERE id IN (?)`, ids)
	if err != nil {
		return nil, classify("building calendar lookup", err)
	}

	var existing []string
	if err := db.SelectContext(ctx, &existing, db.Rebind(query), args...); err != nil {
		return nil, classify("querying calendars", err)
	}
	for _, id := range existing {
		found[id] = true
	}
	return found, nil
}

// SharesGroup reports whether both users participate in at least one common
// group calendar.
func (r *CalendarRepository) SharesGroup(ctx context.Context, userA, userB string) (bool, error) {
	db, err := r.conn()
	if err != nil {
		return false, err
	}

	var shared bool
	err = db.GetContext(ctx, &shared, `
		SELECT EXISTS (
			SELECT 1 FROM calendars
			WHERE kind = 'group' AND `+memberOf+` AND `+memberOf+`
		)
	`, userA, userA, userB, userB)
	if err != nil {
		return false, classify("checking shared calendars", err)
	}
	return shared, nil
}
