package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/SarveshMina/CAD-gcw-backend/internal/apperr"
	"github.com/SarveshMina/CAD-gcw-backend/internal/storage/models"
)

// EventRepository provides data access for calendar events.
type EventRepository struct {
	BaseRepository
}

// NewEventRepository creates a new event repository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const eventColumns = `id, calendar_id, title, description, start_time, start_offset, end_time, end_offset,
	creator_id, updated_by, locked, recurrence, idempotency_key, version, created_at, updated_at`

// calendarExists restricts a statement to events whose calendar row is still present.
const calendarExists = `EXISTS (SELECT 1 FROM calendars c WHERE c.id = events.calendar_id)`

// eventRow is the persisted shape of an event: times in UTC plus the
// caller's original offsets.
type eventRow struct {
	ID             string    `db:"id"`
	CalendarID     string    `db:"calendar_id"`
	Title          string    `db:"title"`
	Description    string    `db:"description"`
	StartTime      time.Time `db:"start_time"`
	StartOffset    int       `db:"start_offset"`
	EndTime        time.Time `db:"end_time"`
	EndOffset      int       `db:"end_offset"`
	CreatorID      string    `db:"creator_id"`
	UpdatedBy      string    `db:"updated_by"`
	Locked         bool      `db:"locked"`
	Recurrence     *string   `db:"recurrence"`
	IdempotencyKey *string   `db:"idempotency_key"`
	Version        int64     `db:"version"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func toEventRow(e *models.Event) eventRow {
	_, startOff := e.StartTime.Zone()
	_, endOff := e.EndTime.Zone()
	return eventRow{
		ID:             e.ID,
		CalendarID:     e.CalendarID,
		Title:          e.Title,
		Description:    e.Description,
		StartTime:      e.StartTime.UTC(),
		StartOffset:    startOff,
		EndTime:        e.EndTime.UTC(),
		EndOffset:      endOff,
		CreatorID:      e.CreatorID,
		UpdatedBy:      e.UpdatedBy,
		Locked:         e.Locked,
		Recurrence:     e.Recurrence,
		IdempotencyKey: e.IdempotencyKey,
		Version:        e.Version,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func (row eventRow) toModel() models.Event {
	return models.Event{
		ID:             row.ID,
		CalendarID:     row.CalendarID,
		Title:          row.Title,
		Description:    row.Description,
		StartTime:      row.StartTime.In(zoneFor(row.StartOffset)),
		EndTime:        row.EndTime.In(zoneFor(row.EndOffset)),
		CreatorID:      row.CreatorID,
		UpdatedBy:      row.UpdatedBy,
		Locked:         row.Locked,
		Recurrence:     row.Recurrence,
		IdempotencyKey: row.IdempotencyKey,
		Version:        row.Version,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
}

func zoneFor(offset int) *time.Location {
	if offset == 0 {
		return time.UTC
	}
	return time.FixedZone("", offset)
}

// CreateIfCalendarExists inserts an event in a single statement that only
// succeeds while the owning calendar row exists. A missing calendar fails with
// not_found; a reused idempotency key fails with already_exists.
func (r *EventRepository) CreateIfCalendarExists(ctx context.Context, e *models.Event) error {
	db, err := r.conn()
	if err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = GenerateID()
	}
	e.Version = 1
	e.CreatedAt = r.Now()
	e.UpdatedAt = e.CreatedAt
	row := toEventRow(e)

	result, err := db.ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM calendars WHERE id = ?)
	`,
		row.ID, row.CalendarID, row.Title, row.Description,
		row.StartTime, row.StartOffset, row.EndTime, row.EndOffset,
		row.CreatorID, row.UpdatedBy, row.Locked, row.Recurrence, row.IdempotencyKey,
		row.Version, row.CreatedAt, row.UpdatedAt,
		row.CalendarID,
	)
	if isUniqueViolation(err) {
		return apperr.New(apperr.KindAlreadyExists, "Event already exists")
	}
	if err != nil {
		return classify("inserting event", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return apperr.NotFound("Calendar not found")
	}
	return nil
}

// GetByID retrieves an event by ID. Returns nil, nil when absent.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*models.Event, error) {
	return r.getOne(ctx, "querying event", `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
}

// GetByIdempotencyKey retrieves the event created on a calendar with the given key.
func (r *EventRepository) GetByIdempotencyKey(ctx context.Context, calendarID, key string) (*models.Event, error) {
	return r.getOne(ctx, "querying event by idempotency key",
		`SELECT `+eventColumns+` FROM events WHERE calendar_id = ? AND idempotency_key = ?`, calendarID, key)
}

func (r *EventRepository) getOne(ctx context.Context, op, query string, args ...any) (*models.Event, error) {
	db, err := r.conn()
	if err != nil {
		return nil, err
	}

	var row eventRow
	err = db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(op, err)
	}
	e := row.toModel()
	return &e, nil
}

// ListByCalendar retrieves the events of a calendar ordered by start time.
// Events whose calendar row has vanished are never returned.
func (r *EventRepository) ListByCalendar(ctx context.Context, calendarID string) ([]models.Event, error) {
	return r.list(ctx, "querying events", `
		SELECT `+eventColumns+` FROM events
		WHERE calendar_id = ? AND `+calendarExists+`
		ORDER BY start_time, id
	`, calendarID)
}

// ListInWindow retrieves events on the given calendars that may intersect
// [from, to). Recurring events starting before the window end are always
// included so the caller can expand them.
func (r *EventRepository) ListInWindow(ctx context.Context, calendarIDs []string, from, to time.Time) ([]models.Event, error) {
	if len(calendarIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT `+eventColumns+` FROM events
		WHERE calendar_id IN (?) AND start_time < ? AND (end_time > ? OR recurrence IS NOT NULL)
		  AND `+calendarExists+`
		ORDER BY start_time, id
	`, calendarIDs, to.UTC(), from.UTC())
	if err != nil {
		return nil, classify("building window query", err)
	}
	return r.list(ctx, "querying events in window", query, args...)
}

func (r *EventRepository) list(ctx context.Context, op, query string, args ...any) ([]models.Event, error) {
	db, err := r.conn()
	if err != nil {
		return nil, err
	}

	var rows []eventRow
	if err := db.SelectContext(ctx, &rows, db.Rebind(query), args...); err != nil {
		return nil, classify(op, err)
	}

	events := make([]models.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toModel())
	}
	return events, nil
}

// Update writes the mutable fields of e if its stored version still equals
// expectedVersion and its calendar still exists. Otherwise it fails with
// conflict. On success e carries the new version.
func (r *EventRepository) Update(ctx context.Context, e *models.Event, expectedVersion int64) error {
	db, err := r.conn()
	if err != nil {
		return err
	}
	e.UpdatedAt = r.Now()
	row := toEventRow(e)

	result, err := db.ExecContext(ctx, `
		UPDATE events SET
			title = ?, description = ?, start_time = ?, start_offset = ?, end_time = ?, end_offset = ?,
			locked = ?, recurrence = ?, updated_by = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND `+calendarExists,
		row.Title, row.Description, row.StartTime, row.StartOffset, row.EndTime, row.EndOffset,
		row.Locked, row.Recurrence, row.UpdatedBy, row.UpdatedAt,
		row.ID, expectedVersion,
	)
	if err != nil {
		return classify("updating event", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return apperr.Conflict("event %s was modified concurrently", e.ID)
	}
	e.Version = expectedVersion + 1
	return nil
}

// Delete permanently removes an event. A missing event fails with not_found.
func (r *EventRepository) Delete(ctx context.Context, id string) error {
	db, err := r.conn()
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return classify("deleting event", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return apperr.NotFound("Event not found")
	}
	return nil
}

// DeleteByCalendar removes every event of a calendar and returns how many were removed.
func (r *EventRepository) DeleteByCalendar(ctx context.Context, calendarID string) (int64, error) {
	db, err := r.conn()
	if err != nil {
		return 0, err
	}

	result, err := db.ExecContext(ctx, `DELETE FROM events WHERE calendar_id = ?`, calendarID)
	if err != nil {
		return 0, classify("deleting calendar events", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// DistinctCalendarIDs returns every calendar ID referenced by at least one event.
func (r *EventRepository) DistinctCalendarIDs(ctx context.Context) ([]string, error) {
	db, err := r.conn()
	if err != nil {
		return nil, err
	}

	var ids []string
	if err := db.SelectContext(ctx, &ids, `SELECT DISTINCT calendar_id FROM events ORDER BY calendar_id`); err != nil {
		return nil, classify("listing event calendars", err)
	}
	return ids, nil
}
