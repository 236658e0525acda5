package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/SarveshMina/CAD-gcw-backend/internal/apperr"
	"github.com/SarveshMina/CAD-gcw-backend/internal/storage/models"
)

// UserRepository provides data access for identity records.
type UserRepository struct {
	BaseRepository
}

// NewUserRepository creates a new user repository.
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const userColumns = `id, username, email, password_hash, home_calendar_id, created_at`

// Create inserts a new user. ID and HomeCalendarID must already be assigned.
func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	db, err := r.conn()
	if err != nil {
		return err
	}
	if u.ID == "" {
		u.ID = GenerateID()
	}
	u.CreatedAt = r.Now()

	_, err = db.NamedExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (:id, :username, :email, :password_hash, :home_calendar_id, :created_at)
	`, u)
	if isUniqueViolation(err) {
		return apperr.New(apperr.KindAlreadyExists, "Username already exists")
	}
	return classify("inserting user", err)
}

// GetByID retrieves a user by ID. Returns nil, nil when absent.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, "querying user", `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// GetByUsername retrieves a user by exact, case-sensitive username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getOne(ctx, "querying user by username", `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

func (r *UserRepository) getOne(ctx context.Context, op, query string, arg any) (*models.User, error) {
	db, err := r.conn()
	if err != nil {
		return nil, err
	}

	u := &models.User{}
	err = db.GetContext(ctx, u, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return u, nil
}

// ExistingIDs returns the subset of ids that belong to registered users.
func (r *UserRepository) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	db, err := r.conn()
	if err != nil {
		return nil, err
	}

	query, args, err := sqlx.In(`SELECT id FROM users WHERE id IN (?)`, ids)
	if err != nil {
		return nil, classify("building user lookup", err)
	}

	var existing []string
	if err := db.SelectContext(ctx, &existing, db.Rebind(query), args...); err != nil {
		return nil, classify("querying users", err)
	}
	for _, id := range existing {
		found[id] = true
	}
	return found, nil
}

// Delete removes a user. Used to compensate a registration whose home
// calendar could not be written.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	db, err := r.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	return classify("deleting user", err)
}

// ListHomeRefs returns every user together with its assigned home calendar ID.
func (r *UserRepository) ListHomeRefs(ctx context.Context) ([]models.HomeRef, error) {
	db, err := r.conn()
	if err != nil {
		return nil, err
	}

	var refs []models.HomeRef
	if err := db.SelectContext(ctx, &refs, `SELECT id, home_calendar_id, created_at FROM users ORDER BY created_at`); err != nil {
		return nil, classify("listing home calendar refs", err)
	}
	return refs, nil
}
