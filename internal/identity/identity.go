// Package identity registers users, verifies credentials and issues bearer tokens.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/SarveshMina/CAD-gcw-backend/internal/apperr"
	"github.com/SarveshMina/CAD-gcw-backend/internal/storage"
	"github.com/SarveshMina/CAD-gcw-backend/internal/storage/models"
)

const (
	MinUsernameLength = 5
	MaxUsernameLength = 15
	MinPasswordLength = 8
	MaxPasswordLength = 15
)

// UserStore is the persistence the identity service needs.
type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	Delete(ctx context.Context, id string) error
}

// HomeCalendars creates the home calendar of a freshly stored user.
type HomeCalendars interface {
	CreateHomeCalendar(ctx context.Context, userID string) (string, error)
}

// Service implements registration and login.
type Service struct {
	users      UserStore
	homes      HomeCalendars
	tokens     *TokenIssuer
	bcryptCost int
	logger     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithTokenIssuer enables bearer tokens on login.
func WithTokenIssuer(t *TokenIssuer) Option {
	return func(s *Service) { s.tokens = t }
}

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates an identity service.
func NewService(users UserStore, homes HomeCalendars, opts ...Option) *Service {
	s := &Service{
		users:      users,
		homes:      homes,
		bcryptCost: bcrypt.DefaultCost,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registration is the result of a successful registration.
type Registration struct {
	UserID         string `json:"userId"`
	HomeCalendarID string `json:"homeCalendarId"`
}

// Register validates the credentials, stores the user and creates its home
// calendar. The home calendar ID is fixed before either write so a failed
// calendar write can be compensated by removing the user.
func (s *Service) Register(ctx context.Context, username, password, email string) (*Registration, error) {
	if err := validateCredentials(username, password); err != nil {
		return nil, err
	}

	var emailPtr *string
	if email = strings.TrimSpace(email); email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, apperr.InvalidInput("Invalid email address")
		}
		emailPtr = &email
	}

	existing, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.New(apperr.KindAlreadyExists, "Username already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Could not hash password", err)
	}

	u := &models.User{
		ID:             storage.GenerateID(),
		Username:       username,
		Email:          emailPtr,
		PasswordHash:   string(hash),
		HomeCalendarID: storage.GenerateID(),
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}

	homeID, err := s.homes.CreateHomeCalendar(ctx, u.ID)
	if apperr.Is(err, apperr.KindAlreadyExists) && homeID == u.HomeCalendarID {
		err = nil
	}
	if err != nil {
		// Without a home calendar the user would violate the home invariant.
		if derr := s.users.Delete(context.WithoutCancel(ctx), u.ID); derr != nil {
			s.logger.Error("compensating failed registration", "user_id", u.ID, "error", derr)
		}
		return nil, err
	}

	s.logger.Info("user registered", "user_id", u.ID, "username", username)
	return &Registration{UserID: u.ID, HomeCalendarID: homeID}, nil
}

// LoginResult is returned by Login. Token is empty when tokens are disabled.
type LoginResult struct {
	UserID string `json:"userId"`
	Token  string `json:"token,omitempty"`
}

// Login verifies a username/password pair.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if username == "" || password == "" {
		return nil, apperr.InvalidInput("Missing credentials")
	}

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperr.NotFound("User not found")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, apperr.New(apperr.KindUnauthorized, "Invalid credentials")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "Could not verify credentials", err)
	}

	result := &LoginResult{UserID: u.ID}
	if s.tokens != nil {
		token, err := s.tokens.Issue(u.ID)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "Could not issue token", err)
		}
		result.Token = token
	}
	return result, nil
}

// Lookup returns a user by ID or not_found.
func (s *Service) Lookup(ctx context.Context, userID string) (*models.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperr.NotFound("User not found")
	}
	return u, nil
}

func validateCredentials(username, password string) error {
	if n := utf8.RuneCountInString(username); n < MinUsernameLength || n > MaxUsernameLength {
		return apperr.InvalidInput("Username must be between %d and %d characters", MinUsernameLength, MaxUsernameLength)
	}
	if n := utf8.RuneCountInString(password); n < MinPasswordLength || n > MaxPasswordLength {
		return apperr.InvalidInput("Password must be between %d and %d characters", MinPasswordLength, MaxPasswordLength)
	}
	return nil
}
