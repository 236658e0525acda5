// Package api provides HTTP routing for the REST API.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/SarveshMina/CAD-gcw-backend/internal/api/handlers"
	"github.com/SarveshMina/CAD-gcw-backend/internal/api/middleware"
	"github.com/SarveshMina/CAD-gcw-backend/internal/availability"
	"github.com/SarveshMina/CAD-gcw-backend/internal/calendar"
	"github.com/SarveshMina/CAD-gcw-backend/internal/identity"
	"github.com/SarveshMina/CAD-gcw-backend/internal/ledger"
	"github.com/SarveshMina/CAD-gcw-backend/internal/storage"
	"github.com/SarveshMina/CAD-gcw-backend/internal/websocket"
)

// Services holds the components the router dispatches to.
type Services struct {
	DB           *storage.DB
	Identity     *identity.Service
	Registry     *calendar.Registry
	Ledger       *ledger.Ledger
	Availability *availability.Aggregator
	Hub          *websocket.Hub
	Repair       *calendar.RepairScheduler

	// Tokens enables bearer authentication on every route except register,
	// login and health. Nil disables authentication.
	Tokens middleware.TokenVerifier

	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// NewRouter creates and configures the HTTP router with all API routes.
func NewRouter(s Services) *mux.Router {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := mux.NewRouter()

	// Apply global middleware
	r.Use(middleware.Logging(logger))
	r.Use(middleware.ErrorRecovery(logger))
	r.Use(middleware.Timeout(s.RequestTimeout))

	api := r.PathPrefix("/api").Subrouter()

	// Public endpoints
	api.HandleFunc("/health", handlers.HealthCheck(s.DB, s.Hub, s.Repair)).Methods("GET")
	api.HandleFunc("/register", handlers.Register(s.Identity)).Methods("POST")
	api.HandleFunc("/login", handlers.Login(s.Identity)).Methods("POST")

	// Everything else acts on behalf of a user
	user := api.NewRoute().Subrouter()
	if s.Tokens != nil {
		user.Use(middleware.Auth(s.Tokens))
	}

	// WebSocket endpoint
	if s.Hub != nil {
		user.HandleFunc("/ws", handlers.WebSocketUpgrade(s.Hub, s.Identity)).Methods("GET")
	}

	// Personal calendar endpoints
	user.HandleFunc("/personal-calendar/create", handlers.CreatePersonalCalendar(s.Registry)).Methods("POST")
	user.HandleFunc("/personal-calendar/{calendarId}/delete", handlers.DeletePersonalCalendar(s.Registry)).Methods("POST")

	// Group calendar endpoints
	user.HandleFunc("/group-calendar/create", handlers.CreateGroupCalendar(s.Registry)).Methods("POST")
	user.HandleFunc("/group-calendar/{calendarId}/add-user", handlers.AddGroupMember(s.Registry)).Methods("POST")
	user.HandleFunc("/group-calendar/{calendarId}/remove-user", handlers.RemoveGroupMember(s.Registry)).Methods("POST")
	user.HandleFunc("/group-calendar/{calendarId}/delete", handlers.DeleteGroupCalendar(s.Registry)).Methods("POST")

	// Event endpoints
	user.HandleFunc("/calendar/{calendarId}/event", handlers.CreateEvent(s.Ledger)).Methods("POST")
	user.HandleFunc("/calendar/{calendarId}/event/{eventId}/update", handlers.UpdateEvent(s.Ledger)).Methods("PUT")
	user.HandleFunc("/calendar/{calendarId}/event/{eventId}/delete", handlers.DeleteEvent(s.Ledger)).Methods("DELETE")
	user.HandleFunc("/calendar/{calendarId}/events", handlers.ListEvents(s.Registry, s.Ledger)).Methods("GET")
	user.HandleFunc("/calendar/{calendarId}/export.ics", handlers.ExportCalendar(s.Registry, s.Ledger)).Methods("GET")
	user.HandleFunc("/calendar/{calendarId}/import", handlers.ImportCalendar(s.Ledger)).Methods("POST")

	// User and availability endpoints
	user.HandleFunc("/users/{userId}/calendars", handlers.ListUserCalendars(s.Registry)).Methods("GET")
	user.HandleFunc("/availability", handlers.ComputeAvailability(s.Availability)).Methods("POST")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "not_found", "Route not found")
	})

	return r
}
