package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/SarveshMina/CAD-gcw-backend/internal/api/middleware"
	"github.com/SarveshMina/CAD-gcw-backend/internal/calendar"
	"github.com/SarveshMina/CAD-gcw-backend/internal/identity"
	"github.com/SarveshMina/CAD-gcw-backend/internal/storage/models"
)

// User request/response types

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

type RegisterResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	UserID         string `json:"userId"`
	HomeCalendarID string `json:"homeCalendarId"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	UserID  string `json:"userId"`
	Token   string `json:"token,omitempty"`
}

type CalendarListResponse struct {
	Calendars []models.Calendar `json:"calendars"`
}

// Register creates a user and its home calendar.
func Register(users *identity.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		if err := decodeJSON(r, &req); err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		reg, err := users.Register(r.Context(), req.Username, req.Password, req.Email)
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		middleware.WriteJSON(w, http.StatusCreated, RegisterResponse{
			Success:        true,
			Message:        "User registered successfully",
			UserID:         reg.UserID,
			HomeCalendarID: reg.HomeCalendarID,
		})
	}
}

// Login verifies credentials and, when tokens are enabled, issues a bearer token.
func Login(users *identity.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := decodeJSON(r, &req); err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		res, err := users.Login(r.Context(), req.Username, req.Password)
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		middleware.WriteJSON(w, http.StatusOK, LoginResponse{
			Success: true,
			Message: "Login successful",
			UserID:  res.UserID,
			Token:   res.Token,
		})
	}
}

// ListUserCalendars returns the calendars a user owns or belongs to.
func ListUserCalendars(registry *calendar.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := middleware.ResolveActor(r, mux.Vars(r)["userId"])
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		calendars, err := registry.ListCalendarsForUser(r.Context(), userID)
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}
		if calendars == nil {
			calendars = []models.Calendar{}
		}

		middleware.WriteJSON(w, http.StatusOK, CalendarListResponse{Calendars: calendars})
	}
}
