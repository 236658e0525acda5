package handlers

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/SarveshMina/CAD-gcw-backend/internal/api/middleware"
	"github.com/SarveshMina/CAD-gcw-backend/internal/apperr"
	"github.com/SarveshMina/CAD-gcw-backend/internal/calendar"
	"github.com/SarveshMina/CAD-gcw-backend/internal/ledger"
	"github.com/SarveshMina/CAD-gcw-backend/internal/storage/models"
)

// IdempotencyKeyHeader lets clients make event creation safe to retry.
const IdempotencyKeyHeader = "Idempotency-Key"

// maxICSBytes bounds imported calendar bodies.
const maxICSBytes = 4 << 20

// Event request/response types

type CreateEventRequest struct {
	UserID         string    `json:"userId"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	StartTime      Timestamp `json:"startTime"`
	EndTime        Timestamp `json:"endTime"`
	Locked         *bool     `json:"locked"`
	Recurrence     string    `json:"recurrence"`
	IdempotencyKey string    `json:"idempotencyKey"`
}

type UpdateEventRequest struct {
	UserID      string     `json:"userId"`
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	StartTime   *Timestamp `json:"startTime"`
	EndTime     *Timestamp `json:"endTime"`
	Locked      *bool      `json:"locked"`
	Recurrence  *string    `json:"recurrence"`
}

type ActorRequest struct {
	UserID string `json:"userId"`
}

type EventCreatedResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	EventID string        `json:"eventId"`
	Event   *models.Event `json:"event"`
}

type EventResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Event   *models.Event `json:"event"`
}

type EventListResponse struct {
	Events []models.Event `json:"events"`
}

type ImportResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Imported int    `json:"imported"`
	Skipped  int    `json:"skipped"`
}

// CreateEvent adds an event to a calendar.
func CreateEvent(events *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateEventRequest
		if err := decodeJSON(r, &req); err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}
		actorID, err := middleware.ResolveActor(r, req.UserID)
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		key := req.IdempotencyKey
		if key == "" {
			key = r.Header.Get(IdempotencyKeyHeader)
		}

		e, err := events.AddEvent(r.Context(), mux.Vars(r)["calendarId"], actorID, ledger.NewEvent{
			Title:          req.Title,
			Description:    req.Description,
			StartTime:      req.StartTime.Time,
			EndTime:        req.EndTime.Time,
			Locked:         req.Locked,
			Recurrence:     req.Recurrence,
			IdempotencyKey: key,
		})
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		middleware.WriteJSON(w, http.StatusCreated, EventCreatedResponse{
			Success: true,
			Message: "Event created successfully",
			EventID: e.ID,
			Event:   e,
		})
	}
}

// UpdateEvent applies a partial update to an event.
func UpdateEvent(events *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateEventRequest
		if err := decodeJSON(r, &req); err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}
		actorID, err := middleware.ResolveActor(r, req.UserID)
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		vars := mux.Vars(r)
		e, err := events.UpdateEvent(r.Context(), vars["calendarId"], vars["eventId"], actorID, models.EventPatch{
			Title:       req.Title,
			Description: req.Description,
			StartTime:   req.StartTime.ptr(),
			EndTime:     req.EndTime.ptr(),
			Locked:      req.Locked,
			Recurrence:  req.Recurrence,
		})
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		middleware.WriteJSON(w, http.StatusOK, EventResponse{
			Success: true,
			Message: "Event updated successfully",
			Event:   e,
		})
	}
}

// DeleteEvent permanently removes an event.
func DeleteEvent(events *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ActorRequest
		if err := decodeOptionalJSON(r, &req); err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}
		actorID, err := middleware.ResolveActor(r, req.UserID)
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		vars := mux.Vars(r)
		if err := events.DeleteEvent(r.Context(), vars["calendarId"], vars["eventId"], actorID); err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		middleware.WriteJSON(w, http.StatusOK, ok("Event deleted successfully"))
	}
}

// readableCalendar resolves the calendar in the path and checks the actor may read it.
func readableCalendar(r *http.Request, registry *calendar.Registry) (*models.Calendar, error) {
	actorID, err := middleware.ResolveActor(r, r.URL.Query().Get("userId"))
	if err != nil {
		return nil, err
	}
	cal, err := registry.ResolveCalendar(r.Context(), mux.Vars(r)["calendarId"])
	if err != nil {
		return nil, err
	}
	if !cal.HasMember(actorID) {
		return nil, apperr.Forbidden("You are not a member of this calendar")
	}
	return cal, nil
}

// ListEvents returns the events of a calendar ordered by start time.
func ListEvents(registry *calendar.Registry, events *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cal, err := readableCalendar(r, registry)
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		list, err := events.ListEvents(r.Context(), cal.ID)
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}
		if list == nil {
			list = []models.Event{}
		}

		middleware.WriteJSON(w, http.StatusOK, EventListResponse{Events: list})
	}
}

// ExportCalendar renders a calendar as an ICS document.
func ExportCalendar(registry *calendar.Registry, events *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cal, err := readableCalendar(r, registry)
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		list, err := events.ListEvents(r.Context(), cal.ID)
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", cal.ID+".ics"))
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, calendar.ExportICS(cal, list, time.Now().UTC()))
	}
}

// ImportCalendar adds the events of an ICS body to a calendar. Each VEVENT
// UID doubles as an idempotency key, so re-importing a feed adds nothing new.
func ImportCalendar(events *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, err := middleware.ResolveActor(r, r.URL.Query().Get("userId"))
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		parsed, err := calendar.ParseICS(io.LimitReader(r.Body, maxICSBytes))
		if err != nil {
			middleware.WriteAppError(w, r, apperr.InvalidInput("Invalid calendar body"))
			return
		}

		calendarID := mux.Vars(r)["calendarId"]
		imported, skipped := 0, parsed.Skipped
		for _, ev := range parsed.Events {
			_, err := events.AddEvent(r.Context(), calendarID, actorID, ledger.NewEvent{
				Title:          ev.Title,
				Description:    ev.Description,
				StartTime:      ev.Start,
				EndTime:        ev.End,
				Recurrence:     ev.Recurrence,
				IdempotencyKey: ev.IdempotencyKey(),
			})
			switch kind := apperr.KindOf(err); {
			case err == nil:
				imported++
			case kind == apperr.KindInvalidInput || kind == apperr.KindInvalidTimeRange:
				skipped++
			default:
				middleware.WriteAppError(w, r, err)
				return
			}
		}

		middleware.WriteJSON(w, http.StatusOK, ImportResponse{
			Success:  true,
			Message:  fmt.Sprintf("Imported %d events", imported),
			Imported: imported,
			Skipped:  skipped,
		})
	}
}
