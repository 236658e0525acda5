package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/SarveshMina/CAD-gcw-backend/internal/api/middleware"
	"github.com/SarveshMina/CAD-gcw-backend/internal/apperr"
	"github.com/SarveshMina/CAD-gcw-backend/internal/calendar"
)

// Calendar request/response types

type CreatePersonalCalendarRequest struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type DeletePersonalCalendarRequest struct {
	UserID string `json:"userId"`
}

type CreateGroupCalendarRequest struct {
	OwnerID string   `json:"ownerId"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

type MembershipRequest struct {
	AdminID string `json:"adminId"`
	UserID  string `json:"userId"`
}

type DeleteGroupCalendarRequest struct {
	AdminID string `json:"adminId"`
}

type CalendarCreatedResponse struct {
	Success        bool     `json:"success"`
	Message        string   `json:"message"`
	CalendarID     string   `json:"calendarId"`
	Members        []string `json:"members,omitempty"`
	DroppedMembers []string `json:"droppedMembers,omitempty"`
}

type MembershipResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Members []string `json:"members"`
}

// CreatePersonalCalendar creates a non-home personal calendar.
func CreatePersonalCalendar(registry *calendar.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreatePersonalCalendarRequest
		if err := decodeJSON(r, &req); err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}
		if req.UserID == "" && req.Name == "" {
			middleware.WriteAppError(w, r, apperr.InvalidInput("Missing userId or name"))
			return
		}
		userID, err := middleware.ResolveActor(r, req.UserID)
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		id, err := registry.CreatePersonalCalendar(r.Context(), userID, req.Name)
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		middleware.WriteJSON(w, http.StatusCreated, CalendarCreatedResponse{
			Success:    true,
			Message:    "Personal calendar created successfully",
			CalendarID: id,
		})
	}
}

// DeletePersonalCalendar deletes a non-home personal calendar and its events.
func DeletePersonalCalendar(registry *calendar.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DeletePersonalCalendarRequest
		if err := decodeOptionalJSON(r, &req); err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}
		userID, err := middleware.ResolveActor(r, req.UserID)
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		if err := registry.DeletePersonalCalendar(r.Context(), userID, mux.Vars(r)["calendarId"]); err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		middleware.WriteJSON(w, http.StatusOK, ok("Personal calendar deleted successfully"))
	}
}

// CreateGroupCalendar creates a group calendar owned by the actor.
func CreateGroupCalendar(registry *calendar.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateGroupCalendarRequest
		if err := decodeJSON(r, &req); err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}
		if req.OwnerID == "" && req.Name == "" {
			middleware.WriteAppError(w, r, apperr.InvalidInput("Missing ownerId or name"))
			return
		}
		ownerID, err := middleware.ResolveActor(r, req.OwnerID)
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		created, err := registry.CreateGroupCalendar(r.Context(), ownerID, req.Name, req.Members)
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		middleware.WriteJSON(w, http.StatusCreated, CalendarCreatedResponse{
			Success:        true,
			Message:        "Group calendar created successfully",
			CalendarID:     created.CalendarID,
			Members:        created.Members,
			DroppedMembers: created.Dropped,
		})
	}
}

// AddGroupMember adds a user to a group calendar.
func AddGroupMember(registry *calendar.Registry) http.HandlerFunc {
	return membershipHandler(func(r *http.Request, adminID, userID string) (*calendar.MembershipResult, string, error) {
		res, err := registry.AddMember(r.Context(), mux.Vars(r)["calendarId"], adminID, userID)
		if err != nil || !res.Changed {
			return res, "User already in group calendar", err
		}
		return res, "User added successfully", nil
	})
}

// RemoveGroupMember removes a user from a group calendar.
func RemoveGroupMember(registry *calendar.Registry) http.HandlerFunc {
	return membershipHandler(func(r *http.Request, adminID, userID string) (*calendar.MembershipResult, string, error) {
		res, err := registry.RemoveMember(r.Context(), mux.Vars(r)["calendarId"], adminID, userID)
		if err != nil || !res.Changed {
			return res, "User not in group calendar", err
		}
		return res, "User removed successfully", nil
	})
}

type membershipFunc func(r *http.Request, adminID, userID string) (*calendar.MembershipResult, string, error)

func membershipHandler(apply membershipFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MembershipRequest
		if err := decodeJSON(r, &req); err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}
		if req.UserID == "" {
			middleware.WriteAppError(w, r, apperr.InvalidInput("Missing adminId or userId"))
			return
		}
		adminID, err := middleware.ResolveActor(r, req.AdminID)
		if apperr.Is(err, apperr.KindInvalidInput) {
			err = apperr.InvalidInput("Missing adminId or userId")
		}
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		res, message, err := apply(r, adminID, req.UserID)
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		members := []string(res.Calendar.Members)
		if members == nil {
			members = []string{}
		}
		middleware.WriteJSON(w, http.StatusOK, MembershipResponse{
			Success: true,
			Message: message,
			Members: members,
		})
	}
}

// DeleteGroupCalendar deletes a group calendar and its events.
func DeleteGroupCalendar(registry *calendar.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DeleteGroupCalendarRequest
		if err := decodeOptionalJSON(r, &req); err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}
		adminID, err := middleware.ResolveActor(r, req.AdminID)
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		if err := registry.DeleteGroupCalendar(r.Context(), adminID, mux.Vars(r)["calendarId"]); err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		middleware.WriteJSON(w, http.StatusOK, ok("Group calendar deleted successfully"))
	}
}
