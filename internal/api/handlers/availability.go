package handlers

import (
	"net/http"

	"github.com/SarveshMina/CAD-gcw-backend/internal/api/middleware"
	"github.com/SarveshMina/CAD-gcw-backend/internal/availability"
)

type AvailabilityRequest struct {
	UserID      string    `json:"userId"`
	UserIDs     []string  `json:"userIds"`
	WindowStart Timestamp `json:"windowStart"`
	WindowEnd   Timestamp `json:"windowEnd"`
	AllBusy     bool      `json:"allBusy"`
}

// ComputeAvailability returns merged busy intervals for the requested users.
func ComputeAvailability(aggregator *availability.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AvailabilityRequest
		if err := decodeJSON(r, &req); err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}
		requesterID, err := middleware.ResolveActor(r, req.UserID)
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		res, err := aggregator.ComputeAvailability(r.Context(), availability.Query{
			RequesterID: requesterID,
			UserIDs:     req.UserIDs,
			Start:       req.WindowStart.Time,
			End:         req.WindowEnd.Time,
			AllBusy:     req.AllBusy,
		})
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		middleware.WriteJSON(w, http.StatusOK, res)
	}
}
