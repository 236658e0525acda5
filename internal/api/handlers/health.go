package handlers

import (
	"net/http"

	"github.com/SarveshMina/CAD-gcw-backend/internal/api/middleware"
	"github.com/SarveshMina/CAD-gcw-backend/internal/calendar"
	"github.com/SarveshMina/CAD-gcw-backend/internal/storage"
	"github.com/SarveshMina/CAD-gcw-backend/internal/websocket"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status           string                 `json:"status"`
	DBConnected      bool                   `json:"dbConnected"`
	WebsocketClients int                    `json:"websocketClients"`
	LastRepair       *calendar.RepairReport `json:"lastRepair,omitempty"`
}

// HealthCheck returns a handler that performs a health check. hub and
// repair may be nil.
func HealthCheck(db *storage.DB, hub *websocket.Hub, repair *calendar.RepairScheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Check database connection
		dbConnected := db != nil && db.PingContext(r.Context()) == nil

		response := HealthResponse{
			Status:      "healthy",
			DBConnected: dbConnected,
		}
		if hub != nil {
			response.WebsocketClients = hub.ClientCount()
		}
		if repair != nil {
			response.LastRepair = repair.LastReport()
		}

		status := http.StatusOK
		if !dbConnected {
			response.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
		middleware.WriteJSON(w, status, response)
	}
}
