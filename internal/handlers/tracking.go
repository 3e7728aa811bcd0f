package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"schoolrun-backend/internal/middleware"
	"schoolrun-backend/internal/tracking"
	"schoolrun-backend/pkg/utils"
)

// StartTracking starts the driver's location stream after precondition checks
func StartTracking(manager *tracking.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		if err := manager.StartFor(claims.Session()); err != nil {
			log.Printf("❌ Tracking start failed for driver %s: %v", claims.UserID, err)
			utils.RespondFault(w, err)
			return
		}

		utils.RespondSuccess(w, map[string]bool{"tracking": true})
	}
}

// StopTracking stops the driver's location stream, a no-op when idle
func StopTracking(manager *tracking.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		manager.StopFor(claims.UserID)
		utils.RespondSuccess(w, map[string]bool{"tracking": false})
	}
}

// TrackingStatus reports whether the driver's stream is live and whether a
// permission denial is blocking it
func TrackingStatus(manager *tracking.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		running, denied := manager.Status(claims.UserID)
		utils.RespondSuccess(w, map[string]bool{
			"tracking":          running,
			"permission_denied": denied,
		})
	}
}

type LocationUpdateRequest struct {
	Latitude   float64  `json:"latitude" validate:"required,min=-90,max=90"`
	Longitude  float64  `json:"longitude" validate:"required,min=-180,max=180"`
	Speed      *float64 `json:"speed"`
	Heading    *float64 `json:"heading"`
	CapturedAt int64    `json:"captured_at"`
}

// UpdateLocation accepts one device fix over REST. The websocket path is
// preferred; this exists for clients that lost their socket.
func UpdateLocation(manager *tracking.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req LocationUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := validate.Struct(req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "latitude and longitude are required")
			return
		}
		if req.CapturedAt == 0 {
			req.CapturedAt = timeNow().Unix()
		}

		manager.PushFix(claims.UserID, req.Latitude, req.Longitude, req.Speed, req.Heading, req.CapturedAt)
		utils.RespondSuccess(w, map[string]bool{"accepted": true})
	}
}

// VehiclePosition returns the latest projected position for a vehicle
func VehiclePosition(store *tracking.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vehicleID := chi.URLParam(r, "vehicleId")

		pos, err := store.LastPosition(vehicleID)
		if err != nil {
			log.Printf("❌ Failed to load last position for %s: %v", vehicleID, err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load position")
			return
		}
		if pos == nil {
			utils.RespondError(w, http.StatusNotFound, "No position reported for this vehicle")
			return
		}

		utils.RespondSuccess(w, pos)
	}
}

// VehicleTrack returns recent history samples for a vehicle
func VehicleTrack(store *tracking.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vehicleID := chi.URLParam(r, "vehicleId")

		samples, err := store.SamplesForVehicle(vehicleID, 100)
		if err != nil {
			log.Printf("❌ Failed to load samples for %s: %v", vehicleID, err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load track")
			return
		}

		utils.RespondSuccess(w, samples)
	}
}
