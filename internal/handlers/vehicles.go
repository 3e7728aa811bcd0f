package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"schoolrun-backend/internal/middleware"
	"schoolrun-backend/internal/models"
	"schoolrun-backend/pkg/utils"
)

type RegisterVehicleRequest struct {
	PlateNumber string `json:"plate_number" validate:"required"`
}

// RegisterVehicle binds a vehicle to the calling driver. One vehicle per
// driver; re-registering updates the plate.
func RegisterVehicle(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req RegisterVehicleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := validate.Struct(req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "plate_number is required")
			return
		}

		now := time.Now().Unix()
		vehicle := models.Vehicle{
			ID:              uuid.New().String(),
			PlateNumber:     req.PlateNumber,
			DriverID:        claims.UserID,
			TrackingEnabled: true,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		query := `INSERT INTO vehicles (id, plate_number, driver_id, tracking_enabled, created_at, updated_at)
				  VALUES ($1, $2, $3, $4, $5, $6)
				  ON CONFLICT (driver_id) DO UPDATE SET
					  plate_number = excluded.plate_number,
					  updated_at = excluded.updated_at`
		if _, err := db.Exec(query, vehicle.ID, vehicle.PlateNumber, vehicle.DriverID,
			vehicle.TrackingEnabled, vehicle.CreatedAt, vehicle.UpdatedAt); err != nil {
			log.Printf("❌ Failed to register vehicle for driver %s: %v", claims.UserID, err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to register vehicle")
			return
		}

		// Re-read so re-registration returns the surviving row
		var saved models.Vehicle
		if err := db.Get(&saved, "SELECT * FROM vehicles WHERE driver_id = $1", claims.UserID); err != nil {
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load vehicle")
			return
		}

		log.Printf("🚌 Vehicle %s registered for driver %s", saved.PlateNumber, claims.UserID)
		utils.RespondSuccess(w, saved)
	}
}

// MyVehicle returns the calling driver's registered vehicle
func MyVehicle(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var vehicle models.Vehicle
		err := db.Get(&vehicle, "SELECT * FROM vehicles WHERE driver_id = $1", claims.UserID)
		if errors.Is(err, sql.ErrNoRows) {
			utils.RespondError(w, http.StatusNotFound, "No vehicle registered")
			return
		}
		if err != nil {
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load vehicle")
			return
		}

		utils.RespondSuccess(w, vehicle)
	}
}

type SetTrackingEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// SetTrackingEnabled toggles a vehicle's tracking flag (dispatcher only).
// Disabling takes effect on the next fix; samples stop landing immediately.
func SetTrackingEnabled(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vehicleID := chi.URLParam(r, "vehicleId")

		var req SetTrackingEnabledRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		result, err := db.Exec(
			"UPDATE vehicles SET tracking_enabled = $1, updated_at = $2 WHERE id = $3",
			req.Enabled, time.Now().Unix(), vehicleID)
		if err != nil {
			log.Printf("❌ Failed to update tracking flag for %s: %v", vehicleID, err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to update vehicle")
			return
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			utils.RespondError(w, http.StatusNotFound, "Vehicle not found")
			return
		}

		log.Printf("🎚️ Tracking %v for vehicle %s", req.Enabled, vehicleID)
		utils.RespondSuccess(w, map[string]bool{"tracking_enabled": req.Enabled})
	}
}
