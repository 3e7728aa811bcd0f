package handlers

import (
	"database/sql"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"

	"schoolrun-backend/internal/middleware"
	"schoolrun-backend/internal/stopevents"
	"schoolrun-backend/pkg/utils"
)

// RegisterStopArrival records the driver's vehicle arriving at a stop
func RegisterStopArrival(db *sqlx.DB, broker *stopevents.Broker) http.HandlerFunc {
	return registerStopEvent(db, broker, true)
}

// RegisterStopDeparture records the driver's vehicle leaving a stop
func RegisterStopDeparture(db *sqlx.DB, broker *stopevents.Broker) http.HandlerFunc {
	return registerStopEvent(db, broker, false)
}

func registerStopEvent(db *sqlx.DB, broker *stopevents.Broker, arrival bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		stopID := chi.URLParam(r, "stopId")

		// The driver's vehicle is implied by their registration
		var vehicleID string
		err := db.Get(&vehicleID, "SELECT id FROM vehicles WHERE driver_id = $1", claims.UserID)
		if errors.Is(err, sql.ErrNoRows) {
			utils.RespondError(w, http.StatusBadRequest, "No vehicle registered for this driver")
			return
		}
		if err != nil {
			log.Printf("❌ Failed to load vehicle for driver %s: %v", claims.UserID, err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load vehicle")
			return
		}

		sess := claims.Session()
		var event interface{}
		if arrival {
			event, err = broker.RegisterArrival(sess, stopID, vehicleID)
		} else {
			event, err = broker.RegisterDeparture(sess, stopID, vehicleID)
		}
		if err != nil {
			log.Printf("❌ Stop event registration failed (stop %s): %v", stopID, err)
			utils.RespondFault(w, err)
			return
		}

		utils.RespondSuccess(w, event)
	}
}

// StopEvents returns unexpired events for a stop, newest first
func StopEvents(broker *stopevents.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stopID := chi.URLParam(r, "stopId")

		events, err := broker.EventsForStop(stopID)
		if err != nil {
			utils.RespondFault(w, err)
			return
		}

		utils.RespondSuccess(w, events)
	}
}

// VehicleStopEvents returns unexpired events for a vehicle, newest first
func VehicleStopEvents(broker *stopevents.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vehicleID := chi.URLParam(r, "vehicleId")

		events, err := broker.EventsForVehicle(vehicleID)
		if err != nil {
			utils.RespondFault(w, err)
			return
		}

		utils.RespondSuccess(w, events)
	}
}
