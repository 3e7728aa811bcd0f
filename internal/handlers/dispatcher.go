package handlers

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"

	"schoolrun-backend/internal/middleware"
	"schoolrun-backend/internal/models"
	"schoolrun-backend/internal/trip"
	"schoolrun-backend/pkg/utils"
)

// ActiveTrips returns every in-progress trip for the dispatcher console
func ActiveTrips(controller *trip.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		trips, err := controller.ActiveTrips()
		if err != nil {
			log.Printf("❌ Failed to load active trips: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load active trips")
			return
		}

		utils.RespondSuccess(w, trips)
	}
}

// ForceEndTrip ends a vehicle's in-progress trip on the driver's behalf
func ForceEndTrip(controller *trip.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		vehicleID := chi.URLParam(r, "vehicleId")

		t, err := controller.ForceEnd(claims.Session(), vehicleID)
		if err != nil {
			log.Printf("❌ Force end failed for vehicle %s: %v", vehicleID, err)
			utils.RespondFault(w, err)
			return
		}

		log.Printf("🛑 Dispatcher %s force-ended trip on vehicle %s", claims.UserID, vehicleID)
		utils.RespondSuccess(w, t)
	}
}

// ListRoutes returns all routes with their stops
func ListRoutes(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		routes := []models.Route{}
		if err := db.Select(&routes, "SELECT * FROM routes ORDER BY name"); err != nil {
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load routes")
			return
		}

		utils.RespondSuccess(w, routes)
	}
}

// RouteStops returns a route's stops in sequence order
func RouteStops(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		routeID := chi.URLParam(r, "routeId")

		stops := []models.Stop{}
		err := db.Select(&stops,
			"SELECT * FROM stops WHERE route_id = $1 ORDER BY sequence", routeID)
		if err != nil {
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load stops")
			return
		}

		utils.RespondSuccess(w, stops)
	}
}

// TripHistory returns completed trip records, newest first
func TripHistory(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		history := []models.TripHistory{}
		err := db.Select(&history,
			"SELECT * FROM trip_history ORDER BY ended_at DESC LIMIT 100")
		if err != nil {
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load trip history")
			return
		}

		utils.RespondSuccess(w, history)
	}
}
