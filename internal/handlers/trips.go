package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"schoolrun-backend/internal/middleware"
	"schoolrun-backend/internal/trip"
	"schoolrun-backend/pkg/utils"
)

type SelectRouteRequest struct {
	RouteID string `json:"route_id" validate:"required"`
}

// SelectRoute binds a route to the driver's idle trip for today
func SelectRoute(controller *trip.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req SelectRouteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := validate.Struct(req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "route_id is required")
			return
		}

		t, err := controller.SelectRoute(claims.Session(), req.RouteID)
		if err != nil {
			log.Printf("❌ Route selection failed for driver %s: %v", claims.UserID, err)
			utils.RespondFault(w, err)
			return
		}

		log.Printf("🗺️ Driver %s selected route %s", claims.UserID, req.RouteID)
		utils.RespondSuccess(w, t)
	}
}

// StartTrip transitions today's trip to in_progress and seeds the roster
func StartTrip(controller *trip.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		t, err := controller.Start(claims.Session())
		if err != nil {
			log.Printf("❌ Trip start failed for driver %s: %v", claims.UserID, err)
			utils.RespondFault(w, err)
			return
		}

		utils.RespondSuccess(w, t)
	}
}

// EndTrip completes today's trip, finalizing no-shows and freezing history
func EndTrip(controller *trip.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		t, err := controller.End(claims.Session())
		if err != nil {
			log.Printf("❌ Trip end failed for driver %s: %v", claims.UserID, err)
			utils.RespondFault(w, err)
			return
		}

		utils.RespondSuccess(w, t)
	}
}

// CurrentTrip returns the driver's trip row for today, creating the idle
// row on first call
func CurrentTrip(controller *trip.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		t, err := controller.Current(claims.Session())
		if err != nil {
			utils.RespondFault(w, err)
			return
		}

		utils.RespondSuccess(w, t)
	}
}
