package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"schoolrun-backend/internal/attendance"
	"schoolrun-backend/internal/middleware"
	"schoolrun-backend/internal/models"
	"schoolrun-backend/pkg/utils"
)

// timeNow is swappable in tests
var timeNow = time.Now

type MarkBoardedRequest struct {
	StudentID string `json:"student_id" validate:"required"`
}

// MarkPresent lets a student announce they are waiting at their stop
func MarkPresent(ledger *attendance.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		rec, err := ledger.MarkPresentAtStop(claims.Session())
		if err != nil {
			log.Printf("❌ Present-at-stop failed for student %s: %v", claims.UserID, err)
			utils.RespondFault(w, err)
			return
		}

		utils.RespondSuccess(w, rec)
	}
}

// MarkBoarded lets the driver confirm a student boarded the vehicle
func MarkBoarded(ledger *attendance.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req MarkBoardedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := validate.Struct(req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "student_id is required")
			return
		}

		rec, err := ledger.MarkBoarded(claims.Session(), req.StudentID)
		if err != nil {
			log.Printf("❌ Boarding failed (driver %s, student %s): %v", claims.UserID, req.StudentID, err)
			utils.RespondFault(w, err)
			return
		}

		log.Printf("🎒 Student %s boarded (confirmed by %s)", req.StudentID, claims.UserID)
		utils.RespondSuccess(w, rec)
	}
}

// AttendanceRoster returns today's attendance rows for a route
func AttendanceRoster(ledger *attendance.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		routeID := chi.URLParam(r, "routeId")
		serviceDate := r.URL.Query().Get("date")
		if serviceDate == "" {
			serviceDate = models.ServiceDate(timeNow())
		}

		roster, err := ledger.Roster(routeID, serviceDate)
		if err != nil {
			utils.RespondFault(w, err)
			return
		}

		utils.RespondSuccess(w, roster)
	}
}

// MyAttendance returns the calling student's record for today
func MyAttendance(ledger *attendance.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		rec, err := ledger.StudentRecord(claims.UserID, models.ServiceDate(timeNow()))
		if err != nil {
			utils.RespondFault(w, err)
			return
		}

		utils.RespondSuccess(w, rec)
	}
}
