package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"schoolrun-backend/internal/middleware"
	"schoolrun-backend/internal/notifications"
	"schoolrun-backend/pkg/utils"
)

// ListNotifications returns the caller's notification feed, newest first
func ListNotifications(fanout *notifications.Fanout) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		list, err := fanout.ListForUser(claims.Session(), limit)
		if err != nil {
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load notifications")
			return
		}

		utils.RespondSuccess(w, list)
	}
}

// MarkNotificationRead marks one of the caller's notifications as read
func MarkNotificationRead(fanout *notifications.Fanout) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		id := chi.URLParam(r, "id")
		found, err := fanout.MarkRead(claims.Session(), id)
		if err != nil {
			utils.RespondError(w, http.StatusInternalServerError, "Failed to update notification")
			return
		}
		if !found {
			utils.RespondError(w, http.StatusNotFound, "Notification not found")
			return
		}

		utils.RespondSuccess(w, map[string]bool{"read": true})
	}
}
