package utils

import (
	"encoding/json"
	"net/http"

	"schoolrun-backend/internal/faults"
)

// RespondJSON sends a JSON response
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError sends an error response
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// RespondFault maps a classified error to its HTTP status and emits the
// standard error envelope, including the fault kind so clients can branch
// on it (e.g. prompt vehicle registration on precondition_failed).
func RespondFault(w http.ResponseWriter, err error) {
	status := faults.HTTPStatus(err)
	body := map[string]interface{}{
		"success": false,
		"error":   faults.Message(err),
	}
	if kind := faults.KindOf(err); kind != "" {
		body["kind"] = string(kind)
	}
	RespondJSON(w, status, body)
}

// RespondSuccess wraps data in the standard success envelope.
func RespondSuccess(w http.ResponseWriter, data interface{}) {
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}
