package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/brokerdesk/internal/apperr"
)

const maxBodyBytes = 1 << 16

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status code and a client-safe message. Server
// side failures are logged with the full error.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error, fallback string) {
	status := apperr.Status(err)
	if status >= http.StatusInternalServerError {
		logger.Error(fallback, "error", err)
	}
	writeJSON(w, status, map[string]any{"success": false, "message": apperr.Message(err, fallback)})
}

func writeOK(w http.ResponseWriter, fields map[string]any) {
	body := map[string]any{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.New(apperr.ErrValidation, "Invalid request body.")
	}
	return nil
}
