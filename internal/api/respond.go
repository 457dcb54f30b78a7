package api

import (
	"encoding/json"
	"net/http"
	"time"

	"mcphub/internal/hub"
	"mcphub/pkg/logging"
)

// writeJSON sends a success envelope. Every response carries a timestamp.
func writeJSON(w http.ResponseWriter, status int, payload map[string]interface{}) {
	if _, ok := payload["timestamp"]; !ok {
		payload["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Debug("API", "Failed to encode response: %v", err)
	}
}

// writeError sends the error envelope with the status the error maps to.
func writeError(w http.ResponseWriter, err error) {
	e := hub.AsError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus())
	if encodeErr := json.NewEncoder(w).Encode(e); encodeErr != nil {
		logging.Debug("API", "Failed to encode error response: %v", encodeErr)
	}
}
