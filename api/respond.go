package api

import (
	"encoding/json"
	"net/http"

	"carflow/utils"
)

// Response statuses.
const (
	StatusOK          = "OK"
	StatusNoData      = "NO_DATA"
	StatusUnavailable = "UNAVAILABLE"
	StatusBadRequest  = "BAD_REQUEST"
)

// unavailableMessage is what consumers see when the store cannot be read.
const unavailableMessage = "no data available"

// Envelope wraps every JSON response.
type Envelope struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func respondJSON(w http.ResponseWriter, logger *utils.Logger, code int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("[api] Failed to encode JSON response: %v", err)
	}
}

func respondOK(w http.ResponseWriter, logger *utils.Logger, data interface{}) {
	respondJSON(w, logger, http.StatusOK, Envelope{Status: StatusOK, Data: data})
}

func respondNoData(w http.ResponseWriter, logger *utils.Logger) {
	respondJSON(w, logger, http.StatusOK, Envelope{Status: StatusNoData})
}

func respondBadRequest(w http.ResponseWriter, logger *utils.Logger, msg string) {
	respondJSON(w, logger, http.StatusBadRequest, Envelope{Status: StatusBadRequest, Message: msg})
}

// respondUnavailable hides store failures behind a neutral message; the
// cause is logged by the caller.
func respondUnavailable(w http.ResponseWriter, logger *utils.Logger) {
	respondJSON(w, logger, http.StatusServiceUnavailable, Envelope{Status: StatusUnavailable, Message: unavailableMessage})
}
