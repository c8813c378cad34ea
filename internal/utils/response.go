package utils

import (
	"encoding/json"
	"net/http"
	"time"
)

// ErrorResponse is the body of every non-2xx JSON response. Code is a stable
// machine-readable identifier; Message is for humans.
type ErrorResponse struct {
	Code      string     `json:"error"`
	Message   string     `json:"message"`
	Field     string     `json:"field,omitempty"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

func NewErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// SendJSON writes data as the JSON body with the given status.
func SendJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

func SendError(w http.ResponseWriter, status int, resp ErrorResponse) error {
	return SendJSON(w, status, resp)
}
