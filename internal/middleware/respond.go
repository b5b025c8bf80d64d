package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/AnshRaj112/loanhub-backend/internal/auth"
)

type errorBody struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

func writeError(w http.ResponseWriter, e *auth.Error) {
	body := errorBody{Message: e.Message, Code: string(e.Kind)}
	if e.RetryAfter > 0 {
		body.RetryAfter = e.RetryAfterMinutes()
		w.Header().Set("Retry-After", strconv.Itoa(int(e.RetryAfter.Seconds())))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeTooManyRequests(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(errorBody{Message: message, Code: "RATE_LIMITED"})
}
