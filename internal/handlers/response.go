package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/AnshRaj112/loanhub-backend/internal/auth"
)

const maxBodyBytes = 1 << 20

// APIResponse is the envelope shared by every JSON response.
type APIResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	Code       string `json:"code,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// responder writes JSON bodies and converts errors at the HTTP boundary.
// Internal error detail is only exposed outside production.
type responder struct {
	logger       *zap.Logger
	exposeDetail bool
}

func (rs responder) json(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		rs.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

func (rs responder) fail(w http.ResponseWriter, r *http.Request, err error) {
	e := auth.AsError(err)
	body := APIResponse{Message: e.Message, Code: string(e.Kind)}
	if e.RetryAfter > 0 {
		body.RetryAfter = e.RetryAfterMinutes()
		w.Header().Set("Retry-After", strconv.Itoa(int(e.RetryAfter.Seconds())))
	}
	if e.Status >= http.StatusInternalServerError {
		rs.logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		if rs.exposeDetail && e.Err != nil {
			body.Detail = e.Err.Error()
		}
	}
	rs.json(w, e.Status, body)
}

// decode reads a JSON body into dst. Unknown fields are ignored; an empty or
// malformed body is a validation error.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return auth.Validation("Request body too large")
		}
		if errors.Is(err, io.EOF) {
			return auth.Validation("Request body is required")
		}
		return auth.Validation("Invalid request body")
	}
	return nil
}
