package handlers

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"playshelf/internal/common/errors"
	"playshelf/internal/common/logging"
)

// StatusClientClosedRequest is the nginx convention for a caller that went away
const StatusClientClosedRequest = 499

type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Field      string `json:"field,omitempty"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
}

type gamesBody struct {
	Count int         `json:"count"`
	Games interface{} `json:"games"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps an error category to the HTTP status returned to clients
func statusFor(errType errors.ErrorType) int {
	switch errType {
	case errors.ErrTypeValidation:
		return http.StatusBadRequest
	case errors.ErrTypeNotFound:
		return http.StatusNotFound
	case errors.ErrTypeRateLimit:
		return http.StatusTooManyRequests
	case errors.ErrTypeTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrTypeAuth, errors.ErrTypeParse, errors.ErrTypeUpstream:
		return http.StatusBadGateway
	case errors.ErrTypeCanceled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := errors.As(err)
	if !ok {
		appErr = errors.InternalError("unexpected error", err)
	}

	status := statusFor(appErr.Type)
	body := errorBody{
		Error:   string(appErr.Type),
		Message: appErr.Message,
		Field:   appErr.Field,
	}
	if appErr.Type == errors.ErrTypeRateLimit && appErr.RetryAfter > 0 {
		secs := int(math.Ceil(appErr.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		body.RetryAfter = secs
	}
	// Internal details stay in the log
	if status == http.StatusInternalServerError {
		body.Message = "internal server error"
		h.logger.WithContext(r.Context()).Error("Request failed", err,
			logging.String("path", r.URL.Path))
	}
	writeJSON(w, status, body)
}
