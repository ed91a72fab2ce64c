package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	xlog "playsession/internal/log"
	"playsession/internal/session"
)

// Error codes for failures that are not session conflicts.
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeInvalidJSON     = "INVALID_JSON"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeRateLimited     = "RATE_LIMITED"
	CodeInternal        = "INTERNAL_ERROR"
)

var errInvalidJSON = errors.New("request body is not valid JSON")

// ErrorResponse is the body of every failed request. Conflict details are
// merged into the top level next to these fields.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	Field     string `json:"field,omitempty"`
}

// FUNCTIONAL DISCOVERY: store and unexpected failures never reach the
// client as text; the request id ties the generic message to the log line.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var limited *session.AttemptsError
	if errors.As(err, &limited) {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(limited.RetryAfter.Seconds()))))
	}
	status, body, extra := classify(err)
	body.Error = http.StatusText(status)
	body.RequestID = xlog.RequestIDFromContext(r.Context())

	if status == http.StatusInternalServerError {
		logger := xlog.FromContext(r.Context())
		logger.Error().Err(err).Str(xlog.FieldPath, r.URL.Path).Msg("request failed")
	}

	if len(extra) == 0 {
		writeJSON(w, status, body)
		return
	}
	merged := map[string]any{
		"error":   body.Error,
		"code":    body.Code,
		"message": body.Message,
	}
	if body.RequestID != "" {
		merged["request_id"] = body.RequestID
	}
	for k, v := range extra {
		if _, taken := merged[k]; !taken {
			merged[k] = v
		}
	}
	writeJSON(w, status, merged)
}

func classify(err error) (int, ErrorResponse, map[string]any) {
	var (
		conflict   *session.ConflictError
		validation *session.ValidationError
	)
	switch {
	case errors.Is(err, errInvalidJSON):
		return http.StatusBadRequest, ErrorResponse{Code: CodeInvalidJSON, Message: err.Error()}, nil
	case errors.As(err, &validation):
		return http.StatusBadRequest, ErrorResponse{Code: CodeValidation, Message: validation.Error(), Field: validation.Field}, nil
	case errors.As(err, &conflict):
		return http.StatusConflict, ErrorResponse{Code: conflict.Code, Message: conflict.Message}, conflict.Details
	case errors.Is(err, session.ErrTooManyAttempts):
		return http.StatusTooManyRequests, ErrorResponse{Code: CodeRateLimited, Message: err.Error()}, nil
	case errors.Is(err, session.ErrUnauthenticated):
		return http.StatusUnauthorized, ErrorResponse{Code: CodeUnauthenticated, Message: "Authentication required"}, nil
	case errors.Is(err, session.ErrForbidden):
		return http.StatusForbidden, ErrorResponse{Code: CodeForbidden, Message: "Not allowed to access this session"}, nil
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound, ErrorResponse{Code: CodeNotFound, Message: "Session not found"}, nil
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Code: CodeNotFound, Message: "Not found"}, nil
	default:
		return http.StatusInternalServerError, ErrorResponse{Code: CodeInternal, Message: "An unexpected error occurred"}, nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errInvalidJSON
	}
	return nil
}
