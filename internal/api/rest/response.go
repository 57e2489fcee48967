package rest

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	domainErrors "github.com/securelens/securelens/internal/domain/errors"
)

// ResponseEnvelope wraps all API responses
type ResponseEnvelope struct {
	Success bool           `json:"success"`
	Data    interface{}    `json:"data,omitempty"`
	Error   *ErrorResponse `json:"error,omitempty"`
	Meta    ResponseMeta   `json:"meta"`
}

// ResponseMeta contains response metadata
type ResponseMeta struct {
	RequestID string    `json:"request_id,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// ErrorResponse provides detailed error information
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

const apiVersion = "v1"

func meta(r *http.Request) ResponseMeta {
	m := ResponseMeta{
		RequestID: requestIDFrom(r.Context()),
		Timestamp: time.Now().UTC(),
		Version:   apiVersion,
	}
	if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
		m.TraceID = sc.TraceID().String()
	}
	return m
}

func writeSuccess(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	writeJSON(w, status, ResponseEnvelope{Success: true, Data: data, Meta: meta(r)})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, retryable bool) {
	writeJSON(w, status, ResponseEnvelope{
		Success: false,
		Error:   &ErrorResponse{Code: code, Message: message, Retryable: retryable},
		Meta:    meta(r),
	})
}

// writeJSON writes JSON response with proper headers
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleError maps domain errors to HTTP status codes. Internal details of
// unexpected errors are logged, not returned.
func handleError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var appErr *domainErrors.AppError
	if !stderrors.As(err, &appErr) {
		logger.Error("Unhandled error", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred", false)
		return
	}

	status := statusFor(appErr.Type)
	message := appErr.Message
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
		if appErr.Type == domainErrors.ErrorTypeInternal || appErr.Type == domainErrors.ErrorTypeInvariant {
			message = "An internal error occurred"
		}
	}
	writeError(w, r, status, appErr.Code, message, appErr.Retryable)
}

func statusFor(t domainErrors.ErrorType) int {
	switch t {
	case domainErrors.ErrorTypeValidation:
		return http.StatusBadRequest
	case domainErrors.ErrorTypeNotFound:
		return http.StatusNotFound
	case domainErrors.ErrorTypeConflict:
		return http.StatusConflict
	case domainErrors.ErrorTypeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
