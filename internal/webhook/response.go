package webhook

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/relayforge/relay/internal/errs"
)

// ErrorCode is the API error code.
type ErrorCode string

const (
	ErrCodeBadRequest    ErrorCode = "BAD_REQUEST"
	ErrCodeUnauthorized  ErrorCode = "UNAUTHORIZED"
	ErrCodeRateLimited   ErrorCode = "RATE_LIMITED"
	ErrCodePayloadTooBig ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
)

// ErrorResponse is the JSON shape for an error reply.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a machine-readable code alongside the message.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// AdmissionResponse is returned on the webhook endpoints: the tracker's
// retry loop must never be used as backpressure, so this is always 202
// except for signature/size/rate-limit failures.
type AdmissionResponse struct {
	Skipped         bool   `json:"skipped,omitempty"`
	Queued          bool   `json:"queuedForManual,omitempty"`
	ValidationError bool   `json:"validationError,omitempty"`
	Message         string `json:"message,omitempty"`
}

// JSON writes data as a JSON response with the given status.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Accepted always replies 202, per the admission pipeline's
// never-block-the-retry-queue contract.
func Accepted(w http.ResponseWriter, resp AdmissionResponse) {
	JSON(w, http.StatusAccepted, resp)
}

// Error writes a structured error response.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// Unauthorized writes a 401 for signature verification failures.
func Unauthorized(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// PayloadTooLarge writes a 413 for oversized request bodies.
func PayloadTooLarge(w http.ResponseWriter) {
	Error(w, http.StatusRequestEntityTooLarge, ErrCodePayloadTooBig, "payload exceeds maximum size")
}

// NotFound writes a 404.
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// InternalError logs err and writes a 500.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// tagToStatus maps a tagged domain error to its HTTP status for the
// health endpoints (webhook ingress itself never propagates these —
// see spec.md §4.1 failure semantics).
func tagToStatus(tag errs.Tag) int {
	switch tag {
	case errs.ValidationError:
		return http.StatusBadRequest
	case errs.AuthError:
		return http.StatusUnauthorized
	case errs.NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
