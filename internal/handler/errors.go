// Package handler holds the JSON response helpers shared by the HTTP handlers.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/memberhub/internal/domain"
	"github.com/dukerupert/memberhub/internal/middleware"
	"github.com/dukerupert/memberhub/internal/telemetry"
)

// errorBody is the JSON error envelope: {"error":{"code","message","fields"}}.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// ErrorResponse writes err as a JSON error with the status its code maps to.
// Internal details never reach the client; 5xx errors are logged and reported.
func ErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	status := ErrorCodeToHTTPStatus(code)

	logger := middleware.GetLogger(r.Context())
	attrs := []any{
		"error", err.Error(),
		"code", code,
		"op", domain.ErrorOp(err),
		"status", status,
	}
	if status >= 500 {
		logger.Error("request failed", attrs...)
		telemetry.CaptureErrorFromContext(r.Context(), err, map[string]interface{}{
			"request_id": middleware.GetRequestID(r.Context()),
			"op":         domain.ErrorOp(err),
		})
	} else {
		logger.Info("request rejected", attrs...)
	}

	WriteJSON(w, status, errorBody{Error: errorDetail{
		Code:    code,
		Message: domain.ErrorMessage(err),
	}})
}

// ValidationErrorResponse writes a 400 listing every invalid field. Other
// errors fall back to ErrorResponse.
func ValidationErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	fields := domain.GetValidationFields(err)
	if fields == nil {
		ErrorResponse(w, r, err)
		return
	}

	middleware.GetLogger(r.Context()).Info("validation failed",
		"op", domain.ErrorOp(err),
		"fields", fields)

	WriteJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
		Code:    domain.EINVALID,
		Message: domain.ErrorMessage(err),
		Fields:  fields,
	}})
}

// NotFoundResponse writes a 404.
func NotFoundResponse(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, domain.Errorf(domain.ENOTFOUND, "", "The requested resource was not found"))
}

// UnauthorizedResponse writes a 401.
func UnauthorizedResponse(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, domain.Unauthorized("", "Authentication required"))
}

// ForbiddenResponse writes a 403.
func ForbiddenResponse(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, domain.Forbidden("", "You don't have permission to access this resource"))
}

// InternalErrorResponse writes a generic 500.
func InternalErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	ErrorResponse(w, r, domain.Internal(err, "", "An unexpected error occurred"))
}

// ErrorCodeToHTTPStatus maps domain error codes to HTTP status codes.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest // 400
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized // 401
	case domain.EPAYMENT:
		return http.StatusPaymentRequired // 402
	case domain.EFORBIDDEN:
		return http.StatusForbidden // 403
	case domain.ENOTFOUND:
		return http.StatusNotFound // 404
	case domain.ECONFLICT:
		return http.StatusConflict // 409
	case domain.ETOOLARGE:
		return http.StatusRequestEntityTooLarge // 413
	case domain.ERATELIMIT:
		return http.StatusTooManyRequests // 429
	case domain.EUNAVAILABLE:
		return http.StatusServiceUnavailable // 503
	default:
		return http.StatusInternalServerError // 500
	}
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}
