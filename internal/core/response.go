package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"billingsync/internal/types"
)

// maxRequestBodySize bounds JSON request bodies on the /v1 API.
const maxRequestBodySize = 1 << 20

// APIResponse is the envelope for successful /v1 responses.
type APIResponse struct {
	Data any `json:"data,omitempty"`
}

// APIErrorResponse is the envelope for all error responses.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the structured error returned to clients.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

// JSON marshals data and writes it with status. A marshal failure becomes
// a 500 internal_unexpected_error.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(APIErrorResponse{
			Error: ErrorDetail{
				Code:      string(types.ErrCodeInternalUnexpected),
				Message:   "failed to marshal response",
				RequestID: types.GetRequestID(r.Context()),
			},
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error renders err. A *types.AppError in the chain determines the status
// and code; any other error is a 500 with a generic message.
//
// Details of internal_* errors are not exposed: they carry database and
// upstream specifics that belong in logs and the audit trail.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	requestID := types.GetRequestID(r.Context())

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		JSON(w, r, http.StatusInternalServerError, APIErrorResponse{
			Error: ErrorDetail{
				Code:      string(types.ErrCodeInternalUnexpected),
				Message:   "an unexpected error occurred",
				RequestID: requestID,
			},
		})
		return
	}

	detail := ErrorDetail{
		Code:      string(appErr.Code),
		Message:   appErr.Message,
		RequestID: requestID,
	}
	if !strings.HasPrefix(string(appErr.Code), "internal_") {
		detail.Details = appErr.Details
	}
	JSON(w, r, appErr.HTTPStatus(), APIErrorResponse{Error: detail})
}

// ReadBody reads at most limit bytes of the request body. A larger body
// yields validation_malformed_payload.
func ReadBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationMalformedPayload,
				"request body too large", err, map[string]any{"limit_bytes": limit})
		}
		return nil, types.NewAppError(types.ErrCodeValidationMalformedPayload, "failed to read request body", err)
	}
	return body, nil
}

// DecodeJSON decodes a single JSON object from the request body into dst,
// rejecting unknown fields and bodies over 1 MB.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return mapDecodeError(err)
	}
	if dec.More() {
		return types.NewAppError(types.ErrCodeValidationMalformedPayload,
			"request body must contain a single JSON object", nil)
	}
	return nil
}

func mapDecodeError(err error) *types.AppError {
	var (
		maxBytesErr      *http.MaxBytesError
		syntaxErr        *json.SyntaxError
		unmarshalTypeErr *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &maxBytesErr):
		return types.NewAppError(types.ErrCodeValidationMalformedPayload, "request body must not exceed 1MB", err)
	case errors.As(err, &syntaxErr):
		return types.NewAppError(types.ErrCodeValidationMalformedPayload, "malformed JSON in request body", err)
	case errors.As(err, &unmarshalTypeErr):
		return types.NewAppErrorWithDetails(types.ErrCodeValidationMalformedPayload, "invalid value for field", err,
			map[string]any{
				"field":    unmarshalTypeErr.Field,
				"expected": unmarshalTypeErr.Type.String(),
			})
	case strings.HasPrefix(err.Error(), "json: unknown field"):
		return types.NewAppError(types.ErrCodeValidationMalformedPayload,
			"unknown field in request body: "+strings.TrimPrefix(err.Error(), "json: unknown field "), err)
	case errors.Is(err, io.EOF):
		return types.NewAppError(types.ErrCodeValidationMalformedPayload, "request body must not be empty", err)
	default:
		return types.NewAppError(types.ErrCodeValidationMalformedPayload, "invalid JSON in request body", err)
	}
}
