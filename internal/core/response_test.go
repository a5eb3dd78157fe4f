package core

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"billingsync/internal/types"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var body APIErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body.Error
}

func TestJSON_Success(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusOK, map[string]bool{"success": true})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"success":true}` {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestJSON_MarshalFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusOK, map[string]any{"ch": make(chan int)})

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestError_MapsAppErrorCodes(t *testing.T) {
	tests := []struct {
		code types.ErrorCode
		want int
	}{
		{types.ErrCodeValidationMalformedPayload, http.StatusBadRequest},
		{types.ErrCodeAuthSignatureInvalid, http.StatusUnauthorized},
		{types.ErrCodeNotFoundOrder, http.StatusNotFound},
		{types.ErrCodeMethodNotAllowed, http.StatusMethodNotAllowed},
		{types.ErrCodeConflictOrderState, http.StatusConflict},
		{types.ErrCodeUpstreamTokenService, http.StatusBadGateway},
		{types.ErrCodeInternalWebhookProcessing, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req = req.WithContext(types.WithRequestID(req.Context(), "req-1"))

			Error(rec, req, types.NewAppError(tt.code, "msg", nil))

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			got := decodeError(t, rec)
			if got.Code != string(tt.code) || got.RequestID != "req-1" {
				t.Errorf("error body = %+v", got)
			}
		})
	}
}

func TestError_HidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	err := types.NewAppErrorWithDetails(types.ErrCodeInternalWebhookProcessing, "failed", errors.New("pg: timeout"),
		map[string]any{"cause": "internal_database_error"})

	Error(rec, httptest.NewRequest(http.MethodPost, "/", nil), err)

	if got := decodeError(t, rec); got.Details != nil {
		t.Errorf("internal details leaked: %v", got.Details)
	}
	if strings.Contains(rec.Body.String(), "pg: timeout") {
		t.Error("wrapped error leaked into response")
	}
}

func TestError_KeepsValidationDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	err := types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField, "missing", nil,
		map[string]any{"field": "event"})

	Error(rec, httptest.NewRequest(http.MethodPost, "/", nil), err)

	if got := decodeError(t, rec); got.Details["field"] != "event" {
		t.Errorf("details = %v", got.Details)
	}
}

func TestError_GenericError(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("secret internals"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret internals") {
		t.Error("generic error message leaked")
	}
}

func TestReadBody(t *testing.T) {
	rec := httptest.NewRecorder()
	body, err := ReadBody(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("hello")), 16)
	if err != nil || string(body) != "hello" {
		t.Fatalf("ReadBody = %q, %v", body, err)
	}

	_, err = ReadBody(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 17))), 16)
	if types.CodeOf(err) != types.ErrCodeValidationMalformedPayload {
		t.Errorf("oversized body error = %v", err)
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		OrderID string `json:"order_id"`
	}
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"order_id":"ord_1"}`, false},
		{"empty", ``, true},
		{"syntax", `{"order_id":`, true},
		{"unknown field", `{"order_id":"o","extra":1}`, true},
		{"wrong type", `{"order_id":5}`, true},
		{"two objects", `{"order_id":"a"}{"order_id":"b"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dst payload
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			err := DecodeJSON(httptest.NewRecorder(), req, &dst)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && types.CodeOf(err) != types.ErrCodeValidationMalformedPayload {
				t.Errorf("code = %s", types.CodeOf(err))
			}
		})
	}
}

func TestValidator_ValidateStruct(t *testing.T) {
	type req struct {
		OrderID   string `json:"order_id" validate:"required"`
		Signature string `json:"signature" validate:"required,len=4"`
	}
	v := NewValidator(slog.Default())

	if err := v.ValidateStruct(req{OrderID: "o", Signature: "abcd"}); err != nil {
		t.Errorf("valid struct rejected: %v", err)
	}

	err := v.ValidateStruct(req{Signature: "abc"})
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeValidationInvalidEntity {
		t.Fatalf("err = %v", err)
	}
	fields, _ := appErr.Details["fields"].(map[string]any)
	if fields["order_id"] != "required" || fields["signature"] != "len=4" {
		t.Errorf("fields = %v", fields)
	}
}
