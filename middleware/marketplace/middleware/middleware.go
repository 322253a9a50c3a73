package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Machine-readable error codes carried in every failure envelope.
const (
	CodeInvalidParameter = "invalid_parameter"
	CodeValidationError  = "validation_error"
	CodeUnauthorized     = "unauthorized"
	CodeForbidden        = "forbidden"
	CodeNotFound         = "not_found"
	CodeConflict         = "conflict"
	CodeRateLimited      = "rate_limited"
	CodeInternalError    = "internal_error"
)

// Meta accompanies every response. Cursor fields are present only on
// paginated list reads.
type Meta struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
	Cursor    string    `json:"cursor,omitempty"`
	HasMore   *bool     `json:"has_more,omitempty"`
	Count     *int      `json:"count,omitempty"`
}

// ErrorBody is the failure payload: a machine-readable code, a message,
// and a human-actionable suggestion.
type ErrorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion"`
}

// Envelope is the uniform response shape. A 2xx body never carries Error.
type Envelope struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error *ErrorBody  `json:"error,omitempty"`
	Meta  Meta        `json:"meta"`
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

// RequestID assigns a correlation id to the request context.
func RequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		next(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	}
}

// GetRequestID returns the correlation id assigned by RequestID.
func GetRequestID(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func meta(r *http.Request) Meta {
	return Meta{Timestamp: time.Now().UTC(), RequestID: GetRequestID(r)}
}

// JSON sends a success envelope.
func JSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	write(w, status, Envelope{OK: true, Data: data, Meta: meta(r)})
}

// Page sends a success envelope with pagination meta.
func Page(w http.ResponseWriter, r *http.Request, status int, data interface{}, cursor string, hasMore bool, count int) {
	m := meta(r)
	m.Cursor = cursor
	m.HasMore = &hasMore
	m.Count = &count
	write(w, status, Envelope{OK: true, Data: data, Meta: m})
}

// Error sends a failure envelope.
func Error(w http.ResponseWriter, r *http.Request, status int, code, message, suggestion string) {
	write(w, status, Envelope{
		OK:    false,
		Error: &ErrorBody{Code: code, Message: message, Suggestion: suggestion},
		Meta:  meta(r),
	})
}

func write(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// CORS handles cross-origin requests for the API surface.
func CORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}
