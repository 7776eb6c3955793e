// Package apierror defines the CORE's error kinds and their RFC 7807
// Problem Detail JSON rendering, per spec.md §7.
package apierror

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Kind is one of the error kinds spec.md §7 enumerates.
type Kind string

const (
	KindInvalidInput       Kind = "InvalidInput"
	KindNotFound           Kind = "NotFound"
	KindUnauthenticated    Kind = "Unauthenticated"
	KindUnauthorized       Kind = "Unauthorized"
	KindUpstreamUnavailable Kind = "UpstreamUnavailable"
	KindConflict           Kind = "Conflict"
	KindIntegrityFailure   Kind = "IntegrityFailure"
	KindInternal           Kind = "Internal"
	KindRateLimited        Kind = "RateLimited"
)

var statusByKind = map[Kind]int{
	KindInvalidInput:        http.StatusBadRequest,
	KindNotFound:            http.StatusNotFound,
	KindUnauthenticated:     http.StatusUnauthorized,
	KindUnauthorized:        http.StatusForbidden,
	KindUpstreamUnavailable: http.StatusBadGateway,
	KindConflict:            http.StatusConflict,
	KindIntegrityFailure:    http.StatusUnprocessableEntity,
	KindInternal:            http.StatusInternalServerError,
	KindRateLimited:         http.StatusTooManyRequests,
}

// Error is the CORE's typed error. It never carries unredacted payload
// values in Detail — callers must pre-redact before constructing one.
type Error struct {
	Kind          Kind
	Detail        string
	CorrelationID string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Status returns the HTTP status code for the error's kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New constructs a new typed Error.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// WithCorrelationID returns a copy of e carrying the given correlation ID.
func (e *Error) WithCorrelationID(id string) *Error {
	cp := *e
	cp.CorrelationID = id
	return &cp
}

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs). All
// CORE-originated API error responses use this envelope.
type ProblemDetail struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail,omitempty"`
	Instance      string `json:"instance,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Write renders err as an RFC 7807 response body. If err is not an *Error,
// it is treated as Internal and logged (but never echoed to the client).
func Write(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, ok := err.(*Error)
	if !ok {
		slog.Error("internal server error", "error", err)
		apiErr = New(KindInternal, "An unexpected error occurred. Please try again later.")
	}

	problem := &ProblemDetail{
		Type:          fmt.Sprintf("https://compliantcore.example/errors/%s", apiErr.Kind),
		Title:         string(apiErr.Kind),
		Status:        apiErr.Status(),
		Detail:        apiErr.Detail,
		CorrelationID: apiErr.CorrelationID,
	}
	if r != nil {
		problem.Instance = r.URL.Path
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}

// DetailJSON renders a minimal {"detail": "..."} body per spec.md §7's
// "Errors are JSON {detail: string} plus an HTTP status" user-visible
// contract, for callers that want the terser envelope instead of full
// RFC 7807.
func DetailJSON(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
