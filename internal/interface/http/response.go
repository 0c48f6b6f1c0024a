package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/oceanvision/marine-catalog/internal/domain/shared"
	"github.com/oceanvision/marine-catalog/pkg/logger"
)

// JSONResponse is the envelope of every API response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type ResponseMeta struct {
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version,omitempty"`
	TotalCount int       `json:"total_count,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSONWithMeta(w, r, status, data, nil)
}

// writeJSONWithMeta fills in the timestamp and API version of meta.
func writeJSONWithMeta(w http.ResponseWriter, r *http.Request, status int, data any, meta *ResponseMeta) {
	m := ResponseMeta{}
	if meta != nil {
		m = *meta
	}
	m.Timestamp, m.Version = time.Now().UTC(), "v1"

	send(w, status, JSONResponse{
		Success:   status < http.StatusBadRequest,
		Data:      data,
		Meta:      &m,
		RequestID: requestIDFrom(r.Context()),
	})
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	send(w, status, JSONResponse{
		Error:     &APIError{Code: code, Message: message},
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC()},
		RequestID: requestIDFrom(r.Context()),
	})
}

func send(w http.ResponseWriter, status int, body JSONResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type apiFailure struct {
	status  int
	code    string
	message string // empty means the error's public message
}

var (
	failNotFound    = apiFailure{http.StatusNotFound, "not_found", ""}
	failValidation  = apiFailure{http.StatusBadRequest, "invalid_request", ""}
	failTimeout     = apiFailure{http.StatusGatewayTimeout, "timeout", "The request timed out"}
	failUnavailable = apiFailure{http.StatusServiceUnavailable, "service_unavailable", ""}
	failInternal    = apiFailure{http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred"}
)

func classify(err error) apiFailure {
	switch {
	case shared.IsNotFound(err):
		return failNotFound
	case shared.IsValidation(err):
		return failValidation
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, shared.ErrTimeout):
		return failTimeout
	case errors.Is(err, shared.ErrServiceUnavailable), shared.IsExternalService(err):
		return failUnavailable
	default:
		return failInternal
	}
}

// writeDomainError maps application errors onto HTTP statuses. Server-side
// failures are logged with the request logger.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	f := classify(err)
	switch f {
	case failUnavailable:
		logger.FromContext(r.Context()).Warn("catalog unavailable", logger.Err(err))
	case failInternal:
		logger.FromContext(r.Context()).Error("request failed", logger.Err(err))
	}

	msg := f.message
	if msg == "" {
		msg = publicMessage(err)
	}
	writeJSONError(w, r, f.status, f.code, msg)
}

// publicMessage drops the op prefix of domain errors.
func publicMessage(err error) string {
	var de *shared.DomainError
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return err.Error()
}
