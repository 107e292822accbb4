package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/BaSui01/agentgraph/types"
	"go.uber.org/zap"
)

// Response is the envelope every API endpoint returns.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ErrorInfo describes a failed request.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// WriteJSON writes data as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a success envelope around data.
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// WriteCreated writes a success envelope with 201 Created.
func WriteCreated(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusCreated, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// WriteError writes an error envelope, mapping coded errors to HTTP
// statuses. Unrecognized errors become 500s.
func WriteError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var coded *types.Error
	if !errors.As(err, &coded) {
		coded = types.NewError(types.ErrNodeExecution, err.Error())
	}

	status := httpStatus(coded.Code)
	if logger != nil {
		logger.Warn("request failed",
			zap.String("code", string(coded.Code)),
			zap.String("message", coded.Message),
			zap.Int("status", status),
		)
	}

	WriteJSON(w, status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      string(coded.Code),
			Message:   coded.Message,
			Retryable: coded.Retryable,
		},
		Timestamp: time.Now(),
	})
}

// WriteBadRequest reports a malformed request body or parameter.
func WriteBadRequest(w http.ResponseWriter, message string, logger *zap.Logger) {
	WriteError(w, types.NewError(types.ErrValidation, message), logger)
}

func httpStatus(code types.ErrorCode) int {
	switch code {
	case types.ErrValidation, types.ErrUnknownFunction:
		return http.StatusBadRequest
	case types.ErrNotFound:
		return http.StatusNotFound
	case types.ErrAlreadyDecided, types.ErrInvalidState, types.ErrCancelled:
		return http.StatusConflict
	case types.ErrRouting, types.ErrRecursion:
		return http.StatusUnprocessableEntity
	case types.ErrTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// decode reads the request body into v, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
