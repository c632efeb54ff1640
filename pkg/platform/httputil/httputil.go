// Package httputil holds the JSON response and request helpers shared by handlers.
package httputil

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	dErrors "chatguard/pkg/domain-errors"
)

// maxBodyBytes bounds request bodies decoded by DecodeAndPrepare.
const maxBodyBytes = 1 << 20

// ErrorResponse is the body written for coded errors.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON writes v as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to a status and body. Server-side failures never leak
// their message.
func WriteError(w http.ResponseWriter, err error) {
	de, ok := dErrors.As(err)
	if !ok {
		WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: string(dErrors.CodeInternal)})
		return
	}
	resp := ErrorResponse{Error: string(de.Code)}
	if de.Code.IsClientError() {
		resp.ErrorDescription = de.Message
	}
	WriteJSON(w, de.Code.HTTPStatus(), resp)
}

// Validatable is implemented by request bodies decoded with DecodeAndPrepare.
type Validatable interface {
	Validate() error
}

// Normalizable request bodies are normalized before validation.
type Normalizable interface {
	Normalize()
}

// DecodeAndPrepare decodes the JSON body into a T, normalizes and validates it.
// On failure it writes the error response and returns false.
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	req := new(T)
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(req); err != nil {
		if logger != nil {
			logger.WarnContext(ctx, "invalid request body",
				"request_id", requestID,
				"error", err.Error(),
			)
		}
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return nil, false
	}
	if n, ok := any(req).(Normalizable); ok {
		n.Normalize()
	}
	if v, ok := any(req).(Validatable); ok {
		if err := v.Validate(); err != nil {
			if logger != nil {
				logger.WarnContext(ctx, "request validation failed",
					"request_id", requestID,
					"error", err.Error(),
				)
			}
			WriteError(w, err)
			return nil, false
		}
	}
	return req, true
}
