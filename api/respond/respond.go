// Package respond writes HTTP responses in the {code, message, result}
// envelope used by the dispatch API.
package respond

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kilianp07/dispatchsync/core/backend"
	"github.com/kilianp07/dispatchsync/core/mutation"
)

// OK writes result with status 200.
func OK(w http.ResponseWriter, result any) {
	env, err := backend.OK(result)
	if err != nil {
		JSON(w, http.StatusInternalServerError, backend.Fail(err.Error()))
		return
	}
	JSON(w, http.StatusOK, env)
}

// Error writes msg in a failure envelope.
func Error(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, backend.Fail(msg))
}

// Status maps err to an HTTP status code. Backend and transport failures
// are reported as 502.
func Status(err error) int {
	switch {
	case errors.Is(err, mutation.ErrPending):
		return http.StatusConflict
	case mutation.IsPrecondition(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, backend.ErrNotFound), errors.Is(err, backend.ErrReservedID):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// Err writes err with the status from Status.
func Err(w http.ResponseWriter, err error) {
	Error(w, Status(err), err.Error())
}

// JSON writes v as JSON.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
