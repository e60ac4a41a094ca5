// Package httpapi exposes the governance core over HTTP: policy
// evaluation, contract lifecycle, ledger reads and verification, and the
// reflexive core's simulation and submission endpoints.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/praxis-systems/aegis/pkg/contracts"
	"github.com/praxis-systems/aegis/pkg/ledger"
	"github.com/praxis-systems/aegis/pkg/reflexive"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, errMsg, reason string) {
	writeJSON(w, status, errorBody{Error: errMsg, Reason: reason})
}

func writeBadRequest(w http.ResponseWriter, reason string) {
	writeError(w, http.StatusBadRequest, "invalid input", reason)
}

func writeNotFound(w http.ResponseWriter, reason string) {
	writeError(w, http.StatusNotFound, "not found", reason)
}

func writeInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error", "")
}

// writeServiceError maps domain sentinel errors onto status codes:
// missing resources are 404, rejected input is 400, the rest is 500
// with the detail kept out of the response body.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, contracts.ErrNotFound),
		errors.Is(err, ledger.ErrEntryNotFound),
		errors.Is(err, ledger.ErrBlockNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, contracts.ErrInvalidContract),
		errors.Is(err, contracts.ErrInvalidTransition),
		errors.Is(err, contracts.ErrAlreadySigned),
		errors.Is(err, contracts.ErrInvalidSignature),
		errors.Is(err, ledger.ErrInvalidEvent),
		errors.Is(err, ledger.ErrBlockNotSealed),
		errors.Is(err, reflexive.ErrInvalidAction):
		writeBadRequest(w, err.Error())
	default:
		writeInternal(w, err)
	}
}

// decodeJSON reads a size-capped JSON body.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		writeBadRequest(w, "malformed request body")
		return false
	}
	return true
}
