package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"crewarchive.org/internal/requests"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeEngineError maps the engine's sentinel errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, requests.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, "not authenticated")
	case errors.Is(err, requests.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, requests.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, requests.ErrInvalidState), errors.Is(err, requests.ErrDuplicatePending):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, requests.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, requests.ErrMergeFailed):
		writeError(w, http.StatusInternalServerError, "account merge failed")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return false
	}
	return true
}
