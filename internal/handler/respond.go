package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fanoutsh/fanout/internal/domain"
	"github.com/fanoutsh/fanout/internal/topic"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// errorBody is the uniform error envelope.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeError maps broker error codes to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := ""

	switch {
	case errors.Is(err, topic.ErrExists):
		status = http.StatusConflict
	case domain.IsCode(err, domain.CodeValidation):
		status = http.StatusBadRequest
		code = string(domain.CodeValidation)
	case domain.IsCode(err, domain.CodeNotFound):
		status = http.StatusNotFound
		code = string(domain.CodeNotFound)
	case domain.IsCode(err, domain.CodeCapacity):
		status = http.StatusTooManyRequests
		code = string(domain.CodeCapacity)
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, status, errorBody{Error: "internal error"})
		return
	}

	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}
