package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/duplicate"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string, fields map[string]string) {
	writeJSON(w, status, errorBody{Error: msg, Fields: fields})
}

// writeErr maps an error from the duplicate package to a status code.
// Anything unrecognized is a 500 with a generic message; the cause is logged.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	var (
		be *bindError
		ve *duplicate.ValidationError
		nf *duplicate.NotFoundError
	)
	switch {
	case errors.As(err, &be):
		writeError(w, http.StatusBadRequest, be.msg, be.fields)
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error(), map[string]string{ve.Field: ve.Reason})
	case errors.As(err, &nf):
		writeError(w, http.StatusNotFound, nf.Error(), nil)
	default:
		zap.L().Error("api: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error", nil)
	}
}
