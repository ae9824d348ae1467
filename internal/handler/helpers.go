package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/journeyman/messaging/internal/logger"
	"github.com/journeyman/messaging/internal/storage"
	"github.com/journeyman/messaging/internal/ws"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeHubError maps errors from the ws core to HTTP statuses.
func writeHubError(w http.ResponseWriter, op string, err error) {
	var fe *ws.FrameError
	switch {
	case errors.As(err, &fe) && fe.Code == ws.CodeNotFound:
		writeError(w, http.StatusNotFound, fe.Msg)
	case errors.As(err, &fe) && fe.Code == ws.CodeValidation:
		writeError(w, http.StatusBadRequest, fe.Msg)
	case errors.Is(err, ws.ErrUnknownRecipient), errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, ws.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Errorf("%s: %v", op, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
