package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// maxBodyBytes bounds request bodies; carts and discount definitions are
// small.
const maxBodyBytes = 1 << 20

// apiError is the wire shape of every error response.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zctx.From(r.Context()).Warn("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, apiError{Code: status, Message: msg})
}

func writeInternalError(w http.ResponseWriter, r *http.Request, err error) {
	zctx.From(r.Context()).Error("request failed", zap.Error(err))
	writeError(w, r, http.StatusInternalServerError, "internal error")
}

// decodeBody decodes a JSON request body into v, rejecting oversized or
// malformed payloads.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer func() { _, _ = io.Copy(io.Discard, body) }()

	if err := json.NewDecoder(body).Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
