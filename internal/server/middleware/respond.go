package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

// writeFailure sends the API's failure envelope.
func writeFailure(w http.ResponseWriter, status int, kind domain.ErrorKind, msg string) {
	data, _ := json.Marshal(map[string]any{
		"success":    false,
		"error_kind": kind,
		"message":    msg,
	})
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}
