// Package response writes the small set of non-HTML responses appshell
// produces: a JSON envelope for operational endpoints and plain-text errors
// for asset routes.
package response

import (
	"encoding/json"
	"net/http"
)

type envelope struct {
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func write(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}

// Success sends a 200 JSON response with data.
func Success(w http.ResponseWriter, data any) {
	write(w, http.StatusOK, envelope{Status: http.StatusOK, Data: data})
}

// Error sends a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	write(w, status, envelope{Status: status, Message: message})
}

// Text sends a plain-text response with the status text as body when
// message is empty.
func Text(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(message + "\n"))
}

// NotFound sends a plain-text 404.
func NotFound(w http.ResponseWriter) {
	Text(w, http.StatusNotFound, "")
}

// Unavailable sends a plain-text 503 for routes whose plugin failed to
// register.
func Unavailable(w http.ResponseWriter, feature string) {
	Text(w, http.StatusServiceUnavailable, feature+" unavailable")
}

// InternalError sends a plain-text 500 without leaking err to the client.
func InternalError(w http.ResponseWriter) {
	Text(w, http.StatusInternalServerError, "")
}
