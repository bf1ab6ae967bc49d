package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// maxBodyBytes caps request bodies on the command endpoints
const maxBodyBytes = 64 << 10

// RequireMethod answers 405 with an Allow header unless r uses method
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	WriteError(w, http.StatusMethodNotAllowed, "method "+r.Method+" not allowed, use "+method)
	return false
}

// WriteJSON encodes data as the response body with statusCode
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes {"status":"success","message":message} with 200
func WriteSuccess(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusOK, map[string]string{"status": "success", "message": message})
}

// WriteError writes {"status":"error","error":message}
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// DecodeJSON reads an optional JSON body into v. An empty body leaves v untouched.
func DecodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// PathParam returns the path segment after prefix up to the next slash,
// e.g. PathParam("/api/stores/leads/reset", "/api/stores/") == "leads"
func PathParam(path, prefix string) string {
	rest := strings.TrimPrefix(path, prefix)
	if rest == path {
		return ""
	}
	if i := strings.Index(rest, "/"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// ClientIP returns the remote host without the port
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
