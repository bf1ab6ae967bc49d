package server

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalwatch/internal/common"
	"github.com/ternarybob/portalwatch/internal/handlers"
)

const requestIDHeader = "X-Request-ID"

type middleware func(http.Handler) http.Handler

// withMiddleware wraps handler so that the first middleware listed runs first
func (s *Server) withMiddleware(handler http.Handler) http.Handler {
	chain := []middleware{s.logRequests, s.cors, s.recoverPanics}
	for i := len(chain) - 1; i >= 0; i-- {
		handler = chain[i](handler)
	}
	return handler
}

// logRequests assigns or propagates the request id and logs each exchange.
// Mutations and failures log at info, everything else at debug.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)

		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		// Upgraded WebSocket connections are logged by the handler
		if rw.hijacked {
			return
		}

		logger := s.app.Logger.WithCorrelationId(id)
		event := logger.Debug()
		if r.Method != http.MethodGet || rw.status >= 400 {
			event = logger.Info()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("client", handlers.ClientIP(r)).
			Int("status", rw.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// cors allows the configured origins. "*" allows any.
func (s *Server) cors(next http.Handler) http.Handler {
	allowAll := false
	origins := make(map[string]bool)
	for _, o := range s.app.Config.Server.AllowedOrigins {
		if o == "*" {
			allowAll = true
		}
		origins[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && origins[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+requestIDHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recoverPanics turns a handler panic into a JSON 500 tagged with the request id
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			var logger arbor.ILogger = s.app.Logger
			if id := r.Header.Get(requestIDHeader); id != "" {
				logger = logger.WithCorrelationId(id)
			}
			logger.Error().
				Str("panic", fmt.Sprint(rec)).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("stack", common.GetStackTrace()).
				Msg("Handler panicked")

			handlers.WriteError(w, http.StatusInternalServerError, "internal error")
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status and passes hijacking through
// so /ws can upgrade behind the middleware
type statusRecorder struct {
	http.ResponseWriter
	status   int
	hijacked bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.hijacked = true
	return h.Hijack()
}
