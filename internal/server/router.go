// Package server exposes the REST surface: message history, cash request
// CRUD, the connect operation, and minimal user provisioning. Realtime
// traffic goes through the websocket endpoint, which is mounted here too.
package server

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// NewRouter wires the HTTP routes served by the daemon.
func NewRouter(h *Handlers, wsHandler http.Handler, allowedOrigins []string, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.health)

	mux.HandleFunc("POST /messages", h.createMessage)
	mux.HandleFunc("GET /messages/{userId}/{otherUserId}", h.messageHistory)
	mux.HandleFunc("PUT /messages/read", h.markMessagesRead)

	mux.HandleFunc("GET /cash-requests", h.listRequests)
	mux.HandleFunc("GET /cash-requests/history", h.requestHistory)
	mux.HandleFunc("GET /cash-requests/{id}", h.getRequest)
	mux.HandleFunc("POST /cash-requests", h.createRequest)
	mux.HandleFunc("DELETE /cash-requests/{id}", h.deleteRequest)

	mux.HandleFunc("POST /connections/connect", h.connect)
	mux.HandleFunc("GET /connections/{userId}", h.listConnections)

	mux.HandleFunc("POST /users", h.createUser)
	mux.HandleFunc("GET /users/{id}", h.getUser)

	if wsHandler != nil {
		mux.Handle("GET /ws", wsHandler)
	}

	handler := http.Handler(loggingMiddleware(logger, mux))
	if len(allowedOrigins) > 0 {
		handler = corsMiddleware(allowedOrigins)(handler)
	}
	return handler
}

func loggingMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack delegates to the underlying writer so connection upgrades (the
// websocket endpoint) still work through the logging wrapper.
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("underlying ResponseWriter does not implement http.Hijacker")
	}
	return hj.Hijack()
}

func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	normalized := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		normalized[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			_, allowed := normalized[origin]
			if _, wildcard := normalized["*"]; wildcard {
				allowed = true
			}
			if origin == "" || !allowed {
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
