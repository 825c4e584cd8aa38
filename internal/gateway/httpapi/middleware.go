package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/jkaninda/warden/internal/ratelimit"
)

const (
	headerCorrelationID = "X-Correlation-ID"
	headerAgentID       = "X-Agent-ID"
)

type correlationKey struct{}

// correlationIDFrom returns the request's correlation id, or "".
func correlationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

func newCorrelationID() string {
	id, err := gonanoid.New(16)
	if err != nil {
		return "unavailable"
	}
	return id
}

// correlationMiddleware tags every request with a correlation id (reusing a
// caller-supplied one) and logs its completion.
func correlationMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerCorrelationID)
		if id == "" || len(id) > 64 {
			id = newCorrelationID()
		}
		w.Header().Set(headerCorrelationID, id)
		r = r.WithContext(context.WithValue(r.Context(), correlationKey{}, id))

		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("correlation_id", id),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

// rateLimitMiddleware limits /v1 requests per agent header, falling back to
// the client address.
func rateLimitMiddleware(l *ratelimit.Limiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/") {
			next.ServeHTTP(w, r)
			return
		}
		if err := l.Allow(clientKey(r)); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(ErrorBody{Error: err.Error()})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if agent := r.Header.Get(headerAgentID); agent != "" {
		return "agent:" + agent
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}
