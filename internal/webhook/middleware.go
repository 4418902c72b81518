package webhook

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Middleware — функция-обёртка для http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain применяет middleware в порядке слева направо.
// Chain(m1, m2)(handler) = m1(m2(handler))
func Chain(middlewares ...Middleware) Middleware {
	return func(next http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Logging логирует HTTP запросы.
func Logging(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Обёртка для захвата статуса ответа
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.status,
				"duration", time.Since(start),
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}

// Recovery восстанавливается после паники.
func Recovery(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						"error", err,
						"stack", string(debug.Stack()),
						"path", r.URL.Path,
					)
					InternalError(w, logger, nil)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// responseWriter — обёртка для захвата статуса ответа.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

// clientLimiter is a per-client-address token bucket holding 30 requests
// and refilled at one request every 2s (30 per minute). It is not a sliding
// window: a client that starts with a full bucket can pass about 60
// requests in its first minute.
type clientLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	logger   *slog.Logger
}

func newClientLimiter(logger *slog.Logger) *clientLimiter {
	return &clientLimiter{limiters: make(map[string]*rate.Limiter), logger: logger}
}

func (c *clientLimiter) allow(addr string) bool {
	c.mu.Lock()
	l, ok := c.limiters[addr]
	if !ok {
		l = rate.NewLimiter(rate.Every(2*time.Second), 30)
		c.limiters[addr] = l
	}
	c.mu.Unlock()
	return l.Allow()
}

// RateLimit rejects requests over the per-client budget with 429 and a
// Retry-After header.
func RateLimit(logger *slog.Logger) Middleware {
	cl := newClientLimiter(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cl.allow(r.RemoteAddr) {
				w.Header().Set("Retry-After", "2")
				Error(w, http.StatusTooManyRequests, ErrCodeRateLimited, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
