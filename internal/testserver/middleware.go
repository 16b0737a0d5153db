package testserver

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/large-farva/tether/internal/log"
)

// requestID echoes the caller's X-Request-ID or assigns one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
			r.Header.Set("X-Request-ID", id)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// recoverer turns a handler panic into a logged 500.
func recoverer(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error().
						Str(log.FieldMethod, r.Method).
						Str(log.FieldPath, r.URL.Path).
						Str(log.FieldRequestID, r.Header.Get("X-Request-ID")).
						Interface("panic", rec).
						Msg("panic recovered in HTTP handler")
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func accessLog(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str(log.FieldMethod, r.Method).
				Str(log.FieldPath, r.URL.Path).
				Int(log.FieldStatus, ww.Status()).
				Str(log.FieldRequestID, r.Header.Get("X-Request-ID")).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

// limitLogins rejects more than n login attempts per client IP per minute
// with a 429 carrying Retry-After.
func limitLogins(n int) func(http.Handler) http.Handler {
	return httprate.Limit(
		n,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
		}),
	)
}

func countBody(r *http.Request) (int64, error) {
	return io.Copy(io.Discard, io.LimitReader(r.Body, 8<<20))
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
