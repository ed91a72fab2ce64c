package api

import (
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	xlog "playsession/internal/log"
	"playsession/internal/metrics"
)

// HeaderRequestID carries the correlation id in both directions.
const HeaderRequestID = "X-Request-ID"

// requestID adds a correlation id to every request and to its logger.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.New().String()
		}
		w.Header().Set(HeaderRequestID, id)
		ctx := xlog.ContextWithRequestID(r.Context(), id)
		logger := xlog.WithContext(ctx, xlog.WithComponent("api"))
		ctx = logger.WithContext(ctx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recoverer turns handler panics into a logged 500.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			buf := make([]byte, 8192)
			n := runtime.Stack(buf, false)
			logger := xlog.FromContext(r.Context())
			logger.Error().
				Str(xlog.FieldMethod, r.Method).
				Str(xlog.FieldPath, r.URL.Path).
				Interface("panic_value", rec).
				Str("stack_trace", string(buf[:n])).
				Msg("panic recovered in HTTP handler")
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{
				Error:     http.StatusText(http.StatusInternalServerError),
				Code:      CodeInternal,
				Message:   "An unexpected error occurred",
				RequestID: xlog.RequestIDFromContext(r.Context()),
			})
		}()
		next.ServeHTTP(w, r)
	})
}

// accessLog logs and measures every request by its route pattern.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		elapsed := time.Since(start)
		metrics.ObserveHTTPRequest(route, r.Method, status, elapsed.Seconds())

		logger := xlog.FromContext(r.Context())
		event := logger.Info()
		if status >= http.StatusInternalServerError {
			event = logger.Warn()
		} else if route == "/health" || route == "/metrics" {
			event = logger.Debug()
		}
		event.
			Str(xlog.FieldMethod, r.Method).
			Str(xlog.FieldPath, route).
			Int(xlog.FieldStatus, status).
			Int64(xlog.FieldDuration, elapsed.Milliseconds()).
			Str(xlog.FieldRemote, r.RemoteAddr).
			Msg("http request")
	})
}

// cors allows the configured browser origins. An empty list or "*" allows all.
func cors(origins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(origins, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Participant-Token, X-Idempotency-Key, X-Request-ID")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(origins []string, origin string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, allowed := range origins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// rateLimit caps requests per client IP with a sliding window.
func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
				Error:     http.StatusText(http.StatusTooManyRequests),
				Code:      CodeRateLimited,
				Message:   "Too many requests. Please try again later.",
				RequestID: xlog.RequestIDFromContext(r.Context()),
			})
		}),
	)
}
