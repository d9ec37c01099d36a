package httpserver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/animus-labs/codepush/internal/platform/requestid"
)

// Wrap installs, outermost first: request ids, panic recovery and access
// logging.
func Wrap(logger *slog.Logger, service string, next http.Handler) http.Handler {
	return withRequestID(service, recoverPanics(logger, accessLog(logger, next)))
}

type requestIDKey struct{}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey{}).(string)
	return v, ok
}

// withRequestID keeps a well-formed caller id (release-publisher sends one
// per call) and otherwise mints a new one. The id is echoed in the response
// and written back onto the request header for downstream middleware.
func withRequestID(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestid.Header))
		if !requestid.Valid(id) {
			var err error
			if id, err = requestid.New(); err != nil {
				id = fmt.Sprintf("%s-%d", service, time.Now().UnixNano())
			}
		}
		r.Header.Set(requestid.Header, id)
		w.Header().Set(requestid.Header, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func recoverPanics(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			// ErrAbortHandler is net/http's way to drop a connection; let it through.
			if v == http.ErrAbortHandler {
				panic(v)
			}
			id, _ := RequestIDFromContext(r.Context())
			logger.Error("panic recovered", "request_id", id, "panic", v, "stack", string(debug.Stack()))
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":      "internal_server_error",
				"request_id": id,
			})
		}()
		next.ServeHTTP(w, r)
	})
}

// accessLog writes one line per request. Uploads report their declared size
// as bytes_in; downloads report bytes written as bytes_out.
func accessLog(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		id, _ := RequestIDFromContext(r.Context())
		level := slog.LevelInfo
		switch {
		case rec.status >= 500:
			level = slog.LevelError
		case rec.status >= 400:
			level = slog.LevelWarn
		}
		logger.LogAttrs(r.Context(), level, "http request",
			slog.String("request_id", id),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Int64("bytes_in", max(r.ContentLength, 0)),
			slog.Int64("bytes_out", rec.written),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

type responseRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (w *responseRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseRecorder) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.written += int64(n)
	return n, err
}

// ReadFrom keeps io.Copy on the sendfile path for artifact downloads.
func (w *responseRecorder) ReadFrom(src io.Reader) (int64, error) {
	n, err := io.Copy(w.ResponseWriter, src)
	w.written += n
	return n, err
}

// Unwrap lets http.ResponseController reach Flush and deadlines.
func (w *responseRecorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }
