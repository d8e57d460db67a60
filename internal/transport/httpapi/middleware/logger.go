package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kislikjeka/pocketflow/pkg/logger"
)

// maxErrorBody bounds how much of an error response is kept for the log line.
const maxErrorBody = 4 << 10

// routeParams are the URL params copied into the request log. Ingestion and
// sync routes carry the provider and profile in the path.
var routeParams = []string{"provider", "profile"}

// errorTap keeps the head of error response bodies so the logged line can
// carry the handler's error message.
type errorTap struct {
	chimiddleware.WrapResponseWriter
	buf    bytes.Buffer
	failed bool
}

func (t *errorTap) WriteHeader(code int) {
	t.failed = code >= 400
	t.WrapResponseWriter.WriteHeader(code)
}

func (t *errorTap) Write(b []byte) (int, error) {
	if t.failed && t.buf.Len() < maxErrorBody {
		t.buf.Write(b[:min(len(b), maxErrorBody-t.buf.Len())])
	}
	return t.WrapResponseWriter.Write(b)
}

// errorMessage pulls the "error" field from a JSON error body.
func (t *errorTap) errorMessage() string {
	var obj struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(t.buf.Bytes(), &obj) == nil {
		return obj.Error
	}
	return ""
}

// requestLog is filled in by inner middleware, after the logger has wrapped
// the request, with facts only they know.
type requestLog struct {
	profile string
}

type requestLogKey struct{}

// noteProfile records the authenticated profile for the request log line.
func noteProfile(ctx context.Context, profile string) {
	if rl, ok := ctx.Value(requestLogKey{}).(*requestLog); ok {
		rl.profile = profile
	}
}

// Logger returns a request logging middleware. Each request is logged once
// with its route, the provider and profile it targeted, and the error message
// of failed responses.
func Logger(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			tap := &errorTap{WrapResponseWriter: chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)}
			rl := &requestLog{}
			start := time.Now()

			ctx := context.WithValue(r.Context(), requestLogKey{}, rl)
			reqID := chimiddleware.GetReqID(ctx)
			if reqID != "" {
				ctx = context.WithValue(ctx, logger.RequestIDKey, reqID)
				w.Header().Set("X-Request-Id", reqID)
			}
			r = r.WithContext(ctx)

			defer func() {
				status := tap.Status()
				attrs := []any{
					"method", r.Method,
					"path", r.URL.Path,
					"status", status,
					"bytes", tap.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
					"remote_addr", r.RemoteAddr,
				}
				if reqID != "" {
					attrs = append(attrs, "request_id", reqID)
				}
				attrs = append(attrs, routeAttrs(r, rl)...)
				if status >= 400 {
					if msg := tap.errorMessage(); msg != "" {
						attrs = append(attrs, "error", msg)
					}
				}

				log.Log(r.Context(), levelFor(status), "http request", attrs...)
			}()

			next.ServeHTTP(tap, r)
		}
		return http.HandlerFunc(fn)
	}
}

// routeAttrs reads the matched route after the handler ran. A profile from
// the path wins over the token's profile.
func routeAttrs(r *http.Request, rl *requestLog) []any {
	var attrs []any
	profile := rl.profile
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			attrs = append(attrs, "route", pattern)
		}
		for _, name := range routeParams {
			v := rctx.URLParam(name)
			if v == "" {
				continue
			}
			if name == "profile" {
				profile = v
				continue
			}
			attrs = append(attrs, name, v)
		}
	}
	if profile != "" {
		attrs = append(attrs, "profile", profile)
	}
	return attrs
}

func levelFor(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
