package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/Shivanand-hulikatti/event-ticketing/internal/telemetry"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// accessLog is filled in by inner middleware so the outer access log can
// report who made the request.
type accessLog struct {
	actorID string
}

func setLoggedActor(ctx context.Context, actorID string) {
	if l, ok := ctx.Value(accessLogKey).(*accessLog); ok {
		l.actorID = actorID
	}
}

// Logger logs one line per request: 5xx at error, 4xx at warn and the rest
// at info.
func Logger(log *zap.Logger) func(http.Handler) http.Handler {
	log = log.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			entry := &accessLog{}
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), accessLogKey, entry)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("request_id", chimiddleware.GetReqID(r.Context())),
				zap.String("trace_id", telemetry.GetTraceID(r.Context())),
				zap.Int("status", status),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("query", r.URL.RawQuery),
				zap.String("ip", r.RemoteAddr),
				zap.Duration("latency", time.Since(start)),
				zap.Int("body_size", ww.BytesWritten()),
			}
			if entry.actorID != "" {
				fields = append(fields, zap.String("actor_id", entry.actorID))
			}

			switch {
			case status >= 500:
				log.Error("Server error", fields...)
			case status >= 400:
				log.Warn("Client error", fields...)
			default:
				log.Info("Request completed", fields...)
			}
		})
	}
}
