package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type requestKey struct{}

const (
	// RequestIDHeader correlates a generation request across the API, the
	// job log lines and the caller's own logs.
	RequestIDHeader = "X-Request-ID"
	maxRequestIDLen = 64
)

// Correlate accepts the caller's request id when it is short and made of
// token characters, mints a uuid otherwise, echoes it back and attaches a
// request-scoped logger carrying it to the context.
func Correlate(l zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rid := r.Header.Get(RequestIDHeader)
			if !validRequestID(rid) {
				rid = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, rid)

			ctx := context.WithValue(r.Context(), requestKey{}, rid)
			reqLog := l.With().Str("request_id", rid).Logger()
			next.ServeHTTP(w, r.WithContext(reqLog.WithContext(ctx)))
		})
	}
}

func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestKey{}).(string); ok {
		return v
	}
	return ""
}

// LoggerFrom returns the request-scoped logger, or fallback outside a
// correlated request.
func LoggerFrom(ctx context.Context, fallback zerolog.Logger) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return fallback
}

func validRequestID(rid string) bool {
	if rid == "" || len(rid) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(rid); i++ {
		c := rid[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == ':':
		default:
			return false
		}
	}
	return true
}
