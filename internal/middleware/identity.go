package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

type userKey string

const (
	userIDKey userKey = "user_id"

	// UserIDHeader carries the caller identity set by the authenticated frontend.
	UserIDHeader = "X-User-ID"
	maxUserIDLen = 128
)

// Identity rejects requests without a usable X-User-ID header and stores
// the id in the request context.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if userID == "" || len(userID) > maxUserIDLen {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error_kind":"unauthorized","error":"missing user identity"}` + "\n"))
			return
		}
		ctx := ContextWithUserID(r.Context(), userID)
		if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
			ctx = l.With().Str("user_id", userID).Logger().WithContext(ctx)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if strings.TrimSpace(userID) == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey, userID)
}
