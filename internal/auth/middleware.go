package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// Authenticate resolves the bearer token into an Actor stored on the request context.
// Requests without a valid token pass through unauthenticated; handlers decide how to
// reject them.
func Authenticate(secret string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				next.ServeHTTP(w, r)
				return
			}
			actor, err := ParseToken(secret, strings.TrimSpace(parts[1]))
			if err != nil {
				logger.Debug("reject bearer token", slog.String("path", r.URL.Path), slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), actor)))
		})
	}
}
