package middleware

import (
	"net/http"
	"strings"

	"github.com/psantana5/exitshim/pkg/auth"
	"github.com/psantana5/exitshim/pkg/logging"
)

// APIKeyHeader is accepted next to "Authorization: Bearer <key>".
const APIKeyHeader = "X-API-Key"

// RequireAPIKey rejects requests without a key from keys. Paths in open
// are served without a key.
func RequireAPIKey(keys *auth.KeySet, logger *logging.Logger, open ...string) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range open {
				if r.URL.Path == p {
					next.ServeHTTP(w, r)
					return
				}
			}

			key := APIKey(r)
			if key == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="exitshim"`)
				http.Error(w, "API key required", http.StatusUnauthorized)
				return
			}
			if err := keys.Validate(key); err != nil {
				logger.Warn("rejected API key", logging.Fields{"path": r.URL.Path, "remote": r.RemoteAddr})
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// APIKey extracts the key from the request headers
func APIKey(r *http.Request) string {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return key
	}
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(bearer)
	}
	return ""
}
