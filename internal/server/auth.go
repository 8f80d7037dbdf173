package server

import (
	"crypto/subtle"
	"net/http"
)

// AuthConfig holds the account credentials the emulator accepts. An empty
// AccountSID disables authentication.
type AuthConfig struct {
	AccountSID string
	AuthToken  string
}

func (c AuthConfig) enabled() bool { return c.AccountSID != "" }

func newAuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.enabled() {
				next.ServeHTTP(w, r)
				return
			}
			user, pass, ok := r.BasicAuth()
			if !ok || !equal(user, cfg.AccountSID) || !equal(pass, cfg.AuthToken) {
				w.Header().Set("WWW-Authenticate", `Basic realm="otto sandbox"`)
				writeAPIError(w, http.StatusUnauthorized, 20003, "Authentication Error - invalid username")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
