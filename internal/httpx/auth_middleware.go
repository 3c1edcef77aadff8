package httpx

import (
	"crypto/subtle"
	"net/http"
)

const internalSecretHeader = "X-Internal-Secret"

// InternalSecretMiddleware guards internal endpoints with a shared secret.
// An empty secret disables the check.
func InternalSecretMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret != "" {
				got := r.Header.Get(internalSecretHeader)
				if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
					JSONError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid internal secret", nil)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
