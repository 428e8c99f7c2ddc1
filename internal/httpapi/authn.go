package httpapi

import (
	"net/http"
	"strings"

	"crewarchive.org/internal/auth"
	"crewarchive.org/internal/requests"
)

// Authenticate requires a bearer token and puts the verified session in the
// request context.
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		sess, err := auth.ParseAndValidate(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithSession(r.Context(), sess)))
	})
}

// actorFrom builds the engine actor from the authenticated session.
func actorFrom(r *http.Request) (requests.Actor, bool) {
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		return requests.Actor{}, false
	}
	return requests.Actor{UserID: sess.UserID, Verified: sess.Verified}, true
}
