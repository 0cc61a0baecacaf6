package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// identityCookie carries the anonymous per-device identity. There are no
// accounts; the cookie is the whole identity model.
const identityCookie = "huddle_uid"

// identityMaxAge keeps the cookie alive well past the longest retention
// window so a returning device keeps its identity.
const identityMaxAge = 30 * 24 * 60 * 60

type contextKey string

const userIDKey contextKey = "userID"

// Identity assigns an anonymous identity to every request. A request without
// the cookie gets a fresh random ID, set on the response and visible to the
// handler in the same request.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := ""
		if c, err := r.Cookie(identityCookie); err == nil && c.Value != "" {
			if _, err := uuid.Parse(c.Value); err == nil {
				userID = c.Value
			}
		}

		if userID == "" {
			userID = uuid.New().String()
			http.SetCookie(w, &http.Cookie{
				Name:     identityCookie,
				Value:    userID,
				Path:     "/",
				MaxAge:   identityMaxAge,
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CurrentUserID returns the anonymous identity of the request, or empty when
// the identity middleware did not run.
func CurrentUserID(r *http.Request) string {
	userID, _ := r.Context().Value(userIDKey).(string)
	return userID
}
