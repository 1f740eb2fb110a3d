package web

import (
	"context"
	"errors"
	"net/http"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/rootfsd/app/session"
	"github.com/umputun/rootfsd/app/store"
)

type callerKey struct{}

// authMiddleware checks basic auth against the user table and puts the caller into request context
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			s.unauthorized(w)
			return
		}
		user, err := s.Users.ValidateLogin(r.Context(), username, password)
		if err != nil {
			if !errors.Is(err, store.ErrInvalidCredentials) {
				log.Printf("[WARN] failed to validate login of %q: %v", username, err)
			}
			s.unauthorized(w)
			return
		}
		c := session.Caller{ID: user.ID, Name: user.Name, Admin: user.Admin}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, c)))
	})
}

// adminOnly rejects non-admin callers
func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !caller(r).Admin {
			s.writeJSONError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="rootfsd"`)
	s.writeJSONError(w, http.StatusUnauthorized, "unauthorized")
}

// caller returns the authenticated caller of the request
func caller(r *http.Request) session.Caller {
	c, _ := r.Context().Value(callerKey{}).(session.Caller)
	return c
}
