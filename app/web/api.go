package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/rootfsd/app/session"
	"github.com/umputun/rootfsd/app/store"
)

// APIProjectRequest selects a project by its directory
type APIProjectRequest struct {
	BuildDir string `json:"builddir"`
}

// APIProjectResponse is returned for created projects
type APIProjectResponse struct {
	BuildDir string `json:"builddir"`
}

// APIVersionRequest carries version parameters
type APIVersionRequest struct {
	Description string `json:"description"`
	BaseVersion string `json:"base_version,omitempty"`
}

// APILogResponse is the project log
type APILogResponse struct {
	Log string `json:"log"`
}

// APIChangesResponse tells whether package changes are pending
type APIChangesResponse struct {
	HasChanges bool `json:"has_changes"`
}

// APIDelUserResponse lists projects orphaned by user removal
type APIDelUserResponse struct {
	Orphaned []string `json:"orphaned"`
}

// errStatus maps errors of registry and store to http status codes
func errStatus(err error) int {
	var openErr *session.AlreadyOpenError
	switch {
	case errors.Is(err, session.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &openErr), errors.Is(err, store.ErrAlreadyExists), errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNoOpenProject):
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

// writeError sends error with status derived from it, internal errors are logged and hidden
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errStatus(err)
	if code == http.StatusInternalServerError {
		log.Printf("[ERROR] %s %s by %q: %v", r.Method, r.URL.Path, caller(r).Name, err)
		s.writeJSONError(w, code, "internal error")
		return
	}
	log.Printf("[DEBUG] %s %s by %q rejected: %v", r.Method, r.URL.Path, caller(r).Name, err)
	s.writeJSONError(w, code, err.Error())
}

// writeResult sends data or error
func (s *Server) writeResult(w http.ResponseWriter, r *http.Request, data any, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, data)
}

// writeDone sends {"status":"ok"} or error
func (s *Server) writeDone(w http.ResponseWriter, r *http.Request, err error) {
	s.writeResult(w, r, map[string]string{"status": "ok"}, err)
}

// decodeJSON reads request body into v, empty body leaves v untouched
func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("%w: bad request body: %w", store.ErrValidation, err)
}

// readBody reads raw request body
func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: can't read request body: %w", store.ErrValidation, err)
	}
	return data, nil
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[WARN] failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]string{"error": message}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("[WARN] failed to encode JSON error response: %v", err)
	}
}
