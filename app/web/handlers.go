package web

import (
	"fmt"
	"net/http"
	"strconv"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/rootfsd/app/jobs"
	"github.com/umputun/rootfsd/app/session"
	"github.com/umputun/rootfsd/app/store"
)

func (s *Server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, caller(r))
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	prjs, err := s.Registry.ListProjects(r.Context(), caller(r))
	if prjs == nil {
		prjs = []store.Project{}
	}
	s.writeResult(w, r, prjs, err)
}

// handleCreateProject makes a project from the xml document in request body and opens it
func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	doc, err := readBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	builddir, err := s.Registry.CreateProject(r.Context(), caller(r), doc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, APIProjectResponse{BuildDir: builddir})
}

func (s *Server) handleNewProject(w http.ResponseWriter, r *http.Request) {
	builddir, err := s.Registry.NewProject(r.Context(), caller(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, APIProjectResponse{BuildDir: builddir})
}

func (s *Server) handleOpenProject(w http.ResponseWriter, r *http.Request) {
	req, err := s.projectRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeDone(w, r, s.Registry.OpenProject(r.Context(), caller(r), req.BuildDir))
}

func (s *Server) handleCloseProject(w http.ResponseWriter, r *http.Request) {
	s.writeDone(w, r, s.Registry.CloseCurrentProject(r.Context(), caller(r)))
}

func (s *Server) handleDelProject(w http.ResponseWriter, r *http.Request) {
	req, err := s.projectRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeDone(w, r, s.Registry.DelProject(r.Context(), caller(r), req.BuildDir))
}

func (s *Server) projectRequest(r *http.Request) (APIProjectRequest, error) {
	var req APIProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		return req, err
	}
	if req.BuildDir == "" {
		return req, fmt.Errorf("%w: builddir required", store.ErrValidation)
	}
	return req, nil
}

func (s *Server) handleCurrentProject(w http.ResponseWriter, r *http.Request) {
	prj, err := s.Registry.CurrentProject(r.Context(), caller(r))
	s.writeResult(w, r, prj, err)
}

func (s *Server) handleSetXML(w http.ResponseWriter, r *http.Request) {
	doc, err := readBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeDone(w, r, s.Registry.SetCurrentProjectXML(r.Context(), caller(r), doc))
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.Registry.CurrentProjectFiles(r.Context(), caller(r))
	s.writeResult(w, r, files, err)
}

// handleGetFile streams a registered project file
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	f, path, err := s.Registry.CurrentProjectFilePath(r.Context(), caller(r), r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if f.MimeType != "" {
		w.Header().Set("Content-Type", f.MimeType)
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	var opts jobs.BuildOptions
	if err := decodeJSON(r, &opts); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.accepted(w, r, s.Registry.BuildCurrentProject(r.Context(), caller(r), opts))
}

func (s *Server) handleAptUpdate(w http.ResponseWriter, r *http.Request) {
	s.accepted(w, r, s.Registry.AptUpdate(r.Context(), caller(r)))
}

func (s *Server) handleAptCommit(w http.ResponseWriter, r *http.Request) {
	s.accepted(w, r, s.Registry.AptCommit(r.Context(), caller(r)))
}

func (s *Server) handleAptMark(w http.ResponseWriter, r *http.Request) {
	var change jobs.PkgChange
	if err := decodeJSON(r, &change); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeDone(w, r, s.Registry.AptMark(r.Context(), caller(r), change))
}

func (s *Server) handleAptChanges(w http.ResponseWriter, r *http.Request) {
	changes, err := s.Registry.AptChanges(r.Context(), caller(r))
	if changes == nil {
		changes = []jobs.PkgChange{}
	}
	s.writeResult(w, r, changes, err)
}

func (s *Server) handleAptClear(w http.ResponseWriter, r *http.Request) {
	s.writeDone(w, r, s.Registry.AptClear(r.Context(), caller(r)))
}

func (s *Server) handleHasChanges(w http.ResponseWriter, r *http.Request) {
	has, err := s.Registry.CurrentProjectHasChanges(r.Context(), caller(r))
	s.writeResult(w, r, APIChangesResponse{HasChanges: has}, err)
}

func (s *Server) handleUpdatePackage(w http.ResponseWriter, r *http.Request) {
	var req APIVersionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.BaseVersion == "" {
		s.writeError(w, r, fmt.Errorf("%w: base_version required", store.ErrValidation))
		return
	}
	s.accepted(w, r, s.Registry.BuildUpdatePackage(r.Context(), caller(r), req.BaseVersion))
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.Registry.ListCurrentProjectVersions(r.Context(), caller(r))
	s.writeResult(w, r, versions, err)
}

func (s *Server) handleSaveVersion(w http.ResponseWriter, r *http.Request) {
	var req APIVersionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.accepted(w, r, s.Registry.SaveCurrentProjectVersion(r.Context(), caller(r), req.Description))
}

func (s *Server) handleSetVersionDescription(w http.ResponseWriter, r *http.Request) {
	var req APIVersionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeDone(w, r, s.Registry.SetCurrentProjectVersionDescription(r.Context(), caller(r),
		r.PathValue("version"), req.Description))
}

func (s *Server) handleCheckoutVersion(w http.ResponseWriter, r *http.Request) {
	s.accepted(w, r, s.Registry.CheckoutProjectVersion(r.Context(), caller(r), r.PathValue("version")))
}

func (s *Server) handleDelVersion(w http.ResponseWriter, r *http.Request) {
	s.writeDone(w, r, s.Registry.DelCurrentProjectVersion(r.Context(), caller(r), r.PathValue("version")))
}

func (s *Server) handleReadLog(w http.ResponseWriter, r *http.Request) {
	text, err := s.Registry.ReadCurrentProjectLog(r.Context(), caller(r))
	s.writeResult(w, r, APILogResponse{Log: text}, err)
}

func (s *Server) handleRmLog(w http.ResponseWriter, r *http.Request) {
	s.writeDone(w, r, s.Registry.RmCurrentProjectLog(r.Context(), caller(r)))
}

// handleIsBusy returns busy flag and log line ?part=N for polling clients
func (s *Server) handleIsBusy(w http.ResponseWriter, r *http.Request) {
	part := 0
	if v := r.URL.Query().Get("part"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 0 {
			s.writeError(w, r, fmt.Errorf("%w: bad part %q", store.ErrValidation, v))
			return
		}
		part = p
	}
	info, err := s.Registry.CurrentProjectIsBusy(r.Context(), caller(r), part)
	s.writeResult(w, r, info, err)
}

// accepted responds 202 for queued jobs
func (s *Server) accepted(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.Users.ListUsers(r.Context())
	s.writeResult(w, r, users, err)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.Users.GetUser(r.Context(), id)
	s.writeResult(w, r, user, err)
}

func (s *Server) handleAddUser(w http.ResponseWriter, r *http.Request) {
	var req store.UserRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.Users.AddUser(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	log.Printf("[INFO] user %q added by %q", user.Name, caller(r).Name)
	s.writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleModifyUser(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req store.UserRequest
	if err = decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.Users.ModifyUser(r.Context(), id, req)
	s.writeResult(w, r, user, err)
}

// handleDelUser removes the user, its projects stay ownerless and its open project is released
func (s *Server) handleDelUser(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if id == caller(r).ID {
		s.writeError(w, r, fmt.Errorf("%w: can't delete yourself", store.ErrValidation))
		return
	}
	orphaned, err := s.Users.DelUser(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.Registry.Forget(session.Caller{ID: id})
	resp := APIDelUserResponse{Orphaned: make([]string, 0, len(orphaned))}
	for _, p := range orphaned {
		resp.Orphaned = append(resp.Orphaned, p.BuildDir)
	}
	log.Printf("[INFO] user %d deleted by %q, orphaned projects: %v", id, caller(r).Name, resp.Orphaned)
	s.writeJSON(w, http.StatusOK, resp)
}

func userID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad user id %q", store.ErrValidation, r.PathValue("id"))
	}
	return id, nil
}
