// Package web implements the JSON API of rootfsd
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/rootfsd/app/session"
	"github.com/umputun/rootfsd/app/store"
)

// Server serves the project lifecycle API
type Server struct {
	Config
	limiter *limiter.Limiter
}

// Users is the user part of the store
type Users interface {
	ValidateLogin(ctx context.Context, name, password string) (store.User, error)
	ListUsers(ctx context.Context) ([]store.User, error)
	GetUser(ctx context.Context, id int64) (store.User, error)
	AddUser(ctx context.Context, req store.UserRequest) (store.User, error)
	ModifyUser(ctx context.Context, id int64, req store.UserRequest) (store.User, error)
	DelUser(ctx context.Context, id int64) ([]store.Project, error)
}

// Config holds server configuration
type Config struct {
	Address     string
	Version     string
	Registry    *session.Registry
	Users       Users
	RateLimit   float64 // requests per second per client ip, 0 disables the limit
	MaxBodySize int64
}

// New makes the server
func New(cfg Config) (*Server, error) {
	if cfg.Registry == nil || cfg.Users == nil {
		return nil, errors.New("web server initialization failed: registry and users are required")
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 16 * 1024 * 1024
	}
	s := &Server{Config: cfg}
	if cfg.RateLimit > 0 {
		s.limiter = tollbooth.NewLimiter(cfg.RateLimit, &limiter.ExpirableOptions{DefaultExpirationTTL: time.Hour})
		s.limiter.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr"})
		s.limiter.SetMessage(`{"error":"too many requests"}`)
		s.limiter.SetMessageContentType("application/json")
	}
	return s, nil
}

// Run starts the web server, blocks until ctx is done
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown server: %v", err)
		}
	}()

	log.Printf("[INFO] starting web server on %s", s.Address)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

// routes returns the http.Handler with all routes configured
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.Throttle(1000),
		rest.AppInfo("rootfsd", "umputun", s.Version),
		rest.Ping,
		rest.SizeLimit(s.MaxBodySize),
		logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler,
	)
	if s.limiter != nil {
		router.Use(tollbooth.HTTPMiddleware(s.limiter))
	}

	router.Mount("/api/v1").Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache, s.authMiddleware)

		api.HandleFunc("GET /whoami", s.handleWhoAmI)

		api.HandleFunc("GET /projects", s.handleListProjects)
		api.HandleFunc("POST /projects", s.handleCreateProject)
		api.HandleFunc("POST /projects/new", s.handleNewProject)
		api.HandleFunc("POST /projects/open", s.handleOpenProject)
		api.HandleFunc("POST /projects/close", s.handleCloseProject)
		api.HandleFunc("POST /projects/delete", s.handleDelProject)

		api.Route(func(cur *routegroup.Bundle) {
			cur.HandleFunc("GET /current", s.handleCurrentProject)
			cur.HandleFunc("PUT /current/xml", s.handleSetXML)
			cur.HandleFunc("GET /current/files", s.handleListFiles)
			cur.HandleFunc("GET /current/files/{name...}", s.handleGetFile)
			cur.HandleFunc("POST /current/build", s.handleBuild)
			cur.HandleFunc("POST /current/apt/update", s.handleAptUpdate)
			cur.HandleFunc("POST /current/apt/commit", s.handleAptCommit)
			cur.HandleFunc("POST /current/apt/mark", s.handleAptMark)
			cur.HandleFunc("GET /current/apt/changes", s.handleAptChanges)
			cur.HandleFunc("DELETE /current/apt/changes", s.handleAptClear)
			cur.HandleFunc("GET /current/has-changes", s.handleHasChanges)
			cur.HandleFunc("POST /current/update-package", s.handleUpdatePackage)
			cur.HandleFunc("GET /current/versions", s.handleListVersions)
			cur.HandleFunc("POST /current/versions", s.handleSaveVersion)
			cur.HandleFunc("PUT /current/versions/{version}", s.handleSetVersionDescription)
			cur.HandleFunc("POST /current/versions/{version}/checkout", s.handleCheckoutVersion)
			cur.HandleFunc("DELETE /current/versions/{version}", s.handleDelVersion)
			cur.HandleFunc("GET /current/log", s.handleReadLog)
			cur.HandleFunc("DELETE /current/log", s.handleRmLog)
			cur.HandleFunc("GET /current/busy", s.handleIsBusy)
		})

		api.Route(func(adm *routegroup.Bundle) {
			adm.Use(s.adminOnly)
			adm.HandleFunc("GET /users", s.handleListUsers)
			adm.HandleFunc("POST /users", s.handleAddUser)
			adm.HandleFunc("GET /users/{id}", s.handleGetUser)
			adm.HandleFunc("PUT /users/{id}", s.handleModifyUser)
			adm.HandleFunc("DELETE /users/{id}", s.handleDelUser)
		})
	})

	return router
}
