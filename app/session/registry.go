// Package session keeps track of the project each caller has open. A project can be open by at
// most one caller, a caller has at most one open project. All operations on "the current project"
// go through the registry, which checks ownership, busy state and hands long-running work to the
// job queue.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/go-pkgz/lgr"
	"github.com/google/uuid"

	"github.com/umputun/rootfsd/app/enums"
	"github.com/umputun/rootfsd/app/jobs"
	"github.com/umputun/rootfsd/app/store"
)

// Caller is an authenticated user of the registry
type Caller struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Admin bool   `json:"admin"`
}

// Store is the persistent side of projects used by the registry
type Store interface {
	CreateProject(ctx context.Context, builddir string, ownerID *int64) (store.Project, error)
	DelProject(ctx context.Context, builddir string) error
	GetProject(ctx context.Context, builddir string) (store.Project, error)
	ListProjects(ctx context.Context, ownerID *int64) ([]store.Project, error)
	GetStatus(ctx context.Context, builddir string) (enums.Status, error)
	GetOwnerID(ctx context.Context, builddir string) (*int64, error)
	SetXML(ctx context.Context, builddir string, data []byte) error
	ListProjectFiles(ctx context.Context, builddir string) ([]store.ProjectFile, error)
	GetProjectFile(ctx context.Context, builddir, name string) (store.ProjectFile, string, error)
	UpdateProjectFiles(ctx context.Context, builddir string, extra ...store.Artifact) error
	ListVersions(ctx context.Context, builddir string) ([]store.ProjectVersion, error)
	SetVersionDescription(ctx context.Context, builddir, version, description string) error
	DelVersion(ctx context.Context, builddir, version string, force bool) error
}

// Queue accepts jobs
type Queue interface {
	Enqueue(ctx context.Context, job jobs.Job) error
}

// EngineFactory opens the build engine of a project directory
type EngineFactory func(builddir string) (jobs.Engine, error)

// Params for New
type Params struct {
	Store         Store
	Queue         Queue
	EngineFactory EngineFactory
	ProjectsRoot  string // new project directories are allocated here
}

// Registry maps callers to their open projects
type Registry struct {
	Params
	mu       sync.Mutex
	byCaller map[int64]*openProject
	byDir    map[string]Caller
}

type openProject struct {
	builddir string
	engine   jobs.Engine
}

// BusyInfo is the busy flag of a project with one line of its log
type BusyInfo struct {
	Busy bool   `json:"busy"`
	Line string `json:"line"`
	Next int    `json:"next"` // part to ask for next time
}

// New makes an empty registry
func New(p Params) *Registry {
	return &Registry{Params: p, byCaller: map[int64]*openProject{}, byDir: map[string]Caller{}}
}

// ListProjects returns all projects for admins and owned projects otherwise
func (r *Registry) ListProjects(ctx context.Context, c Caller) ([]store.Project, error) {
	if c.Admin {
		return r.Store.ListProjects(ctx, nil)
	}
	return r.Store.ListProjects(ctx, &c.ID)
}

// OpenProject opens the project for the caller, closing the caller's previous project.
// Re-opening the same project is a no-op.
func (r *Registry) OpenProject(ctx context.Context, c Caller, builddir string) error {
	builddir = filepath.Clean(builddir)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkPermission(ctx, c, builddir); err != nil {
		return err
	}
	if holder, ok := r.byDir[builddir]; ok {
		if holder.ID == c.ID {
			return nil
		}
		return &AlreadyOpenError{BuildDir: builddir, Holder: holder.Name, HolderID: holder.ID}
	}
	if err := r.closeCurrent(ctx, c); err != nil {
		return err
	}
	eng, err := r.EngineFactory(builddir)
	if err != nil {
		return fmt.Errorf("can't open project %s: %w", builddir, err)
	}
	r.register(c, builddir, eng)
	return nil
}

// NewProject allocates a new empty project owned by the caller, the project is not opened
func (r *Registry) NewProject(ctx context.Context, c Caller) (string, error) {
	builddir := r.allocate()
	if _, err := r.Store.CreateProject(ctx, builddir, &c.ID); err != nil {
		return "", err
	}
	return builddir, nil
}

// CreateProject makes a project from the configuration document and opens it for the caller.
// The new project is removed if the document is rejected.
func (r *Registry) CreateProject(ctx context.Context, c Caller, doc []byte) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.closeCurrent(ctx, c); err != nil {
		return "", err
	}
	builddir := r.allocate()
	if _, err := r.Store.CreateProject(ctx, builddir, &c.ID); err != nil {
		return "", err
	}
	eng, err := r.setupNew(ctx, builddir, doc)
	if err != nil {
		if derr := r.Store.DelProject(ctx, builddir); derr != nil {
			log.Printf("[WARN] failed to remove rejected project %s: %v", builddir, derr)
		}
		return "", err
	}
	r.register(c, builddir, eng)
	return builddir, nil
}

func (r *Registry) setupNew(ctx context.Context, builddir string, doc []byte) (jobs.Engine, error) {
	if err := r.Store.SetXML(ctx, builddir, doc); err != nil {
		return nil, err
	}
	eng, err := r.EngineFactory(builddir)
	if err != nil {
		return nil, fmt.Errorf("can't open project %s: %w", builddir, err)
	}
	return eng, nil
}

// CloseCurrentProject closes the caller's project, fails if it is busy
func (r *Registry) CloseCurrentProject(ctx context.Context, c Caller) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeCurrent(ctx, c)
}

// Forget closes whatever the caller has open regardless of busy state, for deleted users.
// A job already queued keeps running and resets its project on completion.
func (r *Registry) Forget(c Caller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if op, ok := r.byCaller[c.ID]; ok {
		delete(r.byDir, op.builddir)
		delete(r.byCaller, c.ID)
	}
}

// DelProject deletes a project the caller may access. A project open by another caller is
// refused, the caller's own open project is closed first.
func (r *Registry) DelProject(ctx context.Context, c Caller, builddir string) error {
	builddir = filepath.Clean(builddir)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkPermission(ctx, c, builddir); err != nil {
		return err
	}
	if holder, ok := r.byDir[builddir]; ok {
		if holder.ID != c.ID {
			return &AlreadyOpenError{BuildDir: builddir, Holder: holder.Name, HolderID: holder.ID}
		}
		if err := r.closeCurrent(ctx, c); err != nil {
			return err
		}
	}
	return r.Store.DelProject(ctx, builddir)
}

// OpenedBy returns the caller holding the project open
func (r *Registry) OpenedBy(builddir string) (Caller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byDir[filepath.Clean(builddir)]
	return c, ok
}

// CurrentProject returns the caller's open project
func (r *Registry) CurrentProject(ctx context.Context, c Caller) (store.Project, error) {
	op, err := r.current(ctx, c, true)
	if err != nil {
		return store.Project{}, err
	}
	return r.Store.GetProject(ctx, op.builddir)
}

// CurrentProjectFiles lists files of the caller's open project
func (r *Registry) CurrentProjectFiles(ctx context.Context, c Caller) ([]store.ProjectFile, error) {
	op, err := r.current(ctx, c, true)
	if err != nil {
		return nil, err
	}
	return r.Store.ListProjectFiles(ctx, op.builddir)
}

// CurrentProjectFilePath returns a registered file of the caller's open project and its path
func (r *Registry) CurrentProjectFilePath(ctx context.Context, c Caller, name string) (store.ProjectFile, string, error) {
	op, err := r.current(ctx, c, true)
	if err != nil {
		return store.ProjectFile{}, "", err
	}
	return r.Store.GetProjectFile(ctx, op.builddir, name)
}

// SetCurrentProjectXML replaces the configuration of the caller's open project
func (r *Registry) SetCurrentProjectXML(ctx context.Context, c Caller, doc []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, err := r.currentLocked(ctx, c, false)
	if err != nil {
		return err
	}
	return r.Store.SetXML(ctx, op.builddir, doc)
}

// BuildCurrentProject queues a build of the caller's open project
func (r *Registry) BuildCurrentProject(ctx context.Context, c Caller, opts jobs.BuildOptions) error {
	return r.enqueue(ctx, c, func(e jobs.Engine) jobs.Job { return jobs.NewBuildJob(e, opts) })
}

// AptUpdate queues a package cache update of the caller's open project
func (r *Registry) AptUpdate(ctx context.Context, c Caller) error {
	return r.enqueue(ctx, c, jobs.NewAptUpdateJob)
}

// AptCommit queues applying pending package changes, does nothing without changes
func (r *Registry) AptCommit(ctx context.Context, c Caller) error {
	return r.enqueue(ctx, c, jobs.NewAptCommitJob)
}

// AptMark records a pending package change, the project must be built
func (r *Registry) AptMark(ctx context.Context, c Caller, change jobs.PkgChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, err := r.builtProject(ctx, c)
	if err != nil {
		return err
	}
	return op.engine.PackageCache().Mark(change)
}

// AptClear drops pending package changes, the project must be built
func (r *Registry) AptClear(ctx context.Context, c Caller) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, err := r.builtProject(ctx, c)
	if err != nil {
		return err
	}
	return op.engine.PackageCache().Clear()
}

// AptChanges returns pending package changes
func (r *Registry) AptChanges(ctx context.Context, c Caller) ([]jobs.PkgChange, error) {
	op, err := r.current(ctx, c, true)
	if err != nil {
		return nil, err
	}
	return op.engine.PackageCache().Changes()
}

// CurrentProjectHasChanges reports whether package changes are pending
func (r *Registry) CurrentProjectHasChanges(ctx context.Context, c Caller) (bool, error) {
	changes, err := r.AptChanges(ctx, c)
	if err != nil {
		return false, err
	}
	return len(changes) > 0, nil
}

// BuildUpdatePackage queues an update package from baseVersion to the current version.
// Uncommitted package changes must be committed or cleared first.
func (r *Registry) BuildUpdatePackage(ctx context.Context, c Caller, baseVersion string) error {
	return r.enqueue(ctx, c, func(e jobs.Engine) jobs.Job { return jobs.NewGenUpdateJob(e, baseVersion) },
		func(op *openProject) error {
			changes, err := op.engine.PackageCache().Changes()
			if err != nil {
				return err
			}
			if len(changes) > 0 {
				return fmt.Errorf("%w: %d package changes not committed", store.ErrInvalidState, len(changes))
			}
			return nil
		})
}

// SaveCurrentProjectVersion queues saving the current version
func (r *Registry) SaveCurrentProjectVersion(ctx context.Context, c Caller, description string) error {
	return r.enqueue(ctx, c, func(e jobs.Engine) jobs.Job { return jobs.NewSaveVersionJob(e, description) })
}

// CheckoutProjectVersion queues restoring a saved version
func (r *Registry) CheckoutProjectVersion(ctx context.Context, c Caller, version string) error {
	return r.enqueue(ctx, c, func(e jobs.Engine) jobs.Job { return jobs.NewCheckoutVersionJob(e, version) })
}

// ListCurrentProjectVersions returns saved versions of the open project
func (r *Registry) ListCurrentProjectVersions(ctx context.Context, c Caller) ([]store.ProjectVersion, error) {
	op, err := r.current(ctx, c, true)
	if err != nil {
		return nil, err
	}
	return r.Store.ListVersions(ctx, op.builddir)
}

// SetCurrentProjectVersionDescription changes the description of a saved version
func (r *Registry) SetCurrentProjectVersionDescription(ctx context.Context, c Caller, version, description string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, err := r.currentLocked(ctx, c, false)
	if err != nil {
		return err
	}
	return r.Store.SetVersionDescription(ctx, op.builddir, version, description)
}

// DelCurrentProjectVersion removes a saved version with its package archive
func (r *Registry) DelCurrentProjectVersion(ctx context.Context, c Caller, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, err := r.currentLocked(ctx, c, false)
	if err != nil {
		return err
	}
	versions, err := r.Store.ListVersions(ctx, op.builddir)
	if err != nil {
		return err
	}
	name := ""
	for _, v := range versions {
		if v.Version == version {
			name = v.Name
		}
	}
	if err := r.Store.DelVersion(ctx, op.builddir, version, false); err != nil {
		return err
	}
	archive := filepath.Join(op.builddir, store.VersionedFileName(name, version, store.PkgArchiveSuffix))
	if err := os.RemoveAll(archive); err != nil {
		log.Printf("[WARN] failed to remove package archive %s: %v", archive, err)
	}
	return nil
}

// ReadCurrentProjectLog returns the whole project log, empty if there is none
func (r *Registry) ReadCurrentProjectLog(ctx context.Context, c Caller) (string, error) {
	op, err := r.current(ctx, c, true)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(op.builddir, store.LogFile)) //nolint:gosec // project log
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: failed to read log of %s: %w", store.ErrIO, op.builddir, err)
	}
	return string(data), nil
}

// RmCurrentProjectLog removes the project log of a non-busy project
func (r *Registry) RmCurrentProjectLog(ctx context.Context, c Caller) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, err := r.currentLocked(ctx, c, false)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(op.builddir, store.LogFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: failed to remove log of %s: %w", store.ErrIO, op.builddir, err)
	}
	return r.Store.UpdateProjectFiles(ctx, op.builddir)
}

// CurrentProjectIsBusy returns the busy flag and log line number part, for clients following the log
func (r *Registry) CurrentProjectIsBusy(ctx context.Context, c Caller, part int) (BusyInfo, error) {
	op, err := r.current(ctx, c, true)
	if err != nil {
		return BusyInfo{}, err
	}
	status, err := r.Store.GetStatus(ctx, op.builddir)
	if err != nil {
		return BusyInfo{}, err
	}
	res := BusyInfo{Busy: status == enums.StatusBusy, Next: max(part, 0)}
	data, err := os.ReadFile(filepath.Join(op.builddir, store.LogFile)) //nolint:gosec // project log
	if err != nil {
		return res, nil
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if res.Next < len(lines) && lines[0] != "" {
		res.Line = lines[res.Next]
		res.Next++
	}
	return res, nil
}

// enqueue submits a job for the caller's open project under the registry lock
func (r *Registry) enqueue(ctx context.Context, c Caller, mk func(jobs.Engine) jobs.Job, checks ...func(*openProject) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, err := r.currentLocked(ctx, c, false)
	if err != nil {
		return err
	}
	for _, check := range checks {
		if err := check(op); err != nil {
			return err
		}
	}
	return r.Queue.Enqueue(ctx, mk(op.engine))
}

// builtProject returns the open project if it is built and not busy, r.mu must be held
func (r *Registry) builtProject(ctx context.Context, c Caller) (*openProject, error) {
	op, err := r.currentLocked(ctx, c, false)
	if err != nil {
		return nil, err
	}
	status, err := r.Store.GetStatus(ctx, op.builddir)
	if err != nil {
		return nil, err
	}
	if !status.In(enums.StatusBuildDone, enums.StatusHasChanges) {
		return nil, &store.InvalidStateError{BuildDir: op.builddir, Status: status, Op: "change packages"}
	}
	return op, nil
}

func (r *Registry) current(ctx context.Context, c Caller, allowBusy bool) (*openProject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentLocked(ctx, c, allowBusy)
}

func (r *Registry) currentLocked(ctx context.Context, c Caller, allowBusy bool) (*openProject, error) {
	op, ok := r.byCaller[c.ID]
	if !ok {
		return nil, ErrNoOpenProject
	}
	if allowBusy {
		return op, nil
	}
	status, err := r.Store.GetStatus(ctx, op.builddir)
	if err != nil {
		return nil, err
	}
	if status == enums.StatusBusy {
		return nil, &store.InvalidStateError{BuildDir: op.builddir, Status: status, Op: "change it"}
	}
	return op, nil
}

// closeCurrent closes the caller's project, refusing busy projects
func (r *Registry) closeCurrent(ctx context.Context, c Caller) error {
	op, ok := r.byCaller[c.ID]
	if !ok {
		return nil
	}
	status, err := r.Store.GetStatus(ctx, op.builddir)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if status == enums.StatusBusy {
		return &store.InvalidStateError{BuildDir: op.builddir, Status: status, Op: "close"}
	}
	delete(r.byDir, op.builddir)
	delete(r.byCaller, c.ID)
	log.Printf("[DEBUG] project %s closed by user %d", op.builddir, c.ID)
	return nil
}

func (r *Registry) register(c Caller, builddir string, eng jobs.Engine) {
	r.byCaller[c.ID] = &openProject{builddir: builddir, engine: eng}
	r.byDir[builddir] = c
	log.Printf("[DEBUG] project %s opened by user %d", builddir, c.ID)
}

// checkPermission allows admins everything and owners their projects, ownerless projects are admin-only
func (r *Registry) checkPermission(ctx context.Context, c Caller, builddir string) error {
	owner, err := r.Store.GetOwnerID(ctx, builddir)
	if err != nil {
		return err
	}
	if c.Admin {
		return nil
	}
	if owner == nil || *owner != c.ID {
		return fmt.Errorf("%w: user %d can't access project %s", ErrPermissionDenied, c.ID, builddir)
	}
	return nil
}

func (r *Registry) allocate() string {
	return filepath.Join(r.ProjectsRoot, uuid.NewString())
}
