// Package jobs serializes long-running project operations. Every job is accepted synchronously by
// Queue.Enqueue, which moves the project to busy, and executed later by the single worker of
// Queue.Run. Execution always finishes with file reconciliation and a reset of the busy status.
package jobs

import (
	"context"
	"fmt"

	"github.com/go-pkgz/lgr"

	"github.com/umputun/rootfsd/app/enums"
	"github.com/umputun/rootfsd/app/store"
	"github.com/umputun/rootfsd/app/xmlcfg"
)

//go:generate moq -out mocks/engine.go -pkg mocks -skip-ensure -fmt goimports . Engine
//go:generate moq -out mocks/package_cache.go -pkg mocks -skip-ensure -fmt goimports . PackageCache
//go:generate moq -out mocks/job_event_handler.go -pkg mocks -skip-ensure -fmt goimports . JobEventHandler

// Engine is a handle to the build backend of one project
type Engine interface {
	BuildDir() string
	Config() (*xmlcfg.Document, error)
	Log() lgr.L
	Build(ctx context.Context, opts BuildOptions) error
	PackageCache() PackageCache
	GenUpdatePackage(ctx context.Context, baseXML, target string) error
	SavePackageArchive(ctx context.Context, dir string) error
	CheckoutPackageArchive(ctx context.Context, dir string) error
	Artifacts() []store.Artifact
}

// PackageCache is the package state of a built project. Package semantics are up to the engine.
type PackageCache interface {
	Update(ctx context.Context) error
	Commit(ctx context.Context) error
	Changes() ([]PkgChange, error)
	Mark(change PkgChange) error
	Clear() error
}

// BuildOptions control what a build produces
type BuildOptions struct {
	BuildBin     bool `json:"build_bin"`
	BuildSources bool `json:"build_sources"`
	SkipPbuilder bool `json:"skip_pbuilder"`
}

// PkgChange is a pending change of one package
type PkgChange struct {
	Name    string          `json:"name"`
	Version string          `json:"version,omitempty"`
	Action  enums.PkgAction `json:"action"`
}

// Job is a single queued operation on a project
type Job struct {
	Kind        enums.JobKind
	Engine      Engine
	Build       BuildOptions // build
	BaseVersion string       // gen_update_package
	Version     string       // checkout_version
	Description string       // save_version

	// set on enqueue
	seq      uint64
	prior    enums.Status
	name     string // project name, for versioned file names
	version  string // project version, for versioned file names
	baseXML  string // base version snapshot of gen_update_package
	jrnlFile string
}

// NewBuildJob makes a job building the project
func NewBuildJob(e Engine, opts BuildOptions) Job {
	return Job{Kind: enums.JobKindBuild, Engine: e, Build: opts}
}

// NewAptUpdateJob makes a job updating the package cache of a built project
func NewAptUpdateJob(e Engine) Job { return Job{Kind: enums.JobKindAptUpdate, Engine: e} }

// NewAptCommitJob makes a job applying pending package changes
func NewAptCommitJob(e Engine) Job { return Job{Kind: enums.JobKindAptCommit, Engine: e} }

// NewGenUpdateJob makes a job generating an update package from baseVersion to the current version
func NewGenUpdateJob(e Engine, baseVersion string) Job {
	return Job{Kind: enums.JobKindGenUpdatePackage, Engine: e, BaseVersion: baseVersion}
}

// NewSaveVersionJob makes a job saving the current version with its package archive
func NewSaveVersionJob(e Engine, description string) Job {
	return Job{Kind: enums.JobKindSaveVersion, Engine: e, Description: description}
}

// NewCheckoutVersionJob makes a job restoring a saved version with its package archive
func NewCheckoutVersionJob(e Engine, version string) Job {
	return Job{Kind: enums.JobKindCheckoutVersion, Engine: e, Version: version}
}

// allowedFrom lists statuses a project may have when a job of the kind is accepted
var allowedFrom = map[enums.JobKind][]enums.Status{
	enums.JobKindBuild: {enums.StatusEmptyProject, enums.StatusNeedsBuild, enums.StatusHasChanges,
		enums.StatusBuildDone, enums.StatusBuildFailed},
	enums.JobKindAptUpdate:        {enums.StatusBuildDone, enums.StatusHasChanges},
	enums.JobKindAptCommit:        {enums.StatusBuildDone, enums.StatusHasChanges},
	enums.JobKindGenUpdatePackage: {enums.StatusBuildDone, enums.StatusHasChanges},
	enums.JobKindSaveVersion:      {enums.StatusBuildDone, enums.StatusHasChanges},
	enums.JobKindCheckoutVersion:  {enums.StatusBuildDone, enums.StatusHasChanges},
}

// AllowedFrom returns statuses a job of the kind can be accepted from
func AllowedFrom(kind enums.JobKind) []enums.Status {
	return append([]enums.Status(nil), allowedFrom[kind]...)
}

// restoreStatus is the status to set when the job never completes, also its failure status
func (j Job) restoreStatus() enums.Status {
	switch j.Kind {
	case enums.JobKindBuild, enums.JobKindAptUpdate, enums.JobKindAptCommit:
		return enums.StatusBuildFailed
	default:
		return j.prior
	}
}

// successStatus is the status to set after the job succeeded
func (j Job) successStatus() enums.Status {
	switch j.Kind {
	case enums.JobKindBuild:
		return enums.StatusBuildDone
	case enums.JobKindAptUpdate, enums.JobKindAptCommit:
		return enums.StatusHasChanges
	default:
		return j.prior
	}
}

func (j Job) String() string {
	if j.Engine == nil {
		return fmt.Sprintf("%s job", j.Kind)
	}
	return fmt.Sprintf("%s job #%d for %s", j.Kind, j.seq, j.Engine.BuildDir())
}
