package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"

	"github.com/umputun/rootfsd/app/enums"
	"github.com/umputun/rootfsd/app/jobs/request"
	"github.com/umputun/rootfsd/app/store"
)

// Store is the persistent side of projects used by jobs
type Store interface {
	GetProject(ctx context.Context, builddir string) (store.Project, error)
	SetBusy(ctx context.Context, builddir string, allowed ...enums.Status) (enums.Status, error)
	ResetBusy(ctx context.Context, builddir string, status enums.Status) error
	UpdateProjectFiles(ctx context.Context, builddir string, extra ...store.Artifact) error
	SaveVersion(ctx context.Context, builddir, description string) (store.ProjectVersion, error)
	CheckoutVersion(ctx context.Context, builddir, version string) error
	DelVersion(ctx context.Context, builddir, version string, force bool) error
	VersionPath(ctx context.Context, builddir, version string) (string, error)
}

// Journal records accepted jobs until they finish
type Journal interface {
	OnEnqueue(builddir string, kind enums.JobKind, restore enums.Status) (string, error)
	OnFinish(fname string) error
}

// JobEventHandler defines interface for handling job execution events
type JobEventHandler interface {
	OnJobStart(req request.OnJobStart)
	OnJobComplete(req request.OnJobComplete)
}

// Queue accepts jobs from any number of callers and runs them one by one in acceptance order
type Queue struct {
	Store           Store
	Journal         Journal         // optional
	JobEventHandler JobEventHandler // optional
	Supervisor      strategy.Interface
	ResetRetry      strategy.Interface // retries of the final busy reset

	mu   sync.Mutex
	jobs []*Job
	seq  uint64
	wake chan struct{}
	once sync.Once
}

// NewQueue makes a queue for the store
func NewQueue(st Store) *Queue {
	return &Queue{Store: st}
}

// Len returns the number of jobs waiting for the worker
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Enqueue accepts the job. The project is moved to busy right away, the call fails with
// store.ErrInvalidState if its status doesn't allow the job. Errors of the job itself
// never come back here, they end up in the project log and the failure status.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	if job.Engine == nil {
		return errors.New("job without engine")
	}
	allowed, ok := allowedFrom[job.Kind]
	if !ok {
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
	builddir := job.Engine.BuildDir()
	prior, err := q.Store.SetBusy(ctx, builddir, allowed...)
	if err != nil {
		return fmt.Errorf("can't accept %s job for %s: %w", job.Kind, builddir, err)
	}
	job.prior = prior

	queued, err := q.prepare(ctx, &job)
	if err != nil || !queued {
		if rerr := q.resetBusy(ctx, builddir, prior); rerr != nil {
			log.Printf("[WARN] failed to reset %s to %s: %v", builddir, prior, rerr)
		}
		return err
	}

	if job.jrnlFile, err = q.journal().OnEnqueue(builddir, job.Kind, job.restoreStatus()); err != nil {
		log.Printf("[WARN] failed to journal %s job for %s: %v", job.Kind, builddir, err)
	}

	q.mu.Lock()
	q.seq++
	job.seq = q.seq
	q.jobs = append(q.jobs, &job)
	q.mu.Unlock()
	q.signal()

	job.Engine.Log().Logf("[INFO] %s job enqueued", job.Kind)
	log.Printf("[DEBUG] accepted %s, prior status %s", job, prior)
	return nil
}

// prepare runs the synchronous part of a job. It returns false with nil error if there is nothing to do.
func (q *Queue) prepare(ctx context.Context, job *Job) (bool, error) {
	builddir := job.Engine.BuildDir()
	switch job.Kind {
	case enums.JobKindBuild, enums.JobKindAptUpdate:
		return true, nil

	case enums.JobKindAptCommit:
		changes, err := job.Engine.PackageCache().Changes()
		if err != nil {
			return false, fmt.Errorf("can't get package changes of %s: %w", builddir, err)
		}
		if len(changes) == 0 {
			job.Engine.Log().Logf("[INFO] nothing to commit")
			return false, nil
		}
		return true, nil

	case enums.JobKindGenUpdatePackage:
		doc, err := job.Engine.Config()
		if err != nil {
			return false, fmt.Errorf("can't read configuration of %s: %w", builddir, err)
		}
		job.name, job.version = doc.Name, doc.Version
		if job.baseXML, err = q.Store.VersionPath(ctx, builddir, job.BaseVersion); err != nil {
			return false, fmt.Errorf("base version of update package: %w", err)
		}
		return true, nil

	case enums.JobKindSaveVersion:
		v, err := q.Store.SaveVersion(ctx, builddir, job.Description)
		if err != nil {
			return false, err
		}
		job.name, job.version = v.Name, v.Version
		return true, nil

	case enums.JobKindCheckoutVersion:
		if err := q.Store.CheckoutVersion(ctx, builddir, job.Version); err != nil {
			return false, err
		}
		p, err := q.Store.GetProject(ctx, builddir)
		if err != nil {
			return false, err
		}
		job.name, job.version = p.Name, p.Version
		return true, nil
	}
	return false, fmt.Errorf("unknown job kind %q", job.Kind)
}

// Run is the single consumer of the queue, blocks until ctx is done. The running job is never
// interrupted, jobs still waiting on shutdown stay busy and journaled.
func (q *Queue) Run(ctx context.Context) error {
	log.Printf("[INFO] job queue started")
	supervisor := q.Supervisor
	if supervisor == nil {
		supervisor = &strategy.Backoff{Repeats: 10, Duration: time.Second, Factor: 2, Jitter: true}
	}
	err := repeater.New(supervisor).Do(ctx, func() error { return q.loop(ctx) })
	log.Printf("[INFO] job queue stopped, %d jobs waiting", q.Len())
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("job queue failed: %w", err)
	}
	return nil
}

func (q *Queue) loop(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[WARN] job queue panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("job queue panic: %v", r)
		}
	}()
	for {
		job, ok := q.next(ctx)
		if !ok {
			return nil
		}
		q.process(context.WithoutCancel(ctx), job)
	}
}

func (q *Queue) next(ctx context.Context) (*Job, bool) {
	for {
		if ctx.Err() != nil {
			return nil, false
		}
		q.mu.Lock()
		if len(q.jobs) > 0 {
			job := q.jobs[0]
			q.jobs[0] = nil
			q.jobs = q.jobs[1:]
			q.mu.Unlock()
			return job, true
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, false
		case <-q.wakeCh():
		}
	}
}

// process runs the job and always resets the busy status, job panics take the failure path
func (q *Queue) process(ctx context.Context, job *Job) {
	builddir := job.Engine.BuildDir()
	startTime := time.Now()
	q.safeEvent(job, func(h JobEventHandler) {
		h.OnJobStart(request.OnJobStart{Seq: job.seq, Kind: job.Kind, BuildDir: builddir, StartTime: startTime})
	})
	log.Printf("[INFO] start %s", job)

	extra, err := q.safeExecute(ctx, job)
	status := job.successStatus()
	if err != nil {
		status = job.restoreStatus()
		job.Engine.Log().Logf("[ERROR] %s job failed: %v", job.Kind, err)
		log.Printf("[WARN] %s failed: %v", job, err)
		if job.Kind == enums.JobKindSaveVersion {
			if derr := q.Store.DelVersion(ctx, builddir, job.version, true); derr != nil {
				log.Printf("[WARN] failed to drop version %s of %s: %v", job.version, builddir, derr)
			}
		}
	} else {
		job.Engine.Log().Logf("[INFO] %s job finished", job.Kind)
	}

	if ferr := q.Store.UpdateProjectFiles(ctx, builddir, append(q.safeArtifacts(job), extra...)...); ferr != nil {
		log.Printf("[WARN] failed to update files of %s: %v", builddir, ferr)
	}
	if rerr := q.resetBusy(ctx, builddir, status); rerr != nil {
		log.Printf("[ERROR] failed to reset %s to %s, project stays busy: %v", builddir, status, rerr)
	}
	if jerr := q.journal().OnFinish(job.jrnlFile); jerr != nil {
		log.Printf("[WARN] %v", jerr)
	}

	endTime := time.Now()
	log.Printf("[INFO] finished %s in %v, status %s", job, endTime.Sub(startTime).Truncate(time.Millisecond), status)
	q.safeEvent(job, func(h JobEventHandler) {
		h.OnJobComplete(request.OnJobComplete{Seq: job.seq, Kind: job.Kind, BuildDir: builddir,
			StartTime: startTime, EndTime: endTime, Status: status, Err: err})
	})
}

// safeEvent calls the event handler, a panicking handler can't take the job or the worker down
func (q *Queue) safeEvent(job *Job, fn func(h JobEventHandler)) {
	if q.JobEventHandler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[WARN] event handler of %s panicked: %v\n%s", job, r, debug.Stack())
		}
	}()
	fn(q.JobEventHandler)
}

// resetBusy retries transient store failures, status errors are final
func (q *Queue) resetBusy(ctx context.Context, builddir string, status enums.Status) error {
	retry := q.ResetRetry
	if retry == nil {
		retry = &strategy.Backoff{Repeats: 6, Duration: 100 * time.Millisecond, Factor: 2, Jitter: true}
	}
	return repeater.New(retry).Do(ctx, func() error {
		err := q.Store.ResetBusy(ctx, builddir, status)
		if err != nil {
			log.Printf("[DEBUG] reset of %s to %s failed: %v", builddir, status, err)
		}
		return err
	}, store.ErrInvalidState, store.ErrNotFound, store.ErrValidation)
}

func (q *Queue) safeExecute(ctx context.Context, job *Job) (extra []store.Artifact, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[WARN] %s panicked: %v\n%s", job, r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return q.execute(ctx, job)
}

// execute runs the long part of the job and returns artifacts it produced
func (q *Queue) execute(ctx context.Context, job *Job) ([]store.Artifact, error) {
	e := job.Engine
	switch job.Kind {
	case enums.JobKindBuild:
		return nil, e.Build(ctx, job.Build)

	case enums.JobKindAptUpdate:
		return nil, e.PackageCache().Update(ctx)

	case enums.JobKindAptCommit:
		return nil, e.PackageCache().Commit(ctx)

	case enums.JobKindGenUpdatePackage:
		target := store.UpdatePackageName(job.name, job.BaseVersion, job.version)
		err := e.GenUpdatePackage(ctx, job.baseXML, target)
		art := store.Artifact{Name: target, MimeType: "application/octet-stream",
			Description: fmt.Sprintf("Update package from %s to %s", job.BaseVersion, job.version)}
		return []store.Artifact{art}, err

	case enums.JobKindSaveVersion:
		return nil, e.SavePackageArchive(ctx, store.VersionedFileName(job.name, job.version, store.PkgArchiveSuffix))

	case enums.JobKindCheckoutVersion:
		return nil, e.CheckoutPackageArchive(ctx, store.VersionedFileName(job.name, job.version, store.PkgArchiveSuffix))
	}
	return nil, fmt.Errorf("unknown job kind %q", job.Kind)
}

func (q *Queue) safeArtifacts(job *Job) (res []store.Artifact) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[WARN] artifacts of %s panicked: %v", job, r)
			res = nil
		}
	}()
	return job.Engine.Artifacts()
}

func (q *Queue) signal() {
	select {
	case q.wakeCh() <- struct{}{}:
	default:
	}
}

func (q *Queue) wakeCh() chan struct{} {
	q.once.Do(func() { q.wake = make(chan struct{}, 1) })
	return q.wake
}

func (q *Queue) journal() Journal {
	if q.Journal == nil {
		return nopJournal{}
	}
	return q.Journal
}

type nopJournal struct{}

func (nopJournal) OnEnqueue(string, enums.JobKind, enums.Status) (string, error) { return "", nil }
func (nopJournal) OnFinish(string) error                                         { return nil }
