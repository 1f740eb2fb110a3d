// Package journal records accepted jobs on disk so projects left busy by a crash can be restored
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/rootfsd/app/enums"
)

const suffix = ".job"

// Journal keeps one file per accepted job in its location
type Journal struct {
	location string
	enabled  bool
	seq      uint64
}

// Entry is a recorded job
type Entry struct {
	File      string        `json:"-"`
	BuildDir  string        `json:"builddir"`
	Kind      enums.JobKind `json:"kind"`
	Restore   enums.Status  `json:"restore"` // status to set if the job never finished
	CreatedAt time.Time     `json:"created_at"`
}

// Resetter moves a busy project back to a non-busy status
type Resetter interface {
	ResetBusy(ctx context.Context, builddir string, status enums.Status) error
}

// New makes journal for given location. Disabled journal records nothing and lists nothing.
func New(location string, enabled bool) *Journal {
	if enabled {
		if err := os.MkdirAll(location, 0o700); err != nil {
			log.Printf("[WARN] can't make journal location %s, %s", location, err)
		}
	}
	return &Journal{location: location, enabled: enabled}
}

// OnEnqueue records an accepted job and returns the journal file name
func (j *Journal) OnEnqueue(builddir string, kind enums.JobKind, restore enums.Status) (string, error) {
	if !j.enabled {
		return "", nil
	}
	seq := atomic.AddUint64(&j.seq, 1)
	entry := Entry{BuildDir: builddir, Kind: kind, Restore: restore, CreatedAt: time.Now()}
	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("failed to marshal journal entry: %w", err)
	}
	fname := filepath.Join(j.location, fmt.Sprintf("%020d-%06d%s", entry.CreatedAt.UnixNano(), seq, suffix))
	if err := os.WriteFile(fname, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write journal entry %s: %w", fname, err)
	}
	log.Printf("[DEBUG] journal entry %s for %s %s", fname, kind, builddir)
	return fname, nil
}

// OnFinish removes the journal file of a finished job
func (j *Journal) OnFinish(fname string) error {
	if !j.enabled || fname == "" {
		return nil
	}
	if err := os.Remove(fname); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove journal entry %s: %w", fname, err)
	}
	return nil
}

// List returns recorded entries in acceptance order, unreadable files are skipped
func (j *Journal) List() []Entry {
	if !j.enabled {
		return []Entry{}
	}
	entries, err := os.ReadDir(j.location)
	if err != nil {
		log.Printf("[WARN] can't get journal list for %s, %s", j.location, err)
		return []Entry{}
	}
	res := []Entry{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		fname := filepath.Join(j.location, e.Name())
		data, err := os.ReadFile(fname) //nolint:gosec // journal location is ours
		if err != nil {
			log.Printf("[WARN] failed to read journal entry %s, %s", fname, err)
			continue
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			log.Printf("[WARN] bad journal entry %s, %s", fname, err)
			continue
		}
		entry.File = fname
		res = append(res, entry)
	}
	sort.Slice(res, func(i, k int) bool { return res[i].File < res[k].File })
	return res
}

// Recover resets projects of unfinished jobs to their restore status and clears the journal.
// Only the first entry of a project matters, later ones were queued behind it.
func (j *Journal) Recover(ctx context.Context, r Resetter) (restored int) {
	seen := map[string]bool{}
	for _, e := range j.List() {
		if !seen[e.BuildDir] {
			seen[e.BuildDir] = true
			if err := r.ResetBusy(ctx, e.BuildDir, e.Restore); err != nil {
				log.Printf("[WARN] can't restore %s after unfinished %s job, %v", e.BuildDir, e.Kind, err)
			} else {
				log.Printf("[INFO] restored %s to %s after unfinished %s job", e.BuildDir, e.Restore, e.Kind)
				restored++
			}
		}
		if err := j.OnFinish(e.File); err != nil {
			log.Printf("[WARN] %v", err)
		}
	}
	return restored
}

func (j *Journal) String() string {
	return fmt.Sprintf("enabled:%v, location:%s", j.enabled, j.location)
}
