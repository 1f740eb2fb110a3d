// Package engine implements the build engine as a set of configured shell commands run in the
// project directory. Output of every command goes to the project log with an {op} prefix,
// the last lines of a failed command are returned with the error.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/go-pkgz/lgr"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/umputun/rootfsd/app/enums"
	"github.com/umputun/rootfsd/app/jobs"
	"github.com/umputun/rootfsd/app/store"
	"github.com/umputun/rootfsd/app/xmlcfg"
)

// operation names, used as log prefixes
const (
	opBuild     = "build"
	opAptUpdate = "apt_update"
	opAptCommit = "apt_commit"
	opGenUpdate = "gen_update"
	opSave      = "save_archive"
	opCheckout  = "checkout_archive"
)

// ChangesFile keeps pending package changes of a project
const ChangesFile = ".pkgchanges"

// TemplateData is available to command templates
type TemplateData struct {
	BuildDir     string
	Name         string
	Version      string
	BaseXML      string
	Target       string
	Archive      string
	Changes      string
	BuildBin     bool
	BuildSources bool
	SkipPbuilder bool
}

// Factory opens engines for project directories
type Factory struct {
	Commands *Commands
	Env      []string // extra environment for commands, KEY=VALUE
	Debug    bool     // debug lines in project logs
}

// Open makes engine for the project directory
func (f *Factory) Open(builddir string) (jobs.Engine, error) {
	if f.Commands == nil {
		return nil, errors.New("engine commands not set")
	}
	st, err := os.Stat(builddir)
	if err != nil {
		return nil, fmt.Errorf("can't open engine for %s: %w", builddir, err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("can't open engine for %s: not a directory", builddir)
	}
	logOut := &appendWriter{path: filepath.Join(builddir, store.LogFile)}
	opts := []lgr.Option{lgr.Out(logOut), lgr.Err(io.Discard), lgr.Msec}
	if f.Debug {
		opts = append(opts, lgr.Debug)
	}
	res := &Shell{
		builddir: builddir,
		cmds:     f.Commands,
		env:      f.Env,
		logOut:   logOut,
		log:      lgr.New(opts...),
		diskFree: diskFree,
	}
	res.pkgs = &pkgCache{e: res}
	return res, nil
}

// Shell is an engine for one project directory
type Shell struct {
	builddir string
	cmds     *Commands
	env      []string
	logOut   io.Writer
	log      lgr.L
	pkgs     *pkgCache
	diskFree func(ctx context.Context, path string) (uint64, error)
}

// BuildDir returns the project directory
func (e *Shell) BuildDir() string { return e.builddir }

// Log returns the project logger writing to log.txt
func (e *Shell) Log() lgr.L { return e.log }

// Config loads the live configuration document
func (e *Shell) Config() (*xmlcfg.Document, error) {
	return xmlcfg.Load(filepath.Join(e.builddir, store.SourceXML))
}

// PackageCache returns the package state of the project
func (e *Shell) PackageCache() jobs.PackageCache { return e.pkgs }

// Build checks free space and runs the build command
func (e *Shell) Build(ctx context.Context, opts jobs.BuildOptions) error {
	if e.cmds.MinFreeMB > 0 {
		free, err := e.diskFree(ctx, e.builddir)
		if err != nil {
			return fmt.Errorf("can't check free space of %s: %w", e.builddir, err)
		}
		if free < e.cmds.MinFreeMB*1024*1024 {
			return fmt.Errorf("not enough free space for build, %d MB available, %d MB required",
				free/1024/1024, e.cmds.MinFreeMB)
		}
	}
	data := e.templateData()
	data.BuildBin, data.BuildSources, data.SkipPbuilder = opts.BuildBin, opts.BuildSources, opts.SkipPbuilder
	return e.run(ctx, opBuild, e.cmds.Build, data)
}

// GenUpdatePackage runs the update package command producing target from baseXML
func (e *Shell) GenUpdatePackage(ctx context.Context, baseXML, target string) error {
	data := e.templateData()
	data.BaseXML, data.Target = baseXML, target
	return e.run(ctx, opGenUpdate, e.cmds.GenUpdate, data)
}

// SavePackageArchive runs the archive save command for dir
func (e *Shell) SavePackageArchive(ctx context.Context, dir string) error {
	data := e.templateData()
	data.Archive = dir
	return e.run(ctx, opSave, e.cmds.Save, data)
}

// CheckoutPackageArchive runs the archive restore command for dir
func (e *Shell) CheckoutPackageArchive(ctx context.Context, dir string) error {
	data := e.templateData()
	data.Archive = dir
	return e.run(ctx, opCheckout, e.cmds.Checkout, data)
}

// Artifacts returns existing files matching configured globs
func (e *Shell) Artifacts() []store.Artifact {
	seen := map[string]bool{}
	var res []store.Artifact
	for _, spec := range e.cmds.Artifacts {
		matches, err := filepath.Glob(filepath.Join(e.builddir, spec.Glob))
		if err != nil {
			e.log.Logf("[WARN] bad artifact glob %q, %v", spec.Glob, err)
			continue
		}
		for _, m := range matches {
			rel, err := filepath.Rel(e.builddir, m)
			if err != nil || seen[rel] {
				continue
			}
			if st, err := os.Stat(m); err != nil || !st.Mode().IsRegular() {
				continue
			}
			seen[rel] = true
			mime := spec.MimeType
			if mime == "" {
				mime = "application/octet-stream"
			}
			res = append(res, store.Artifact{Name: filepath.ToSlash(rel), MimeType: mime, Description: spec.Description})
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

func (e *Shell) templateData() TemplateData {
	res := TemplateData{BuildDir: e.builddir, Changes: filepath.Join(e.builddir, ChangesFile)}
	if doc, err := e.Config(); err == nil {
		res.Name, res.Version = doc.Name, doc.Version
	}
	return res
}

// run executes the command template with sh -c in the project directory
func (e *Shell) run(ctx context.Context, op, tmpl string, data TemplateData) error {
	if tmpl == "" {
		return fmt.Errorf("%s command is not configured", op)
	}
	t, err := parseTemplate(op, tmpl)
	if err != nil {
		return fmt.Errorf("bad %s command template: %w", op, err)
	}
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return fmt.Errorf("can't make %s command: %w", op, err)
	}
	command := sb.String()

	tail := &tailCapture{maxLines: e.cmds.logLines()}
	out := io.MultiWriter(tail, newLogPrefixer(e.logOut, op))
	cmd := exec.CommandContext(ctx, "sh", "-c", command) //nolint:gosec // commands come from engine config
	cmd.Dir = e.builddir
	cmd.Env = append(append(os.Environ(), e.env...), "ROOTFSD_BUILDDIR="+e.builddir)
	cmd.Stdout, cmd.Stderr = out, out

	e.log.Logf("[INFO] run %s: %s", op, command)
	if err := cmd.Run(); err != nil {
		return &CommandError{Op: op, Err: err, Tail: tail.String()}
	}
	e.log.Logf("[DEBUG] %s completed", op)
	return nil
}

func parseTemplate(name, text string) (*template.Template, error) {
	return template.New(name).Option("missingkey=error").Parse(text)
}

func diskFree(ctx context.Context, path string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// pkgCache keeps pending package changes in the project's ChangesFile
type pkgCache struct {
	e *Shell
}

func (p *pkgCache) path() string { return filepath.Join(p.e.builddir, ChangesFile) }

// Update runs the package cache update command
func (p *pkgCache) Update(ctx context.Context) error {
	return p.e.run(ctx, opAptUpdate, p.e.cmds.AptUpdate, p.e.templateData())
}

// Commit runs the commit command for pending changes and clears them on success
func (p *pkgCache) Commit(ctx context.Context) error {
	if err := p.e.run(ctx, opAptCommit, p.e.cmds.AptCommit, p.e.templateData()); err != nil {
		return err
	}
	return p.Clear()
}

// Changes returns pending changes, empty if none recorded
func (p *pkgCache) Changes() ([]jobs.PkgChange, error) {
	data, err := os.ReadFile(p.path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read package changes: %w", err)
	}
	var res []jobs.PkgChange
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to parse package changes %s: %w", p.path(), err)
	}
	return res, nil
}

// Mark records a change, replacing an earlier change of the same package
func (p *pkgCache) Mark(change jobs.PkgChange) error {
	if strings.TrimSpace(change.Name) == "" {
		return fmt.Errorf("%w: empty package name", store.ErrValidation)
	}
	if _, err := enums.ParsePkgAction(string(change.Action)); err != nil {
		return fmt.Errorf("%w: %w", store.ErrValidation, err)
	}
	changes, err := p.Changes()
	if err != nil {
		return err
	}
	res := changes[:0]
	for _, c := range changes {
		if c.Name != change.Name {
			res = append(res, c)
		}
	}
	res = append(res, change)
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal package changes: %w", err)
	}
	tmp := p.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write package changes: %w", err)
	}
	if err := os.Rename(tmp, p.path()); err != nil {
		return fmt.Errorf("failed to write package changes: %w", err)
	}
	p.e.log.Logf("[INFO] package %s marked for %s", change.Name, change.Action)
	return nil
}

// Clear drops all pending changes
func (p *pkgCache) Clear() error {
	if err := os.Remove(p.path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear package changes: %w", err)
	}
	return nil
}
