package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/rootfsd/app/enums"
	"github.com/umputun/rootfsd/app/jobs"
	"github.com/umputun/rootfsd/app/store"
)

const testXML = `<RootFileSystem><project><name>demo</name><version>1.0</version></project></RootFileSystem>`

func newTestShell(t *testing.T, cmds *Commands) (*Shell, string) {
	t.Helper()
	builddir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(builddir, store.SourceXML), []byte(testXML), 0o600))
	require.NoError(t, cmds.Validate())
	f := &Factory{Commands: cmds, Env: []string{"EXTRA=value"}}
	e, err := f.Open(builddir)
	require.NoError(t, err)
	return e.(*Shell), builddir
}

func readLog(t *testing.T, builddir string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(builddir, store.LogFile))
	require.NoError(t, err)
	return string(data)
}

func TestFactory_Open(t *testing.T) {
	f := &Factory{Commands: &Commands{Build: "true"}}
	_, err := f.Open(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	_, err = f.Open(file)
	require.Error(t, err)

	_, err = (&Factory{}).Open(t.TempDir())
	require.Error(t, err)
}

func TestShell_Build(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		e, builddir := newTestShell(t, &Commands{
			Build: `echo "building {{.Name}} {{.Version}} bin={{.BuildBin}} $EXTRA" && touch sdcard.img`,
			Artifacts: []ArtifactSpec{{Glob: "*.img", Description: "Image"}, {Glob: "sdcard.*"},
				{Glob: "missing/*.bin"}},
		})
		require.NoError(t, e.Build(ctx, jobs.BuildOptions{BuildBin: true}))
		assert.FileExists(t, filepath.Join(builddir, "sdcard.img"))

		log := readLog(t, builddir)
		assert.Contains(t, log, "{build} building demo 1.0 bin=true value")
		assert.Contains(t, log, "run build: echo")

		arts := e.Artifacts()
		require.Len(t, arts, 1, "duplicates across globs dropped")
		assert.Equal(t, store.Artifact{Name: "sdcard.img", MimeType: "application/octet-stream", Description: "Image"}, arts[0])
	})

	t.Run("failure keeps output tail", func(t *testing.T) {
		e, builddir := newTestShell(t, &Commands{LogLines: 2, Build: `echo one; echo two; echo three; exit 3`})
		err := e.Build(ctx, jobs.BuildOptions{})
		require.Error(t, err)
		var cerr *CommandError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "build", cerr.Op)
		assert.Equal(t, "two\nthree", cerr.Tail)
		assert.Contains(t, err.Error(), "exit status 3")
		assert.Contains(t, readLog(t, builddir), "{build} one")
	})

	t.Run("not enough space", func(t *testing.T) {
		e, _ := newTestShell(t, &Commands{MinFreeMB: 100, Build: "touch built"})
		e.diskFree = func(context.Context, string) (uint64, error) { return 10 * 1024 * 1024, nil }
		err := e.Build(ctx, jobs.BuildOptions{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "10 MB available, 100 MB required")

		e.diskFree = func(context.Context, string) (uint64, error) { return 0, errors.New("statfs failed") }
		require.Error(t, e.Build(ctx, jobs.BuildOptions{}))

		e.diskFree = func(context.Context, string) (uint64, error) { return 200 * 1024 * 1024, nil }
		require.NoError(t, e.Build(ctx, jobs.BuildOptions{}))
	})

	t.Run("real disk check", func(t *testing.T) {
		free, err := diskFree(ctx, t.TempDir())
		require.NoError(t, err)
		assert.Positive(t, free)
	})
}

func TestShell_Operations(t *testing.T) {
	ctx := context.Background()
	e, builddir := newTestShell(t, &Commands{
		Build:     "true",
		GenUpdate: `cp {{.BaseXML}} {{.Target}}`,
		Save:      `mkdir -p {{.Archive}} && echo saved > {{.Archive}}/marker`,
		Checkout:  `test -f {{.Archive}}/marker`,
	})

	require.NoError(t, e.GenUpdatePackage(ctx, filepath.Join(builddir, store.SourceXML), "demo_1.0_2.0.upd"))
	assert.FileExists(t, filepath.Join(builddir, "demo_1.0_2.0.upd"))

	require.NoError(t, e.SavePackageArchive(ctx, "demo_1.0.pkgarchive"))
	assert.FileExists(t, filepath.Join(builddir, "demo_1.0.pkgarchive", "marker"))
	require.NoError(t, e.CheckoutPackageArchive(ctx, "demo_1.0.pkgarchive"))
	require.Error(t, e.CheckoutPackageArchive(ctx, "demo_2.0.pkgarchive"))

	doc, err := e.Config()
	require.NoError(t, err)
	assert.Equal(t, "demo", doc.Name)
	assert.Equal(t, builddir, e.BuildDir())
}

func TestShell_NotConfigured(t *testing.T) {
	e, _ := newTestShell(t, &Commands{Build: "true"})
	err := e.PackageCache().Update(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apt_update command is not configured")
}

func TestShell_BadTemplateField(t *testing.T) {
	e, _ := newTestShell(t, &Commands{Build: "true"})
	e.cmds = &Commands{Build: "echo {{.NoSuchField}}"}
	require.Error(t, e.Build(context.Background(), jobs.BuildOptions{}))
}

func TestPkgCache(t *testing.T) {
	ctx := context.Background()
	e, builddir := newTestShell(t, &Commands{
		Build:     "true",
		AptUpdate: "echo updated",
		AptCommit: `cat {{.Changes}} > committed.json`,
	})
	pc := e.PackageCache()

	changes, err := pc.Changes()
	require.NoError(t, err)
	assert.Empty(t, changes)

	require.NoError(t, pc.Mark(jobs.PkgChange{Name: "vim", Action: enums.PkgActionInstall}))
	require.NoError(t, pc.Mark(jobs.PkgChange{Name: "nano", Action: enums.PkgActionDelete}))
	require.NoError(t, pc.Mark(jobs.PkgChange{Name: "vim", Version: "9.0", Action: enums.PkgActionUpgrade}))
	require.ErrorIs(t, pc.Mark(jobs.PkgChange{Name: "", Action: enums.PkgActionInstall}), store.ErrValidation)
	require.ErrorIs(t, pc.Mark(jobs.PkgChange{Name: "x", Action: "purge"}), store.ErrValidation)

	changes, err = pc.Changes()
	require.NoError(t, err)
	assert.Equal(t, []jobs.PkgChange{
		{Name: "nano", Action: enums.PkgActionDelete},
		{Name: "vim", Version: "9.0", Action: enums.PkgActionUpgrade},
	}, changes)

	require.NoError(t, pc.Update(ctx))
	assert.Contains(t, readLog(t, builddir), "{apt_update} updated")

	require.NoError(t, pc.Commit(ctx))
	committed, err := os.ReadFile(filepath.Join(builddir, "committed.json"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(committed), `"vim"`))
	changes, err = pc.Changes()
	require.NoError(t, err)
	assert.Empty(t, changes, "cleared after commit")

	require.NoError(t, pc.Mark(jobs.PkgChange{Name: "curl", Action: enums.PkgActionKeep}))
	require.NoError(t, pc.Clear())
	require.NoError(t, pc.Clear())
	assert.NoFileExists(t, filepath.Join(builddir, ChangesFile))

	require.NoError(t, os.WriteFile(filepath.Join(builddir, ChangesFile), []byte("{broken"), 0o600))
	_, err = pc.Changes()
	require.Error(t, err)
}

func TestLogPrefixer(t *testing.T) {
	var sb strings.Builder
	p := newLogPrefixer(&sb, "build")
	n, err := p.Write([]byte("line 1\nline 2\npartial"))
	require.NoError(t, err)
	assert.Equal(t, 21, n)
	assert.Equal(t, "{build} line 1\n{build} line 2\n{build} partial", sb.String())
}

func TestTailCapture(t *testing.T) {
	c := &tailCapture{maxLines: 2}
	_, _ = c.Write([]byte("a\nb\n"))
	_, _ = c.Write([]byte("c\n\n"))
	assert.Equal(t, "b\nc", c.String())
}

func TestAppendWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	w := &appendWriter{path: path}
	_, err := w.Write([]byte("one\n"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))
	_, err = w.Write([]byte("two\n"))
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two\n", string(data))
}
