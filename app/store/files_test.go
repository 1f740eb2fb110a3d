package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/rootfsd/app/enums"
)

func fileNames(t *testing.T, s *Store, builddir string) []string {
	t.Helper()
	files, err := s.ListProjectFiles(context.Background(), builddir)
	require.NoError(t, err)
	res := make([]string, 0, len(files))
	for _, f := range files {
		res = append(res, f.Name)
	}
	return res
}

func TestStore_UpdateProjectFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	builddir := newTestProject(t, s, enums.StatusNeedsBuild)

	write := func(name string) {
		path := filepath.Join(builddir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte("data"), 0o600))
	}
	write(LogFile)
	write("validation.txt")
	write("pbuilder/result/demo_1.0_armhf.deb")
	write("images/sdcard.img")
	write("random.bin")

	img := Artifact{Name: "images/sdcard.img", MimeType: "application/octet-stream", Description: "Image"}
	require.NoError(t, s.UpdateProjectFiles(ctx, builddir, img, Artifact{Name: "not-there.img"}, Artifact{Name: "../escape"}))
	assert.Equal(t, []string{"images/sdcard.img", LogFile, "pbuilder/result/demo_1.0_armhf.deb", SourceXML, "validation.txt"},
		fileNames(t, s, builddir))

	f, path, err := s.GetProjectFile(ctx, builddir, LogFile)
	require.NoError(t, err)
	assert.Equal(t, "text/plain; charset=utf-8", f.MimeType)
	assert.Equal(t, filepath.Join(builddir, LogFile), path)

	// vanished files are dropped, extras from earlier runs are kept while they exist
	require.NoError(t, os.Remove(filepath.Join(builddir, "validation.txt")))
	require.NoError(t, os.RemoveAll(filepath.Join(builddir, "pbuilder")))
	require.NoError(t, s.UpdateProjectFiles(ctx, builddir))
	assert.Equal(t, []string{"images/sdcard.img", LogFile, SourceXML}, fileNames(t, s, builddir))

	_, _, err = s.GetProjectFile(ctx, builddir, "validation.txt")
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, s.UpdateProjectFiles(ctx, "/no/such"), ErrNotFound)
}

func TestStore_AddProjectFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	builddir := newTestProject(t, s, enums.StatusEmptyProject)
	require.NoError(t, os.WriteFile(filepath.Join(builddir, "demo_1.0_2.0.upd"), []byte("upd"), 0o600))

	a := Artifact{Name: "demo_1.0_2.0.upd", MimeType: "application/octet-stream", Description: "Update package"}
	require.NoError(t, s.AddProjectFile(ctx, builddir, a))
	a.Description = "Update package 1.0 -> 2.0"
	require.NoError(t, s.AddProjectFile(ctx, builddir, a), "upsert")

	f, _, err := s.GetProjectFile(ctx, builddir, a.Name)
	require.NoError(t, err)
	assert.Equal(t, "Update package 1.0 -> 2.0", f.Description)

	require.ErrorIs(t, s.AddProjectFile(ctx, builddir, Artifact{Name: "missing"}), ErrNotFound)
	require.ErrorIs(t, s.AddProjectFile(ctx, builddir, Artifact{Name: "/etc/passwd"}), ErrValidation)
}
