package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/rootfsd/app/enums"
	"github.com/umputun/rootfsd/app/journal"
	"github.com/umputun/rootfsd/app/store"
)

func Test_makeHostName(t *testing.T) {
	opts.Notify.HostName = "test"
	assert.Equal(t, "test", makeHostName())

	opts.Notify.HostName = ""
	exp, err := os.Hostname()
	require.NoError(t, err)
	assert.Equal(t, exp, makeHostName())
}

func Test_makeNotifier(t *testing.T) {
	opts.Notify.EnabledCompletion, opts.Notify.EnabledError = false, false
	opts.Notify.FromEmail = ""
	opts.Notify.ToEmails = []string{"test@example.com"}
	assert.Nil(t, makeNotifier())

	opts.Notify.EnabledCompletion = true
	notif := makeNotifier()
	require.NotNil(t, notif)
	assert.Equal(t, "rootfsd@"+makeHostName(), opts.Notify.FromEmail,
		"side effect of creating notifier with empty From "+
			"is setting the From based on hostname")

	opts.Notify.ToEmails = nil
	assert.Nil(t, makeNotifier(), "no destinations")
	opts.Notify.EnabledCompletion = false
}

func Test_setupLogsWithLogsDisabled(t *testing.T) {
	opts.Log.Enabled = false
	assert.Equal(t, os.Stdout, setupLogs())
}

func Test_setupLogsToFile(t *testing.T) {
	tmpfile := filepath.Join(t.TempDir(), "rootfsd.log")

	opts.Log.Enabled = true
	opts.Log.Filename = tmpfile
	opts.Log.MaxSize = 100
	opts.Log.MaxBackups = 7
	opts.Log.MaxAge = 0
	opts.Log.EnabledCompress = false
	defer func() {
		opts.Log.Enabled = false
		setupLogs()
	}()

	out := setupLogs()
	assert.IsType(t, &lumberjack.Logger{}, out)

	logger := out.(*lumberjack.Logger)
	assert.Equal(t, tmpfile, logger.Filename)
	assert.Equal(t, 100, logger.MaxSize)
	assert.Equal(t, 7, logger.MaxBackups)
	assert.Equal(t, 0, logger.MaxAge)
	assert.False(t, logger.Compress)
	require.NoError(t, logger.Close())
}

func Test_loadEnvFile(t *testing.T) {
	require.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "missing.env")))

	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("ROOTFSD_TEST_VALUE=from-file\n"), 0o600))
	t.Setenv("ROOTFSD_TEST_VALUE", "")
	require.NoError(t, os.Unsetenv("ROOTFSD_TEST_VALUE"))
	require.NoError(t, loadEnvFile(envFile))
	assert.Equal(t, "from-file", os.Getenv("ROOTFSD_TEST_VALUE"))

	t.Setenv("ROOTFSD_ENV_FILE", envFile)
	assert.Equal(t, envFile, envFileName())
	t.Setenv("ROOTFSD_ENV_FILE", "")
	assert.Equal(t, ".env", envFileName())
}

func Test_prepareStore(t *testing.T) {
	ctx := context.Background()
	st, err := store.New(ctx, store.Params{DSN: filepath.Join(t.TempDir(), "test.db"), BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	defer st.Close()

	root := t.TempDir()
	journaled := filepath.Join(root, "journaled")
	stale := filepath.Join(root, "stale")
	for _, dir := range []string{journaled, stale} {
		_, err = st.CreateProject(ctx, dir, nil)
		require.NoError(t, err)
		require.NoError(t, st.SetXML(ctx, dir,
			[]byte(`<RootFileSystem><project><name>a</name><version>1</version></project></RootFileSystem>`)))
		_, err = st.SetBusy(ctx, dir, enums.StatusNeedsBuild)
		require.NoError(t, err)
	}
	jrnl := journal.New(filepath.Join(root, ".journal"), true)
	_, err = jrnl.OnEnqueue(journaled, enums.JobKindSaveVersion, enums.StatusNeedsBuild)
	require.NoError(t, err)

	opts.Store.AdminName, opts.Store.AdminPassword = "root", "secret"
	defer func() { opts.Store.AdminName, opts.Store.AdminPassword = "", "" }()
	require.NoError(t, prepareStore(ctx, st, jrnl))

	admin, err := st.ValidateLogin(ctx, "root", "secret")
	require.NoError(t, err)
	assert.True(t, admin.Admin)

	status, err := st.GetStatus(ctx, journaled)
	require.NoError(t, err)
	assert.Equal(t, enums.StatusNeedsBuild, status)
	status, err = st.GetStatus(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, enums.StatusBuildFailed, status)
	assert.Empty(t, jrnl.List())

	require.NoError(t, prepareStore(ctx, st, jrnl), "second run is a no-op")
}

func Test_run(t *testing.T) {
	root := t.TempDir()
	cfg := filepath.Join(t.TempDir(), "engine.yml")
	require.NoError(t, os.WriteFile(cfg, []byte("build: echo build\n"), 0o600))

	port := freePort(t)
	opts.ProjectsRoot = root
	opts.Store.DSN = filepath.Join(t.TempDir(), "rootfsd.db")
	opts.Store.BcryptCost = bcrypt.MinCost
	opts.Engine.Config = cfg
	opts.Web.Address = fmt.Sprintf("127.0.0.1:%d", port)
	opts.Web.MaxBodySize = 1024 * 1024

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/ping", port))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	// the projects root is locked while running
	other := flock.New(filepath.Join(root, ".lock"))
	locked, err := other.TryLock()
	require.NoError(t, err)
	assert.False(t, locked)
	require.Error(t, run(context.Background()), "second instance refused")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run didn't stop")
	}
}

func Test_runBadEngineConfig(t *testing.T) {
	opts.ProjectsRoot = t.TempDir()
	opts.Engine.Config = filepath.Join(t.TempDir(), "missing.yml")
	require.Error(t, run(context.Background()))
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
