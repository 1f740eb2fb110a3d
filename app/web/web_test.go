package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/umputun/rootfsd/app/engine"
	"github.com/umputun/rootfsd/app/jobs"
	"github.com/umputun/rootfsd/app/session"
	"github.com/umputun/rootfsd/app/store"
)

const testXML = `<RootFileSystem><project><name>demo</name><version>1.0</version></project></RootFileSystem>`

type testServer struct {
	ts    *httptest.Server
	st    *store.Store
	reg   *session.Registry
	users map[string]store.User
}

func newTestServer(t *testing.T, rateLimit float64) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	st, err := store.New(ctx, store.Params{DSN: filepath.Join(t.TempDir(), "test.db"), BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)

	cmds := &engine.Commands{
		Build:     `echo image > image.img`,
		Artifacts: []engine.ArtifactSpec{{Glob: "*.img", MimeType: "application/x-raw-disk-image", Description: "Image"}},
	}
	require.NoError(t, cmds.Validate())
	factory := &engine.Factory{Commands: cmds}
	q := jobs.NewQueue(st)
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, q.Run(ctx))
	}()

	reg := session.New(session.Params{Store: st, Queue: q, EngineFactory: factory.Open, ProjectsRoot: t.TempDir()})
	srv, err := New(Config{Version: "test", Registry: reg, Users: st, RateLimit: rateLimit})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-done
		_ = st.Close()
	})

	res := &testServer{ts: ts, st: st, reg: reg, users: map[string]store.User{}}
	for _, u := range []store.UserRequest{{Name: "alice", Password: "alice-pw"}, {Name: "bob", Password: "bob-pw"},
		{Name: "admin", Password: "admin-pw", Admin: true}} {
		user, err := st.AddUser(context.Background(), u)
		require.NoError(t, err)
		res.users[u.Name] = user
	}
	return res
}

// do sends request as user, password is "<user>-pw"; body is json-encoded unless it is a string
func (s *testServer) do(t *testing.T, user, method, path string, body any) (int, []byte) {
	t.Helper()
	var rdr io.Reader = http.NoBody
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.ts.URL+path, rdr)
	require.NoError(t, err)
	if user != "" {
		req.SetBasicAuth(user, user+"-pw")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestServer_Auth(t *testing.T) {
	s := newTestServer(t, 0)

	code, _ := s.do(t, "", "GET", "/api/v1/whoami", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	req, err := http.NewRequest("GET", s.ts.URL+"/api/v1/whoami", http.NoBody)
	require.NoError(t, err)
	req.SetBasicAuth("alice", "wrong")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, `Basic realm="rootfsd"`, resp.Header.Get("WWW-Authenticate"))

	code, body := s.do(t, "alice", "GET", "/api/v1/whoami", nil)
	require.Equal(t, http.StatusOK, code)
	var c session.Caller
	require.NoError(t, json.Unmarshal(body, &c))
	assert.Equal(t, session.Caller{ID: s.users["alice"].ID, Name: "alice"}, c)

	code, body = s.do(t, "", "GET", "/ping", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pong", string(body))
}

func TestServer_ProjectFlow(t *testing.T) {
	s := newTestServer(t, 0)

	code, body := s.do(t, "alice", "GET", "/api/v1/current", nil)
	assert.Equal(t, http.StatusPreconditionFailed, code, string(body))

	code, body = s.do(t, "alice", "POST", "/api/v1/projects", "<broken")
	assert.Equal(t, http.StatusBadRequest, code, string(body))

	code, body = s.do(t, "alice", "POST", "/api/v1/projects", testXML)
	require.Equal(t, http.StatusCreated, code, string(body))
	var created APIProjectResponse
	require.NoError(t, json.Unmarshal(body, &created))
	require.NotEmpty(t, created.BuildDir)

	code, body = s.do(t, "alice", "GET", "/api/v1/current", nil)
	require.Equal(t, http.StatusOK, code)
	var prj store.Project
	require.NoError(t, json.Unmarshal(body, &prj))
	assert.Equal(t, "demo", prj.Name)
	assert.Equal(t, "needs_build", prj.Status.String())

	code, _ = s.do(t, "alice", "POST", "/api/v1/current/build", jobs.BuildOptions{BuildBin: true})
	require.Equal(t, http.StatusAccepted, code)

	require.Eventually(t, func() bool {
		code, body := s.do(t, "alice", "GET", "/api/v1/current/busy", nil)
		require.Equal(t, http.StatusOK, code)
		var info session.BusyInfo
		require.NoError(t, json.Unmarshal(body, &info))
		return !info.Busy
	}, 10*time.Second, 20*time.Millisecond)

	code, body = s.do(t, "alice", "GET", "/api/v1/current/busy?part=x", nil)
	assert.Equal(t, http.StatusBadRequest, code, string(body))

	code, body = s.do(t, "alice", "GET", "/api/v1/current/files", nil)
	require.Equal(t, http.StatusOK, code)
	var files []store.ProjectFile
	require.NoError(t, json.Unmarshal(body, &files))
	names := []string{}
	for _, f := range files {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "image.img")

	code, body = s.do(t, "alice", "GET", "/api/v1/current/files/image.img", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "image\n", string(body))
	code, _ = s.do(t, "alice", "GET", "/api/v1/current/files/nothing.bin", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = s.do(t, "alice", "GET", "/api/v1/current/log", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "build job finished")

	// other users
	open := APIProjectRequest{BuildDir: created.BuildDir}
	code, _ = s.do(t, "bob", "POST", "/api/v1/projects/open", open)
	assert.Equal(t, http.StatusForbidden, code)
	code, body = s.do(t, "admin", "POST", "/api/v1/projects/open", open)
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, string(body), "already opened by alice")
	code, _ = s.do(t, "admin", "POST", "/api/v1/projects/open", APIProjectRequest{BuildDir: "/no/such/project"})
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(t, "admin", "POST", "/api/v1/projects/open", APIProjectRequest{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = s.do(t, "bob", "GET", "/api/v1/projects", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, "[]", string(body))
	code, body = s.do(t, "admin", "GET", "/api/v1/projects", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), created.BuildDir)

	code, _ = s.do(t, "alice", "POST", "/api/v1/projects/close", nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, "alice", "POST", "/api/v1/projects/delete", open)
	require.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, "alice", "POST", "/api/v1/projects/delete", open)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_Versions(t *testing.T) {
	s := newTestServer(t, 0)
	code, _ := s.do(t, "alice", "POST", "/api/v1/projects", testXML)
	require.Equal(t, http.StatusCreated, code)

	code, body := s.do(t, "alice", "POST", "/api/v1/current/versions", APIVersionRequest{Description: "first"})
	assert.Equal(t, http.StatusConflict, code, "not built yet, %s", string(body))

	code, _ = s.do(t, "alice", "POST", "/api/v1/current/build", nil)
	require.Equal(t, http.StatusAccepted, code)
	require.Eventually(t, func() bool {
		_, body := s.do(t, "alice", "GET", "/api/v1/current", nil)
		return strings.Contains(string(body), `"build_done"`)
	}, 10*time.Second, 20*time.Millisecond)

	code, _ = s.do(t, "alice", "POST", "/api/v1/current/versions", APIVersionRequest{Description: "first"})
	require.Equal(t, http.StatusAccepted, code)
	require.Eventually(t, func() bool {
		_, body := s.do(t, "alice", "GET", "/api/v1/current", nil)
		return strings.Contains(string(body), `"build_done"`)
	}, 10*time.Second, 20*time.Millisecond)

	code, _ = s.do(t, "alice", "POST", "/api/v1/current/versions", APIVersionRequest{Description: "again"})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = s.do(t, "alice", "PUT", "/api/v1/current/versions/1.0", APIVersionRequest{Description: "base"})
	require.Equal(t, http.StatusOK, code)
	code, body = s.do(t, "alice", "GET", "/api/v1/current/versions", nil)
	require.Equal(t, http.StatusOK, code)
	var versions []store.ProjectVersion
	require.NoError(t, json.Unmarshal(body, &versions))
	require.Len(t, versions, 1)
	assert.Equal(t, "base", versions[0].Description)

	code, _ = s.do(t, "alice", "POST", "/api/v1/current/update-package", APIVersionRequest{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, "alice", "DELETE", "/api/v1/current/versions/1.0", nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, "alice", "DELETE", "/api/v1/current/versions/1.0", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_Packages(t *testing.T) {
	s := newTestServer(t, 0)
	code, _ := s.do(t, "alice", "POST", "/api/v1/projects", testXML)
	require.Equal(t, http.StatusCreated, code)

	code, body := s.do(t, "alice", "GET", "/api/v1/current/apt/changes", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, "[]", string(body))

	mark := map[string]string{"name": "vim", "action": "install"}
	code, _ = s.do(t, "alice", "POST", "/api/v1/current/apt/mark", mark)
	assert.Equal(t, http.StatusConflict, code, "not built")

	code, _ = s.do(t, "alice", "POST", "/api/v1/current/build", nil)
	require.Equal(t, http.StatusAccepted, code)
	require.Eventually(t, func() bool {
		_, body := s.do(t, "alice", "GET", "/api/v1/current", nil)
		return strings.Contains(string(body), `"build_done"`)
	}, 10*time.Second, 20*time.Millisecond)

	code, _ = s.do(t, "alice", "POST", "/api/v1/current/apt/mark", map[string]string{"name": "vim", "action": "purge"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(t, "alice", "POST", "/api/v1/current/apt/mark", mark)
	require.Equal(t, http.StatusOK, code)
	code, body = s.do(t, "alice", "GET", "/api/v1/current/has-changes", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"has_changes":true}`, string(body))

	code, _ = s.do(t, "alice", "POST", "/api/v1/current/update-package", APIVersionRequest{BaseVersion: "1.0"})
	assert.Equal(t, http.StatusConflict, code, "uncommitted changes")

	code, _ = s.do(t, "alice", "DELETE", "/api/v1/current/apt/changes", nil)
	require.Equal(t, http.StatusOK, code)
	code, body = s.do(t, "alice", "GET", "/api/v1/current/has-changes", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"has_changes":false}`, string(body))

	code, _ = s.do(t, "alice", "POST", "/api/v1/current/apt/update", nil)
	assert.Equal(t, http.StatusAccepted, code)
}

func TestServer_Users(t *testing.T) {
	s := newTestServer(t, 0)

	code, _ := s.do(t, "alice", "GET", "/api/v1/users", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, body := s.do(t, "admin", "GET", "/api/v1/users", nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotContains(t, string(body), "pwhash")
	var users []store.User
	require.NoError(t, json.Unmarshal(body, &users))
	assert.Len(t, users, 3)

	code, body = s.do(t, "admin", "POST", "/api/v1/users", store.UserRequest{Name: "carol", Password: "carol-pw"})
	require.Equal(t, http.StatusCreated, code, string(body))
	var carol store.User
	require.NoError(t, json.Unmarshal(body, &carol))
	code, _ = s.do(t, "admin", "POST", "/api/v1/users", store.UserRequest{Name: "carol", Password: "x"})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = s.do(t, "carol", "GET", "/api/v1/whoami", nil)
	assert.Equal(t, http.StatusOK, code)

	code, body = s.do(t, "admin", "PUT", fmt.Sprintf("/api/v1/users/%d", carol.ID),
		store.UserRequest{Name: "carol", FullName: "Carol C"})
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "Carol C")
	code, _ = s.do(t, "carol", "GET", "/api/v1/whoami", nil)
	assert.Equal(t, http.StatusOK, code, "empty password keeps the old one")

	code, body = s.do(t, "carol", "POST", "/api/v1/projects", testXML)
	require.Equal(t, http.StatusCreated, code)
	var created APIProjectResponse
	require.NoError(t, json.Unmarshal(body, &created))

	code, _ = s.do(t, "admin", "DELETE", fmt.Sprintf("/api/v1/users/%d", s.users["admin"].ID), nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(t, "admin", "DELETE", "/api/v1/users/abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = s.do(t, "admin", "DELETE", fmt.Sprintf("/api/v1/users/%d", carol.ID), nil)
	require.Equal(t, http.StatusOK, code)
	var del APIDelUserResponse
	require.NoError(t, json.Unmarshal(body, &del))
	assert.Equal(t, []string{created.BuildDir}, del.Orphaned)
	_, held := s.reg.OpenedBy(created.BuildDir)
	assert.False(t, held, "deleted user's project released")

	code, _ = s.do(t, "admin", "GET", fmt.Sprintf("/api/v1/users/%d", carol.ID), nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(t, "carol", "GET", "/api/v1/whoami", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	// orphaned project is admin-only
	code, _ = s.do(t, "alice", "POST", "/api/v1/projects/open", APIProjectRequest{BuildDir: created.BuildDir})
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = s.do(t, "admin", "POST", "/api/v1/projects/open", APIProjectRequest{BuildDir: created.BuildDir})
	assert.Equal(t, http.StatusOK, code)
}

func TestServer_RateLimit(t *testing.T) {
	s := newTestServer(t, 1)
	var limited bool
	for range 5 {
		code, _ := s.do(t, "alice", "GET", "/api/v1/whoami", nil)
		if code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited)
}

func TestErrStatus(t *testing.T) {
	tbl := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", session.ErrPermissionDenied), http.StatusForbidden},
		{fmt.Errorf("x: %w", store.ErrNotFound), http.StatusNotFound},
		{&session.AlreadyOpenError{BuildDir: "/a", Holder: "alice", HolderID: 1}, http.StatusConflict},
		{store.ErrAlreadyExists, http.StatusConflict},
		{&store.InvalidStateError{BuildDir: "/a", Status: "busy", Op: "build"}, http.StatusConflict},
		{fmt.Errorf("x: %w", store.ErrValidation), http.StatusBadRequest},
		{session.ErrNoOpenProject, http.StatusPreconditionFailed},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tbl {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, errStatus(tt.err))
		})
	}
}
