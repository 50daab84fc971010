package server_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/hlink/internal/config"
	"github.com/bamsammich/hlink/internal/record"
	"github.com/bamsammich/hlink/internal/server"
	"github.com/bamsammich/hlink/internal/task"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fixture struct {
	srv  *httptest.Server
	task config.Task
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	writeFile(t, filepath.Join(src, "movies", "A", "a.mkv"), "a")
	writeFile(t, filepath.Join(src, "movies", "B", "b.mkv"), "b")
	writeFile(t, filepath.Join(src, "top.mkv"), "top")

	movies := config.Task{
		Name:         "movies",
		Source:       src,
		Dest:         filepath.Join(dir, "out"),
		MaxFindLevel: 4,
		OpenCache:    true,
		Schedule:     "@daily",
	}
	broken := config.Task{Name: "broken", Source: src, Dest: filepath.Join(dir, "out2"), MaxFindLevel: 9}

	store, err := record.Open(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	holder := config.NewHolder("", config.Config{Tasks: []config.Task{movies, broken}})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt := task.New(task.Options{Store: store, Lookup: holder.Lookup, Logger: logger, Throttle: -1})

	s := server.New(server.Options{Runtime: rt, Catalog: holder, Logger: logger})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &fixture{srv: ts, task: movies}
}

func (f *fixture) do(t *testing.T, method, path string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestPing(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodGet, "/ping")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", string(body))
}

func TestList(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodGet, "/task/list")
	require.Equal(t, http.StatusOK, code)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got, 2)
	assert.Equal(t, "movies", got[0]["name"])
	assert.Equal(t, "@daily", got[0]["schedule"])
	assert.Equal(t, false, got[0]["running"])
}

func TestGetAndCheckConfig(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/task?name=movies")
	require.Equal(t, http.StatusOK, code)
	var got config.Task
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, f.task.Source, got.Source)

	code, _ = f.do(t, http.MethodGet, "/task/check_config?name=movies")
	assert.Equal(t, http.StatusOK, code)

	code, body = f.do(t, http.MethodGet, "/task/check_config?name=broken")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, string(body), "max_find_level")
}

func TestErrorStatuses(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{name: "missing name", method: http.MethodGet, path: "/task/run?alive=0", want: http.StatusBadRequest},
		{name: "unknown task", method: http.MethodGet, path: "/task/run?name=nope&alive=0", want: http.StatusNotFound},
		{name: "invalid task", method: http.MethodGet, path: "/task/run?name=broken&alive=0", want: http.StatusBadRequest},
		{name: "cancel idle", method: http.MethodGet, path: "/task/cancel?name=movies", want: http.StatusConflict},
		{name: "files unknown", method: http.MethodGet, path: "/task/files?name=nope", want: http.StatusNotFound},
		{name: "stream without upgrade", method: http.MethodGet, path: "/task/run?name=movies", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := f.do(t, tt.method, tt.path)
			assert.Equal(t, tt.want, code, string(body))
			assert.Contains(t, string(body), "error")
		})
	}
}

func TestRunSynchronous(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodGet, "/task/run?name=movies&alive=0")
	require.Equal(t, http.StatusOK, code, string(body))

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.InDelta(t, 3, got["linked"], 0)
	assert.InDelta(t, 3, got["total"], 0)
	assert.FileExists(t, filepath.Join(f.task.Dest, "movies", "A", "a.mkv"))

	code, body = f.do(t, http.MethodGet, "/task/run?name=movies&alive=0")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.InDelta(t, 0, got["linked"], 0)
	assert.InDelta(t, 3, got["skipped"], 0)
}

func TestRunStream(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/task/run?name=movies"

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	var msgs []server.Message
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
		var m server.Message
		if err := conn.ReadJSON(&m); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected read error: %v", err)
			break
		}
		msgs = append(msgs, m)
	}

	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	assert.Equal(t, "Completed", last.Type)
	require.NotNil(t, last.Summary)
	assert.Equal(t, int64(3), last.Summary.Linked)

	var linked int
	for _, m := range msgs {
		if m.Type == "FileLinked" {
			linked++
		}
	}
	assert.Equal(t, 3, linked)
}

func TestPendingFiles(t *testing.T) {
	f := newFixture(t)
	code, _ := f.do(t, http.MethodGet, "/task/run?name=movies&alive=0")
	require.Equal(t, http.StatusOK, code)

	require.NoError(t, os.Remove(filepath.Join(f.task.Source, "movies", "B", "b.mkv")))
	code, _ = f.do(t, http.MethodGet, "/task/run?name=movies&alive=0")
	require.Equal(t, http.StatusOK, code)

	code, body := f.do(t, http.MethodGet, "/task/files?name=movies")
	require.Equal(t, http.StatusOK, code)
	var pending []string
	require.NoError(t, json.Unmarshal(body, &pending))
	stale := filepath.Join(f.task.Dest, "movies", "B", "b.mkv")
	assert.Equal(t, []string{stale}, pending)

	code, _ = f.do(t, http.MethodDelete, "/task/files?name=movies")
	require.Equal(t, http.StatusOK, code)
	assert.NoFileExists(t, stale)
	assert.NoDirExists(t, filepath.Dir(stale))

	code, body = f.do(t, http.MethodGet, "/task/files?name=movies")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, "[]", string(body))
}

func TestDiscardPendingFiles(t *testing.T) {
	f := newFixture(t)
	code, _ := f.do(t, http.MethodGet, "/task/run?name=movies&alive=0")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, os.Remove(filepath.Join(f.task.Source, "top.mkv")))
	code, _ = f.do(t, http.MethodGet, "/task/run?name=movies&alive=0")
	require.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, http.MethodDelete, "/task/files?name=movies&cancel=1")
	require.Equal(t, http.StatusOK, code)
	assert.FileExists(t, filepath.Join(f.task.Dest, "top.mkv"))

	_, body := f.do(t, http.MethodGet, "/task/files?name=movies")
	assert.JSONEq(t, "[]", string(body))
}

func TestSessionsEmpty(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodGet, "/task/sessions")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, "[]", string(body))
}

func TestServeShutsDownOnCancel(t *testing.T) {
	store, err := record.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer store.Close()
	holder := config.NewHolder("", config.Config{})
	s := server.New(server.Options{
		Runtime: task.New(task.Options{Store: store, Lookup: holder.Lookup}),
		Catalog: holder,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/ping")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not shut down")
	}
}
