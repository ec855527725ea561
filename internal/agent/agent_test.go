package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darasa-app/darasa/internal/agent/config"
)

// fakeTransport serves scripted responses by URL path and can simulate
// a dead network.
type fakeTransport struct {
	mu      sync.Mutex
	bodies  map[string]string
	offline bool
	calls   int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{bodies: map[string]string{}}
}

func (f *fakeTransport) set(path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[path] = body
}

func (f *fakeTransport) setOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = offline
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if f.offline {
		return nil, fmt.Errorf("dial tcp: network is unreachable")
	}

	body, ok := f.bodies[req.URL.Path]
	status := http.StatusOK
	if !ok {
		status = http.StatusNotFound
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}, nil
}

func setupAgent(t *testing.T, tr *fakeTransport) (*Agent, *httptest.Server) {
	t.Helper()

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.DataDir = t.TempDir()

	a, err := New(Options{Config: cfg, Transport: tr})
	require.NoError(t, err)
	require.NoError(t, a.init(context.Background()))
	t.Cleanup(a.Close)

	srv := httptest.NewServer(a.handler())
	t.Cleanup(srv.Close)
	return a, srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	return m
}

const examPayload = `{"success":true,"data":{
	"_id":"exam1","name":"Algebra Basics","passingMarks":"60",
	"questions":[
		{"_id":"q1","name":"2+2?","type":"mcq","options":{"a":"3","b":"4"},"correctOption":"b"},
		{"_id":"q2","name":"Capital of Kenya?","type":"fill","correctAnswer":"Nairobi"}
	]}}`

func TestInitOpensDurableStores(t *testing.T) {
	a, _ := setupAgent(t, newFakeTransport())

	assert.False(t, a.authConn.Degraded())
	assert.False(t, a.assessConn.Degraded())
	assert.False(t, a.mediaConn.Degraded())

	files, err := filepath.Glob(filepath.Join(a.cfg.DataDir, "*.db"))
	require.NoError(t, err)
	assert.Len(t, files, 3)
}

func TestGatewayServesCachedAssetWhenOffline(t *testing.T) {
	tr := newFakeTransport()
	tr.set("/uploads/logo.png", "png-bytes")
	_, srv := setupAgent(t, tr)

	resp, err := http.Get(srv.URL + "/uploads/logo.png")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "png-bytes", string(body))

	tr.setOffline(true)

	resp, err = http.Get(srv.URL + "/uploads/logo.png")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "png-bytes", string(body))
	assert.Equal(t, "hit", resp.Header.Get("X-Darasa-Cache"))
}

func TestGatewayOfflineWithNoCacheReturnsStructuredError(t *testing.T) {
	tr := newFakeTransport()
	tr.setOffline(true)
	_, srv := setupAgent(t, tr)

	resp, err := http.Get(srv.URL + "/api/reports/list")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	m := decodeBody(t, resp)
	assert.Equal(t, false, m["success"])
	assert.Equal(t, true, m["offline"])
}

func TestCacheQuizThenGradeOffline(t *testing.T) {
	tr := newFakeTransport()
	tr.set("/api/exams/get-exam-by-id/exam1", examPayload)
	_, srv := setupAgent(t, tr)

	resp := postJSON(t, srv.URL+"/-/control", map[string]string{
		"type": MsgCacheQuiz,
		"url":  "http://127.0.0.1:5000/api/exams/get-exam-by-id/exam1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	m := decodeBody(t, resp)
	assert.Equal(t, "exam1", m["quizId"])
	assert.Equal(t, float64(2), m["questions"])

	tr.setOffline(true)

	resp = postJSON(t, srv.URL+"/-/grade", map[string]any{
		"quizId": "exam1",
		"userId": "user1",
		"answers": map[string]string{
			"q1": "b",
			"q2": "nairobi",
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	m = decodeBody(t, resp)
	data := m["data"].(map[string]any)
	assert.Equal(t, float64(100), data["percentage"])
	assert.Equal(t, "Pass", data["verdict"])
	assert.Equal(t, false, data["synced"])

	status, err := http.Get(srv.URL + "/-/status")
	require.NoError(t, err)
	defer status.Body.Close()
	st := decodeBody(t, status)
	assert.Equal(t, float64(1), st["queuedResults"])
}

func TestGradeUnknownQuiz(t *testing.T) {
	_, srv := setupAgent(t, newFakeTransport())

	resp := postJSON(t, srv.URL+"/-/grade", map[string]any{
		"quizId": "missing", "userId": "user1",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPrepareUpdateAndSkipWaiting(t *testing.T) {
	a, srv := setupAgent(t, newFakeTransport())

	resp := postJSON(t, srv.URL+"/-/control", map[string]string{
		"type": MsgPrepareUpdate, "version": "v2.0.0",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "v1.0.0", a.live.Load().Version())
	require.NotNil(t, a.pending.Load())

	resp = postJSON(t, srv.URL+"/-/control", map[string]string{"type": MsgSkipWaiting})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "v2.0.0", a.live.Load().Version())
	assert.Nil(t, a.pending.Load())

	// a second activation has nothing to apply
	resp = postJSON(t, srv.URL+"/-/control", map[string]string{"type": MsgSkipWaiting})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPrepareUpdateRejectsActiveVersion(t *testing.T) {
	_, srv := setupAgent(t, newFakeTransport())

	resp := postJSON(t, srv.URL+"/-/control", map[string]string{
		"type": MsgPrepareUpdate, "version": "v1.0.0",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestUnknownControlMessage(t *testing.T) {
	_, srv := setupAgent(t, newFakeTransport())

	resp := postJSON(t, srv.URL+"/-/control", map[string]string{"type": "REBOOT"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCacheVideoBroadcastsAndLists(t *testing.T) {
	tr := newFakeTransport()
	tr.set("/videos/lesson1.mp4", "mp4-bytes")
	a, srv := setupAgent(t, tr)

	events, cancel := a.hub.Subscribe()
	defer cancel()

	resp := postJSON(t, srv.URL+"/-/control", map[string]string{
		"type":  MsgCacheVideo,
		"url":   "http://127.0.0.1:5000/videos/lesson1.mp4",
		"title": "Lesson 1",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	deadline := time.After(5 * time.Second)
	cached := false
	for !cached {
		select {
		case ev := <-events:
			if ev.Type == EventVideoCached {
				cached = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for VIDEO_CACHED")
		}
	}

	list, err := http.Get(srv.URL + "/-/videos")
	require.NoError(t, err)
	defer list.Body.Close()
	m := decodeBody(t, list)
	videos := m["videos"].([]any)
	require.Len(t, videos, 1)
	assert.Equal(t, "Lesson 1", videos[0].(map[string]any)["title"])

	blob, err := http.Get(srv.URL + "/-/videos?url=" + "http://127.0.0.1:5000/videos/lesson1.mp4")
	require.NoError(t, err)
	body, _ := io.ReadAll(blob.Body)
	blob.Body.Close()
	require.Equal(t, http.StatusOK, blob.StatusCode)
	assert.Equal(t, "mp4-bytes", string(body))
}

func TestStatusReportsVersionsAndVault(t *testing.T) {
	a, srv := setupAgent(t, newFakeTransport())

	resp, err := http.Get(srv.URL + "/-/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	m := decodeBody(t, resp)
	assert.Equal(t, "v1.0.0", m["version"])
	assert.Equal(t, false, m["hasCredentials"])
	assert.Equal(t, false, m["degraded"])

	require.NoError(t, a.vault.Save("student@school.test", "pass"))

	resp, err = http.Get(srv.URL + "/-/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	m = decodeBody(t, resp)
	assert.Equal(t, true, m["hasCredentials"])
}
