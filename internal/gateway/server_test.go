package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// dispatchRecorder captures dispatched events.
type dispatchRecorder struct {
	mu     sync.Mutex
	events []*Event
}

func (d *dispatchRecorder) dispatch(ctx context.Context, event *Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
}

func (d *dispatchRecorder) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

func (d *dispatchRecorder) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if d.count() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("dispatched %d events, want %d", d.count(), n)
}

func newTestServer(recorder *dispatchRecorder) *Server {
	s := NewServer("127.0.0.1", 0, recorder.dispatch, func(ctx context.Context) any {
		return map[string]bool{"healthy": true}
	})
	s.baseCtx = context.Background()
	return s
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return body
}

func TestHandleGitHubValidDelivery(t *testing.T) {
	recorder := &dispatchRecorder{}
	s := newTestServer(recorder)

	payload := `{"action":"created","issue":{"number":4,"body":"b"},"comment":{"body":"sdlc /bug"},"repository":{"full_name":"owner/repo"}}`
	req := httptest.NewRequest(http.MethodPost, "/gh-webhook", strings.NewReader(payload))
	req.Header.Set("X-GitHub-Event", "issue_comment")
	w := httptest.NewRecorder()

	s.handleGitHub(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body := decodeBody(t, w); body["status"] != "accepted" {
		t.Errorf("status field = %q, want accepted", body["status"])
	}

	recorder.waitFor(t, 1)
}

func TestHandleGitHubPing(t *testing.T) {
	recorder := &dispatchRecorder{}
	s := newTestServer(recorder)

	req := httptest.NewRequest(http.MethodPost, "/gh-webhook", strings.NewReader(`{"zen":"Design for failure."}`))
	req.Header.Set("X-GitHub-Event", "ping")
	w := httptest.NewRecorder()

	s.handleGitHub(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body := decodeBody(t, w); body["detail"] != "pong" {
		t.Errorf("detail = %q, want pong", body["detail"])
	}
	if recorder.count() != 0 {
		t.Error("ping must not dispatch")
	}
}

func TestHandleGitHubMalformedPayload(t *testing.T) {
	recorder := &dispatchRecorder{}
	s := newTestServer(recorder)

	req := httptest.NewRequest(http.MethodPost, "/gh-webhook", strings.NewReader(`{"action":`))
	req.Header.Set("X-GitHub-Event", "issues")
	w := httptest.NewRecorder()

	s.handleGitHub(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if body := decodeBody(t, w); !strings.Contains(body["error"], "invalid payload") {
		t.Errorf("error = %q, want invalid payload detail", body["error"])
	}
	if recorder.count() != 0 {
		t.Error("malformed delivery must not dispatch")
	}
}

func TestHandleGitHubIrrelevantAction(t *testing.T) {
	recorder := &dispatchRecorder{}
	s := newTestServer(recorder)

	payload := `{"action":"labeled","issue":{"number":4},"repository":{"full_name":"owner/repo"}}`
	req := httptest.NewRequest(http.MethodPost, "/gh-webhook", strings.NewReader(payload))
	req.Header.Set("X-GitHub-Event", "issues")
	w := httptest.NewRecorder()

	s.handleGitHub(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body := decodeBody(t, w); body["status"] != "ignored" {
		t.Errorf("status field = %q, want ignored", body["status"])
	}
	if recorder.count() != 0 {
		t.Error("irrelevant delivery must not dispatch")
	}
}

func TestHandleGitLabTestPush(t *testing.T) {
	recorder := &dispatchRecorder{}
	s := newTestServer(recorder)

	req := httptest.NewRequest(http.MethodPost, "/gl-webhook", strings.NewReader(`{"object_kind":"push","commits":[]}`))
	req.Header.Set("X-Gitlab-Event", "Push Hook")
	w := httptest.NewRecorder()

	s.handleGitLab(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body := decodeBody(t, w); body["status"] != "ignored" {
		t.Errorf("status field = %q, want ignored", body["status"])
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(&dispatchRecorder{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	s.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]bool
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !body["healthy"] {
		t.Error("expected healthy report")
	}
}
