package vcs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGitLabFetchIssue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Project path arrives URL-encoded.
		if r.URL.EscapedPath() != "/projects/group%2Fproj/issues/9" {
			t.Errorf("path = %q", r.URL.EscapedPath())
		}
		if got := r.Header.Get("PRIVATE-TOKEN"); got != "tok" {
			t.Errorf("PRIVATE-TOKEN = %q", got)
		}
		w.Write([]byte(`{"iid":9,"title":"Broken","description":"details","state":"opened","web_url":"https://gitlab.com/group/proj/-/issues/9","author":{"username":"carol"}}`))
	}))
	defer server.Close()

	c := NewGitLabClientWithBaseURL("tok", server.URL)
	issue, err := c.FetchIssue(context.Background(), IssueRef{Repo: "group/proj", Number: 9})
	if err != nil {
		t.Fatalf("FetchIssue failed: %v", err)
	}
	if issue.Number != 9 || issue.Title != "Broken" || issue.Body != "details" || issue.Author != "carol" {
		t.Errorf("issue = %+v", issue)
	}
}

func TestGitLabPostComment(t *testing.T) {
	var posted map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.EscapedPath() != "/projects/group%2Fproj/issues/9/notes" {
			t.Errorf("%s %s", r.Method, r.URL.EscapedPath())
		}
		json.NewDecoder(r.Body).Decode(&posted)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	c := NewGitLabClientWithBaseURL("tok", server.URL)
	if err := c.PostComment(context.Background(), IssueRef{Repo: "group/proj", Number: 9}, "note text"); err != nil {
		t.Fatalf("PostComment failed: %v", err)
	}
	if posted["body"] != "note text" {
		t.Errorf("posted body = %q", posted["body"])
	}
}

func TestGitLabWebhookLifecycle(t *testing.T) {
	var created map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.EscapedPath() == "/projects/group%2Fproj/hooks":
			w.Write([]byte(`[{"id":7,"url":"https://x.devtunnels.ms/gl-webhook","issues_events":true,"note_events":true}]`))
		case r.Method == http.MethodPost && r.URL.EscapedPath() == "/projects/group%2Fproj/hooks":
			json.NewDecoder(r.Body).Decode(&created)
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":8}`))
		case r.Method == http.MethodDelete && r.URL.EscapedPath() == "/projects/group%2Fproj/hooks/7":
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.EscapedPath())
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := NewGitLabClientWithBaseURL("tok", server.URL)
	ctx := context.Background()

	hooks, err := c.ListWebhooks(ctx, "group/proj")
	if err != nil {
		t.Fatalf("ListWebhooks failed: %v", err)
	}
	if len(hooks) != 1 || hooks[0].ID != 7 || len(hooks[0].Events) != 2 {
		t.Errorf("hooks = %+v", hooks)
	}

	id, err := c.CreateWebhook(ctx, "group/proj", "https://y.devtunnels.ms/gl-webhook", nil)
	if err != nil {
		t.Fatalf("CreateWebhook failed: %v", err)
	}
	if id != 8 {
		t.Errorf("created id = %d", id)
	}
	if created["issues_events"] != true || created["note_events"] != true {
		t.Errorf("payload = %v, want both event flags set", created)
	}

	if err := c.DeleteWebhook(ctx, "group/proj", 7); err != nil {
		t.Fatalf("DeleteWebhook failed: %v", err)
	}
}
