package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/danielscholl/claude-sdlc/internal/vcs"
)

// EventKind is the normalized notification kind the watcher reacts to.
type EventKind string

const (
	EventIssueOpened    EventKind = "issue_opened"
	EventCommentCreated EventKind = "comment_created"
)

// Event is the platform-agnostic representation of one inbound webhook
// delivery. It is created per HTTP request and discarded after routing.
type Event struct {
	Platform   vcs.Platform
	Kind       EventKind
	Issue      vcs.IssueRef
	Author     string
	Text       string // issue body or comment body
	ReceivedAt time.Time
}

// errInvalidPayload marks structurally unroutable payloads; the gateway
// answers these with 400.
type errInvalidPayload struct {
	reason string
}

func (e *errInvalidPayload) Error() string {
	return "invalid payload: " + e.reason
}

// IsInvalidPayload reports whether err marks a malformed delivery.
func IsInvalidPayload(err error) bool {
	_, ok := err.(*errInvalidPayload)
	return ok
}

// errUnsupportedEvent marks deliveries that are valid but irrelevant; the
// gateway acknowledges and ignores these.
type errUnsupportedEvent struct {
	reason string
}

func (e *errUnsupportedEvent) Error() string {
	return "unsupported event: " + e.reason
}

// IsUnsupportedEvent reports whether err marks an irrelevant delivery.
func IsUnsupportedEvent(err error) bool {
	_, ok := err.(*errUnsupportedEvent)
	return ok
}

type githubPayload struct {
	Action string `json:"action"`
	Issue  *struct {
		Number int    `json:"number"`
		Body   string `json:"body"`
	} `json:"issue"`
	Comment *struct {
		Body string `json:"body"`
		User *struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"comment"`
	Repository *struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Sender *struct {
		Login string `json:"login"`
	} `json:"sender"`
}

// normalizeGitHub turns a GitHub delivery into an Event. eventType is the
// X-GitHub-Event header value.
func normalizeGitHub(eventType string, body []byte, receivedAt time.Time) (*Event, error) {
	var payload githubPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &errInvalidPayload{reason: "malformed JSON"}
	}

	var kind EventKind
	switch eventType {
	case "issues":
		if payload.Action != "opened" {
			return nil, &errUnsupportedEvent{reason: "issues action " + payload.Action}
		}
		kind = EventIssueOpened
	case "issue_comment":
		if payload.Action != "created" {
			return nil, &errUnsupportedEvent{reason: "issue_comment action " + payload.Action}
		}
		kind = EventCommentCreated
	default:
		return nil, &errUnsupportedEvent{reason: "event type " + eventType}
	}

	if payload.Issue == nil || payload.Issue.Number == 0 {
		return nil, &errInvalidPayload{reason: "missing issue number"}
	}
	if payload.Repository == nil || payload.Repository.FullName == "" {
		return nil, &errInvalidPayload{reason: "missing repository"}
	}

	event := &Event{
		Platform: vcs.PlatformGitHub,
		Kind:     kind,
		Issue: vcs.IssueRef{
			Repo:   payload.Repository.FullName,
			Number: payload.Issue.Number,
		},
		Text:       payload.Issue.Body,
		ReceivedAt: receivedAt,
	}
	if payload.Sender != nil {
		event.Author = payload.Sender.Login
	}
	if kind == EventCommentCreated {
		if payload.Comment == nil {
			return nil, &errInvalidPayload{reason: "missing comment"}
		}
		event.Text = payload.Comment.Body
		if payload.Comment.User != nil {
			event.Author = payload.Comment.User.Login
		}
	}

	return event, nil
}

type gitlabPayload struct {
	ObjectKind       string `json:"object_kind"`
	ObjectAttributes *struct {
		Action       string `json:"action"`
		IID          int    `json:"iid"`
		Description  string `json:"description"`
		Note         string `json:"note"`
		NoteableType string `json:"noteable_type"`
	} `json:"object_attributes"`
	Issue *struct {
		IID int `json:"iid"`
	} `json:"issue"`
	Project *struct {
		PathWithNamespace string `json:"path_with_namespace"`
	} `json:"project"`
	User *struct {
		Username string `json:"username"`
	} `json:"user"`
	Commits []json.RawMessage `json:"commits"`
}

// normalizeGitLab turns a GitLab delivery into an Event. eventType is the
// X-Gitlab-Event header value.
func normalizeGitLab(eventType string, body []byte, receivedAt time.Time) (*Event, error) {
	var payload gitlabPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &errInvalidPayload{reason: "malformed JSON"}
	}

	// GitLab exercises webhooks with an empty Push Hook.
	if eventType == "Push Hook" && len(payload.Commits) == 0 {
		return nil, &errUnsupportedEvent{reason: "webhook test push"}
	}

	if payload.Project == nil || payload.Project.PathWithNamespace == "" {
		return nil, &errInvalidPayload{reason: "missing project"}
	}
	attrs := payload.ObjectAttributes
	if attrs == nil {
		return nil, &errInvalidPayload{reason: "missing object attributes"}
	}

	event := &Event{
		Platform:   vcs.PlatformGitLab,
		ReceivedAt: receivedAt,
	}
	if payload.User != nil {
		event.Author = payload.User.Username
	}

	switch {
	case eventType == "Issue Hook" || payload.ObjectKind == "issue":
		if attrs.Action != "open" {
			return nil, &errUnsupportedEvent{reason: "issue action " + attrs.Action}
		}
		if attrs.IID == 0 {
			return nil, &errInvalidPayload{reason: "missing issue iid"}
		}
		event.Kind = EventIssueOpened
		event.Issue = vcs.IssueRef{Repo: payload.Project.PathWithNamespace, Number: attrs.IID}
		event.Text = attrs.Description

	case eventType == "Note Hook" || payload.ObjectKind == "note":
		if attrs.NoteableType != "Issue" {
			return nil, &errUnsupportedEvent{reason: "note on " + attrs.NoteableType}
		}
		if payload.Issue == nil || payload.Issue.IID == 0 {
			return nil, &errInvalidPayload{reason: "missing issue iid"}
		}
		event.Kind = EventCommentCreated
		event.Issue = vcs.IssueRef{Repo: payload.Project.PathWithNamespace, Number: payload.Issue.IID}
		event.Text = attrs.Note

	default:
		return nil, &errUnsupportedEvent{reason: fmt.Sprintf("event type %q", eventType)}
	}

	return event, nil
}
