package tunnel

import (
	"context"
	"errors"
	"testing"
)

// fakeProvider counts lifecycle calls.
type fakeProvider struct {
	installed     bool
	authenticated bool
	ensureCalls   int
	urlCalls      int
	deleteCalls   int
	ensureErr     error
}

func (f *fakeProvider) Name() string     { return "fake" }
func (f *fakeProvider) TunnelID() string { return "fake-tunnel" }
func (f *fakeProvider) IsInstalled() bool {
	return f.installed
}
func (f *fakeProvider) IsAuthenticated(ctx context.Context) bool {
	return f.authenticated
}
func (f *fakeProvider) Ensure(ctx context.Context) error {
	f.ensureCalls++
	return f.ensureErr
}
func (f *fakeProvider) URL(ctx context.Context) (string, error) {
	f.urlCalls++
	return "https://fake-tunnel-8001.euw.devtunnels.ms", nil
}
func (f *fakeProvider) Host(ctx context.Context, ready chan<- struct{}) error {
	if ready != nil {
		close(ready)
	}
	<-ctx.Done()
	return nil
}
func (f *fakeProvider) Stop() error { return nil }
func (f *fakeProvider) Delete(ctx context.Context) error {
	f.deleteCalls++
	return nil
}

func TestEnsureTunnelIsIdempotent(t *testing.T) {
	provider := &fakeProvider{installed: true, authenticated: true}
	m := NewManager(provider, nil)

	url1, err := m.EnsureTunnel(context.Background())
	if err != nil {
		t.Fatalf("first EnsureTunnel failed: %v", err)
	}
	url2, err := m.EnsureTunnel(context.Background())
	if err != nil {
		t.Fatalf("second EnsureTunnel failed: %v", err)
	}

	if url1 != url2 {
		t.Errorf("URLs differ: %q vs %q", url1, url2)
	}
	if provider.ensureCalls != 1 {
		t.Errorf("provider.Ensure called %d times, want 1", provider.ensureCalls)
	}
	if m.URL() != url1 {
		t.Errorf("URL() = %q, want %q", m.URL(), url1)
	}
}

func TestEnsureTunnelFailureIsRetryable(t *testing.T) {
	provider := &fakeProvider{installed: true, authenticated: true, ensureErr: errors.New("boom")}
	m := NewManager(provider, nil)

	if _, err := m.EnsureTunnel(context.Background()); err == nil {
		t.Fatal("expected failure")
	}

	// A later attempt after the fault clears must succeed.
	provider.ensureErr = nil
	if _, err := m.EnsureTunnel(context.Background()); err != nil {
		t.Fatalf("EnsureTunnel after fault cleared failed: %v", err)
	}
}

func TestPreflight(t *testing.T) {
	tests := []struct {
		name          string
		installed     bool
		authenticated bool
		wantErr       error
	}{
		{"ready", true, true, nil},
		{"missing CLI", false, false, ErrNotInstalled},
		{"not logged in", true, false, ErrNotAuthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(&fakeProvider{installed: tt.installed, authenticated: tt.authenticated}, nil)
			err := m.Preflight(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Preflight error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTeardownResetsState(t *testing.T) {
	provider := &fakeProvider{installed: true, authenticated: true}
	m := NewManager(provider, nil)

	if _, err := m.EnsureTunnel(context.Background()); err != nil {
		t.Fatalf("EnsureTunnel failed: %v", err)
	}
	if err := m.Teardown(context.Background()); err != nil {
		t.Fatalf("Teardown failed: %v", err)
	}

	if provider.deleteCalls != 1 {
		t.Errorf("Delete called %d times, want 1", provider.deleteCalls)
	}
	if m.URL() != "" {
		t.Errorf("URL after teardown = %q, want empty", m.URL())
	}

	// Ensure after teardown provisions again.
	if _, err := m.EnsureTunnel(context.Background()); err != nil {
		t.Fatalf("EnsureTunnel after Teardown failed: %v", err)
	}
	if provider.ensureCalls != 2 {
		t.Errorf("Ensure called %d times, want 2", provider.ensureCalls)
	}
}

func TestResolveID(t *testing.T) {
	ctx := context.Background()

	if got := ResolveID(ctx, "explicit", nil); got != "explicit" {
		t.Errorf("explicit override: got %q", got)
	}
	if got := ResolveID(ctx, "", staticRepo("myrepo")); got != "myrepo-tunnel" {
		t.Errorf("repo derivation: got %q", got)
	}
	if got := ResolveID(ctx, "", staticRepo("")); got != DefaultTunnelID {
		t.Errorf("fallback: got %q", got)
	}
	if got := ResolveID(ctx, "", nil); got != DefaultTunnelID {
		t.Errorf("nil repo: got %q", got)
	}
}

type staticRepo string

func (s staticRepo) RepoName(ctx context.Context) (string, error) {
	if s == "" {
		return "", errors.New("no remote")
	}
	return string(s), nil
}
