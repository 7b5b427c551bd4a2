package update

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func releaseServer(t *testing.T, release Release) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/replyforge-ai/replyforge-cli/releases/latest" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(release)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckNewerVersionAvailable(t *testing.T) {
	srv := releaseServer(t, Release{TagName: "v1.2.0", HTMLURL: "https://example.com/v1.2.0"})

	c := NewChecker("v1.1.0")
	c.BaseURL = srv.URL

	got, err := c.Check(context.Background())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if got == nil || got.TagName != "v1.2.0" {
		t.Fatalf("Check() = %+v, want v1.2.0", got)
	}
}

func TestCheckAlreadyLatest(t *testing.T) {
	srv := releaseServer(t, Release{TagName: "v1.2.0"})

	c := NewChecker("1.2.0")
	c.BaseURL = srv.URL

	got, err := c.Check(context.Background())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if got != nil {
		t.Fatalf("Check() = %+v, want nil (up to date)", got)
	}
}

func TestCheckDevBuildAlwaysOffered(t *testing.T) {
	srv := releaseServer(t, Release{TagName: "v0.1.0"})

	c := NewChecker("dev")
	c.BaseURL = srv.URL

	got, err := c.Check(context.Background())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if got == nil {
		t.Fatal("Check() = nil, want release for dev build")
	}
}

func TestCheckRejectsPrerelease(t *testing.T) {
	srv := releaseServer(t, Release{TagName: "v2.0.0-rc1", Prerelease: true})

	c := NewChecker("v1.0.0")
	c.BaseURL = srv.URL

	if _, err := c.Check(context.Background()); err == nil {
		t.Fatal("Check() error = nil, want error for prerelease")
	}
}

func TestCheckServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewChecker("v1.0.0")
	c.BaseURL = srv.URL

	if _, err := c.Check(context.Background()); err == nil {
		t.Fatal("Check() error = nil, want error on 500")
	}
}
