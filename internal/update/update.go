// internal/update/update.go
// Release checking against GitHub so the CLI can tell users when a
// newer agent is available. Checking only; installation stays manual
// (the agent is typically installed through a package manager).
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-version"
)

const githubRepo = "replyforge-ai/replyforge-cli"

// Release is the subset of a GitHub release the checker needs.
type Release struct {
	TagName    string `json:"tag_name"`
	Name       string `json:"name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
	HTMLURL    string `json:"html_url"`
}

// Checker compares the running version against the latest published release.
type Checker struct {
	CurrentVersion string
	BaseURL        string // overridable for tests
	httpClient     *http.Client
}

func NewChecker(currentVersion string) *Checker {
	return &Checker{
		CurrentVersion: currentVersion,
		BaseURL:        "https://api.github.com",
		httpClient:     &http.Client{Timeout: 15 * time.Second},
	}
}

// Check returns the latest stable release if it is newer than the
// running version, or nil when already up to date.
func (c *Checker) Check(ctx context.Context) (*Release, error) {
	release, err := c.latestRelease(ctx)
	if err != nil {
		return nil, err
	}
	newer, err := c.isNewer(release.TagName)
	if err != nil {
		return nil, err
	}
	if !newer {
		return nil, nil
	}
	return release, nil
}

func (c *Checker) latestRelease(ctx context.Context) (*Release, error) {
	url := fmt.Sprintf("%s/repos/%s/releases/latest", c.BaseURL, githubRepo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach release API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("release API returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read release response: %w", err)
	}
	var release Release
	if err := json.Unmarshal(body, &release); err != nil {
		return nil, fmt.Errorf("failed to parse release response: %w", err)
	}
	if release.Draft || release.Prerelease {
		return nil, fmt.Errorf("latest release %s is not a stable release", release.TagName)
	}
	return &release, nil
}

func (c *Checker) isNewer(tag string) (bool, error) {
	// Dev builds have no comparable version; always offer the release.
	if c.CurrentVersion == "" || c.CurrentVersion == "dev" {
		return true, nil
	}
	current, err := version.NewVersion(strings.TrimPrefix(c.CurrentVersion, "v"))
	if err != nil {
		return false, fmt.Errorf("invalid current version %q: %w", c.CurrentVersion, err)
	}
	latest, err := version.NewVersion(strings.TrimPrefix(tag, "v"))
	if err != nil {
		return false, fmt.Errorf("invalid release tag %q: %w", tag, err)
	}
	return latest.GreaterThan(current), nil
}
