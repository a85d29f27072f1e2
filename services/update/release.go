package update

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"updater-controlplane/pkg/config"
	"updater-controlplane/pkg/version"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const userAgent = "updater-controlplane"

type Release struct {
	Version         string    `json:"version"`
	ReleaseNotes    string    `json:"releaseNotes"`
	PublishedAt     time.Time `json:"publishedAt"`
	DownloadURL     string    `json:"downloadUrl"`
	Checksum        string    `json:"checksum,omitempty"`
	Breaking        bool      `json:"breaking"`
	RequiresRestart bool      `json:"requiresRestart"`
}

// Registry returns the newest published installable release, or nil when
// there is none yet.
type Registry interface {
	LatestRelease(ctx context.Context) (*Release, error)
}

type GitHubRegistry struct {
	apiURL string
	repo   string
	token  string
	client *http.Client
}

func NewGitHubRegistry(cfg *config.Config) *GitHubRegistry {
	timeout := cfg.Release.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &GitHubRegistry{
		apiURL: strings.TrimRight(cfg.Release.APIURL, "/"),
		repo:   cfg.Release.Repo,
		token:  cfg.Release.Token,
		client: &http.Client{Timeout: timeout},
	}
}

type githubAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
}

type githubRelease struct {
	TagName     string        `json:"tag_name"`
	Name        string        `json:"name"`
	Body        string        `json:"body"`
	PublishedAt time.Time     `json:"published_at"`
	Assets      []githubAsset `json:"assets"`
}

func (g *GitHubRegistry) newRequest(ctx context.Context, url, accept string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", userAgent)
	if g.token != "" {
		req.Header.Set("Authorization", "token "+g.token)
	}
	return req, nil
}

func (g *GitHubRegistry) LatestRelease(ctx context.Context) (*Release, error) {
	if g.repo == "" {
		return nil, fmt.Errorf("%w: RELEASE.REPO is not configured", ErrReleaseUnavailable)
	}

	req, err := g.newRequest(ctx, fmt.Sprintf("%s/repos/%s/releases/latest", g.apiURL, g.repo), "application/vnd.github.v3+json")
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReleaseUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrReleaseUnavailable, resp.StatusCode)
	}

	var gr githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("%w: decode release: %v", ErrReleaseUnavailable, err)
	}

	var artifact, checksum *githubAsset
	for i := range gr.Assets {
		a := &gr.Assets[i]
		switch {
		case artifact == nil && isInstallable(a.Name):
			artifact = a
		case checksum == nil && strings.HasSuffix(a.Name, ".sha256"):
			checksum = a
		}
	}

	if artifact == nil {
		zap.L().Info("[Release] latest release has no installable asset yet", zap.String("tag", gr.TagName))
		return nil, nil
	}

	rel := &Release{
		Version:         version.Normalize(gr.TagName),
		ReleaseNotes:    gr.Body,
		PublishedAt:     gr.PublishedAt,
		DownloadURL:     artifact.BrowserDownloadURL,
		Breaking:        strings.Contains(strings.ToLower(gr.Body), "breaking"),
		RequiresRestart: true,
	}

	if checksum != nil {
		sum, err := g.fetchChecksum(ctx, checksum.BrowserDownloadURL)
		if err != nil {
			zap.L().Warn("[Release] failed to fetch checksum asset", zap.String("asset", checksum.Name), zap.Error(err))
		} else {
			rel.Checksum = sum
		}
	}

	return rel, nil
}

func (g *GitHubRegistry) fetchChecksum(ctx context.Context, url string) (string, error) {
	req, err := g.newRequest(ctx, url, "application/octet-stream")
	if err != nil {
		return "", err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(io.LimitReader(resp.Body, 64*1024))
	for scanner.Scan() {
		if fields := strings.Fields(scanner.Text()); len(fields) > 0 {
			return strings.ToLower(fields[0]), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("empty checksum file")
}

func isInstallable(name string) bool {
	return strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".zip")
}

// ReleaseSource answers whether a newer release than the installed one is
// published. Concurrent lookups share one registry call.
type ReleaseSource struct {
	registry Registry
	cache    ReleaseCache
	group    singleflight.Group
}

func NewReleaseSource(registry Registry, cache ReleaseCache) *ReleaseSource {
	return &ReleaseSource{registry: registry, cache: cache}
}

func (r *ReleaseSource) Latest(ctx context.Context) (*Release, error) {
	if r.cache != nil {
		if rel, ok := r.cache.Get(ctx); ok {
			releaseCacheHits.Inc()
			return rel, nil
		}
	}

	v, err, _ := r.group.Do("latest", func() (any, error) {
		rel, err := r.registry.LatestRelease(ctx)
		if err != nil {
			return nil, err
		}
		if r.cache != nil {
			r.cache.Set(ctx, rel)
		}
		return rel, nil
	})
	if err != nil {
		return nil, err
	}
	rel, _ := v.(*Release)
	return rel, nil
}

// CheckLatest returns the latest release when it is newer than current.
func (r *ReleaseSource) CheckLatest(ctx context.Context, current string) (*Release, error) {
	rel, err := r.Latest(ctx)
	if err != nil || rel == nil {
		return nil, err
	}
	if !version.IsNewer(rel.Version, current) {
		return nil, nil
	}
	return rel, nil
}
