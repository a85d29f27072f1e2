package update

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"updater-controlplane/pkg/config"

	"github.com/gosimple/slug"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

type Artifact struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// Fetcher streams release artifacts into the staging directory.
type Fetcher struct {
	dir    string
	token  string
	client *http.Client
}

func NewFetcher(cfg *config.Config) *Fetcher {
	return &Fetcher{
		dir:   cfg.Update.StagingDir,
		token: cfg.Release.Token,
		// no overall timeout: artifacts may be large, ctx bounds the transfer
		client: &http.Client{},
	}
}

// Download fetches url to a deterministic path for version. When checksum is
// set, the SHA-256 of the written bytes must match it or the file is removed.
func (f *Fetcher) Download(ctx context.Context, url, version, checksum string) (*Artifact, error) {
	zapLog := zap.L().With(zap.String("url", url), zap.String("version", version))

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create staging dir: %v", ErrDownloadFailed, err)
	}

	target := filepath.Join(f.dir, artifactName(url, version))
	partial := target + ".part"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	req.Header.Set("User-Agent", userAgent)
	if f.token != "" {
		req.Header.Set("Authorization", "token "+f.token)
		req.Header.Set("Accept", "application/octet-stream")
	}

	zapLog.Info("[Fetcher] downloading artifact")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrDownloadFailed, resp.StatusCode)
	}

	out, err := os.Create(partial)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	hasher := sha256.New()
	size, copyErr := io.Copy(io.MultiWriter(out, hasher), resp.Body)
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		var result *multierror.Error
		result = multierror.Append(result, copyErr, closeErr, removeIfExists(partial))
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, result.ErrorOrNil())
	}

	sum := hex.EncodeToString(hasher.Sum(nil))
	if checksum != "" && !strings.EqualFold(sum, strings.TrimSpace(checksum)) {
		if err := removeIfExists(partial); err != nil {
			zapLog.Warn("[Fetcher] failed to remove corrupt artifact", zap.Error(err))
		}
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, checksum, sum)
	}

	if err := os.Rename(partial, target); err != nil {
		var result *multierror.Error
		result = multierror.Append(result, err, removeIfExists(partial))
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, result.ErrorOrNil())
	}

	zapLog.Info("[Fetcher] artifact downloaded", zap.String("path", target), zap.Int64("size", size), zap.String("sha256", sum))
	return &Artifact{Path: target, SHA256: sum, Size: size}, nil
}

func artifactName(url, version string) string {
	ext := ".tar.gz"
	base := path.Base(strings.SplitN(url, "?", 2)[0])
	if strings.HasSuffix(base, ".zip") {
		ext = ".zip"
	}
	return fmt.Sprintf("release-v%s%s", sanitize(version), ext)
}

// sanitize slugs each dot-separated part of a version so dots survive.
func sanitize(s string) string {
	parts := strings.Split(s, ".")
	for i, p := range parts {
		parts[i] = slug.Make(p)
	}
	return strings.Join(parts, ".")
}

func removeIfExists(p string) error {
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
