package license

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type AuthorityRequest struct {
	LicenseKey     string `json:"licenseKey"`
	InstanceID     string `json:"instanceId"`
	CurrentVersion string `json:"currentVersion"`
	TargetVersion  string `json:"targetVersion"`
	MachineID      string `json:"machineId"`
}

// Authority is the remote license server. Any error means the verdict could
// not be obtained and the caller should fall back to offline validation.
type Authority interface {
	Validate(ctx context.Context, req AuthorityRequest) (*ValidationResult, error)
}

type HTTPAuthority struct {
	baseURL string
	client  *http.Client
}

func NewHTTPAuthority(baseURL string, timeout time.Duration) *HTTPAuthority {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPAuthority{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (a *HTTPAuthority) Validate(ctx context.Context, req AuthorityRequest) (*ValidationResult, error) {
	if a.baseURL == "" {
		return nil, fmt.Errorf("%w: no server configured", ErrAuthorityOffline)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/validate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthorityOffline, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthorityOffline, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d", ErrAuthorityOffline, resp.StatusCode)
	}

	var out ValidationResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode verdict: %v", ErrAuthorityOffline, err)
	}
	if out.Features == nil {
		out.Features = []string{}
	}
	out.Source = SourceOnline

	return &out, nil
}
