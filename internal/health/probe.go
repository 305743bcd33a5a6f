package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/edgewatch/multiregion/internal/core"
)

// Probe is the injected health-check capability. Implementations report the
// state of one region; transport internals are theirs. A Probe may return an
// error or a snapshot, never both.
type Probe interface {
	Check(ctx context.Context, region *core.Region) (core.RegionHealth, error)
}

// ProbeFunc adapts a plain function to the Probe interface.
type ProbeFunc func(ctx context.Context, region *core.Region) (core.RegionHealth, error)

func (f ProbeFunc) Check(ctx context.Context, region *core.Region) (core.RegionHealth, error) {
	return f(ctx, region)
}

// HTTPProbe calls a region's first endpoint on a well-known path and decodes
// the health snapshot from the response body.
type HTTPProbe struct {
	client *http.Client
	path   string
}

func NewHTTPProbe(timeout time.Duration, path string) *HTTPProbe {
	if path == "" {
		path = "/health"
	}
	return &HTTPProbe{
		client: &http.Client{Timeout: timeout},
		path:   path,
	}
}

func (p *HTTPProbe) Check(ctx context.Context, region *core.Region) (core.RegionHealth, error) {
	if len(region.Endpoints) == 0 {
		return core.RegionHealth{}, fmt.Errorf("region %s has no endpoints", region.ID)
	}

	url := region.Endpoints[0]
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	url = strings.TrimRight(url, "/") + p.path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return core.RegionHealth{}, err
	}
	req.Header.Set("User-Agent", "multiregion-probe/1.0")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return core.RegionHealth{}, fmt.Errorf("probe request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.RegionHealth{}, fmt.Errorf("probe returned status %d", resp.StatusCode)
	}

	health := core.RegionHealth{
		RegionID:       region.ID,
		Status:         core.HealthHealthy,
		ResponseTimeMs: float64(time.Since(start).Milliseconds()),
	}

	// Regions that expose a structured body get their self-reported state;
	// a bare 200 is treated as healthy.
	var body struct {
		Status    core.HealthStatus `json:"status"`
		ErrorRate float64           `json:"error_rate"`
		Issues    []string          `json:"issues"`
		Resources core.Resources    `json:"resources"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Status != "" {
		health.Status = body.Status
		health.ErrorRate = body.ErrorRate
		health.Issues = body.Issues
		health.Resources = body.Resources
	}

	return health, nil
}
