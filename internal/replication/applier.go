package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/edgewatch/multiregion/internal/core"
)

// HTTPApplier posts replication tasks to the target region's first endpoint.
// It exists so the daemon works out of the box; deployments with their own
// transport inject an Applier instead.
type HTTPApplier struct {
	client   *http.Client
	endpoint func(regionID string) string
}

func NewHTTPApplier(timeout time.Duration) *HTTPApplier {
	return &HTTPApplier{
		client: &http.Client{Timeout: timeout},
	}
}

// SetEndpointResolver overrides how a target region id maps to a base URL.
func (a *HTTPApplier) SetEndpointResolver(resolver func(regionID string) string) {
	a.endpoint = resolver
}

func (a *HTTPApplier) Apply(ctx context.Context, task *core.ReplicationTask) error {
	if a.endpoint == nil {
		return fmt.Errorf("no endpoint resolver configured for region %s", task.TargetRegion)
	}

	base := a.endpoint(task.TargetRegion)
	if base == "" {
		return fmt.Errorf("no endpoint for region %s", task.TargetRegion)
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	url := strings.TrimRight(base, "/") + "/internal/replicate"

	body, err := json.Marshal(task)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("replicate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("replicate returned status %d", resp.StatusCode)
	}
	return nil
}
