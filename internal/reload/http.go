package reload

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/driftsync/gitmirrord/internal/config"
	"github.com/driftsync/gitmirrord/internal/httpclient"
)

// RevisionHeader carries the newly committed revision to HTTP reload endpoints
const RevisionHeader = "X-Gitmirrord-Revision"

// httpNotifier calls an HTTP endpoint after a content change
type httpNotifier struct {
	endpoint string
	method   string
	client   httpclient.Client
}

func newHTTPNotifier(cfg *config.HTTPReloadConfig, client httpclient.Client) *httpNotifier {
	return &httpNotifier{
		endpoint: cfg.Endpoint,
		method:   cfg.GetMethod(),
		client:   client,
	}
}

// Notify calls the reload endpoint with the revision in a header and a
// small JSON body. Any non-2xx response is an error.
func (n *httpNotifier) Notify(ctx context.Context, revision string) error {
	body, err := json.Marshal(map[string]string{"revision": revision})
	if err != nil {
		return fmt.Errorf("failed to marshal reload payload: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set(RevisionHeader, revision)

	if _, err := n.client.Do(ctx, n.method, n.endpoint, header, body); err != nil {
		return fmt.Errorf("reload endpoint call failed: %w", err)
	}

	return nil
}

// Name identifies the notifier
func (n *httpNotifier) Name() string {
	return "http:" + n.endpoint
}
