package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/portalwatch/internal/interfaces"
)

// HTTPProbe returns a NetworkProbe that issues a HEAD request to url.
// Any response below 500 counts as reachable.
func HTTPProbe(url string, timeout time.Duration) NetworkProbe {
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 500 {
			return fmt.Errorf("probe %s returned status %d", url, resp.StatusCode)
		}
		return nil
	}
}

// AdapterProbe uses the page adapter readiness call as the network probe.
// Only an adapter error counts as a failure; a page that is still loading is reachable.
func AdapterProbe(adapter interfaces.PageAdapter) NetworkProbe {
	return func(ctx context.Context) error {
		_, err := adapter.IsReady(ctx)
		return err
	}
}

// AdapterSessionProbe reads the login indicator through the page adapter
func AdapterSessionProbe(adapter interfaces.PageAdapter) SessionProbe {
	return adapter.IsSessionActive
}
