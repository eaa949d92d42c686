package hivemq

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/hivemq/hivemq-testcontainer-go/internal/errors"
)

// ControlCenterURL returns the Control Center address on the host.
func (c *Container) ControlCenterURL(ctx context.Context) (string, error) {
	ctr, err := c.running()
	if err != nil {
		return "", err
	}
	host, err := ctr.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := ctr.MappedPort(ctx, controlCenterPort)
	if err != nil {
		return "", fmt.Errorf("control center port is not exposed: %w", err)
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port.Int())), nil
}

// ProbeControlCenter issues a GET against the Control Center URL. Any 2xx or
// 3xx response counts as reachable.
func ProbeControlCenter(ctx context.Context, client *http.Client, url string) error {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create control center request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return errors.Newf("control center unreachable: %w", err).
			Component(component).
			Category(errors.CategoryNetwork).
			Context("url", url).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return errors.Newf("control center returned status %d", resp.StatusCode).
			Component(component).
			Category(errors.CategoryNetwork).
			Context("url", url).
			Build()
	}
	return nil
}
