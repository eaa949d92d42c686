package hivemqtest

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"

	"github.com/hivemq/hivemq-testcontainer-go/hivemq"
)

// StopTimeout bounds how long stopping a broker may take after a test.
var StopTimeout = 30 * time.Second

var (
	startContainer = hivemq.Run
	skipIfNoDocker = testcontainers.SkipIfProviderIsNotHealthy
)

// Run starts a broker configured by opts and stops it when t finishes. The
// test is skipped when Docker is unavailable and fails when the broker does
// not start.
func Run(t *testing.T, opts ...hivemq.Option) *hivemq.Container {
	t.Helper()
	skipIfNoDocker(t)

	c, err := startContainer(context.Background(), opts...)
	if err != nil {
		t.Fatalf("failed to start HiveMQ container: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), StopTimeout)
		defer cancel()
		if err := c.Stop(ctx); err != nil {
			t.Errorf("failed to stop HiveMQ container: %v", err)
		}
	})
	return c
}
