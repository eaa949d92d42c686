//go:build integration

package hivemq

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
)

func startBroker(t *testing.T, opts ...Option) *Container {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	c, err := Run(ctx, append([]Option{WithSilent(true)}, opts...)...)
	require.NoError(t, err, "failed to start HiveMQ container")
	t.Cleanup(func() {
		assert.NoError(t, c.Stop(ctx), "failed to stop container")
	})
	return c
}

func TestContainer_StartAndConnect(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := startBroker(t, WithMetrics(reg), WithLogLevel(LogLevelDebug))

	assert.Equal(t, StateRunning, c.State())
	require.NoError(t, c.HealthCheck(context.Background()))

	url, err := c.BrokerURL()
	require.NoError(t, err)
	assert.Contains(t, url, "tcp://")

	id, err := c.ContainerID()
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	assert.Contains(t, c.Logs(), "Started HiveMQ in")
}

func TestContainer_PublishSubscribe(t *testing.T) {
	c := startBroker(t)

	subscriber, err := c.CreateClient("subscriber")
	require.NoError(t, err)
	defer subscriber.Disconnect(250)

	received := make(chan string, 1)
	token := subscriber.Subscribe("test/topic", 1, func(_ mqtt.Client, msg mqtt.Message) {
		received <- string(msg.Payload())
	})
	require.True(t, token.WaitTimeout(5*time.Second), "subscribe timeout")
	require.NoError(t, token.Error())

	publisher, err := c.CreateClient("publisher")
	require.NoError(t, err)
	defer publisher.Disconnect(250)

	token = publisher.Publish("test/topic", 1, false, []byte("hello"))
	require.True(t, token.WaitTimeout(5*time.Second), "publish timeout")
	require.NoError(t, token.Error())

	select {
	case msg := <-received:
		assert.Equal(t, "hello", msg)
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}
}

func TestContainer_ClearRetainedMessages(t *testing.T) {
	c := startBroker(t)
	ctx := context.Background()

	publisher, err := c.CreateClient("publisher")
	require.NoError(t, err)
	defer publisher.Disconnect(250)

	for _, topic := range []string{"retained/1", "retained/2"} {
		token := publisher.Publish(topic, 0, true, []byte("retained"))
		require.True(t, token.WaitTimeout(5*time.Second), "publish timeout")
		require.NoError(t, token.Error())
	}

	require.NoError(t, c.ClearRetainedMessages(ctx))

	verifier, err := c.CreateClient("verifier")
	require.NoError(t, err)
	defer verifier.Disconnect(250)

	var mu sync.Mutex
	var leftover []string
	token := verifier.Subscribe("#", 0, func(_ mqtt.Client, msg mqtt.Message) {
		if msg.Retained() {
			mu.Lock()
			leftover = append(leftover, msg.Topic())
			mu.Unlock()
		}
	})
	require.True(t, token.WaitTimeout(5*time.Second), "subscribe timeout")
	require.NoError(t, token.Error())

	time.Sleep(500 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, leftover)
}

func TestContainer_LogOutputAndSilence(t *testing.T) {
	var out bytes.Buffer
	c := startBroker(t, WithSilent(false), WithLogOutput(&out))

	assert.Contains(t, out.String(), "Started HiveMQ in")
	c.SetSilent(true)
}

func TestContainer_StartupLogRegex(t *testing.T) {
	c := startBroker(t, WithStartupLogRegex(`(.*)Started HiveMQ in(.*)`))
	require.NoError(t, c.HealthCheck(context.Background()))
}

func TestContainer_FileInHome(t *testing.T) {
	file := writeTempFile(t, t.TempDir(), "additionalFile.txt", "hello from the host")
	c := startBroker(t, WithFileInHome(file, "/additional/"))

	ctr := c.Unwrap()
	rc, err := ctr.CopyFileFromContainer(context.Background(), "/opt/hivemq/additional/additionalFile.txt")
	require.NoError(t, err)
	defer rc.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello from the host", buf.String())
}

// TestContainer_ToggleExtension needs HiveMQ Enterprise and a packaged
// extension folder, given by HIVEMQ_TC_IMAGE and HIVEMQ_TC_EXTENSION_DIR.
func TestContainer_ToggleExtension(t *testing.T) {
	image := os.Getenv("HIVEMQ_TC_IMAGE")
	dir := os.Getenv("HIVEMQ_TC_EXTENSION_DIR")
	name := os.Getenv("HIVEMQ_TC_EXTENSION_NAME")
	if image == "" || dir == "" || name == "" {
		t.Skip("HIVEMQ_TC_IMAGE, HIVEMQ_TC_EXTENSION_DIR and HIVEMQ_TC_EXTENSION_NAME not set")
	}

	c := startBroker(t, WithImage(image, ""), WithExtensionDir(dir))
	id := baseName(dir)
	ctx := context.Background()

	require.NoError(t, c.DisableExtension(ctx, name, id))
	require.NoError(t, c.EnableExtension(ctx, name, id))
}
