package hivemq

import (
	"bytes"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"go.uber.org/goleak"

	"github.com/hivemq/hivemq-testcontainer-go/internal/logger"
)

func TestLogConsumer_EchoAndSilent(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	c := newLogConsumer(&out, false, 0, logger.NewNop())

	c.Accept(testcontainers.Log{LogType: testcontainers.StdoutLog, Content: []byte("Started HiveMQ in 1234ms\n")})
	assert.Equal(t, "Started HiveMQ in 1234ms\n", out.String())

	c.setSilent(true)
	c.Accept(testcontainers.Log{LogType: testcontainers.StdoutLog, Content: []byte("quiet\n")})
	assert.NotContains(t, out.String(), "quiet")
	assert.Contains(t, c.snapshot(), "quiet", "silent output is still retained")
}

func TestLogConsumer_TailKeepsNewestBytes(t *testing.T) {
	t.Parallel()

	c := newLogConsumer(nil, true, 16, logger.NewNop())
	c.consume([]byte("0123456789"))
	c.consume([]byte("abcdefghij"))

	assert.Equal(t, "456789abcdefghij", c.snapshot())
	assert.Equal(t, "456789abcdefghij", c.snapshot(), "snapshot must not consume the tail")

	c.consume([]byte(strings.Repeat("x", 20) + "END"))
	assert.Equal(t, strings.Repeat("x", 13)+"END", c.snapshot())
}

func TestLogConsumer_LatchReleasedOnMatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := newLogConsumer(nil, true, 0, logger.NewNop())
	done, cancel := c.await(regexp.MustCompile(`Extension "my-extension" version .* stopped successfully`))
	defer cancel()

	c.consume([]byte("unrelated line\n"))
	select {
	case <-done:
		t.Fatal("latch released on unrelated output")
	default:
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.consume([]byte(`2024-01-01 INFO - Extension "my-extension" version 1.0 stopped successfully.` + "\n"))
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("latch was not released")
	}
	wg.Wait()

	// Repeated matches must not panic on an already closed channel.
	c.consume([]byte(`Extension "my-extension" version 1.0 stopped successfully`))
}

func TestLogConsumer_CancelUnregisters(t *testing.T) {
	t.Parallel()

	c := newLogConsumer(nil, true, 0, logger.NewNop())
	_, cancel := c.await(regexp.MustCompile("x"))
	require.Len(t, c.latches, 1)
	cancel()
	assert.Empty(t, c.latches)
}
