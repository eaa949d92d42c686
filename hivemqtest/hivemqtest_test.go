package hivemqtest

import (
	"bytes"
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivemq/hivemq-testcontainer-go/hivemq"
	"github.com/hivemq/hivemq-testcontainer-go/internal/logger"
)

// fakeStarts replaces the container starter with one that returns unstarted
// containers, so lifecycle wiring can be checked without Docker.
func fakeStarts(t *testing.T, startErr error) *atomic.Int32 {
	t.Helper()

	var calls atomic.Int32
	origStart, origSkip := startContainer, skipIfNoDocker
	startContainer = func(_ context.Context, opts ...hivemq.Option) (*hivemq.Container, error) {
		calls.Add(1)
		if startErr != nil {
			return nil, startErr
		}
		return hivemq.New(append([]hivemq.Option{hivemq.WithSilent(true)}, opts...)...)
	}
	skipIfNoDocker = func(*testing.T) {}
	t.Cleanup(func() {
		startContainer, skipIfNoDocker = origStart, origSkip
	})
	return &calls
}

func TestRun_StopsContainerAfterTest(t *testing.T) {
	calls := fakeStarts(t, nil)

	var c *hivemq.Container
	t.Run("uses broker", func(t *testing.T) {
		c = Run(t, hivemq.WithImage("hivemq/hivemq4", "latest"))
		require.NotNil(t, c)
		assert.Equal(t, hivemq.StateCreated, c.State())
	})

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, hivemq.StateStopped, c.State())
}

func TestShared_StartsOnceAndStopsOnce(t *testing.T) {
	calls := fakeStarts(t, nil)
	shared := NewShared()

	var order []string
	shared.AddCleanup("first", func() error {
		order = append(order, "first")
		return nil
	})

	first := shared.Container(t)
	second := shared.Container(t)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), calls.Load())

	shared.AddCleanup("second", func() error {
		order = append(order, "second")
		assert.Equal(t, hivemq.StateCreated, first.State(), "cleanups run before the broker stops")
		return nil
	})

	require.NoError(t, shared.Stop())
	require.NoError(t, shared.Stop())
	assert.Equal(t, []string{"second", "first"}, order)
	assert.Equal(t, hivemq.StateStopped, first.State())
}

func TestShared_StartErrorIsSticky(t *testing.T) {
	boom := stderrors.New("docker unavailable")
	calls := fakeStarts(t, boom)
	shared := NewShared()

	_, err := shared.Start(context.Background())
	assert.ErrorIs(t, err, boom)
	_, err = shared.Start(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), calls.Load())
	assert.NoError(t, shared.Stop())
}

type fakeSuite struct {
	code int
	run  func()
}

func (f *fakeSuite) Run() int {
	if f.run != nil {
		f.run()
	}
	return f.code
}

func TestRunSuite(t *testing.T) {
	fakeStarts(t, nil)

	t.Run("passes exit code through and stops broker", func(t *testing.T) {
		shared := NewShared()
		var c *hivemq.Container
		suite := &fakeSuite{code: 3, run: func() {
			var err error
			c, err = shared.Start(context.Background())
			require.NoError(t, err)
		}}

		assert.Equal(t, 3, runSuite(suite, shared, logger.NewNop()))
		assert.Equal(t, hivemq.StateStopped, c.State())
	})

	t.Run("cleanup failure fails a passing suite", func(t *testing.T) {
		shared := NewShared()
		shared.AddCleanup("broken", func() error { return stderrors.New("boom") })

		var buf bytes.Buffer
		log := logger.NewSlogLogger(&buf, logger.LogLevelInfo, nil)
		assert.Equal(t, 1, runSuite(&fakeSuite{}, shared, log))
		assert.Contains(t, buf.String(), "broken cleanup failed")
	})

	t.Run("suite that never used the broker", func(t *testing.T) {
		assert.Equal(t, 0, runSuite(&fakeSuite{}, NewShared(), logger.NewNop()))
	})
}

func TestShared_StopBeforeStart(t *testing.T) {
	calls := fakeStarts(t, nil)
	shared := NewShared()

	require.NoError(t, shared.Stop())
	c, err := shared.Start(context.Background())
	assert.Nil(t, c)
	assert.ErrorIs(t, err, ErrSharedStopped)
	assert.Equal(t, int32(0), calls.Load())
}

func TestShared_StopWaitsForStartInProgress(t *testing.T) {
	fakeStarts(t, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	startContainer = func(_ context.Context, opts ...hivemq.Option) (*hivemq.Container, error) {
		close(entered)
		<-release
		return hivemq.New(append([]hivemq.Option{hivemq.WithSilent(true)}, opts...)...)
	}

	shared := NewShared()
	started := make(chan *hivemq.Container, 1)
	go func() {
		c, _ := shared.Start(context.Background())
		started <- c
	}()
	<-entered

	stopped := make(chan error, 1)
	go func() { stopped <- shared.Stop() }()

	select {
	case <-stopped:
		t.Fatal("stop returned while the broker was still starting")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	c := <-started
	require.NoError(t, <-stopped)
	require.NotNil(t, c)
	assert.Equal(t, hivemq.StateStopped, c.State())
}
