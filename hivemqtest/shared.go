package hivemqtest

import (
	"context"
	stderrors "errors"
	"os"
	"sync"
	"testing"

	"github.com/hivemq/hivemq-testcontainer-go/hivemq"
	"github.com/hivemq/hivemq-testcontainer-go/internal/errors"
	"github.com/hivemq/hivemq-testcontainer-go/internal/logger"
)

// ErrSharedStopped is returned by Start once the shared broker was stopped
// before it ever started.
var ErrSharedStopped = stderrors.New("hivemqtest: shared broker already stopped")

// Shared is a broker shared by all tests of a package. It is started lazily
// by Start or Container and stopped once by Stop.
type Shared struct {
	opts     []hivemq.Option
	cleanups *CleanupManager
	stop     *CleanupOnce

	startOnce sync.Once
	container *hivemq.Container
	startErr  error
}

// NewShared describes a shared broker. Nothing is started yet.
func NewShared(opts ...hivemq.Option) *Shared {
	s := &Shared{
		opts:     opts,
		cleanups: NewCleanupManager(),
	}
	s.stop = NewCleanupOnce(s.shutdown)
	return s
}

// Start starts the broker on the first call; later calls return the same
// container or error. After Stop, a broker that was never started reports
// ErrSharedStopped.
func (s *Shared) Start(ctx context.Context) (*hivemq.Container, error) {
	s.startOnce.Do(func() {
		s.container, s.startErr = startContainer(ctx, s.opts...)
	})
	return s.container, s.startErr
}

// Container returns the running broker, starting it if needed. The test is
// skipped when Docker is unavailable and fails when the broker cannot start.
func (s *Shared) Container(t testing.TB) *hivemq.Container {
	t.Helper()
	if tt, ok := t.(*testing.T); ok {
		skipIfNoDocker(tt)
	}
	c, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("shared HiveMQ container is unavailable: %v", err)
	}
	return c
}

// AddCleanup registers fn to run when the broker is stopped, before the
// broker itself goes away.
func (s *Shared) AddCleanup(name string, fn func() error) {
	s.cleanups.Add(name, fn)
}

// Stop runs the registered cleanups and stops the broker. Only the first call
// has any effect.
func (s *Shared) Stop() error {
	return s.stop.Do()
}

func (s *Shared) shutdown() error {
	// Waits for a start in progress; a broker that was never started can no
	// longer be started afterwards.
	s.startOnce.Do(func() { s.startErr = ErrSharedStopped })

	errs := s.cleanups.Cleanup()
	if s.container != nil {
		ctx, cancel := context.WithTimeout(context.Background(), StopTimeout)
		defer cancel()
		if err := s.container.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// suiteRunner is the part of testing.M that Main needs.
type suiteRunner interface {
	Run() int
}

// Main runs the tests and stops the shared broker afterwards. The broker is
// started by the first test that asks for it. The result is the process exit
// code:
//
//	func TestMain(m *testing.M) { os.Exit(hivemqtest.Main(m, broker)) }
func Main(m *testing.M, shared *Shared) int {
	return runSuite(m, shared, logger.NewSlogLogger(os.Stderr, logger.LogLevelInfo, nil))
}

func runSuite(m suiteRunner, shared *Shared, log logger.Logger) int {
	code := m.Run()

	if err := shared.Stop(); err != nil {
		log.Error("failed to stop shared HiveMQ container", logger.Error(err))
		if code == 0 {
			code = 1
		}
	}
	return code
}
