package hivemq

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hivemq/hivemq-testcontainer-go/internal/errors"
	"github.com/hivemq/hivemq-testcontainer-go/internal/logger"
)

// Container is a HiveMQ broker running in Docker.
//
// A Container is created with New, started once with Start and released with
// Stop. Options that copy files into the image take effect before the broker
// starts; runtime operations such as EnableExtension need a running broker.
type Container struct {
	cfg     *config
	log     logger.Logger
	metrics *Metrics
	logs    *logConsumer
	state   *stateMachine
	waitFor wait.Strategy

	mu        sync.RWMutex
	container testcontainers.Container
	host      string
	port      int
	tempDirs  []string
}

// New validates opts and returns an unstarted container.
func New(opts ...Option) (*Container, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	waitFor, err := cfg.waitStrategyFor()
	if err != nil {
		return nil, err
	}

	c := &Container{
		cfg:     cfg,
		log:     cfg.log.With(logger.String("image", cfg.imageRef())),
		waitFor: waitFor,
	}
	if cfg.registerer != nil {
		if c.metrics, err = NewMetrics(cfg.registerer); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	c.logs = newLogConsumer(cfg.logOutput, cfg.silent, cfg.logTailSize, c.log)
	c.state = newStateMachine(func(from, to State) {
		c.metrics.observeTransition(from, to)
		c.log.Debug("container state changed",
			logger.String("from", from.String()),
			logger.String("to", to.String()))
	})
	return c, nil
}

// Run creates and starts a container.
func Run(ctx context.Context, opts ...Option) (*Container, error) {
	c, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Start creates the docker container, copies extensions and files, starts
// the broker and blocks until it is ready.
func (c *Container) Start(ctx context.Context) error {
	if err := c.state.transition(StateStarting); err != nil {
		return err
	}
	started := time.Now()

	err := c.start(ctx)
	c.metrics.observeStart(time.Since(started), err)
	if err != nil {
		return err
	}

	c.log.Info("container started",
		logger.String("broker_url", c.brokerURL()),
		logger.Duration("took", time.Since(started)))
	return nil
}

func (c *Container) start(ctx context.Context) error {
	req, err := c.buildRequest(ctx)
	if err != nil {
		return c.fail(err)
	}

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	c.mu.Lock()
	c.container = ctr
	c.mu.Unlock()
	if err != nil {
		return c.fail(errors.Newf("failed to start HiveMQ container: %w", err).
			Component(component).
			Category(errors.CategoryDocker).
			Context("image", c.cfg.imageRef()).
			Build())
	}

	if err := c.state.transition(StateWaitingHealthy); err != nil {
		return c.fail(err)
	}
	if err := c.waitFor.WaitUntilReady(ctx, ctr); err != nil {
		return c.fail(errors.Newf("broker did not become ready: %w", err).
			Component(component).
			Category(errors.CategoryTimeout).
			Context("log_tail", c.logs.snapshot()).
			Build())
	}

	host, err := ctr.Host(ctx)
	if err != nil {
		return c.fail(fmt.Errorf("failed to get container host: %w", err))
	}
	mapped, err := ctr.MappedPort(ctx, mqttPort)
	if err != nil {
		return c.fail(fmt.Errorf("failed to get mapped MQTT port: %w", err))
	}

	c.mu.Lock()
	c.host = host
	c.port = mapped.Int()
	c.mu.Unlock()

	return c.state.transition(StateRunning)
}

// buildRequest packages extensions and assembles the container request.
// Extension folders are copied before any other file so files placed into an
// extension home land inside the deployed extension. Files are logged here,
// once every option including WithLogger has been applied.
func (c *Container) buildRequest(ctx context.Context) (testcontainers.ContainerRequest, error) {
	var extensionFiles []testcontainers.ContainerFile

	for _, ext := range c.cfg.extensions {
		dir, root, err := ext.PackageToTempDir()
		if err != nil {
			return testcontainers.ContainerRequest{}, err
		}
		c.trackTempDir(root)
		extensionFiles = append(extensionFiles, c.extensionFile(dir, ext.ID))
	}

	for _, dir := range c.cfg.extensionDirs {
		extensionFiles = append(extensionFiles, c.extensionFile(dir, baseName(dir)))
	}

	for _, s := range c.cfg.suppliers {
		dir, err := s.Supply(ctx)
		if err != nil {
			return testcontainers.ContainerRequest{}, err
		}
		extensionFiles = append(extensionFiles, c.extensionFile(dir, baseName(dir)))
	}

	files := extensionFiles
	for _, f := range c.cfg.files {
		expanded, err := containerFiles(f)
		if err != nil {
			return testcontainers.ContainerRequest{}, err
		}
		for _, ef := range expanded {
			c.log.Info("putting file into container",
				logger.String("host_path", ef.HostFilePath),
				logger.String("container_path", ef.ContainerFilePath))
		}
		files = append(files, expanded...)
	}

	req := testcontainers.ContainerRequest{
		Image:          c.cfg.imageRef(),
		ExposedPorts:   append([]string(nil), c.cfg.exposedPorts...),
		Env:            c.cfg.env,
		Files:          files,
		Networks:       c.cfg.networks,
		NetworkAliases: c.cfg.networkAliases,
		LogConsumerCfg: &testcontainers.LogConsumerConfig{
			Consumers: []testcontainers.LogConsumer{c.logs},
		},
	}
	return req, nil
}

func (c *Container) extensionFile(hostDir, extensionID string) testcontainers.ContainerFile {
	containerPath := extensionPath(extensionID)
	c.log.Info("putting extension into container",
		logger.String("extension", extensionID),
		logger.String("host_path", hostDir),
		logger.String("container_path", containerPath))
	return testcontainers.ContainerFile{
		HostFilePath:      hostDir,
		ContainerFilePath: containerPath,
		FileMode:          extensionFileMode,
	}
}

// fail marks the container failed and releases what was created so far.
func (c *Container) fail(cause error) error {
	if err := c.state.transition(StateFailed); err != nil {
		c.log.Warn("unexpected state while failing", logger.Error(err))
	}

	c.mu.Lock()
	ctr := c.container
	c.container = nil
	c.mu.Unlock()

	if ctr != nil {
		// TerminateContainer tolerates partially created containers.
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			c.log.Warn("failed to terminate container after start failure", logger.Error(err))
		}
	}
	c.removeTempDirs()

	c.log.Error("container start failed", logger.Error(cause))
	return cause
}

// Stop terminates the container and removes temporary packaging folders.
// Stopping an already stopped container is a no-op.
func (c *Container) Stop(ctx context.Context) error {
	switch c.state.get() {
	case StateStopped:
		return nil
	case StateCreated:
		c.removeTempDirs()
		return c.state.transition(StateStopped)
	}

	if err := c.state.transition(StateStopping); err != nil {
		return err
	}

	c.mu.Lock()
	ctr := c.container
	c.container = nil
	c.mu.Unlock()

	var terminateErr error
	if ctr != nil {
		if err := ctr.Terminate(ctx); err != nil {
			terminateErr = errors.Newf("failed to terminate container: %w", err).
				Component(component).
				Category(errors.CategoryDocker).
				Build()
		}
	}
	c.removeTempDirs()

	if terminateErr != nil {
		_ = c.state.transition(StateFailed)
		return terminateErr
	}
	return c.state.transition(StateStopped)
}

// State returns the lifecycle state.
func (c *Container) State() State {
	return c.state.get()
}

// Host returns the host on which the broker is reachable.
func (c *Container) Host() (string, error) {
	if err := c.requireRunning(); err != nil {
		return "", err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.host, nil
}

// MQTTPort returns the host port mapped to the broker's MQTT port 1883.
func (c *Container) MQTTPort() (int, error) {
	if err := c.requireRunning(); err != nil {
		return 0, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.port, nil
}

// BrokerURL returns the MQTT URL, e.g. "tcp://localhost:32768".
func (c *Container) BrokerURL() (string, error) {
	if err := c.requireRunning(); err != nil {
		return "", err
	}
	return c.brokerURL(), nil
}

func (c *Container) brokerURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return "tcp://" + net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// ContainerID returns the docker container id.
func (c *Container) ContainerID() (string, error) {
	ctr, err := c.running()
	if err != nil {
		return "", err
	}
	return ctr.GetContainerID(), nil
}

// Logs returns the most recent container output.
func (c *Container) Logs() string {
	return c.logs.snapshot()
}

// SetSilent toggles echoing of container output while running.
func (c *Container) SetSilent(silent bool) {
	c.logs.setSilent(silent)
}

// Unwrap exposes the underlying testcontainers container.
func (c *Container) Unwrap() testcontainers.Container {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.container
}

func (c *Container) requireRunning() error {
	if s := c.state.get(); s != StateRunning {
		return fmt.Errorf("%w (state %s)", ErrNotStarted, s)
	}
	return nil
}

func (c *Container) running() (testcontainers.Container, error) {
	if err := c.requireRunning(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.container, nil
}

func (c *Container) trackTempDir(dir string) {
	c.mu.Lock()
	c.tempDirs = append(c.tempDirs, dir)
	c.mu.Unlock()
}

func (c *Container) removeTempDirs() {
	c.mu.Lock()
	dirs := c.tempDirs
	c.tempDirs = nil
	c.mu.Unlock()

	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			c.log.Warn("failed to remove temporary extension folder",
				logger.String("path", dir),
				logger.Error(err))
		}
	}
}
