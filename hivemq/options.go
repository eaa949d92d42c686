package hivemq

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hivemq/hivemq-testcontainer-go/internal/errors"
	"github.com/hivemq/hivemq-testcontainer-go/internal/logger"
)

const (
	// DefaultImage is the HiveMQ Community Edition image.
	DefaultImage = "hivemq/hivemq-ce"
	// DefaultTag is the image tag used when none is given.
	DefaultTag = "latest"

	MQTTPort          = 1883
	DebuggingPort     = 9000
	ControlCenterPort = 8080

	mqttPort          = "1883/tcp"
	controlCenterPort = "8080/tcp"

	extensionFileMode = 0o777
	homeFileMode      = 0o644
	homeDirMode       = 0o755
)

// LogLevel is a HiveMQ log level set through HIVEMQ_LOG_LEVEL.
type LogLevel string

const (
	LogLevelTrace LogLevel = "TRACE"
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// Option configures a Container before it is started.
type Option func(*config) error

type config struct {
	image string
	tag   string
	env   map[string]string

	exposedPorts   []string
	networks       []string
	networkAliases map[string][]string

	extensions     []*Extension
	extensionDirs  []string
	suppliers      []ExtensionSupplier
	files          []testcontainers.ContainerFile
	startupTimeout time.Duration
	initialWait    time.Duration
	logPatterns    []string
	waitExtensions []string
	waitStrategy   wait.Strategy

	silent      bool
	logOutput   io.Writer
	logTailSize int
	log         logger.Logger
	registerer  prometheus.Registerer
}

func defaultConfig() *config {
	return &config{
		image:          DefaultImage,
		tag:            DefaultTag,
		env:            make(map[string]string),
		exposedPorts:   []string{mqttPort},
		networkAliases: make(map[string][]string),
		startupTimeout: defaultStartupTimeout,
		initialWait:    defaultInitialWait,
		logOutput:      os.Stdout,
		logTailSize:    defaultLogTailSize,
		log:            logger.FromSlog(slog.Default()),
	}
}

func (c *config) imageRef() string {
	return c.image + ":" + c.tag
}

// WithImage selects the docker image and tag, e.g. ("hivemq/hivemq4", "latest").
func WithImage(image, tag string) Option {
	return func(c *config) error {
		if image == "" {
			return invalidOption("image must not be empty")
		}
		c.image = image
		if tag != "" {
			c.tag = tag
		}
		return nil
	}
}

// WithDebugging enables a JDWP remote debugging agent bound to hostPort on the
// host. A hostPort of 0 uses 9000.
func WithDebugging(hostPort int) Option {
	return func(c *config) error {
		if hostPort == 0 {
			hostPort = DebuggingPort
		}
		c.exposedPorts = append(c.exposedPorts, fmt.Sprintf("%d:%d/tcp", hostPort, DebuggingPort))
		c.env["JAVA_OPTS"] = fmt.Sprintf(
			"-agentlib:jdwp=transport=dt_socket,address=0.0.0.0:%d,server=y,suspend=n", DebuggingPort)
		return nil
	}
}

// WithControlCenter exposes the HiveMQ Enterprise Control Center on hostPort.
// A hostPort of 0 uses 8080.
func WithControlCenter(hostPort int) Option {
	return func(c *config) error {
		if hostPort == 0 {
			hostPort = ControlCenterPort
		}
		c.exposedPorts = append(c.exposedPorts, fmt.Sprintf("%d:%d/tcp", hostPort, ControlCenterPort))
		return nil
	}
}

// WithLogLevel sets the broker log level inside the container.
func WithLogLevel(level LogLevel) Option {
	return func(c *config) error {
		switch LogLevel(strings.ToUpper(string(level))) {
		case LogLevelTrace, LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
			c.env["HIVEMQ_LOG_LEVEL"] = strings.ToUpper(string(level))
			return nil
		default:
			return invalidOption(fmt.Sprintf("unknown log level %q", level))
		}
	}
}

// WithEnv sets an environment variable in the container.
func WithEnv(key, value string) Option {
	return func(c *config) error {
		c.env[key] = value
		return nil
	}
}

// WithNetwork attaches the container to a docker network with optional aliases.
func WithNetwork(name string, aliases ...string) Option {
	return func(c *config) error {
		if name == "" {
			return invalidOption("network name must not be empty")
		}
		c.networks = append(c.networks, name)
		if len(aliases) > 0 {
			c.networkAliases[name] = append(c.networkAliases[name], aliases...)
		}
		return nil
	}
}

// WithExtension packages ext and deploys it into /opt/hivemq/extensions/<id>.
func WithExtension(ext *Extension) Option {
	return func(c *config) error {
		if err := ext.Validate(); err != nil {
			return err
		}
		c.extensions = append(c.extensions, ext)
		return nil
	}
}

// WithExtensionDir deploys an already packaged extension folder. It must
// contain a valid hivemq-extension.xml and extension jar to be loaded; the
// folder name becomes the folder name inside the container.
func WithExtensionDir(dir string) Option {
	return func(c *config) error {
		info, err := os.Stat(dir)
		if err != nil {
			return fileNotFound(dir)
		}
		if !info.IsDir() {
			return errors.Newf("%w: %s", ErrNotDirectory, dir).
				Component(component).
				Category(errors.CategoryValidation).
				Context("path", dir).
				Build()
		}
		c.extensionDirs = append(c.extensionDirs, dir)
		return nil
	}
}

// WithExtensionSupplier builds an extension when the container starts and
// deploys the resulting folder.
func WithExtensionSupplier(s ExtensionSupplier) Option {
	return func(c *config) error {
		if s == nil {
			return invalidOption("extension supplier must not be nil")
		}
		c.suppliers = append(c.suppliers, s)
		return nil
	}
}

// WithLicense copies a license file into /opt/hivemq/license/. The file must
// end with .lic or .elic.
func WithLicense(license string) Option {
	return func(c *config) error {
		if _, err := os.Stat(license); err != nil {
			return fileNotFound(license)
		}
		name := filepath.Base(license)
		if !strings.HasSuffix(name, ".lic") && !strings.HasSuffix(name, ".elic") {
			return errors.Newf("%w: %s", ErrInvalidLicense, license).
				Component(component).
				Category(errors.CategoryValidation).
				Context("path", license).
				Build()
		}
		c.addFile(license, LicenseDir+"/"+name, homeFileMode)
		return nil
	}
}

// WithConfig replaces /opt/hivemq/conf/config.xml with the given file.
func WithConfig(configFile string) Option {
	return func(c *config) error {
		if _, err := os.Stat(configFile); err != nil {
			return fileNotFound(configFile)
		}
		c.addFile(configFile, ConfigFile, homeFileMode)
		return nil
	}
}

// WithFileInHome copies a file or directory into /opt/hivemq/<pathInHome>/.
// Missing folders are created. Directories are copied file by file, so empty
// sub-directories are not recreated in the container.
func WithFileInHome(file, pathInHome string) Option {
	return func(c *config) error {
		return c.addHomeFile(file, pathInHome)
	}
}

// WithFileInExtensionHome copies a file or directory into
// /opt/hivemq/extensions/<extensionID>/<pathInExtensionHome>/. The extension
// must be deployed by an earlier option.
func WithFileInExtensionHome(file, extensionID, pathInExtensionHome string) Option {
	return func(c *config) error {
		if extensionID == "" {
			return invalidOption("extension id must not be empty")
		}
		return c.addHomeFile(file, extensionHomePath(extensionID, pathInExtensionHome))
	}
}

// WithSilent stops echoing container output.
func WithSilent(silent bool) Option {
	return func(c *config) error {
		c.silent = silent
		return nil
	}
}

// WithLogOutput sets where container output is echoed. Defaults to os.Stdout.
func WithLogOutput(w io.Writer) Option {
	return func(c *config) error {
		if w == nil {
			w = io.Discard
		}
		c.logOutput = w
		return nil
	}
}

// WithLogTailSize bounds how many bytes of output Logs() retains.
func WithLogTailSize(size int) Option {
	return func(c *config) error {
		if size <= 0 {
			return invalidOption("log tail size must be positive")
		}
		c.logTailSize = size
		return nil
	}
}

// WithStartupTimeout bounds the readiness wait.
func WithStartupTimeout(d time.Duration) Option {
	return func(c *config) error {
		if d <= 0 {
			return invalidOption("startup timeout must be positive")
		}
		c.startupTimeout = d
		return nil
	}
}

// WithInitialWait sets the delay before the first MQTT readiness probe.
func WithInitialWait(d time.Duration) Option {
	return func(c *config) error {
		if d < 0 {
			return invalidOption("initial wait must not be negative")
		}
		c.initialWait = d
		return nil
	}
}

// WithStartupLogRegex replaces the MQTT readiness probe: the container is
// ready once every pattern matched a line of its log output. Useful for
// images such as HiveMQ Edge.
//
// Each pattern is searched for in one log line at a time, so ^ and $ anchor
// to the line. A pattern does not have to match the whole line and cannot
// span several lines.
func WithStartupLogRegex(patterns ...string) Option {
	return func(c *config) error {
		if len(patterns) == 0 {
			return invalidOption("at least one log pattern is required")
		}
		c.logPatterns = append(c.logPatterns, patterns...)
		return nil
	}
}

// WithWaitForExtension makes the container ready only once HiveMQ logs that
// the named extension started. Unless WithStartupLogRegex supplies the broker
// patterns, the broker's "Started HiveMQ in" line is awaited as well.
func WithWaitForExtension(name string) Option {
	return func(c *config) error {
		if name == "" {
			return invalidOption("extension name must not be empty")
		}
		c.waitExtensions = append(c.waitExtensions, name)
		return nil
	}
}

// WithWaitForExtensionOf is WithWaitForExtension for a packaged extension.
func WithWaitForExtensionOf(ext *Extension) Option {
	return func(c *config) error {
		if ext == nil {
			return invalidOption("extension must not be nil")
		}
		return WithWaitForExtension(ext.Name)(c)
	}
}

// WithWaitStrategy replaces the readiness strategy altogether.
func WithWaitStrategy(s wait.Strategy) Option {
	return func(c *config) error {
		c.waitStrategy = s
		return nil
	}
}

// WithLogger sets the library logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) error {
		c.log = logger.FromSlog(l)
		return nil
	}
}

// WithMetrics registers lifecycle metrics on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *config) error {
		c.registerer = reg
		return nil
	}
}

func (c *config) addFile(hostPath, containerPath string, mode int64) {
	c.files = append(c.files, testcontainers.ContainerFile{
		HostFilePath:      hostPath,
		ContainerFilePath: containerPath,
		FileMode:          mode,
	})
}

func (c *config) addHomeFile(file, pathInHome string) error {
	if _, err := os.Stat(file); err != nil {
		return fileNotFound(file)
	}
	c.addFile(file, homePath(pathInHome, filepath.Base(file)), homeFileMode)
	return nil
}

// containerFiles expands a directory entry into one entry per regular file
// below it, keeping the host permissions. Docker creates missing parent
// folders for copied files but not for copied directories.
func containerFiles(f testcontainers.ContainerFile) ([]testcontainers.ContainerFile, error) {
	info, err := os.Stat(f.HostFilePath)
	if err != nil {
		return nil, fileNotFound(f.HostFilePath)
	}
	if !info.IsDir() {
		return []testcontainers.ContainerFile{f}, nil
	}

	var out []testcontainers.ContainerFile
	err = filepath.WalkDir(f.HostFilePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(f.HostFilePath, p)
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, testcontainers.ContainerFile{
			HostFilePath:      p,
			ContainerFilePath: path.Join(f.ContainerFilePath, filepath.ToSlash(rel)),
			FileMode:          int64(fi.Mode().Perm()),
		})
		return nil
	})
	if err != nil {
		return nil, errors.Newf("failed to list %s: %w", f.HostFilePath, err).
			Component(component).
			Category(errors.CategoryFileIO).
			Context("path", f.HostFilePath).
			Build()
	}
	return out, nil
}

// waitStrategyFor picks the readiness strategy for the configuration.
func (c *config) waitStrategyFor() (wait.Strategy, error) {
	if c.waitStrategy != nil {
		return c.waitStrategy, nil
	}
	patterns := slices.Clone(c.logPatterns)
	if len(c.waitExtensions) > 0 {
		if len(patterns) == 0 {
			patterns = append(patterns, brokerStartedPattern)
		}
		for _, name := range c.waitExtensions {
			patterns = append(patterns, extensionStartedPattern(name).String())
		}
	}
	if len(patterns) > 0 {
		s, err := NewLogPatternsWaitStrategy(patterns...)
		if err != nil {
			return nil, invalidOption(err.Error())
		}
		return s.WithStartupTimeout(c.startupTimeout), nil
	}
	return NewMQTTWaitStrategy().
		WithStartupTimeout(c.startupTimeout).
		WithInitialWait(c.initialWait), nil
}

func invalidOption(msg string) error {
	return errors.Newf("invalid option: %s", msg).
		Component(component).
		Category(errors.CategoryValidation).
		Build()
}

func fileNotFound(p string) error {
	abs, err := filepath.Abs(p)
	if err != nil {
		abs = p
	}
	return errors.Newf("%w: %s", ErrFileNotFound, abs).
		Component(component).
		Category(errors.CategoryFileIO).
		Context("path", abs).
		Build()
}
