package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hivemq/hivemq-testcontainer-go/hivemq"
	"github.com/hivemq/hivemq-testcontainer-go/internal/conf"
	"github.com/hivemq/hivemq-testcontainer-go/internal/logger"
)

const stopTimeout = 30 * time.Second

var startBroker = hivemq.Run

func runCmd() *cobra.Command {
	var configFile string

	c := &cobra.Command{
		Use:   "run",
		Short: "Start a HiveMQ broker and keep it running until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := conf.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBroker(ctx, settings, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	f := c.Flags()
	f.StringVar(&configFile, "config", "", "YAML settings file")
	f.String("image", hivemq.DefaultImage, "HiveMQ docker image")
	f.String("tag", hivemq.DefaultTag, "HiveMQ docker image tag")
	f.String("log-level", string(hivemq.LogLevelInfo), "broker log level: TRACE|DEBUG|INFO|WARN|ERROR")
	f.Bool("silent", false, "do not echo container output")
	f.String("license", "", "license file (.lic or .elic)")
	f.String("hivemq-config", "", "config.xml to use inside the container")
	f.StringSlice("extension-dir", nil, "packaged extension folder to deploy (repeatable)")
	f.String("network", "", "docker network to join")
	f.Bool("debug", false, "enable remote debugging")
	f.Int("debug-port", hivemq.DebuggingPort, "host port for remote debugging")
	f.Bool("control-center", false, "expose the Control Center")
	f.Int("control-center-port", hivemq.ControlCenterPort, "host port for the Control Center")
	f.String("startup-timeout", "60s", "how long to wait for the broker to become ready")
	f.String("initial-wait", "5s", "delay before the first readiness probe")
	f.StringSlice("startup-log-regex", nil, "wait for these log patterns instead of an MQTT connection")
	f.String("verbosity", "info", "log level of this command: debug|info|warn|error")
	f.String("metrics-listen", "", "serve Prometheus metrics on this address, e.g. :9464")
	return c
}

// newLogger builds the command logger from settings.
func newLogger(s *conf.Settings, w io.Writer) (*logger.SlogLogger, error) {
	loc, err := s.Log.Location()
	if err != nil {
		return nil, err
	}
	return logger.NewSlogLogger(w, logger.ParseLevel(s.Log.Level), loc), nil
}

// brokerOptions translates settings into container options.
func brokerOptions(s *conf.Settings) []hivemq.Option {
	opts := []hivemq.Option{
		hivemq.WithImage(s.Image, s.Tag),
		hivemq.WithLogLevel(hivemq.LogLevel(s.LogLevel)),
		hivemq.WithSilent(s.Silent),
		hivemq.WithStartupTimeout(s.StartupTimeout.Std()),
		hivemq.WithInitialWait(s.InitialWait.Std()),
	}
	if s.License != "" {
		opts = append(opts, hivemq.WithLicense(s.License))
	}
	if s.Config != "" {
		opts = append(opts, hivemq.WithConfig(s.Config))
	}
	for _, dir := range s.ExtensionDirs {
		opts = append(opts, hivemq.WithExtensionDir(dir))
	}
	// viper lowercases map keys; container variables are conventionally upper case.
	for k, v := range s.Env {
		opts = append(opts, hivemq.WithEnv(strings.ToUpper(k), v))
	}
	if s.Network != "" {
		opts = append(opts, hivemq.WithNetwork(s.Network))
	}
	if s.Debugging.Enabled {
		opts = append(opts, hivemq.WithDebugging(s.Debugging.Port))
	}
	if s.ControlCenter.Enabled {
		opts = append(opts, hivemq.WithControlCenter(s.ControlCenter.Port))
	}
	if len(s.StartupLogRegex) > 0 {
		opts = append(opts, hivemq.WithStartupLogRegex(s.StartupLogRegex...))
	}
	return opts
}

func runBroker(ctx context.Context, s *conf.Settings, out, errOut io.Writer) error {
	log, err := newLogger(s, errOut)
	if err != nil {
		return err
	}

	opts := append(brokerOptions(s), hivemq.WithLogger(log.Slog()), hivemq.WithLogOutput(errOut))

	if s.Metrics.Listen != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, hivemq.WithMetrics(reg))
		shutdown := serveMetrics(s.Metrics.Listen, reg, log)
		defer shutdown()
	}

	broker, err := startBroker(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to start HiveMQ: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := broker.Stop(stopCtx); err != nil {
			log.Error("failed to stop HiveMQ", logger.Error(err))
		}
	}()

	if err := printEndpoints(ctx, out, broker, s.ControlCenter.Enabled); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

func printEndpoints(ctx context.Context, out io.Writer, broker *hivemq.Container, controlCenter bool) error {
	url, err := broker.BrokerURL()
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(out, "HiveMQ is running at %s\n", url); err != nil {
		return err
	}
	if !controlCenter {
		return nil
	}
	ccURL, err := broker.ControlCenterURL(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "Control Center at %s\n", ccURL)
	return err
}

// serveMetrics exposes reg on addr until the returned function is called.
func serveMetrics(addr string, reg *prometheus.Registry, log logger.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", logger.Error(err), logger.String("addr", addr))
		}
	}()
	log.Info("serving metrics", logger.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
