package hivemq

import (
	"context"
	"fmt"
	"io"
	"net"
	"regexp"
	"slices"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/time/rate"
)

const (
	defaultStartupTimeout = 60 * time.Second
	defaultInitialWait    = 5 * time.Second
	defaultRetryInterval  = 500 * time.Millisecond
	probeConnectTimeout   = 5 * time.Second

	brokerStartedPattern = `Started HiveMQ in`
)

// extensionStartedPattern matches HiveMQ's log line for a started extension.
// The name is matched literally.
func extensionStartedPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`Extension "` + regexp.QuoteMeta(name) + `" version .* started successfully`)
}

func extensionStoppedPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`Extension "` + regexp.QuoteMeta(name) + `" version .* stopped successfully`)
}

// probeFunc performs one readiness attempt.
type probeFunc func(ctx context.Context) error

// MQTTWaitStrategy waits until the broker accepts an MQTT connection on the
// mapped MQTT port.
type MQTTWaitStrategy struct {
	startupTimeout time.Duration
	initialWait    time.Duration
	retryInterval  time.Duration
	probe          func(ctx context.Context, brokerURL string) error
}

var _ wait.Strategy = (*MQTTWaitStrategy)(nil)

// NewMQTTWaitStrategy returns the default MQTT readiness strategy.
func NewMQTTWaitStrategy() *MQTTWaitStrategy {
	return &MQTTWaitStrategy{
		startupTimeout: defaultStartupTimeout,
		initialWait:    defaultInitialWait,
		retryInterval:  defaultRetryInterval,
		probe:          connectProbe,
	}
}

// WithStartupTimeout bounds the whole wait.
func (s *MQTTWaitStrategy) WithStartupTimeout(d time.Duration) *MQTTWaitStrategy {
	s.startupTimeout = d
	return s
}

// WithInitialWait sets the delay before the first connection attempt.
func (s *MQTTWaitStrategy) WithInitialWait(d time.Duration) *MQTTWaitStrategy {
	s.initialWait = d
	return s
}

// WithRetryInterval sets the pause between connection attempts.
func (s *MQTTWaitStrategy) WithRetryInterval(d time.Duration) *MQTTWaitStrategy {
	s.retryInterval = d
	return s
}

// Timeout implements wait.StrategyTimeout.
func (s *MQTTWaitStrategy) Timeout() *time.Duration {
	return &s.startupTimeout
}

// WaitUntilReady implements wait.Strategy.
func (s *MQTTWaitStrategy) WaitUntilReady(ctx context.Context, target wait.StrategyTarget) error {
	ctx, cancel := context.WithTimeout(ctx, s.startupTimeout)
	defer cancel()

	host, err := target.Host(ctx)
	if err != nil {
		return fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := target.MappedPort(ctx, mqttPort)
	if err != nil {
		return fmt.Errorf("failed to get mapped MQTT port: %w", err)
	}
	brokerURL := "tcp://" + net.JoinHostPort(host, port.Port())

	err = pollUntilReady(ctx, s.initialWait, s.retryInterval, func(ctx context.Context) error {
		return s.probe(ctx, brokerURL)
	})
	if err != nil {
		return fmt.Errorf("broker at %s did not accept MQTT connections within %s: %w",
			brokerURL, s.startupTimeout, err)
	}
	return nil
}

// connectProbe connects and disconnects a throwaway MQTT client.
func connectProbe(ctx context.Context, brokerURL string) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID("healthcheck-" + uuid.NewString())
	opts.SetConnectTimeout(probeConnectTimeout)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	client := mqtt.NewClient(opts)

	timeout := probeConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if err := connectWithin(client, timeout); err != nil {
		return err
	}

	client.Disconnect(250)
	return nil
}

// connectWithin connects client and waits up to timeout for the broker to
// acknowledge. On timeout the pending attempt is aborted so a late CONNACK
// does not leave a session behind.
func connectWithin(client mqtt.Client, timeout time.Duration) error {
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return fmt.Errorf("connect timeout after %s", timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	return nil
}

// pollUntilReady waits initialWait, then runs probe at most once per interval
// until it succeeds or ctx ends. The last probe error is reported on timeout.
func pollUntilReady(ctx context.Context, initialWait, interval time.Duration, probe probeFunc) error {
	if initialWait > 0 {
		timer := time.NewTimer(initialWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("cancelled during initial wait: %w", ctx.Err())
		case <-timer.C:
		}
	}

	limiter := rate.NewLimiter(rate.Every(interval), 1)
	var lastErr error
	for {
		if err := limiter.Wait(ctx); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %w)", err, lastErr)
			}
			return err
		}
		if lastErr = probe(ctx); lastErr == nil {
			return nil
		}
	}
}

// LogPatternsWaitStrategy waits until every pattern has matched a line of the
// container log at least once.
type LogPatternsWaitStrategy struct {
	patterns       []*regexp.Regexp
	startupTimeout time.Duration
	pollInterval   time.Duration
}

var _ wait.Strategy = (*LogPatternsWaitStrategy)(nil)

// NewLogPatternsWaitStrategy compiles patterns into a strategy.
func NewLogPatternsWaitStrategy(patterns ...string) (*LogPatternsWaitStrategy, error) {
	s := &LogPatternsWaitStrategy{
		startupTimeout: defaultStartupTimeout,
		pollInterval:   100 * time.Millisecond,
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid log pattern %q: %w", p, err)
		}
		s.patterns = append(s.patterns, re)
	}
	return s, nil
}

// WithStartupTimeout bounds the whole wait.
func (s *LogPatternsWaitStrategy) WithStartupTimeout(d time.Duration) *LogPatternsWaitStrategy {
	s.startupTimeout = d
	return s
}

// Timeout implements wait.StrategyTimeout.
func (s *LogPatternsWaitStrategy) Timeout() *time.Duration {
	return &s.startupTimeout
}

// WaitUntilReady implements wait.Strategy.
func (s *LogPatternsWaitStrategy) WaitUntilReady(ctx context.Context, target wait.StrategyTarget) error {
	if len(s.patterns) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.startupTimeout)
	defer cancel()

	matched := make([]bool, len(s.patterns))
	err := pollUntilReady(ctx, 0, s.pollInterval, func(ctx context.Context) error {
		logs, err := readLogs(ctx, target)
		if err != nil {
			return err
		}
		if matchAll(s.patterns, matched, logs) {
			return nil
		}
		return fmt.Errorf("waiting for log patterns %s", s.pending(matched))
	})
	if err != nil {
		return fmt.Errorf("timed out waiting for log output matching %s: %w", s.pending(matched), err)
	}
	return nil
}

func (s *LogPatternsWaitStrategy) pending(matched []bool) string {
	var out []string
	for i, re := range s.patterns {
		if !matched[i] {
			out = append(out, "'"+re.String()+"'")
		}
	}
	return "[" + strings.Join(out, ", ") + "]"
}

// matchAll marks every pattern found in a line of logs and reports whether
// all patterns have matched so far.
func matchAll(patterns []*regexp.Regexp, matched []bool, logs string) bool {
	for line := range strings.Lines(logs) {
		line = strings.TrimRight(line, "\r\n")
		for i, re := range patterns {
			if !matched[i] && re.MatchString(line) {
				matched[i] = true
			}
		}
	}
	return !slices.Contains(matched, false)
}

func readLogs(ctx context.Context, target wait.StrategyTarget) (string, error) {
	rc, err := target.Logs(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read container logs: %w", err)
	}
	defer func() { _ = rc.Close() }()

	b, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("failed to read container logs: %w", err)
	}
	return string(b), nil
}
