// Package conf loads settings for the hivemq-testcontainer command.
//
// Settings come from, in increasing precedence: built-in defaults, a YAML
// file, HIVEMQ_TC_* environment variables and command line flags. Nested keys
// map to environment variables with "." replaced by "_", so
// control_center.port becomes HIVEMQ_TC_CONTROL_CENTER_PORT.
package conf

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "HIVEMQ_TC"

// Settings configures a broker started from the command line.
type Settings struct {
	Image    string `mapstructure:"image" yaml:"image"`
	Tag      string `mapstructure:"tag" yaml:"tag"`
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	Silent   bool   `mapstructure:"silent" yaml:"silent"`

	License       string            `mapstructure:"license" yaml:"license"`
	Config        string            `mapstructure:"config" yaml:"config"`
	ExtensionDirs []string          `mapstructure:"extension_dirs" yaml:"extension_dirs"`
	Env           map[string]string `mapstructure:"env" yaml:"env"`
	Network       string            `mapstructure:"network" yaml:"network"`

	Debugging     PortSettings `mapstructure:"debugging" yaml:"debugging"`
	ControlCenter PortSettings `mapstructure:"control_center" yaml:"control_center"`

	StartupTimeout  Duration `mapstructure:"startup_timeout" yaml:"startup_timeout"`
	InitialWait     Duration `mapstructure:"initial_wait" yaml:"initial_wait"`
	StartupLogRegex []string `mapstructure:"startup_log_regex" yaml:"startup_log_regex"`

	Log     LogSettings     `mapstructure:"log" yaml:"log"`
	Metrics MetricsSettings `mapstructure:"metrics" yaml:"metrics"`
}

// PortSettings enables a fixed host port mapping.
type PortSettings struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port"`
}

// LogSettings configures the command's own log output.
type LogSettings struct {
	Level    string `mapstructure:"level" yaml:"level"`
	TimeZone string `mapstructure:"timezone" yaml:"timezone"`
}

// MetricsSettings exposes lifecycle metrics over HTTP when Listen is set.
type MetricsSettings struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// Location resolves the configured log time zone. An empty zone is local time.
func (l LogSettings) Location() (*time.Location, error) {
	if l.TimeZone == "" {
		return nil, nil
	}
	return time.LoadLocation(l.TimeZone)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("image", "hivemq/hivemq-ce")
	v.SetDefault("tag", "latest")
	v.SetDefault("log_level", "INFO")
	v.SetDefault("silent", false)
	v.SetDefault("debugging.enabled", false)
	v.SetDefault("debugging.port", 9000)
	v.SetDefault("control_center.enabled", false)
	v.SetDefault("control_center.port", 8080)
	v.SetDefault("startup_timeout", "60s")
	v.SetDefault("initial_wait", "5s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.timezone", "")
	v.SetDefault("metrics.listen", "")
	v.SetDefault("license", "")
	v.SetDefault("config", "")
	v.SetDefault("network", "")
	v.SetDefault("extension_dirs", []string{})
	v.SetDefault("startup_log_regex", []string{})
}

// Load reads settings from configFile (optional), the environment and flags.
// Flags are bound by name, so a flag "control-center-port" must be mapped
// with FlagKeys before calling Load.
func Load(configFile string, flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config file %s does not exist", configFile)
			}
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	if flags != nil {
		for key, flag := range FlagKeys {
			if f := flags.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", flag, err)
				}
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// FlagKeys maps settings keys to the command line flags that override them.
var FlagKeys = map[string]string{
	"image":                  "image",
	"tag":                    "tag",
	"log_level":              "log-level",
	"silent":                 "silent",
	"license":                "license",
	"config":                 "hivemq-config",
	"extension_dirs":         "extension-dir",
	"network":                "network",
	"debugging.enabled":      "debug",
	"debugging.port":         "debug-port",
	"control_center.enabled": "control-center",
	"control_center.port":    "control-center-port",
	"startup_timeout":        "startup-timeout",
	"initial_wait":           "initial-wait",
	"startup_log_regex":      "startup-log-regex",
	"log.level":              "verbosity",
	"metrics.listen":         "metrics-listen",
}

// Validate rejects settings that cannot start a broker.
func (s *Settings) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Image) == "" {
		errs = append(errs, errors.New("image must not be empty"))
	}
	if s.StartupTimeout <= 0 {
		errs = append(errs, errors.New("startup_timeout must be positive"))
	}
	if s.InitialWait < 0 {
		errs = append(errs, errors.New("initial_wait must not be negative"))
	}
	for name, p := range map[string]PortSettings{"debugging": s.Debugging, "control_center": s.ControlCenter} {
		if p.Enabled && (p.Port < 1 || p.Port > 65535) {
			errs = append(errs, fmt.Errorf("%s.port %d is out of range", name, p.Port))
		}
	}
	if _, err := s.Log.Location(); err != nil {
		errs = append(errs, fmt.Errorf("log.timezone: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid settings: %w", errors.Join(errs...))
	}
	return nil
}
