package conf

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_JSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(Duration(90 * time.Second))
	require.NoError(t, err)
	assert.JSONEq(t, `"1m30s"`, string(b))

	tests := []struct {
		name     string
		input    string
		expected Duration
	}{
		{"string", `"30s"`, Duration(30 * time.Second)},
		{"composite", `"1h30m"`, Duration(90 * time.Minute)},
		{"seconds", `45`, Duration(45 * time.Second)},
		{"null", `null`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := Duration(time.Hour)
			require.NoError(t, json.Unmarshal([]byte(tt.input), &d))
			assert.Equal(t, tt.expected, d)
		})
	}

	var d Duration
	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
	assert.Error(t, json.Unmarshal([]byte(`true`), &d))
}

func TestDuration_YAML(t *testing.T) {
	t.Parallel()

	var cfg struct {
		Timeout Duration `yaml:"timeout"`
		Wait    Duration `yaml:"wait"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("timeout: 2m\nwait: 5\n"), &cfg))
	assert.Equal(t, Duration(2*time.Minute), cfg.Timeout)
	assert.Equal(t, Duration(5*time.Second), cfg.Wait)

	out, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(out), "timeout: 2m0s")

	assert.Error(t, yaml.Unmarshal([]byte("timeout: later\n"), &cfg))
	assert.Error(t, yaml.Unmarshal([]byte("timeout: [1, 2]\n"), &cfg))
}

func TestDurationDecodeHook(t *testing.T) {
	t.Parallel()

	var target struct {
		Startup Duration      `mapstructure:"startup"`
		Initial Duration      `mapstructure:"initial"`
		Plain   time.Duration `mapstructure:"plain"`
		Ports   []string      `mapstructure:"ports"`
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: DurationDecodeHook(),
		Result:     &target,
	})
	require.NoError(t, err)

	require.NoError(t, dec.Decode(map[string]any{
		"startup": "90s",
		"initial": 3,
		"plain":   "1m",
		"ports":   "1883,8080",
	}))
	assert.Equal(t, Duration(90*time.Second), target.Startup)
	assert.Equal(t, Duration(3*time.Second), target.Initial)
	assert.Equal(t, time.Minute, target.Plain)
	assert.Equal(t, []string{"1883", "8080"}, target.Ports)
}
