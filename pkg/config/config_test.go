package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/bjorn-manager/pkg/logger"
)

type sampleConfig struct {
	Name    string   `json:"name"`
	Timeout Duration `json:"timeout"`
}

var errMissingName = errors.New("name is required")

func (c *sampleConfig) Validate() error {
	if c.Name == "" {
		return errMissingName
	}

	return nil
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoadAndValidate(t *testing.T) {
	loader := NewLoader(logger.NewTestLogger())
	path := writeConfig(t, `{"name": "manager", "timeout": "90s"}`)

	var cfg sampleConfig
	require.NoError(t, loader.LoadAndValidate(path, &cfg))

	assert.Equal(t, "manager", cfg.Name)
	assert.Equal(t, 90*time.Second, cfg.Timeout.AsDuration())
}

func TestLoadAndValidateRejectsInvalidConfig(t *testing.T) {
	loader := NewLoader(logger.NewTestLogger())
	path := writeConfig(t, `{"timeout": "5s"}`)

	var cfg sampleConfig
	err := loader.LoadAndValidate(path, &cfg)

	require.ErrorIs(t, err, errMissingName)
}

func TestLoadAndValidateMissingFile(t *testing.T) {
	loader := NewLoader(logger.NewTestLogger())

	var cfg sampleConfig
	require.Error(t, loader.LoadAndValidate(filepath.Join(t.TempDir(), "nope.json"), &cfg))
}

func TestDurationUnmarshal(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
		fails bool
	}{
		{input: `"90s"`, want: 90 * time.Second},
		{input: `"1h30m"`, want: 90 * time.Minute},
		{input: `5000000000`, want: 5 * time.Second},
		{input: `"banana"`, fails: true},
		{input: `true`, fails: true},
	}

	for _, tt := range tests {
		var d Duration

		err := json.Unmarshal([]byte(tt.input), &d)
		if tt.fails {
			assert.Error(t, err, "input %s", tt.input)
			continue
		}

		require.NoError(t, err, "input %s", tt.input)
		assert.Equal(t, tt.want, d.AsDuration(), "input %s", tt.input)
	}
}

func TestDurationMarshalRoundTrip(t *testing.T) {
	data, err := json.Marshal(Duration(90 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))
}
