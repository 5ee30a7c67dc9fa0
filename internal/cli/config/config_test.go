package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/coral-trace/internal/config"
)

func TestNewConfigCmd(t *testing.T) {
	cmd := NewConfigCmd()
	require.NotNil(t, cmd)
	assert.Equal(t, "config", cmd.Use)

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["show"])
	assert.True(t, names["validate"])
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestShow(t *testing.T) {
	path := writeConfig(t, "threshold_millis: 250\nstuck_threshold_millis: -1\n")

	tests := []struct {
		name          string
		args          []string
		wantThreshold int64
		wantStuck     int64
	}{
		{name: "file", args: []string{"show", "--config", path}, wantThreshold: 250, wantStuck: -1},
		{name: "defaults", args: []string{"show", "--config", path, "--defaults"}, wantThreshold: 3000, wantStuck: 180000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			cmd := NewConfigCmd()
			cmd.SetOut(&out)
			cmd.SetArgs(tt.args)
			require.NoError(t, cmd.Execute())

			var cfg config.Config
			require.NoError(t, yaml.Unmarshal(out.Bytes(), &cfg))
			assert.Equal(t, tt.wantThreshold, cfg.ThresholdMillis)
			assert.Equal(t, tt.wantStuck, cfg.StuckThresholdMillis)
		})
	}
}

func TestValidate(t *testing.T) {
	good := writeConfig(t, "poll_interval_millis: 50\n")
	unknownKey := writeConfig(t, "poll_interval: 50\n")
	badValue := writeConfig(t, "poll_interval_millis: 0\n")
	missing := filepath.Join(t.TempDir(), "missing.yaml")

	tests := []struct {
		name      string
		paths     []string
		wantErr   bool
		wantValid map[string]bool
	}{
		{
			name:      "valid",
			paths:     []string{good},
			wantValid: map[string]bool{good: true},
		},
		{
			name:      "mixed",
			paths:     []string{good, unknownKey, badValue, missing},
			wantErr:   true,
			wantValid: map[string]bool{good: true, unknownKey: false, badValue: false, missing: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			cmd := NewConfigCmd()
			cmd.SetOut(&out)
			cmd.SetArgs(append([]string{"validate", "-o", "json"}, tt.paths...))
			err := cmd.Execute()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}

			var report struct {
				Results []validationResult `json:"results"`
			}
			require.NoError(t, json.Unmarshal(out.Bytes(), &report))
			require.Len(t, report.Results, len(tt.paths))
			for _, r := range report.Results {
				assert.Equal(t, tt.wantValid[r.Path], r.Valid, r.Path)
				if !r.Valid {
					assert.NotEmpty(t, r.Error)
				}
			}
		})
	}
}

func TestValidate_TableOutput(t *testing.T) {
	good := writeConfig(t, "enabled: false\n")

	var out bytes.Buffer
	cmd := NewConfigCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"validate", good})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "PATH")
	assert.Contains(t, out.String(), "yes")
}

func TestValidate_RejectsFormat(t *testing.T) {
	cmd := NewConfigCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"validate", "-o", "csv", "x.yaml"})
	require.Error(t, cmd.Execute())
}
