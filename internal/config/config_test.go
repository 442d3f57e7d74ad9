package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robalobadob/realeffort/internal/session"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaults_AreValid(t *testing.T) {
	c := Defaults()
	require.NoError(t, c.Validate())
	assert.Equal(t, session.Params{
		RetryDelay:        time.Second,
		PuzzleDelay:       2 * time.Second,
		AttemptsPerPuzzle: 1,
		MaxIterations:     10,
	}, c.SessionParams())
}

func TestApplyEnv(t *testing.T) {
	c := Defaults()
	err := c.applyEnv(env(map[string]string{
		"PORT":                "8080",
		"DB_DRIVER":           "memory",
		"NODE_ENV":            "production",
		"DEBUG":               "true",
		"TASK_TIMEOUT":        "500ms",
		"TASK_VARIANT":        "transcription",
		"RETRY_DELAY":         "0.5",
		"ATTEMPTS_PER_PUZZLE": "3",
		"MAX_ITERATIONS":      "20",
		"HIGH_WAGE_RATE":      "0.2",
		"CURRENCY":            "USD",
	}))
	require.NoError(t, err)

	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, "memory", c.DBDriver)
	assert.True(t, c.Production)
	assert.True(t, c.Debug)
	assert.Equal(t, 500*time.Millisecond, c.TaskTimeout)
	assert.Equal(t, "transcription", c.Experiment.TaskVariant)
	assert.Equal(t, 0.5, c.Experiment.Task.RetryDelay)
	assert.Equal(t, 2.0, c.Experiment.Task.PuzzleDelay, "unset keeps default")
	assert.Equal(t, 3, c.Experiment.Task.AttemptsPerPuzzle)
	assert.Equal(t, 20, c.Experiment.Task.MaxIterations)
	assert.Equal(t, 0.2, c.Experiment.HighWageRate)
	assert.Equal(t, 0.05, c.Experiment.LowWageRate)
	assert.Equal(t, "USD", c.Experiment.Currency)
	assert.NoError(t, c.Validate())
}

func TestApplyEnv_CollectsParseErrors(t *testing.T) {
	c := Defaults()
	err := c.applyEnv(env(map[string]string{
		"MAX_ITERATIONS": "ten",
		"RETRY_DELAY":    "soon",
		"DEBUG":          "maybe",
		"TASK_TIMEOUT":   "2",
	}))
	require.Error(t, err)
	for _, key := range []string{"MAX_ITERATIONS", "RETRY_DELAY", "DEBUG", "TASK_TIMEOUT"} {
		assert.Contains(t, err.Error(), key)
	}
	assert.Equal(t, 10, c.Experiment.Task.MaxIterations)
}

func TestApplyFile_OverlaysExperiment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiment.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
task_variant: transcription
high_wage_rate: 0.25
task:
  retry_delay: 0
  puzzle_delay: 1.5
  attempts_per_puzzle: 2
  max_iterations: 5
`), 0o644))

	c := Defaults()
	require.NoError(t, c.applyFile(path))

	assert.Equal(t, "transcription", c.Experiment.TaskVariant)
	assert.Equal(t, 0.25, c.Experiment.HighWageRate)
	assert.Equal(t, 0.05, c.Experiment.LowWageRate)
	assert.Equal(t, "EUR", c.Experiment.Currency)
	assert.Equal(t, TaskParams{RetryDelay: 0, PuzzleDelay: 1.5, AttemptsPerPuzzle: 2, MaxIterations: 5}, c.Experiment.Task)
	assert.Equal(t, 1500*time.Millisecond, c.SessionParams().PuzzleDelay)
}

func TestApplyFile_Errors(t *testing.T) {
	c := Defaults()
	assert.Error(t, c.applyFile(filepath.Join(t.TempDir(), "missing.yaml")))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("task: [1, 2"), 0o644))
	assert.Error(t, c.applyFile(path))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"negative retry delay", func(c *Config) { c.Experiment.Task.RetryDelay = -1 }, "retry_delay"},
		{"negative puzzle delay", func(c *Config) { c.Experiment.Task.PuzzleDelay = -1 }, "puzzle_delay"},
		{"no attempts", func(c *Config) { c.Experiment.Task.AttemptsPerPuzzle = 0 }, "attempts_per_puzzle"},
		{"no iterations", func(c *Config) { c.Experiment.Task.MaxIterations = 0 }, "max_iterations"},
		{"negative wage", func(c *Config) { c.Experiment.LowWageRate = -0.1 }, "wage rates"},
		{"unknown variant", func(c *Config) { c.Experiment.TaskVariant = "sudoku" }, "task_variant"},
		{"bad currency", func(c *Config) { c.Experiment.Currency = "euro" }, "currency"},
		{"bad driver", func(c *Config) { c.DBDriver = "mysql" }, "DB_DRIVER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Defaults()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
