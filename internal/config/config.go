// internal/config/config.go
//
// Runtime configuration for the server and the experiment session.
//
// Sources, later ones win:
//   1. Built-in defaults.
//   2. Environment variables (a .env file is loaded by main via godotenv).
//   3. The YAML experiment file named by EXPERIMENT_FILE, field by field.
//
// Environment variables:
//   PORT, LOG_LEVEL, LOG_FORMAT, DB_DRIVER, DB_DSN, JWT_SECRET, JWT_EXPIRES_DAYS,
//   COOKIE_NAME, CLIENT_ORIGIN, NODE_ENV, DEBUG, ADMIN_USER, ADMIN_PASSWORD_HASH,
//   EXPERIMENT_FILE, TASK_TIMEOUT, TASK_VARIANT, RETRY_DELAY, PUZZLE_DELAY,
//   ATTEMPTS_PER_PUZZLE, MAX_ITERATIONS, HIGH_WAGE_RATE, LOW_WAGE_RATE, CURRENCY

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"gopkg.in/yaml.v3"

	"github.com/robalobadob/realeffort/internal/session"
	"github.com/robalobadob/realeffort/internal/task"
)

// TaskParams mirrors the per-session task parameters as sent to the client.
type TaskParams struct {
	RetryDelay        float64 `yaml:"retry_delay" json:"retry_delay"`
	PuzzleDelay       float64 `yaml:"puzzle_delay" json:"puzzle_delay"`
	AttemptsPerPuzzle int     `yaml:"attempts_per_puzzle" json:"attempts_per_puzzle"`
	MaxIterations     int     `yaml:"max_iterations" json:"max_iterations"`
}

// Experiment holds the session-level settings an experimenter tunes.
type Experiment struct {
	TaskVariant  string     `yaml:"task_variant"`
	Task         TaskParams `yaml:"task"`
	HighWageRate float64    `yaml:"high_wage_rate"`
	LowWageRate  float64    `yaml:"low_wage_rate"`
	Currency     string     `yaml:"currency"`
}

// Config is the full server configuration.
type Config struct {
	Port              string
	LogLevel          string
	LogFormat         string
	DBDriver          string
	DBDSN             string
	JWTSecret         string
	JWTExpiresDays    int
	CookieName        string
	ClientOrigin      string
	Production        bool
	Debug             bool
	AdminUser         string
	AdminPasswordHash string
	TaskTimeout       time.Duration
	ExperimentFile    string
	Experiment        Experiment
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Port:           "5175",
		LogLevel:       "info",
		LogFormat:      "json",
		DBDriver:       "sqlite3",
		DBDSN:          "./data/realeffort.db",
		JWTSecret:      "dev_secret_change_me",
		JWTExpiresDays: 1,
		CookieName:     "realeffort_token",
		ClientOrigin:   "http://localhost:5173",
		AdminUser:      "admin",
		TaskTimeout:    2 * time.Second,
		Experiment: Experiment{
			TaskVariant: task.MatrixName,
			Task: TaskParams{
				RetryDelay:        1.0,
				PuzzleDelay:       2.0,
				AttemptsPerPuzzle: 1,
				MaxIterations:     10,
			},
			HighWageRate: 0.10,
			LowWageRate:  0.05,
			Currency:     "EUR",
		},
	}
}

// Load builds the configuration from defaults, environment and experiment file.
func Load() (Config, error) {
	c := Defaults()
	if err := c.applyEnv(os.Getenv); err != nil {
		return c, err
	}
	if c.ExperimentFile != "" {
		if err := c.applyFile(c.ExperimentFile); err != nil {
			return c, err
		}
	}
	return c, c.Validate()
}

func (c *Config) applyEnv(getenv func(string) string) error {
	var errs []error
	str := func(k string, dst *string) {
		if v := getenv(k); v != "" {
			*dst = v
		}
	}
	integer := func(k string, dst *int) {
		if v := getenv(k); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", k, err))
				return
			}
			*dst = n
		}
	}
	float := func(k string, dst *float64) {
		if v := getenv(k); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", k, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(k string, dst *bool) {
		if v := getenv(k); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", k, err))
				return
			}
			*dst = b
		}
	}

	str("PORT", &c.Port)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("DB_DRIVER", &c.DBDriver)
	str("DB_DSN", &c.DBDSN)
	str("JWT_SECRET", &c.JWTSecret)
	integer("JWT_EXPIRES_DAYS", &c.JWTExpiresDays)
	str("COOKIE_NAME", &c.CookieName)
	str("CLIENT_ORIGIN", &c.ClientOrigin)
	c.Production = c.Production || getenv("NODE_ENV") == "production"
	boolean("DEBUG", &c.Debug)
	str("ADMIN_USER", &c.AdminUser)
	str("ADMIN_PASSWORD_HASH", &c.AdminPasswordHash)
	str("EXPERIMENT_FILE", &c.ExperimentFile)
	if v := getenv("TASK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("TASK_TIMEOUT: %w", err))
		} else {
			c.TaskTimeout = d
		}
	}

	e := &c.Experiment
	str("TASK_VARIANT", &e.TaskVariant)
	float("RETRY_DELAY", &e.Task.RetryDelay)
	float("PUZZLE_DELAY", &e.Task.PuzzleDelay)
	integer("ATTEMPTS_PER_PUZZLE", &e.Task.AttemptsPerPuzzle)
	integer("MAX_ITERATIONS", &e.Task.MaxIterations)
	float("HIGH_WAGE_RATE", &e.HighWageRate)
	float("LOW_WAGE_RATE", &e.LowWageRate)
	str("CURRENCY", &e.Currency)

	return errors.Join(errs...)
}

// applyFile overlays the YAML experiment file. Keys missing from the file
// keep their current values.
func (c *Config) applyFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read experiment file: %w", err)
	}
	if err := yaml.Unmarshal(b, &c.Experiment); err != nil {
		return fmt.Errorf("parse experiment file %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the session cannot run with.
func (c Config) Validate() error {
	var errs []error
	e := c.Experiment
	if e.Task.RetryDelay < 0 {
		errs = append(errs, errors.New("retry_delay must not be negative"))
	}
	if e.Task.PuzzleDelay < 0 {
		errs = append(errs, errors.New("puzzle_delay must not be negative"))
	}
	if e.Task.AttemptsPerPuzzle < 1 {
		errs = append(errs, errors.New("attempts_per_puzzle must be at least 1"))
	}
	if e.Task.MaxIterations < 1 {
		errs = append(errs, errors.New("max_iterations must be at least 1"))
	}
	if e.HighWageRate < 0 || e.LowWageRate < 0 {
		errs = append(errs, errors.New("wage rates must not be negative"))
	}
	if !contains(task.Names(), e.TaskVariant) {
		errs = append(errs, fmt.Errorf("unknown task_variant %q", e.TaskVariant))
	}
	if _, err := currency.ParseISO(e.Currency); err != nil {
		errs = append(errs, fmt.Errorf("currency %q: %w", e.Currency, err))
	}
	switch strings.ToLower(c.DBDriver) {
	case "sqlite3", "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver))
	}
	return errors.Join(errs...)
}

// SessionParams converts the task parameters for the session protocol.
func (c Config) SessionParams() session.Params {
	t := c.Experiment.Task
	return session.Params{
		RetryDelay:        seconds(t.RetryDelay),
		PuzzleDelay:       seconds(t.PuzzleDelay),
		AttemptsPerPuzzle: t.AttemptsPerPuzzle,
		MaxIterations:     t.MaxIterations,
	}
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
