package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceConfig overrides engine settings for a single backend.
type SourceConfig struct {
	Enabled   *bool         `yaml:"enabled"`
	MinDelay  time.Duration `yaml:"min_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
	BatchSize int           `yaml:"batch_size"`
}

// Config holds harvester configuration.
type Config struct {
	StateDir          string        `yaml:"state_dir"`
	OutputDir         string        `yaml:"output_dir"`
	OutputFormat      string        `yaml:"output_format"` // json, csv, or dual
	CheckpointBackend string        `yaml:"checkpoint_backend"`
	BatchSize         int           `yaml:"batch_size"`
	EmptyPageStreak   int           `yaml:"empty_page_streak"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	RetryJitter       time.Duration `yaml:"retry_jitter"`
	RetryBackoffMax   time.Duration `yaml:"retry_backoff_max"`
	MinDelay          time.Duration `yaml:"min_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	WaitStep          time.Duration `yaml:"wait_step"`
	MaxRPS            float64       `yaml:"max_rps"`
	SessionRefresh    time.Duration `yaml:"session_refresh"`
	Timeout           time.Duration `yaml:"timeout"`
	UserAgent         string        `yaml:"user_agent"`
	MetricsAddr       string        `yaml:"metrics_addr"`
	Verbose           bool          `yaml:"verbose"`
	StopKey           string        `yaml:"stop_key"`
	RedisURL          string        `yaml:"redis_url"`
	RedisStopKey      string        `yaml:"redis_stop_key"`

	Sources map[string]SourceConfig `yaml:"sources"`
}

// DefaultConfig returns conservative defaults. Store-specific politeness
// lives in the config file, see harvester.example.yaml.
func DefaultConfig() *Config {
	return &Config{
		StateDir:          "state",
		OutputDir:         "output",
		OutputFormat:      "json",
		CheckpointBackend: "file",
		BatchSize:         1000,
		EmptyPageStreak:   3,
		MaxAttempts:       3,
		RetryBackoff:      1500 * time.Millisecond,
		RetryJitter:       500 * time.Millisecond,
		RetryBackoffMax:   10 * time.Second,
		MinDelay:          2 * time.Second,
		MaxDelay:          5 * time.Second,
		WaitStep:          100 * time.Millisecond,
		MaxRPS:            2,
		SessionRefresh:    8 * time.Minute,
		Timeout:           30 * time.Second,
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/140.0.0.0 Safari/537.36",
		StopKey:           "n",
		RedisStopKey:      "harvester:stop",
		Sources:           make(map[string]SourceConfig),
	}
}

// Load reads a YAML file over the defaults, expanding ${ENV} references.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	var fileCfg Config
	if err := yaml.Unmarshal([]byte(expanded), &fileCfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.merge(&fileCfg)
	return cfg, nil
}

func (c *Config) merge(o *Config) {
	setString(&c.StateDir, o.StateDir)
	setString(&c.OutputDir, o.OutputDir)
	setString(&c.OutputFormat, o.OutputFormat)
	setString(&c.CheckpointBackend, o.CheckpointBackend)
	setString(&c.UserAgent, o.UserAgent)
	setString(&c.MetricsAddr, o.MetricsAddr)
	setString(&c.StopKey, o.StopKey)
	setString(&c.RedisURL, o.RedisURL)
	setString(&c.RedisStopKey, o.RedisStopKey)
	setInt(&c.BatchSize, o.BatchSize)
	setInt(&c.EmptyPageStreak, o.EmptyPageStreak)
	setInt(&c.MaxAttempts, o.MaxAttempts)
	setDuration(&c.RetryBackoff, o.RetryBackoff)
	setDuration(&c.RetryJitter, o.RetryJitter)
	setDuration(&c.RetryBackoffMax, o.RetryBackoffMax)
	setDuration(&c.MinDelay, o.MinDelay)
	setDuration(&c.MaxDelay, o.MaxDelay)
	setDuration(&c.WaitStep, o.WaitStep)
	setDuration(&c.SessionRefresh, o.SessionRefresh)
	setDuration(&c.Timeout, o.Timeout)
	if o.MaxRPS > 0 {
		c.MaxRPS = o.MaxRPS
	}
	if o.Verbose {
		c.Verbose = true
	}
	for name, sc := range o.Sources {
		base := c.Sources[name]
		if sc.Enabled != nil {
			base.Enabled = sc.Enabled
		}
		setDuration(&base.MinDelay, sc.MinDelay)
		setDuration(&base.MaxDelay, sc.MaxDelay)
		setInt(&base.BatchSize, sc.BatchSize)
		if c.Sources == nil {
			c.Sources = make(map[string]SourceConfig)
		}
		c.Sources[name] = base
	}
}

// ApplyEnv overrides settings from HARVEST_* environment variables.
func (c *Config) ApplyEnv() error {
	if v, ok := EnvString("HARVEST_STATE_DIR"); ok {
		c.StateDir = v
	}
	if v, ok := EnvString("HARVEST_OUTPUT_DIR"); ok {
		c.OutputDir = v
	}
	if v, ok := EnvString("HARVEST_OUTPUT_FORMAT"); ok {
		c.OutputFormat = strings.ToLower(v)
	}
	if v, ok := EnvString("HARVEST_CHECKPOINT_BACKEND"); ok {
		c.CheckpointBackend = strings.ToLower(v)
	}
	if v, ok := EnvString("HARVEST_METRICS_ADDR"); ok {
		c.MetricsAddr = v
	}
	if v, ok := EnvString("HARVEST_REDIS_URL"); ok {
		c.RedisURL = v
	}
	if v, ok, err := EnvInt("HARVEST_BATCH_SIZE"); err != nil {
		return fmt.Errorf("invalid HARVEST_BATCH_SIZE: %w", err)
	} else if ok {
		c.BatchSize = v
	}
	if v, ok, err := EnvInt("HARVEST_MAX_ATTEMPTS"); err != nil {
		return fmt.Errorf("invalid HARVEST_MAX_ATTEMPTS: %w", err)
	} else if ok {
		c.MaxAttempts = v
	}
	if v, ok, err := EnvDuration("HARVEST_TIMEOUT"); err != nil {
		return fmt.Errorf("invalid HARVEST_TIMEOUT: %w", err)
	} else if ok {
		c.Timeout = v
	}
	if v, ok, err := EnvDuration("HARVEST_SESSION_REFRESH"); err != nil {
		return fmt.Errorf("invalid HARVEST_SESSION_REFRESH: %w", err)
	} else if ok {
		c.SessionRefresh = v
	}
	return nil
}

// ForSource returns a copy of the config with the per-source overrides applied.
func (c *Config) ForSource(name string) *Config {
	out := *c
	sc, ok := c.Sources[name]
	if !ok {
		return &out
	}
	setDuration(&out.MinDelay, sc.MinDelay)
	setDuration(&out.MaxDelay, sc.MaxDelay)
	setInt(&out.BatchSize, sc.BatchSize)
	if out.MaxDelay < out.MinDelay {
		out.MaxDelay = out.MinDelay
	}
	return &out
}

// SourceEnabled reports whether a source is enabled; sources are enabled unless disabled explicitly.
func (c *Config) SourceEnabled(name string) bool {
	sc, ok := c.Sources[name]
	if !ok || sc.Enabled == nil {
		return true
	}
	return *sc.Enabled
}

// EnabledSources filters names down to the enabled ones, sorted.
func (c *Config) EnabledSources(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if c.SourceEnabled(n) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.StateDir == "" {
		return fmt.Errorf("state dir cannot be empty")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output dir cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.CheckpointBackend != "file" && c.CheckpointBackend != "sqlite" {
		return fmt.Errorf("checkpoint backend must be file or sqlite")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.EmptyPageStreak <= 0 {
		return fmt.Errorf("empty page streak must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryJitter < 0 {
		return fmt.Errorf("retry jitter cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.MinDelay < 0 || c.MaxDelay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.MaxDelay < c.MinDelay {
		return fmt.Errorf("max delay (%s) cannot be below min delay (%s)", c.MaxDelay, c.MinDelay)
	}
	if c.WaitStep <= 0 {
		return fmt.Errorf("wait step must be positive")
	}
	if c.MaxRPS < 0 {
		return fmt.Errorf("max rps cannot be negative")
	}
	if c.SessionRefresh <= 0 {
		return fmt.Errorf("session refresh must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	for name, sc := range c.Sources {
		if sc.BatchSize < 0 {
			return fmt.Errorf("source %s: batch size cannot be negative", name)
		}
		if sc.MinDelay < 0 || sc.MaxDelay < 0 {
			return fmt.Errorf("source %s: delay cannot be negative", name)
		}
	}
	return nil
}

// EnvString returns a non-empty environment value.
func EnvString(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return "", false
	}
	return v, true
}

// EnvInt parses an integer environment value.
func EnvInt(key string) (int, bool, error) {
	v, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// EnvDuration parses a time.Duration environment value such as "30s".
func EnvDuration(key string) (time.Duration, bool, error) {
	v, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false, err
	}
	return d, true, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}
