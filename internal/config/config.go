package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hello-sally/jobwatch/internal/job"
)

// DefaultPath is where serve and watch look for a config file when
// --config is not given. A missing file at this path is not an error.
const DefaultPath = "jobwatch.yaml"

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Service       ServiceConfig       `yaml:"service"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Analysis      AnalysisConfig      `yaml:"analysis"`
	Reconcile     ReconcileConfig     `yaml:"reconcile"`
	Broadcast     BroadcastConfig     `yaml:"broadcast"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ServiceConfig points at the report service whose jobs are watched.
type ServiceConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	AuthToken      string        `yaml:"auth_token"`
}

type TranscriptionConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

type AnalysisConfig struct {
	PollInterval     time.Duration      `yaml:"poll_interval"`
	MaxAttempts      int                `yaml:"max_attempts"`
	TerminalStatuses []job.ReportStatus `yaml:"terminal_statuses"`
}

// ReconcileConfig controls the periodic re-check of followed reports.
// A zero interval disables it.
type ReconcileConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type BroadcastConfig struct {
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	DegradedAfter    int           `yaml:"degraded_after"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8090,
			Host: "127.0.0.1",
		},
		Service: ServiceConfig{
			BaseURL:        "http://127.0.0.1:8000",
			RequestTimeout: 10 * time.Second,
		},
		Transcription: TranscriptionConfig{
			PollInterval: 3 * time.Second,
			MaxAttempts:  150,
		},
		Analysis: AnalysisConfig{
			PollInterval:     2 * time.Second,
			MaxAttempts:      150,
			TerminalStatuses: append([]job.ReportStatus(nil), job.DefaultAnalysisTerminal...),
		},
		Reconcile: ReconcileConfig{
			Interval: 30 * time.Second,
		},
		Broadcast: BroadcastConfig{
			SnapshotInterval: 5 * time.Second,
			DegradedAfter:    3,
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config { return defaultConfig() }

// Load reads the YAML file at path over the defaults. When path is
// DefaultPath and the file does not exist, the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == DefaultPath {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Service.BaseURL == "" {
		errs = append(errs, errors.New("service.base_url is required"))
	} else if u, err := url.Parse(c.Service.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("service.base_url %q is not an absolute URL", c.Service.BaseURL))
	}
	if c.Transcription.PollInterval <= 0 {
		errs = append(errs, errors.New("transcription.poll_interval must be positive"))
	}
	if c.Transcription.MaxAttempts <= 0 {
		errs = append(errs, errors.New("transcription.max_attempts must be positive"))
	}
	if c.Analysis.PollInterval <= 0 {
		errs = append(errs, errors.New("analysis.poll_interval must be positive"))
	}
	if c.Analysis.MaxAttempts <= 0 {
		errs = append(errs, errors.New("analysis.max_attempts must be positive"))
	}
	for _, st := range c.Analysis.TerminalStatuses {
		if !st.Valid() {
			errs = append(errs, fmt.Errorf("analysis.terminal_statuses: unknown status %q", st))
		}
	}
	if c.Reconcile.Interval < 0 {
		errs = append(errs, errors.New("reconcile.interval must not be negative"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
