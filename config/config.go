// Package config implements the YAML config file parser
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/PowerDNS/perfagent/config/logger"
)

const (
	// DefaultEndpoint is where telemetry is sent when no endpoint is configured.
	DefaultEndpoint = "https://collector.perfagent.io/api/v1/events"

	// DefaultTimeout is the default open and read timeout for deliveries.
	// Deliveries never block the host, but a short timeout keeps the number
	// of goroutines waiting on a dead collector low.
	DefaultTimeout = time.Second

	// DefaultLargeObjectThreshold is the allocation size above which an
	// object is reported separately.
	DefaultLargeObjectThreshold = datasize.ByteSize(1_000_000)
)

// Config is the config root object. It is treated as immutable once the
// agent has been constructed. To change settings, build a new Config and
// a new agent.
type Config struct {
	Enabled    bool   `yaml:"enabled"`
	APIKey     string `yaml:"api_key"`
	Endpoint   string `yaml:"endpoint"`
	SampleRate int    `yaml:"sample_rate"` // 0-100
	Revision   string `yaml:"revision"`    // Deploy identifier, resolved at runtime if empty

	Exclude  Patterns      `yaml:"exclude"`
	Include  Patterns      `yaml:"include"`
	Breaker  Breaker       `yaml:"breaker"`
	Delivery Delivery      `yaml:"delivery"`
	Memory   Memory        `yaml:"memory"`
	SQL      SQL           `yaml:"sql"`
	Views    Views         `yaml:"views"`
	Calls    Calls         `yaml:"http_calls"`
	Payload  Payload       `yaml:"payload"`
	HTTP     HTTP          `yaml:"http"`
	Health   Health        `yaml:"health"`
	Startup  Startup       `yaml:"startup"`
	Log      logger.Config `yaml:"log"`

	// Set to current version by main
	Version string `yaml:"-"`
}

// Patterns lists controller, action and job name patterns.
// Patterns support '*' wildcards, for example "Admin::*",
// "UsersController#show" or "Admin::*#*".
type Patterns struct {
	Controllers []string `yaml:"controllers"`
	Actions     []string `yaml:"actions"` // Always in Controller#action form
	Jobs        []string `yaml:"jobs"`
}

// Empty returns true if no pattern is configured.
func (p Patterns) Empty() bool {
	return len(p.Controllers) == 0 && len(p.Actions) == 0 && len(p.Jobs) == 0
}

// Breaker configures the circuit breaker that protects the collector.
type Breaker struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	RetryTimeout     time.Duration `yaml:"retry_timeout"`
}

// Delivery configures how envelopes are sent.
type Delivery struct {
	Transport      string        `yaml:"transport"` // One of the registered transports: http, memory, log
	OpenTimeout    time.Duration `yaml:"open_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	MaxConcurrency int           `yaml:"max_concurrency"` // Concurrent in-flight deliveries before dropping
	Gzip           bool          `yaml:"gzip"`
}

// Memory configures the memory collector.
type Memory struct {
	Enabled              bool              `yaml:"enabled"`
	TrackAllocations     bool              `yaml:"track_allocations"`
	LargeObjectThreshold datasize.ByteSize `yaml:"large_object_threshold"`
	MaxSnapshots         int               `yaml:"max_snapshots"`   // Oldest marked snapshots are dropped beyond this
	MaxAllocations       int               `yaml:"max_allocations"` // Oldest allocations are dropped beyond this
}

// SQL configures the SQL collector.
type SQL struct {
	MaxQueries  int      `yaml:"max_queries"`  // Oldest queries are dropped beyond this
	AppPrefixes []string `yaml:"app_prefixes"` // File path prefixes of application code in traces
	Backtraces  bool     `yaml:"backtraces"`
}

// Views configures the view collector and summary.
type Views struct {
	Slowest    int `yaml:"slowest"`     // Number of slowest renders to report
	MaxRenders int `yaml:"max_renders"` // Oldest renders are dropped beyond this
}

// Calls configures the outgoing HTTP call collector.
type Calls struct {
	MaxCalls int `yaml:"max_calls"` // Oldest calls are dropped beyond this
}

// Payload bounds the size of delivered payloads.
type Payload struct {
	MaxString int `yaml:"max_string"`
	MaxArray  int `yaml:"max_array"`
	MaxKeys   int `yaml:"max_keys"`
}

// HTTP configures the HTTP server with Prometheus metrics and status page
type HTTP struct {
	Address string `yaml:"address"` // Address like ":8000"
}

// Health configures the delivery health checks exposed on /healthz.
type Health struct {
	ErrorSequence      uint32        `yaml:"error_sequence"`
	WarnSequence       uint32        `yaml:"warn_sequence"`
	ErrorDuration      time.Duration `yaml:"error_duration"`
	WarnDuration       time.Duration `yaml:"warn_duration"`
	EvaluationInterval time.Duration `yaml:"interval"`
}

// Startup configures the startup check exposed on /healthz. Startup is
// complete once the first envelope has been delivered.
type Startup struct {
	EvaluationInterval time.Duration `yaml:"interval"`
	ErrorDuration      time.Duration `yaml:"error_duration"`
	WarnDuration       time.Duration `yaml:"warn_duration"`
	ReportHealthz      bool          `yaml:"report_healthz"`
	ReportMetadata     bool          `yaml:"report_metadata"`
}

// Check validates a Config instance
func (c Config) Check() error {
	if err := c.Log.Check(); err != nil {
		return err
	}
	if c.SampleRate < 0 || c.SampleRate > 100 {
		return fmt.Errorf("sample_rate: must be between 0 and 100, got %d", c.SampleRate)
	}
	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil {
			return fmt.Errorf("endpoint: %v", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("endpoint: unsupported scheme %q", u.Scheme)
		}
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold: must be at least 1")
	}
	if c.Breaker.RecoveryTimeout <= 0 {
		return fmt.Errorf("breaker.recovery_timeout: must be positive")
	}
	if c.Breaker.RetryTimeout < c.Breaker.RecoveryTimeout {
		return fmt.Errorf("breaker.retry_timeout: must not be shorter than recovery_timeout")
	}
	if c.Delivery.OpenTimeout <= 0 || c.Delivery.ReadTimeout <= 0 {
		return fmt.Errorf("delivery: open_timeout and read_timeout must be positive")
	}
	if c.Delivery.MaxConcurrency < 1 {
		return fmt.Errorf("delivery.max_concurrency: must be at least 1")
	}
	if c.SQL.MaxQueries < 0 {
		return fmt.Errorf("sql.max_queries: must not be negative")
	}
	if c.Views.MaxRenders < 0 || c.Calls.MaxCalls < 0 {
		return fmt.Errorf("views.max_renders, http_calls.max_calls: must not be negative")
	}
	if c.Memory.MaxSnapshots < 0 || c.Memory.MaxAllocations < 0 {
		return fmt.Errorf("memory.max_snapshots, memory.max_allocations: must not be negative")
	}
	if c.HTTP.Address != "" {
		if _, _, err := net.SplitHostPort(c.HTTP.Address); err != nil {
			return fmt.Errorf("http.address: %v", err)
		}
	}
	return nil
}

// String returns the config as a YAML string with the API key masked.
func (c Config) String() string {
	if c.APIKey != "" {
		c.APIKey = "***"
	}
	y, err := yaml.Marshal(c)
	if err != nil {
		logrus.Panicf("YAML marshal of config failed: %v", err) // Should never happen
	}
	return string(y)
}

// LoadYAML loads config from YAML. Any set value overwrites any existing value,
// but omitted keys are untouched.
func (c *Config) LoadYAML(yamlContents []byte, expandEnv bool) error {
	if expandEnv {
		yamlContents = []byte(os.ExpandEnv(string(yamlContents)))
	}
	return yaml.UnmarshalStrict(yamlContents, c)
}

// LoadYAMLFile loads config from a YAML file. Any set value overwrites any existing value,
// but omitted keys are untouched.
func (c *Config) LoadYAMLFile(fpath string, expandEnv bool) error {
	contents, err := os.ReadFile(fpath)
	if err != nil {
		return errors.Wrap(err, "open yaml file")
	}
	return c.LoadYAML(contents, expandEnv)
}

// Default returns a Config with default settings
func Default() Config {
	return Config{
		Enabled:    true,
		Endpoint:   DefaultEndpoint,
		SampleRate: 100,
		Breaker: Breaker{
			FailureThreshold: 3,
			RecoveryTimeout:  60 * time.Second,
			RetryTimeout:     300 * time.Second,
		},
		Delivery: Delivery{
			Transport:      "http",
			OpenTimeout:    DefaultTimeout,
			ReadTimeout:    DefaultTimeout,
			MaxConcurrency: 8,
		},
		Memory: Memory{
			Enabled:              true,
			TrackAllocations:     true,
			LargeObjectThreshold: DefaultLargeObjectThreshold,
			MaxSnapshots:         100,
			MaxAllocations:       1000,
		},
		SQL: SQL{
			MaxQueries: 200,
			Backtraces: true,
		},
		Views: Views{
			Slowest:    5,
			MaxRenders: 200,
		},
		Calls: Calls{
			MaxCalls: 200,
		},
		Payload: Payload{
			MaxString: 1000,
			MaxArray:  20,
			MaxKeys:   30,
		},
		Health: Health{
			ErrorSequence:      10,
			WarnSequence:       3,
			ErrorDuration:      10 * time.Minute,
			WarnDuration:       time.Minute,
			EvaluationInterval: 5 * time.Second,
		},
		Startup: Startup{
			EvaluationInterval: 5 * time.Second,
			ErrorDuration:      10 * time.Minute,
			WarnDuration:       time.Minute,
			ReportMetadata:     true,
		},
		Log: logger.DefaultConfig,
	}
}
