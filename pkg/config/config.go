// Package config provides project-level configuration for ci-for-pr.
// It supports loading configuration from .ci-for-pr/config.yaml files with
// proper precedence: CLI flags > environment > project config > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ros-tooling/ci-for-pr/pkg/retry"
)

const (
	// ConfigDir is the directory name for ci-for-pr configuration
	ConfigDir = ".ci-for-pr"
	// ConfigFile is the name of the configuration file
	ConfigFile = "config.yaml"
	// ConfigPath is the full path to the config file relative to project root
	ConfigPath = ConfigDir + "/" + ConfigFile
)

// Defaults used when neither flags nor the project file set a value.
const (
	DefaultTarget          = "master"
	DefaultBaseManifestURL = "https://raw.githubusercontent.com/ros2/ros2/{target}/ros2.repos"
	DefaultManifestFile    = "ros2.repos"
	DefaultPublisher       = "gist"
	DefaultCIURL           = "https://ci.ros2.org"
	DefaultJob             = "ci_launcher"
	DefaultPollInterval    = 30 * time.Second
	DefaultPollTimeout     = 30 * time.Second
	DefaultJobTimeout      = 2 * time.Hour
	DefaultMaxRetries      = 3
	DefaultWorkers         = 4
	DefaultRequestsPerSec  = 5.0
	DefaultHTTPAttempts    = 3
	DefaultHTTPBaseDelay   = time.Second
	DefaultHTTPMaxDelay    = 30 * time.Second
)

// Config is the full set of knobs threaded through the orchestrator.
type Config struct {
	// Target is the release branch of the base manifest (e.g. "master", "humble").
	Target string `yaml:"target,omitempty"`

	// BaseManifestURL is a URL template; "{target}" is replaced with Target.
	BaseManifestURL string `yaml:"base_manifest_url,omitempty"`

	// ManifestFile is the file name used for the published manifest.
	ManifestFile string `yaml:"manifest_file,omitempty"`

	// CoreRepositories limits branch mode to these manifest names.
	// Empty means every git repository of the base manifest.
	CoreRepositories []string `yaml:"core_repositories,omitempty"`

	// Publisher selects where the manifest goes: "gist" or "file".
	Publisher string `yaml:"publisher,omitempty"`

	// PublishDir is the output directory of the file publisher.
	PublishDir string `yaml:"publish_dir,omitempty"`

	// PinCommits overrides with the PR head commit instead of the head branch.
	PinCommits bool `yaml:"pin_commits,omitempty"`

	// Workers bounds concurrent resolver, trigger and comment calls.
	Workers int `yaml:"workers,omitempty"`

	// LogLevel is the default log level (debug, info, progress, minimal)
	LogLevel string `yaml:"log_level,omitempty"`

	GitHub   GitHubConfig   `yaml:"github,omitempty"`
	CI       CIConfig       `yaml:"ci,omitempty"`
	Tracking TrackingConfig `yaml:"tracking,omitempty"`
	HTTP     HTTPConfig     `yaml:"http,omitempty"`
}

// GitHubConfig holds source-hosting settings. The token is never read from
// the project file.
type GitHubConfig struct {
	// BaseURL overrides the API endpoint (GitHub Enterprise, tests).
	BaseURL string `yaml:"base_url,omitempty"`

	// Organizations whose active members may trigger CI.
	Organizations []string `yaml:"organizations,omitempty"`
}

// CIConfig describes the Jenkins server and job parameter names.
type CIConfig struct {
	URL  string   `yaml:"url,omitempty"`
	Jobs []string `yaml:"jobs,omitempty"`

	// User overrides the Jenkins user; defaults to the GitHub login.
	User string `yaml:"user,omitempty"`

	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`

	Params ParamNames `yaml:"params,omitempty"`
}

// ParamNames names the job parameters that receive per-run values.
type ParamNames struct {
	ManifestURL string `yaml:"manifest_url,omitempty"`
	BuildArgs   string `yaml:"build_args,omitempty"`
	TestArgs    string `yaml:"test_args,omitempty"`
}

// TrackingConfig tunes the job tracker.
type TrackingConfig struct {
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
	PollTimeout  time.Duration `yaml:"poll_timeout,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`

	// MaxRetries is the number of consecutive failed polls tolerated per job.
	// Zero fails a job on its first poll error; absent means the default.
	MaxRetries *int `yaml:"max_retries,omitempty"`
}

// Retries returns MaxRetries, or the default when it is unset.
func (t TrackingConfig) Retries() int {
	if t.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *t.MaxRetries
}

// HTTPConfig tunes retries of GitHub and Jenkins requests. Only requests that
// are safe to repeat are retried.
type HTTPConfig struct {
	// MaxAttempts includes the first attempt; 1 disables retries.
	MaxAttempts int           `yaml:"max_attempts,omitempty"`
	BaseDelay   time.Duration `yaml:"base_delay,omitempty"`
	MaxDelay    time.Duration `yaml:"max_delay,omitempty"`
}

// RetryConfig returns the retry policy for the HTTP clients.
func (h HTTPConfig) RetryConfig() *retry.Config {
	rc := retry.DefaultConfig()
	if h.MaxAttempts > 0 {
		rc.MaxAttempts = h.MaxAttempts
	}
	if h.BaseDelay > 0 {
		rc.BaseDelay = h.BaseDelay
	}
	if h.MaxDelay > 0 {
		rc.MaxDelay = h.MaxDelay
	}
	return rc
}

// Default returns a fully populated configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.Target == "" {
		c.Target = DefaultTarget
	}
	if c.BaseManifestURL == "" {
		c.BaseManifestURL = DefaultBaseManifestURL
	}
	if c.ManifestFile == "" {
		c.ManifestFile = DefaultManifestFile
	}
	if c.Publisher == "" {
		c.Publisher = DefaultPublisher
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if len(c.GitHub.Organizations) == 0 {
		c.GitHub.Organizations = []string{"ros2"}
	}
	if c.CI.URL == "" {
		c.CI.URL = DefaultCIURL
	}
	if len(c.CI.Jobs) == 0 {
		c.CI.Jobs = []string{DefaultJob}
	}
	if c.CI.RequestsPerSecond <= 0 {
		c.CI.RequestsPerSecond = DefaultRequestsPerSec
	}
	if c.CI.Params.ManifestURL == "" {
		c.CI.Params.ManifestURL = "CI_ROS2_REPOS_URL"
	}
	if c.CI.Params.BuildArgs == "" {
		c.CI.Params.BuildArgs = "CI_BUILD_ARGS"
	}
	if c.CI.Params.TestArgs == "" {
		c.CI.Params.TestArgs = "CI_TEST_ARGS"
	}
	if c.Tracking.PollInterval <= 0 {
		c.Tracking.PollInterval = DefaultPollInterval
	}
	if c.Tracking.PollTimeout <= 0 {
		c.Tracking.PollTimeout = DefaultPollTimeout
	}
	if c.Tracking.Timeout <= 0 {
		c.Tracking.Timeout = DefaultJobTimeout
	}
	if c.Tracking.MaxRetries == nil {
		n := DefaultMaxRetries
		c.Tracking.MaxRetries = &n
	}
	if c.HTTP.MaxAttempts <= 0 {
		c.HTTP.MaxAttempts = DefaultHTTPAttempts
	}
	if c.HTTP.BaseDelay <= 0 {
		c.HTTP.BaseDelay = DefaultHTTPBaseDelay
	}
	if c.HTTP.MaxDelay <= 0 {
		c.HTTP.MaxDelay = DefaultHTTPMaxDelay
	}
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	if !strings.Contains(c.BaseManifestURL, "://") && !filepath.IsAbs(c.BaseManifestURL) {
		return fmt.Errorf("base_manifest_url must be a URL or absolute path: %q", c.BaseManifestURL)
	}
	switch c.Publisher {
	case "gist":
	case "file":
		if c.PublishDir == "" {
			return errors.New("publish_dir is required when publisher is \"file\"")
		}
	default:
		return fmt.Errorf("unknown publisher %q (expected gist or file)", c.Publisher)
	}
	if c.Tracking.Retries() < 0 {
		return fmt.Errorf("tracking.max_retries must not be negative: %d", c.Tracking.Retries())
	}
	if c.Tracking.PollInterval > c.Tracking.Timeout {
		return fmt.Errorf("tracking.poll_interval (%s) exceeds tracking.timeout (%s)", c.Tracking.PollInterval, c.Tracking.Timeout)
	}
	return nil
}

// ManifestURL expands the base manifest template for the configured target.
func (c *Config) ManifestURL() string {
	return strings.ReplaceAll(c.BaseManifestURL, "{target}", c.Target)
}

// Load loads the project configuration from the given directory.
// It searches for .ci-for-pr/config.yaml in the directory and its parents.
//
// If no config file is found, it returns the default config and nil error.
// If a config file is found but cannot be parsed, it returns an error.
func Load(dir string) (*Config, error) {
	configPath, err := findConfigPath(dir)
	if err != nil {
		return nil, err
	}
	if configPath == "" {
		return Default(), nil
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.ApplyDefaults()

	return &cfg, nil
}

// LoadFromCurrentDir loads the project configuration from the current working directory.
func LoadFromCurrentDir() (*Config, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	return Load(dir)
}

// findConfigPath searches for .ci-for-pr/config.yaml in dir and its parent directories.
// It returns the full path to the config file, or empty string if not found.
func findConfigPath(dir string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	for {
		configPath := filepath.Join(absDir, ConfigPath)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		parentDir := filepath.Dir(absDir)
		if parentDir == absDir {
			return "", nil
		}
		absDir = parentDir
	}
}

// ResolveString returns the effective value for a string configuration field.
// Precedence: cliValue > configValue > defaultValue.
// Returns the effective value and its source ("cli", "config", or "default").
func ResolveString(cliValue, configValue, defaultValue string) (string, string) {
	if cliValue != "" {
		return cliValue, "cli"
	}
	if configValue != "" {
		return configValue, "config"
	}
	return defaultValue, "default"
}

// ResolveStrings is ResolveString for list-valued fields.
func ResolveStrings(cliValue, configValue, defaultValue []string) ([]string, string) {
	if len(cliValue) > 0 {
		return cliValue, "cli"
	}
	if len(configValue) > 0 {
		return configValue, "config"
	}
	return defaultValue, "default"
}
