// Package config provides configuration loading and management for the
// gitmirrord daemon.
package config

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/driftsync/gitmirrord/internal/telemetry"
	"gopkg.in/yaml.v3"
)

const (
	// ReloadModeNone disables reload notifications (mirror-only mode)
	ReloadModeNone = "none"

	// ReloadModeSignal sends a signal to a co-located process
	ReloadModeSignal = "signal"

	// ReloadModeCommand runs a command after a content change
	ReloadModeCommand = "command"

	// ReloadModeHTTP calls an HTTP endpoint after a content change
	ReloadModeHTTP = "http"
)

// EnvPrefix is the prefix for environment variables overriding settings
const EnvPrefix = "GITMIRRORD"

const (
	// DefaultSyncInterval is the periodic sync interval used when none is configured
	DefaultSyncInterval = time.Minute

	// DefaultFetchTimeout bounds a single fetch phase
	DefaultFetchTimeout = 2 * time.Minute

	// DefaultMirrorTimeout bounds a single mirror phase
	DefaultMirrorTimeout = time.Minute

	// DefaultReloadTimeout bounds a single reload attempt
	DefaultReloadTimeout = 10 * time.Second

	// DefaultHTTPAddress is the default listen address for the API server
	DefaultHTTPAddress = ":8080"

	// DefaultStateDir is the default directory for the checkout, state file and lock
	DefaultStateDir = "./data"

	// DefaultGitUsername is used for HTTP basic auth when only a token is configured
	DefaultGitUsername = "git"

	// DefaultPasswordEnv is the environment variable consulted for the git
	// password/token when no passwordFile or passwordEnv is configured
	DefaultPasswordEnv = "GITMIRRORD_GIT_TOKEN"

	// DefaultRetryMaxAttempts is the per-phase attempt ceiling
	DefaultRetryMaxAttempts = 3

	// DefaultRetryInitialInterval is the first backoff delay between attempts
	DefaultRetryInitialInterval = 500 * time.Millisecond

	// DefaultRetryMaxInterval caps the backoff delay between attempts
	DefaultRetryMaxInterval = 15 * time.Second
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Repo describes the remote repository to mirror
	Repo RepoConfig `yaml:"repo"`

	// Mirror describes the local target directory
	Mirror MirrorConfig `yaml:"mirror"`

	// Reload selects how the co-located process is notified after a
	// content change. Nil means no reload notifications are sent.
	Reload *ReloadConfig `yaml:"reload,omitempty"`

	// Sync controls cycle cadence, phase timeouts and retries
	Sync *SyncConfig `yaml:"sync,omitempty"`

	// Server configures the HTTP API (health, status, webhook, metrics)
	Server *ServerConfig `yaml:"server,omitempty"`

	// State configures where the checkout and persisted state live
	State *StateConfig `yaml:"state,omitempty"`

	// Telemetry configures metrics and tracing
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// RepoConfig defines the remote repository settings
type RepoConfig struct {
	// URL is the Git repository URL (HTTP/HTTPS)
	URL string `yaml:"url"`

	// Branch is the Git branch to track (mutually exclusive with Tag and Commit)
	Branch string `yaml:"branch,omitempty"`

	// Tag is the Git tag to track (mutually exclusive with Branch and Commit)
	Tag string `yaml:"tag,omitempty"`

	// Commit is a pinned Git commit SHA (mutually exclusive with Branch and Tag)
	Commit string `yaml:"commit,omitempty"`

	// Path is a subdirectory within the repository to mirror.
	// Defaults to the repository root.
	Path string `yaml:"path,omitempty"`

	// Auth holds HTTP basic auth credentials for private repositories
	Auth *AuthConfig `yaml:"auth,omitempty"`
}

// AuthConfig defines HTTP basic auth credentials for the remote
type AuthConfig struct {
	// Username for basic auth. Defaults to "git", which is what most
	// hosting providers expect for token-based access.
	Username string `yaml:"username,omitempty"`

	// PasswordFile is the path to a file containing the password or token.
	// This is the recommended approach for production deployments.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// PasswordEnv names an environment variable holding the password or
	// token. Consulted when PasswordFile is not set.
	PasswordEnv string `yaml:"passwordEnv,omitempty"`
}

// GetUsername returns the basic auth username, using "git" if not specified
func (a *AuthConfig) GetUsername() string {
	if a.Username == "" {
		return DefaultGitUsername
	}
	return a.Username
}

// GetPassword returns the git password/token using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from the PasswordEnv environment variable (GITMIRRORD_GIT_TOKEN by default)
//
// The password from file will have leading/trailing whitespace trimmed.
func (a *AuthConfig) GetPassword() (string, error) {
	if a.PasswordFile != "" {
		// Use filepath.Clean to prevent path traversal attacks
		cleanPath := filepath.Clean(a.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", a.PasswordFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	envName := a.PasswordEnv
	if envName == "" {
		envName = DefaultPasswordEnv
	}
	if envPassword := os.Getenv(envName); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no git password configured: set passwordFile, passwordEnv or the %s environment variable", DefaultPasswordEnv,
	)
}

// MirrorConfig defines the local mirror target settings
type MirrorConfig struct {
	// Dir is the directory kept identical to the repository working tree
	Dir string `yaml:"dir"`

	// Exclude lists glob patterns (relative paths) omitted from the mirror
	Exclude []string `yaml:"exclude,omitempty"`
}

// ReloadConfig defines how the co-located process is notified.
// Exactly one of Signal, Command or HTTP should be set; when none is set the
// reload mode is "none".
type ReloadConfig struct {
	Signal  *SignalReloadConfig  `yaml:"signal,omitempty"`
	Command *CommandReloadConfig `yaml:"command,omitempty"`
	HTTP    *HTTPReloadConfig    `yaml:"http,omitempty"`

	// Retry controls reload attempts after a content change
	Retry *RetryConfig `yaml:"retry,omitempty"`
}

// SignalReloadConfig defines signal-based reload settings
type SignalReloadConfig struct {
	// Name is the signal to send (SIGHUP, SIGUSR1, SIGUSR2, SIGTERM, SIGINT)
	Name string `yaml:"name"`

	// PID is the target process id (mutually exclusive with PIDFile)
	PID int `yaml:"pid,omitempty"`

	// PIDFile is the path to a file containing the target process id
	PIDFile string `yaml:"pidFile,omitempty"`
}

// CommandReloadConfig defines command-based reload settings
type CommandReloadConfig struct {
	// Argv is the command and its arguments, executed without a shell
	Argv []string `yaml:"argv"`

	// Timeout bounds a single command run (e.g. "30s")
	Timeout string `yaml:"timeout,omitempty"`
}

// GetTimeout returns the command timeout, using the default if not specified
func (c *CommandReloadConfig) GetTimeout() time.Duration {
	return parseDurationOr(c.Timeout, DefaultReloadTimeout)
}

// HTTPReloadConfig defines HTTP-based reload settings
type HTTPReloadConfig struct {
	// Endpoint is the URL called after a content change
	Endpoint string `yaml:"endpoint"`

	// Method is the HTTP method to use. Defaults to POST.
	Method string `yaml:"method,omitempty"`

	// Timeout bounds a single HTTP attempt (e.g. "10s")
	Timeout string `yaml:"timeout,omitempty"`
}

// GetMethod returns the HTTP method, using POST if not specified
func (h *HTTPReloadConfig) GetMethod() string {
	if h.Method == "" {
		return http.MethodPost
	}
	return strings.ToUpper(h.Method)
}

// GetTimeout returns the HTTP timeout, using the default if not specified
func (h *HTTPReloadConfig) GetTimeout() time.Duration {
	return parseDurationOr(h.Timeout, DefaultReloadTimeout)
}

// RetryConfig defines per-phase retry settings
type RetryConfig struct {
	// MaxAttempts is the attempt ceiling, including the first attempt
	MaxAttempts int `yaml:"maxAttempts,omitempty"`

	// InitialInterval is the first backoff delay (e.g. "500ms")
	InitialInterval string `yaml:"initialInterval,omitempty"`

	// MaxInterval caps the backoff delay (e.g. "15s")
	MaxInterval string `yaml:"maxInterval,omitempty"`
}

// GetMaxAttempts returns the attempt ceiling, using the default if not specified
func (r *RetryConfig) GetMaxAttempts() int {
	if r == nil || r.MaxAttempts <= 0 {
		return DefaultRetryMaxAttempts
	}
	return r.MaxAttempts
}

// GetInitialInterval returns the first backoff delay, using the default if not specified
func (r *RetryConfig) GetInitialInterval() time.Duration {
	if r == nil {
		return DefaultRetryInitialInterval
	}
	return parseDurationOr(r.InitialInterval, DefaultRetryInitialInterval)
}

// GetMaxInterval returns the backoff delay cap, using the default if not specified
func (r *RetryConfig) GetMaxInterval() time.Duration {
	if r == nil {
		return DefaultRetryMaxInterval
	}
	return parseDurationOr(r.MaxInterval, DefaultRetryMaxInterval)
}

// SyncConfig defines cycle cadence and phase timeouts
type SyncConfig struct {
	// Interval is the periodic sync interval (e.g. "1m")
	Interval string `yaml:"interval,omitempty"`

	// FetchTimeout bounds the fetch phase (e.g. "2m")
	FetchTimeout string `yaml:"fetchTimeout,omitempty"`

	// MirrorTimeout bounds the mirror phase (e.g. "1m")
	MirrorTimeout string `yaml:"mirrorTimeout,omitempty"`

	// Retry controls fetch and mirror attempts within a cycle
	Retry *RetryConfig `yaml:"retry,omitempty"`
}

// GetInterval returns the sync interval, using the default if not specified
func (s *SyncConfig) GetInterval() time.Duration {
	if s == nil {
		return DefaultSyncInterval
	}
	return parseDurationOr(s.Interval, DefaultSyncInterval)
}

// GetFetchTimeout returns the fetch phase timeout, using the default if not specified
func (s *SyncConfig) GetFetchTimeout() time.Duration {
	if s == nil {
		return DefaultFetchTimeout
	}
	return parseDurationOr(s.FetchTimeout, DefaultFetchTimeout)
}

// GetMirrorTimeout returns the mirror phase timeout, using the default if not specified
func (s *SyncConfig) GetMirrorTimeout() time.Duration {
	if s == nil {
		return DefaultMirrorTimeout
	}
	return parseDurationOr(s.MirrorTimeout, DefaultMirrorTimeout)
}

// ServerConfig defines the HTTP API server settings
type ServerConfig struct {
	// Address is the listen address (e.g. ":8080")
	Address string `yaml:"address,omitempty"`

	// Webhook configures the external trigger endpoint
	Webhook *WebhookConfig `yaml:"webhook,omitempty"`
}

// GetAddress returns the listen address, using ":8080" if not specified
func (s *ServerConfig) GetAddress() string {
	if s == nil || s.Address == "" {
		return DefaultHTTPAddress
	}
	return s.Address
}

// WebhookConfig defines the webhook trigger endpoint settings
type WebhookConfig struct {
	// Enabled turns the POST /webhook endpoint on
	Enabled bool `yaml:"enabled"`

	// SecretFile is the path to a file containing the shared HMAC secret.
	// When set, requests must carry a valid X-Hub-Signature-256 header.
	SecretFile string `yaml:"secretFile,omitempty"`

	// Debounce is a quiet window that collapses notification bursts
	// before triggering a sync (e.g. "2s"). Zero disables debouncing.
	Debounce string `yaml:"debounce,omitempty"`
}

// GetSecret reads the shared HMAC secret. Returns an empty string when no
// secret file is configured.
func (w *WebhookConfig) GetSecret() (string, error) {
	if w == nil || w.SecretFile == "" {
		return "", nil
	}

	cleanPath := filepath.Clean(w.SecretFile)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return "", fmt.Errorf("failed to read webhook secret from file %s: %w", w.SecretFile, err)
	}

	return strings.TrimSpace(string(data)), nil
}

// GetDebounce returns the debounce window, zero if not specified
func (w *WebhookConfig) GetDebounce() time.Duration {
	if w == nil {
		return 0
	}
	return parseDurationOr(w.Debounce, 0)
}

// StateConfig defines where the checkout and persisted state live
type StateConfig struct {
	// Dir holds the repository checkout, the state file and the lock file
	Dir string `yaml:"dir,omitempty"`
}

// GetDir returns the state directory, using "./data" if not specified
func (s *StateConfig) GetDir() string {
	if s == nil || s.Dir == "" {
		return DefaultStateDir
	}
	return s.Dir
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	// As of now, this is required because there's no other options to load
	// configuration. Once we add more options, we can remove this check.
	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	// Read the entire file into memory
	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML content
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	// Validate the config
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate performs validation on the configuration
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateRepoConfig(&c.Repo); err != nil {
		return err
	}

	if err := validateMirrorConfig(&c.Mirror); err != nil {
		return err
	}

	if err := validateReloadConfig(c.Reload); err != nil {
		return err
	}

	if err := validateSyncConfig(c.Sync); err != nil {
		return err
	}

	if err := validateServerConfig(c.Server); err != nil {
		return err
	}

	if c.Telemetry != nil {
		if err := c.Telemetry.Validate(); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}

	return nil
}

// validateRepoConfig validates the remote repository configuration
func validateRepoConfig(repo *RepoConfig) error {
	if repo.URL == "" {
		return fmt.Errorf("repo.url is required")
	}

	// Validate at most one ref selector is configured
	refCount := 0
	if repo.Branch != "" {
		refCount++
	}
	if repo.Tag != "" {
		refCount++
	}
	if repo.Commit != "" {
		refCount++
	}
	if refCount > 1 {
		return fmt.Errorf("repo: only one of branch, tag, or commit may be specified")
	}

	if repo.Path != "" && !filepath.IsLocal(repo.Path) {
		return fmt.Errorf("repo.path must be a relative path inside the repository: %s", repo.Path)
	}

	return nil
}

// validateMirrorConfig validates the mirror target configuration
func validateMirrorConfig(mirror *MirrorConfig) error {
	if mirror.Dir == "" {
		return fmt.Errorf("mirror.dir is required")
	}

	for _, pattern := range mirror.Exclude {
		if _, err := path.Match(pattern, ""); err != nil {
			return fmt.Errorf("mirror.exclude: invalid pattern %q: %w", pattern, err)
		}
	}

	return nil
}

// validateReloadConfig validates the reload notifier configuration
func validateReloadConfig(reload *ReloadConfig) error {
	if reload == nil {
		return nil
	}

	modeCount := 0
	if reload.Signal != nil {
		modeCount++
	}
	if reload.Command != nil {
		modeCount++
	}
	if reload.HTTP != nil {
		modeCount++
	}
	if modeCount > 1 {
		return fmt.Errorf("reload: only one of signal, command, or http may be specified")
	}

	if reload.Signal != nil {
		if err := validateSignalReload(reload.Signal); err != nil {
			return err
		}
	}

	if reload.Command != nil {
		if len(reload.Command.Argv) == 0 {
			return fmt.Errorf("reload.command.argv is required")
		}
		if err := validateDuration(reload.Command.Timeout, "reload.command.timeout"); err != nil {
			return err
		}
	}

	if reload.HTTP != nil {
		if err := validateHTTPReload(reload.HTTP); err != nil {
			return err
		}
	}

	return validateRetry(reload.Retry, "reload.retry")
}

// validateSignalReload validates signal notifier settings
func validateSignalReload(sig *SignalReloadConfig) error {
	if sig.Name == "" {
		return fmt.Errorf("reload.signal.name is required")
	}
	if sig.PID != 0 && sig.PIDFile != "" {
		return fmt.Errorf("reload.signal: only one of pid or pidFile may be specified")
	}
	if sig.PID == 0 && sig.PIDFile == "" {
		return fmt.Errorf("reload.signal: one of pid or pidFile must be specified")
	}
	return nil
}

// validateHTTPReload validates HTTP notifier settings
func validateHTTPReload(h *HTTPReloadConfig) error {
	if h.Endpoint == "" {
		return fmt.Errorf("reload.http.endpoint is required")
	}

	parsed, err := url.Parse(h.Endpoint)
	if err != nil {
		return fmt.Errorf("reload.http.endpoint is not a valid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("reload.http.endpoint must use http or https, got %q", parsed.Scheme)
	}

	switch h.GetMethod() {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return fmt.Errorf("reload.http.method must be one of GET, POST, PUT, PATCH, got %q", h.Method)
	}

	return validateDuration(h.Timeout, "reload.http.timeout")
}

// validateSyncConfig validates sync cadence settings
func validateSyncConfig(sync *SyncConfig) error {
	if sync == nil {
		return nil
	}

	if err := validateDuration(sync.Interval, "sync.interval"); err != nil {
		return err
	}
	if err := validateDuration(sync.FetchTimeout, "sync.fetchTimeout"); err != nil {
		return err
	}
	if err := validateDuration(sync.MirrorTimeout, "sync.mirrorTimeout"); err != nil {
		return err
	}

	return validateRetry(sync.Retry, "sync.retry")
}

// validateServerConfig validates the HTTP API server settings
func validateServerConfig(server *ServerConfig) error {
	if server == nil || server.Webhook == nil {
		return nil
	}
	return validateDuration(server.Webhook.Debounce, "server.webhook.debounce")
}

// validateRetry validates retry settings
func validateRetry(retry *RetryConfig, prefix string) error {
	if retry == nil {
		return nil
	}
	if retry.MaxAttempts < 0 {
		return fmt.Errorf("%s.maxAttempts must not be negative", prefix)
	}
	if err := validateDuration(retry.InitialInterval, prefix+".initialInterval"); err != nil {
		return err
	}
	return validateDuration(retry.MaxInterval, prefix+".maxInterval")
}

// validateDuration ensures a duration string is parseable when set
func validateDuration(value, field string) error {
	if value == "" {
		return nil
	}
	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("%s must be a valid duration (e.g. '30s', '1m'): %w", field, err)
	}
	return nil
}

// GetReloadMode returns the inferred reload mode based on which field is present
func (c *Config) GetReloadMode() string {
	if c.Reload == nil {
		return ReloadModeNone
	}
	if c.Reload.Signal != nil {
		return ReloadModeSignal
	}
	if c.Reload.Command != nil {
		return ReloadModeCommand
	}
	if c.Reload.HTTP != nil {
		return ReloadModeHTTP
	}
	return ReloadModeNone
}

// parseDurationOr parses a duration string, falling back to the given
// default when the value is empty or invalid. Validation reports invalid
// durations up front; this keeps runtime reads total.
func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
