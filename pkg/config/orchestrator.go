package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// HubConfig describes how to reach the Space hosting platform.
type HubConfig struct {
	Endpoint      string `toml:"endpoint"`
	Token         string `toml:"token"`
	Namespace     string `toml:"namespace"`
	RetryAttempts int    `toml:"retry_attempts"`
}

// DeployConfig holds the tunables of a single orchestration run.
type DeployConfig struct {
	MaxAttempts             int      `toml:"max_attempts"`
	WaitTimeoutSeconds      int      `toml:"wait_timeout_seconds"`
	PollIntervalSeconds     int      `toml:"poll_interval_seconds"`
	GPUHardware             string   `toml:"gpu_hardware"`
	ArchiveBaseURL          string   `toml:"archive_base_url"`
	ArchiveBranches         []string `toml:"archive_branches"`
	FetchTimeoutSeconds     int      `toml:"fetch_timeout_seconds"`
	GitTimeoutSeconds       int      `toml:"git_timeout_seconds"`
	Workdir                 string   `toml:"workdir"`
	FailFastOnErrorStage    bool     `toml:"fail_fast_on_error_stage"`
	SettleGraceSeconds      int      `toml:"settle_grace_seconds"`
	MaxFileBytes            int64    `toml:"max_file_bytes"`
	Preflight               bool     `toml:"preflight"`
	PreflightTimeoutSeconds int      `toml:"preflight_timeout_seconds"`
	DockerHost              string   `toml:"docker_host"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string `toml:"addr"`
	APISecret       string `toml:"api_secret"`
	TokenTTLSeconds int    `toml:"token_ttl_seconds"`
	RedisAddr       string `toml:"redis_addr"`
	RedisPassword   string `toml:"redis_password"`
	RedisDB         int    `toml:"redis_db"`
	GuardTTLSeconds int    `toml:"guard_ttl_seconds"`
	RecentRuns      int    `toml:"recent_runs"`
}

// StoreConfig selects the run history backend.
type StoreConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// ArtifactConfig points at an S3 compatible bucket for run artifacts.
type ArtifactConfig struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	UseSSL    bool   `toml:"use_ssl"`
}

// ReleaseConfig configures the GitHub release publisher.
type ReleaseConfig struct {
	Token   string `toml:"token"`
	APIBase string `toml:"api_base"`
	Owner   string `toml:"owner"`
	Repo    string `toml:"repo"`
	Dir     string `toml:"dir"`
}

// WebhookConfig configures the run event webhook.
type WebhookConfig struct {
	URL   string `toml:"url"`
	Token string `toml:"token"`
}

// Config is the full orchestrator configuration.
type Config struct {
	LogLevel  string         `toml:"log_level"`
	LogFormat string         `toml:"log_format"`
	Hub       HubConfig      `toml:"hub"`
	Deploy    DeployConfig   `toml:"deploy"`
	Server    ServerConfig   `toml:"server"`
	Store     StoreConfig    `toml:"store"`
	Artifacts ArtifactConfig `toml:"artifacts"`
	Release   ReleaseConfig  `toml:"release"`
	Webhook   WebhookConfig  `toml:"webhook"`
}

// Defaults returns the configuration used when nothing else is supplied.
func Defaults() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "json",
		Hub: HubConfig{
			Endpoint:      "https://huggingface.co",
			RetryAttempts: 3,
		},
		Deploy: DeployConfig{
			MaxAttempts:             3,
			WaitTimeoutSeconds:      1200,
			PollIntervalSeconds:     5,
			GPUHardware:             "t4-small",
			ArchiveBaseURL:          "https://github.com",
			ArchiveBranches:         []string{"main", "master"},
			FetchTimeoutSeconds:     60,
			GitTimeoutSeconds:       300,
			Workdir:                 filepath.Join(os.TempDir(), "agentic-orchestrator"),
			FailFastOnErrorStage:    true,
			MaxFileBytes:            50 << 20,
			PreflightTimeoutSeconds: 900,
		},
		Server: ServerConfig{
			Addr:            ":7070",
			TokenTTLSeconds: 86400,
			GuardTTLSeconds: 1800,
			RecentRuns:      256,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "orchestrator.db",
		},
		Artifacts: ArtifactConfig{
			Bucket: "orchestrator-runs",
		},
		Release: ReleaseConfig{
			APIBase: "https://api.github.com",
			Dir:     ".",
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "agentic-orchestrator", "config.toml")
}

// Load layers defaults, the TOML file at path, a local .env file and
// environment variables, in that order. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("decode config %s: %w", path, err)
			}
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.LogLevel = GetString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = GetString("LOG_FORMAT", cfg.LogFormat)

	cfg.Hub.Endpoint = GetString("HF_ENDPOINT", cfg.Hub.Endpoint)
	cfg.Hub.Token = GetString("HF_TOKEN", cfg.Hub.Token)
	cfg.Hub.Namespace = GetString("HF_NAMESPACE", cfg.Hub.Namespace)
	cfg.Hub.RetryAttempts = GetInt("HF_RETRY_ATTEMPTS", cfg.Hub.RetryAttempts)

	d := &cfg.Deploy
	d.MaxAttempts = GetInt("ORCH_MAX_ATTEMPTS", d.MaxAttempts)
	d.WaitTimeoutSeconds = GetInt("ORCH_WAIT_TIMEOUT_SECONDS", d.WaitTimeoutSeconds)
	d.PollIntervalSeconds = GetInt("ORCH_POLL_INTERVAL_SECONDS", d.PollIntervalSeconds)
	d.GPUHardware = GetString("ORCH_GPU_HARDWARE", d.GPUHardware)
	d.ArchiveBaseURL = GetString("ORCH_ARCHIVE_BASE_URL", d.ArchiveBaseURL)
	d.ArchiveBranches = GetList("ORCH_ARCHIVE_BRANCHES", d.ArchiveBranches)
	d.FetchTimeoutSeconds = GetInt("ORCH_FETCH_TIMEOUT_SECONDS", d.FetchTimeoutSeconds)
	d.GitTimeoutSeconds = GetInt("ORCH_GIT_TIMEOUT_SECONDS", d.GitTimeoutSeconds)
	d.Workdir = GetString("ORCH_WORKDIR", d.Workdir)
	d.FailFastOnErrorStage = GetBool("ORCH_FAIL_FAST", d.FailFastOnErrorStage)
	d.SettleGraceSeconds = GetInt("ORCH_SETTLE_GRACE_SECONDS", d.SettleGraceSeconds)
	d.MaxFileBytes = int64(GetInt("ORCH_MAX_FILE_BYTES", int(d.MaxFileBytes)))
	d.Preflight = GetBool("ORCH_PREFLIGHT", d.Preflight)
	d.PreflightTimeoutSeconds = GetInt("ORCH_PREFLIGHT_TIMEOUT_SECONDS", d.PreflightTimeoutSeconds)
	d.DockerHost = GetString("DOCKER_HOST", d.DockerHost)

	s := &cfg.Server
	s.Addr = GetString("ORCH_ADDR", s.Addr)
	s.APISecret = GetString("ORCH_API_SECRET", s.APISecret)
	s.TokenTTLSeconds = GetInt("ORCH_TOKEN_TTL_SECONDS", s.TokenTTLSeconds)
	s.RedisAddr = GetString("REDIS_ADDR", s.RedisAddr)
	s.RedisPassword = GetString("REDIS_PASSWORD", s.RedisPassword)
	s.RedisDB = GetInt("REDIS_DB", s.RedisDB)
	s.GuardTTLSeconds = GetInt("ORCH_GUARD_TTL_SECONDS", s.GuardTTLSeconds)
	s.RecentRuns = GetInt("ORCH_RECENT_RUNS", s.RecentRuns)

	cfg.Store.Driver = GetString("STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.DSN = GetString("DATABASE_URL", cfg.Store.DSN)

	a := &cfg.Artifacts
	a.Endpoint = GetString("S3_ENDPOINT", a.Endpoint)
	a.AccessKey = GetString("S3_ACCESS_KEY", a.AccessKey)
	a.SecretKey = GetString("S3_SECRET_KEY", a.SecretKey)
	a.Bucket = GetString("S3_BUCKET", a.Bucket)
	a.Region = GetString("S3_REGION", a.Region)
	a.UseSSL = GetBool("S3_USE_SSL", a.UseSSL)

	r := &cfg.Release
	r.Token = GetString("GITHUB_TOKEN", r.Token)
	r.APIBase = GetString("GITHUB_API_URL", r.APIBase)
	r.Owner = GetString("RELEASE_OWNER", r.Owner)
	r.Repo = GetString("RELEASE_REPO", r.Repo)
	r.Dir = GetString("RELEASE_DIR", r.Dir)

	cfg.Webhook.URL = GetString("WEBHOOK_URL", cfg.Webhook.URL)
	cfg.Webhook.Token = GetString("WEBHOOK_TOKEN", cfg.Webhook.Token)
}

// Validate rejects values the orchestrator cannot run with.
func (c Config) Validate() error {
	if c.Deploy.MaxAttempts < 1 {
		return fmt.Errorf("deploy.max_attempts must be at least 1, got %d", c.Deploy.MaxAttempts)
	}
	if c.Deploy.WaitTimeoutSeconds <= 0 {
		return fmt.Errorf("deploy.wait_timeout_seconds must be positive")
	}
	if c.Deploy.PollIntervalSeconds <= 0 {
		return fmt.Errorf("deploy.poll_interval_seconds must be positive")
	}
	if strings.TrimSpace(c.Hub.Endpoint) == "" {
		return errors.New("hub.endpoint is required")
	}
	switch strings.ToLower(c.Store.Driver) {
	case "", "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}
	return nil
}

// WaitTimeout bounds a single wait-until-running phase.
func (d DeployConfig) WaitTimeout() time.Duration {
	return time.Duration(d.WaitTimeoutSeconds) * time.Second
}

// PollInterval is the delay between runtime polls.
func (d DeployConfig) PollInterval() time.Duration {
	return time.Duration(d.PollIntervalSeconds) * time.Second
}

// FetchTimeout bounds each archive download.
func (d DeployConfig) FetchTimeout() time.Duration {
	return time.Duration(d.FetchTimeoutSeconds) * time.Second
}

// GitTimeout bounds the clone fallback.
func (d DeployConfig) GitTimeout() time.Duration {
	return time.Duration(d.GitTimeoutSeconds) * time.Second
}

// SettleGrace is how long a wait ignores stages that may predate the push.
func (d DeployConfig) SettleGrace() time.Duration {
	return time.Duration(d.SettleGraceSeconds) * time.Second
}

// PreflightTimeout bounds the local docker build and smoke run.
func (d DeployConfig) PreflightTimeout() time.Duration {
	return time.Duration(d.PreflightTimeoutSeconds) * time.Second
}

// TokenTTL is the lifetime of minted API tokens.
func (s ServerConfig) TokenTTL() time.Duration {
	return time.Duration(s.TokenTTLSeconds) * time.Second
}

// GuardTTL bounds how long a target stays claimed by one run.
func (s ServerConfig) GuardTTL() time.Duration {
	return time.Duration(s.GuardTTLSeconds) * time.Second
}

// Save writes cfg to path with owner-only permissions.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return fmt.Errorf("encode config: %w", err)
	}
	return f.Close()
}
