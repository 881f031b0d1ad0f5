package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sevigo/build-warden/internal/core"
	"github.com/sevigo/build-warden/internal/logger"
)

// Config holds the application's configuration values. It is built once at
// startup and passed by pointer to every component; nothing reads the
// environment after LoadConfig returns.
type Config struct {
	Server    ServerConfig
	Webhook   WebhookConfig
	Build     BuildConfig
	Workspace WorkspaceConfig
	Git       GitConfig
	GitHub    GitHubConfig
	Storage   StorageConfig
	Database  DBConfig
	Logging   logger.Config

	// Pipelines and Repositories come from the pipeline file.
	Pipelines    map[string]core.Pipeline
	Repositories []core.RepositoryConfig
}

type ServerConfig struct {
	Port string
}

type WebhookConfig struct {
	Secret             string
	AllowMissingSecret bool
	RateLimitPerMin    int
	DedupRetention     time.Duration
	DedupCapacity      int
}

type BuildConfig struct {
	MaxWorkers    int
	QueueDepth    int
	StepTimeout   time.Duration
	JobTimeout    time.Duration
	OutputLimit   int
	ShutdownGrace time.Duration
}

type WorkspaceConfig struct {
	BaseDir string
	Keep    bool
}

type GitConfig struct {
	Token string
}

// GitHubConfig controls commit status reporting. Statuses are posted with
// the Git token.
type GitHubConfig struct {
	ReportStatus  bool
	StatusContext string
	PublicURL     string
}

type StorageConfig struct {
	Driver string
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	Host            string
	Port            int
	Username        string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

var ErrMissingSecret = errors.New("WEBHOOK_SECRET must be set (or WEBHOOK_ALLOW_MISSING_SECRET=true for local debugging)")

// LoadConfig reads configuration from environment variables and a .env file,
// sets sensible defaults, and validates required fields. It uses the Viper
// library to handle configuration loading and precedence.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			slog.Error("failed to read config file", "error", err)
		}
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")

	v.SetDefault("WEBHOOK_SECRET", "")
	v.SetDefault("WEBHOOK_ALLOW_MISSING_SECRET", false)
	v.SetDefault("WEBHOOK_RATE_LIMIT_PER_MIN", 600)
	v.SetDefault("DEDUP_RETENTION", "24h")
	v.SetDefault("DEDUP_CAPACITY", 100000)

	v.SetDefault("MAX_WORKERS", 4)
	v.SetDefault("QUEUE_DEPTH", 100)
	v.SetDefault("STEP_TIMEOUT", "10m")
	v.SetDefault("JOB_TIMEOUT", "30m")
	v.SetDefault("OUTPUT_LIMIT_BYTES", 64*1024)
	v.SetDefault("SHUTDOWN_GRACE", "30s")

	v.SetDefault("WORKSPACE_DIR", filepath.Join(os.TempDir(), "build-warden"))
	v.SetDefault("WORKSPACE_KEEP", false)
	v.SetDefault("PIPELINES_FILE", "build-warden.yml")
	v.SetDefault("GIT_TOKEN", "")
	v.SetDefault("GITHUB_REPORT_STATUS", false)
	v.SetDefault("GITHUB_STATUS_CONTEXT", "build-warden")
	v.SetDefault("PUBLIC_URL", "")

	v.SetDefault("STORAGE_DRIVER", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "warden")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_NAME", "build_warden")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "30m")
	v.SetDefault("DB_CONN_MAX_IDLE_TIME", "5m")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("LOG_OUTPUT", "stdout")
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{Port: v.GetString("SERVER_PORT")},
		Webhook: WebhookConfig{
			Secret:             v.GetString("WEBHOOK_SECRET"),
			AllowMissingSecret: v.GetBool("WEBHOOK_ALLOW_MISSING_SECRET"),
			RateLimitPerMin:    v.GetInt("WEBHOOK_RATE_LIMIT_PER_MIN"),
			DedupRetention:     v.GetDuration("DEDUP_RETENTION"),
			DedupCapacity:      v.GetInt("DEDUP_CAPACITY"),
		},
		Build: BuildConfig{
			MaxWorkers:    v.GetInt("MAX_WORKERS"),
			QueueDepth:    v.GetInt("QUEUE_DEPTH"),
			StepTimeout:   v.GetDuration("STEP_TIMEOUT"),
			JobTimeout:    v.GetDuration("JOB_TIMEOUT"),
			OutputLimit:   v.GetInt("OUTPUT_LIMIT_BYTES"),
			ShutdownGrace: v.GetDuration("SHUTDOWN_GRACE"),
		},
		Workspace: WorkspaceConfig{
			BaseDir: v.GetString("WORKSPACE_DIR"),
			Keep:    v.GetBool("WORKSPACE_KEEP"),
		},
		Git: GitConfig{Token: v.GetString("GIT_TOKEN")},
		GitHub: GitHubConfig{
			ReportStatus:  v.GetBool("GITHUB_REPORT_STATUS"),
			StatusContext: v.GetString("GITHUB_STATUS_CONTEXT"),
			PublicURL:     v.GetString("PUBLIC_URL"),
		},
		Storage: StorageConfig{Driver: strings.ToLower(v.GetString("STORAGE_DRIVER"))},
		Database: DBConfig{
			Host:            v.GetString("DB_HOST"),
			Port:            v.GetInt("DB_PORT"),
			Username:        v.GetString("DB_USER"),
			Password:        v.GetString("DB_PASSWORD"),
			Database:        v.GetString("DB_NAME"),
			SSLMode:         v.GetString("DB_SSLMODE"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
			ConnMaxIdleTime: v.GetDuration("DB_CONN_MAX_IDLE_TIME"),
		},
		Logging: logger.Config{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
			Output: v.GetString("LOG_OUTPUT"),
		},
	}

	file, err := LoadPipelineFile(v.GetString("PIPELINES_FILE"))
	if err != nil && !errors.Is(err, ErrConfigNotFound) {
		return nil, err
	}
	cfg.Pipelines = file.Pipelines
	cfg.Repositories = file.Repositories

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Webhook.Secret == "" && !c.Webhook.AllowMissingSecret {
		return ErrMissingSecret
	}
	if c.Build.MaxWorkers < 1 {
		return fmt.Errorf("MAX_WORKERS must be at least 1, got %d", c.Build.MaxWorkers)
	}
	if c.Build.QueueDepth < 1 {
		return fmt.Errorf("QUEUE_DEPTH must be at least 1, got %d", c.Build.QueueDepth)
	}
	if c.Build.StepTimeout <= 0 || c.Build.JobTimeout <= 0 {
		return fmt.Errorf("STEP_TIMEOUT and JOB_TIMEOUT must be positive")
	}
	if c.Build.OutputLimit < 1 {
		return fmt.Errorf("OUTPUT_LIMIT_BYTES must be positive, got %d", c.Build.OutputLimit)
	}
	if c.Webhook.DedupRetention <= 0 {
		return fmt.Errorf("DEDUP_RETENTION must be positive")
	}
	if c.Webhook.DedupCapacity < 1 {
		return fmt.Errorf("DEDUP_CAPACITY must be at least 1, got %d", c.Webhook.DedupCapacity)
	}
	if c.GitHub.ReportStatus && c.Git.Token == "" {
		return fmt.Errorf("GITHUB_REPORT_STATUS requires GIT_TOKEN")
	}
	if c.Workspace.BaseDir == "" {
		return fmt.Errorf("WORKSPACE_DIR must be set")
	}
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER: %s", c.Storage.Driver)
	}

	seen := make(map[string]struct{}, len(c.Repositories))
	for _, repo := range c.Repositories {
		if repo.Name == "" {
			return fmt.Errorf("repository entry without a name")
		}
		if _, dup := seen[repo.Name]; dup {
			return fmt.Errorf("repository %s is listed twice", repo.Name)
		}
		seen[repo.Name] = struct{}{}
		if _, ok := c.Pipelines[repo.Pipeline]; !ok {
			return fmt.Errorf("repository %s uses unknown pipeline %q", repo.Name, repo.Pipeline)
		}
	}
	return nil
}

// Repository looks up a registered repository by full name.
func (c *Config) Repository(name string) (core.RepositoryConfig, bool) {
	for _, r := range c.Repositories {
		if strings.EqualFold(r.Name, name) {
			return r, true
		}
	}
	return core.RepositoryConfig{}, false
}

// Steps resolves the step sequence for a pipeline, filling in the default
// per-step timeout where a step sets none.
func (c *Config) Steps(pipeline string) ([]core.StepSpec, error) {
	p, ok := c.Pipelines[pipeline]
	if !ok {
		return nil, fmt.Errorf("unknown pipeline %q", pipeline)
	}
	steps := make([]core.StepSpec, len(p.Steps))
	for i, s := range p.Steps {
		if s.Timeout <= 0 {
			s.Timeout = c.Build.StepTimeout
		}
		steps[i] = s
	}
	return steps, nil
}
