package config

import "time"

// Config holds scriptorium configuration.
// Stored at: ~/.scriptorium/config.yaml (or ./config.yaml)
type Config struct {
	Server ServerCfg `mapstructure:"server" yaml:"server"`
	Log    LogCfg    `mapstructure:"log" yaml:"log"`
	Store  StoreCfg  `mapstructure:"store" yaml:"store"`
	Queue  QueueCfg  `mapstructure:"queue" yaml:"queue"`
	Fetch  FetchCfg  `mapstructure:"fetch" yaml:"fetch"`
	Export ExportCfg `mapstructure:"export" yaml:"export"`
}

// ServerCfg configures the HTTP server.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
}

// LogCfg configures the process logger.
type LogCfg struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text or json
}

// StoreCfg selects and configures the persistent store backend.
type StoreCfg struct {
	Backend     string `mapstructure:"backend" yaml:"backend"`           // file, redis, postgres, memory
	Path        string `mapstructure:"path" yaml:"path"`                 // file backend directory (default: ~/.scriptorium/state)
	RedisURL    string `mapstructure:"redis_url" yaml:"redis_url"`       // redis://host:port/db
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"` // supports ${ENV_VAR} syntax
	KeyPrefix   string `mapstructure:"key_prefix" yaml:"key_prefix"`     // namespace for keys
	// Managed starts the redis/postgres backend in a local Docker container.
	Managed       bool   `mapstructure:"managed" yaml:"managed"`
	Image         string `mapstructure:"image" yaml:"image"`
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	HostPort      string `mapstructure:"host_port" yaml:"host_port"`
}

// QueueCfg holds queue defaults. Values persisted in the queue state's
// global settings take precedence once the queue has been saved.
type QueueCfg struct {
	AutoStart           bool `mapstructure:"auto_start" yaml:"auto_start"`
	ConcurrentDownloads int  `mapstructure:"concurrent_downloads" yaml:"concurrent_downloads"`
	PauseBetweenItems   int  `mapstructure:"pause_between_items" yaml:"pause_between_items"` // seconds
	ResolveOnAdd        bool `mapstructure:"resolve_on_add" yaml:"resolve_on_add"`
	IdlePollMs          int  `mapstructure:"idle_poll_ms" yaml:"idle_poll_ms"`
	JobTimeoutSeconds   int  `mapstructure:"job_timeout_seconds" yaml:"job_timeout_seconds"` // 0 = no limit
}

// FetchCfg configures the page fetcher.
type FetchCfg struct {
	MaxConcurrency    int     `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	MaxRetries        int     `mapstructure:"max_retries" yaml:"max_retries"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	UserAgent         string  `mapstructure:"user_agent" yaml:"user_agent"`
	KeepImages        bool    `mapstructure:"keep_images" yaml:"keep_images"`
}

// ExportCfg configures uploading finished PDFs to S3-compatible storage.
type ExportCfg struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"` // supports ${ENV_VAR} syntax
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"` // supports ${ENV_VAR} syntax
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerCfg{
			Host: "127.0.0.1",
			Port: "8080",
		},
		Log: LogCfg{
			Level:  "info",
			Format: "text",
		},
		Store: StoreCfg{
			Backend:       "file",
			RedisURL:      "redis://localhost:6379/0",
			PostgresDSN:   "${SCRIPTORIUM_POSTGRES_DSN}",
			KeyPrefix:     "scriptorium:",
			ContainerName: "scriptorium-store",
		},
		Queue: QueueCfg{
			AutoStart:           false,
			ConcurrentDownloads: 3,
			PauseBetweenItems:   0,
			ResolveOnAdd:        true,
			IdlePollMs:          1000,
		},
		Fetch: FetchCfg{
			MaxConcurrency:    4,
			RequestsPerSecond: 4,
			MaxRetries:        5,
			TimeoutSeconds:    120,
			UserAgent:         "scriptorium/1.0 (+https://github.com/jackzampolin/scriptorium)",
		},
		Export: ExportCfg{
			AccessKey: "${SCRIPTORIUM_S3_ACCESS_KEY}",
			SecretKey: "${SCRIPTORIUM_S3_SECRET_KEY}",
			UseSSL:    true,
			Prefix:    "manuscripts/",
		},
	}
}

// JobTimeout returns the per-job hard timeout, or 0 for none.
func (c QueueCfg) JobTimeout() time.Duration {
	if c.JobTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

// IdlePoll returns how long a paused processing loop sleeps between checks.
func (c QueueCfg) IdlePoll() time.Duration {
	if c.IdlePollMs <= 0 {
		return time.Second
	}
	return time.Duration(c.IdlePollMs) * time.Millisecond
}

// Timeout returns the HTTP timeout for a single page request.
func (c FetchCfg) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}
