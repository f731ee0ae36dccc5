// Package app loads configuration and wires the toolshed server.
package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/bnema/toolshed/internal/adapters/out/nsconfig"
	"github.com/bnema/toolshed/internal/adapters/out/s3store"
	"github.com/bnema/toolshed/internal/adapters/out/telemetry"
	"github.com/bnema/toolshed/internal/domain"
)

// Namespace storage backends.
const (
	BackendFilesystem = "filesystem"
	BackendRedis      = "redis"
	BackendS3         = "s3"
	BackendMemory     = "memory"
)

// Tool store types.
const (
	StoreBolt   = "bolt"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Config holds the application configuration.
type Config struct {
	Server struct {
		Addr            string        `mapstructure:"addr"`
		DataDir         string        `mapstructure:"data_dir"`
		MaxUploadSize   int64         `mapstructure:"max_upload_size"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
		File   struct {
			Enabled    bool   `mapstructure:"enabled"`
			Path       string `mapstructure:"path"`
			MaxSize    int    `mapstructure:"max_size"`
			MaxBackups int    `mapstructure:"max_backups"`
			MaxAge     int    `mapstructure:"max_age"`
		} `mapstructure:"file"`
	} `mapstructure:"logging"`

	Auth struct {
		Enabled         bool     `mapstructure:"enabled"`
		TokenSecret     string   `mapstructure:"token_secret"`
		Issuer          string   `mapstructure:"issuer"`
		AnonymousClaims []string `mapstructure:"anonymous_claims"` // e.g. "group:anonymous"
	} `mapstructure:"auth"`

	API struct {
		RateLimit struct {
			Enabled        bool     `mapstructure:"enabled"`
			Backend        string   `mapstructure:"backend"` // "memory" or "redis"
			RedisURL       string   `mapstructure:"redis_url"`
			GlobalRPS      float64  `mapstructure:"global_rps"`
			PerIPRPS       float64  `mapstructure:"per_ip_rps"`
			Burst          int      `mapstructure:"burst"`
			TrustedProxies []string `mapstructure:"trusted_proxies"`
		} `mapstructure:"rate_limit"`
	} `mapstructure:"api"`

	Telemetry telemetry.Config `mapstructure:"telemetry"`

	Storage struct {
		TempDir      string              `mapstructure:"temp_dir"`
		ArenaTTL     time.Duration       `mapstructure:"arena_ttl"`
		FetchTimeout time.Duration       `mapstructure:"fetch_timeout"`
		Namespaces   []NamespaceSettings `mapstructure:"namespaces"`
	} `mapstructure:"storage"`

	Tools struct {
		Store struct {
			Type string `mapstructure:"type"`
			Path string `mapstructure:"path"`
		} `mapstructure:"store"`
		MaxUpdateRetries uint64         `mapstructure:"max_update_retries"`
		Seed             []SeedSettings `mapstructure:"seed"`
	} `mapstructure:"tools"`
}

// NamespaceSettings configures one storage namespace and its ACL.
type NamespaceSettings struct {
	ID      string                   `mapstructure:"id"`
	Backend string                   `mapstructure:"backend"`
	Path    string                   `mapstructure:"path"`   // filesystem root, defaults to {data_dir}/storage/{id}
	URL     string                   `mapstructure:"url"`    // redis URL
	Prefix  string                   `mapstructure:"prefix"` // redis key prefix
	S3      s3store.Config           `mapstructure:"s3"`
	ACL     []nsconfig.EntrySettings `mapstructure:"acl"`
}

// SeedSettings is a tool published from configuration at startup.
type SeedSettings struct {
	ID              string            `mapstructure:"id"`
	Name            string            `mapstructure:"name"`
	Description     string            `mapstructure:"description"`
	Category        string            `mapstructure:"category"`
	Group           string            `mapstructure:"group"`
	Platforms       []string          `mapstructure:"platforms"`
	Public          bool              `mapstructure:"public"`
	Bundled         bool              `mapstructure:"bundled"`
	ShowInUgs       bool              `mapstructure:"show_in_ugs"`
	ShowInDashboard bool              `mapstructure:"show_in_dashboard"`
	ShowInToolbox   bool              `mapstructure:"show_in_toolbox"`
	Metadata        map[string]string `mapstructure:"metadata"`
	Namespace       string            `mapstructure:"namespace"`
}

// Record converts the seed entry into a tool record.
func (s SeedSettings) Record() (*domain.Tool, error) {
	tool := &domain.Tool{
		ID:              domain.ToolID(s.ID),
		Name:            s.Name,
		Description:     s.Description,
		Category:        s.Category,
		Group:           s.Group,
		Platforms:       s.Platforms,
		Public:          s.Public,
		Bundled:         s.Bundled,
		ShowInUgs:       s.ShowInUgs,
		ShowInDashboard: s.ShowInDashboard,
		ShowInToolbox:   s.ShowInToolbox,
		Metadata:        s.Metadata,
		NamespaceID:     domain.NamespaceID(s.Namespace),
	}
	if err := tool.ID.Validate(); err != nil {
		return nil, err
	}
	if err := tool.Namespace().Validate(); err != nil {
		return nil, err
	}
	if tool.Name == "" {
		tool.Name = s.ID
	}
	return tool, nil
}

// initConfig loads configuration from file.
func initConfig(configPath string) (*viper.Viper, Config, error) {
	v := viper.New()
	if err := loadConfig(v, configPath); err != nil {
		return nil, Config{}, fmt.Errorf("%w: %w", domain.ErrConfigLoadFailed, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, Config{}, fmt.Errorf("%w: failed to unmarshal config: %w", domain.ErrConfigLoadFailed, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, Config{}, err
	}

	return v, cfg, nil
}

// loadConfig loads configuration from file and sets defaults.
func loadConfig(v *viper.Viper, configPath string) error {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.data_dir", defaultDataDir())
	v.SetDefault("server.max_upload_size", int64(4<<30))
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.enabled", false)
	v.SetDefault("logging.file.max_size", 100)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age", 28)
	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.token_secret", "")
	v.SetDefault("auth.issuer", "toolshed")
	v.SetDefault("api.rate_limit.enabled", true)
	v.SetDefault("api.rate_limit.backend", "memory")
	v.SetDefault("api.rate_limit.global_rps", 500)
	v.SetDefault("api.rate_limit.per_ip_rps", 50)
	v.SetDefault("api.rate_limit.burst", 100)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.traces", true)
	v.SetDefault("telemetry.metrics", true)
	v.SetDefault("telemetry.trace_sample_rate", 1.0)
	v.SetDefault("storage.arena_ttl", "5m")
	v.SetDefault("storage.fetch_timeout", "2m")
	v.SetDefault("tools.store.type", StoreBolt)
	v.SetDefault("tools.max_update_retries", 5)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("toolshed")
		v.SetConfigType("toml")
		for _, dir := range configSearchPath() {
			v.AddConfigPath(dir)
		}
	}

	// An optional .env next to the config file feeds the TOOLSHED_* overrides.
	if configPath != "" {
		if err := godotenv.Load(filepath.Join(filepath.Dir(configPath), ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("TOOLSHED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return nil
}

func (c *Config) validate() error {
	if c.Auth.Enabled && c.Auth.TokenSecret == "" {
		return fmt.Errorf("%w: auth.token_secret is required when auth is enabled", domain.ErrInvalidConfig)
	}

	seen := make(map[string]struct{}, len(c.Storage.Namespaces))
	for i, ns := range c.Storage.Namespaces {
		if err := domain.NamespaceID(ns.ID).Validate(); err != nil {
			return fmt.Errorf("storage.namespaces[%d]: %w", i, err)
		}
		if _, dup := seen[ns.ID]; dup {
			return fmt.Errorf("%w: duplicate namespace %q", domain.ErrInvalidConfig, ns.ID)
		}
		seen[ns.ID] = struct{}{}

		switch ns.Backend {
		case "", BackendFilesystem, BackendMemory:
		case BackendRedis:
			if ns.URL == "" {
				return fmt.Errorf("%w: namespace %s: redis backend requires url", domain.ErrInvalidConfig, ns.ID)
			}
		case BackendS3:
			if ns.S3.Endpoint == "" {
				return fmt.Errorf("%w: namespace %s: s3 backend requires s3.endpoint", domain.ErrInvalidConfig, ns.ID)
			}
		default:
			return fmt.Errorf("%w: namespace %s: unknown backend %q", domain.ErrInvalidConfig, ns.ID, ns.Backend)
		}
	}

	switch c.Tools.Store.Type {
	case StoreBolt, StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("%w: unknown tools.store.type %q", domain.ErrInvalidConfig, c.Tools.Store.Type)
	}

	return nil
}

// defaultDataDir holds tool metadata, spooled uploads and filesystem
// namespaces. Services running as root share /var/lib/toolshed.
func defaultDataDir() string {
	if os.Geteuid() == 0 {
		return "/var/lib/toolshed"
	}
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "toolshed")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "toolshed")
	}
	return "/var/lib/toolshed"
}

// configSearchPath lists where toolshed.toml is looked up, first match wins.
func configSearchPath() []string {
	dirs := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(dir, "toolshed"))
	}
	return append(dirs, "/etc/toolshed")
}
