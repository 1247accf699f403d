package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"

	"datagrid-backend/internal/logger"
)

type InstrumentationConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
	SlowQueryMs  int     `mapstructure:"slow_query_ms"`
}

type Config struct {
	Server          ServerConfig          `mapstructure:"server"`
	Database        DatabaseConfig        `mapstructure:"database"`
	Storage         StorageConfig         `mapstructure:"storage"`
	Upload          UploadConfig          `mapstructure:"upload"`
	Auth            AuthConfig            `mapstructure:"auth"`
	Log             logger.Options        `mapstructure:"log"`
	Instrumentation InstrumentationConfig `mapstructure:"instrumentation"`
	TablesDir       string                `mapstructure:"tables_dir"`
}

type StorageConfig struct {
	Driver      string `mapstructure:"driver"`
	LocalPath   string `mapstructure:"local_path"`
	MaxFileSize int64  `mapstructure:"max_file_size"`
}

type UploadConfig struct {
	MaxRows       int           `mapstructure:"max_rows"`
	StagingTTL    time.Duration `mapstructure:"staging_ttl"`
	PurgeSchedule string        `mapstructure:"purge_schedule"`
	ArchiveFiles  bool          `mapstructure:"archive_files"`
	Timezone      string        `mapstructure:"timezone"`
}

// Location resolves the configured timezone, falling back to UTC.
func (u UploadConfig) Location() *time.Location {
	if u.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type AuthConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	JWTSecret     string        `mapstructure:"jwt_secret"`
	AccessTTL     time.Duration `mapstructure:"access_ttl"`
	RefreshTTL    time.Duration `mapstructure:"refresh_ttl"`
	AdminEmail    string        `mapstructure:"admin_email"`
	AdminPassword string        `mapstructure:"admin_password"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BodyLimit    int           `mapstructure:"body_limit"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
	Path     string `mapstructure:"path"` // directory for SQLite database files
}

// DSN returns the driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	if d.IsSQLite() {
		return d.Path + "/" + d.Name + ".db"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// IsSQLite returns true if the driver is sqlite.
func (d DatabaseConfig) IsSQLite() bool {
	return d.Driver == "sqlite"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.body_limit", 20*1024*1024)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "datagrid")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.path", "./data")
	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.local_path", "./uploads")
	v.SetDefault("storage.max_file_size", 10485760)
	v.SetDefault("upload.max_rows", 10000)
	v.SetDefault("upload.staging_ttl", "1h")
	v.SetDefault("upload.purge_schedule", "@every 5m")
	v.SetDefault("upload.archive_files", true)
	v.SetDefault("upload.timezone", "UTC")
	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.jwt_secret", "changeme-secret")
	v.SetDefault("auth.access_ttl", "15m")
	v.SetDefault("auth.refresh_ttl", "168h")
	v.SetDefault("auth.admin_email", "admin@localhost")
	v.SetDefault("auth.admin_password", "changeme")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("instrumentation.enabled", true)
	v.SetDefault("instrumentation.sampling_rate", 1.0)
	v.SetDefault("instrumentation.slow_query_ms", 200)
	v.SetDefault("tables_dir", "")
}

// Load reads app.yaml (or the file at path, when given), overlays
// DATAGRID_* environment variables and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("app")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("../..")
	}

	setDefaults(v)

	v.SetEnvPrefix("datagrid")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		logger.Warnf("no app.yaml found, using defaults and environment")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var result error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" {
			result = multierror.Append(result, fmt.Errorf("database.host is required for postgres"))
		}
	case "sqlite":
		if c.Database.Path == "" {
			result = multierror.Append(result, fmt.Errorf("database.path is required for sqlite"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unsupported database.driver %q", c.Database.Driver))
	}
	if c.Database.Name == "" {
		result = multierror.Append(result, fmt.Errorf("database.name is required"))
	}
	if c.Storage.Driver != "local" {
		result = multierror.Append(result, fmt.Errorf("unsupported storage.driver %q", c.Storage.Driver))
	}
	if c.Upload.MaxRows <= 0 {
		result = multierror.Append(result, fmt.Errorf("upload.max_rows must be positive"))
	}
	if c.Upload.StagingTTL <= 0 {
		result = multierror.Append(result, fmt.Errorf("upload.staging_ttl must be positive"))
	}
	if c.Upload.Timezone != "" {
		if _, err := time.LoadLocation(c.Upload.Timezone); err != nil {
			result = multierror.Append(result, fmt.Errorf("upload.timezone: %w", err))
		}
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		result = multierror.Append(result, fmt.Errorf("auth.jwt_secret is required when auth is enabled"))
	}
	if c.Instrumentation.SamplingRate < 0 || c.Instrumentation.SamplingRate > 1 {
		result = multierror.Append(result, fmt.Errorf("instrumentation.sampling_rate must be within [0, 1]"))
	}
	return result
}
