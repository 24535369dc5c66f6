package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Cache      CacheConfig
	Log        LogConfig
	Aggregator AggregatorConfig
	Ledger     LedgerConfig
	Forecast   ForecastConfig
	Alerts     AlertsConfig
	Storage    StorageConfig
	Drive      DriveConfig
}

type ServerConfig struct {
	Port            string
	Mode            string
	ReadTimeout     int
	WriteTimeout    int
	ShutdownTimeout int
	AllowedOrigins  []string
}

type DatabaseConfig struct {
	Enabled          bool
	Host             string
	Port             string
	User             string
	Password         string
	DBName           string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	MaxConcurrentOps int64
}

// DSN returns the lib/pq keyword/value connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// URL returns the connection string in postgres:// form, as pgx expects it
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

type CacheConfig struct {
	Enabled           bool
	RedisURL          string
	RedisHost         string
	RedisPort         string
	RedisPassword     string
	RedisDB           int
	SummaryTTLSeconds int
}

type LogConfig struct {
	Level  string
	Format string // console or json
}

type AggregatorConfig struct {
	IntervalSeconds int
	MaxRunSeconds   int
	Workers         int
	SnapshotRetain  int // persisted snapshots kept in Postgres
}

func (c AggregatorConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c AggregatorConfig) MaxRunDuration() time.Duration {
	return time.Duration(c.MaxRunSeconds) * time.Second
}

type LedgerConfig struct {
	Backend string // memory, bolt, badger or postgres
	Path    string
}

type ForecastConfig struct {
	Backend string // memory or postgres
}

type AlertsConfig struct {
	DOHThreshold float64
}

type StorageConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Prefix    string
	UseSSL    bool
}

type DriveConfig struct {
	Enabled             bool
	FolderID            string
	CredentialsFile     string
	PollIntervalSeconds int
	DownloadDir         string
}

var (
	once     sync.Once
	instance *Config
	loadErr  error
)

// Load reads the process configuration once from .env and the environment.
func Load() (*Config, error) {
	once.Do(func() {
		// Load .env file if it exists
		_ = godotenv.Load()
		instance, loadErr = FromViper(viper.GetViper())
	})

	return instance, loadErr
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_MODE", "debug")
	v.SetDefault("SERVER_READ_TIMEOUT", 15)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 30)
	v.SetDefault("SERVER_SHUTDOWN_TIMEOUT", 10)
	v.SetDefault("SERVER_ALLOWED_ORIGINS", []string{"*"})

	v.SetDefault("DB_ENABLED", false)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "supplybalance")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_MAX_CONCURRENT_OPS", 10)

	v.SetDefault("CACHE_ENABLED", false)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_HOST", "127.0.0.1")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_SUMMARY_TTL_SECONDS", 600)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")

	v.SetDefault("AGGREGATOR_INTERVAL_SECONDS", 300)
	v.SetDefault("AGGREGATOR_MAX_RUN_SECONDS", 120)
	v.SetDefault("AGGREGATOR_WORKERS", 4)
	v.SetDefault("AGGREGATOR_SNAPSHOT_RETAIN", 24)

	v.SetDefault("LEDGER_BACKEND", "memory")
	v.SetDefault("LEDGER_PATH", "./data/ledger")
	v.SetDefault("FORECAST_BACKEND", "memory")
	v.SetDefault("ALERT_DOH_THRESHOLD", 30)

	v.SetDefault("STORAGE_ENABLED", false)
	v.SetDefault("STORAGE_REGION", "us-east-1")
	v.SetDefault("STORAGE_PREFIX", "snapshots")
	v.SetDefault("STORAGE_USE_SSL", true)

	v.SetDefault("DRIVE_ENABLED", false)
	v.SetDefault("DRIVE_POLL_INTERVAL_SECONDS", 600)
	v.SetDefault("DRIVE_DOWNLOAD_DIR", "./data/drive")
}

// FromViper builds a Config from v, applying defaults and environment
// overrides.
func FromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetString("SERVER_PORT"),
			Mode:            v.GetString("SERVER_MODE"),
			ReadTimeout:     v.GetInt("SERVER_READ_TIMEOUT"),
			WriteTimeout:    v.GetInt("SERVER_WRITE_TIMEOUT"),
			ShutdownTimeout: v.GetInt("SERVER_SHUTDOWN_TIMEOUT"),
			AllowedOrigins:  v.GetStringSlice("SERVER_ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			Enabled:          v.GetBool("DB_ENABLED"),
			Host:             v.GetString("DB_HOST"),
			Port:             v.GetString("DB_PORT"),
			User:             v.GetString("DB_USER"),
			Password:         v.GetString("DB_PASSWORD"),
			DBName:           v.GetString("DB_NAME"),
			SSLMode:          v.GetString("DB_SSLMODE"),
			MaxOpenConns:     v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:     v.GetInt("DB_MAX_IDLE_CONNS"),
			MaxConcurrentOps: v.GetInt64("DB_MAX_CONCURRENT_OPS"),
		},
		Cache: CacheConfig{
			Enabled:           v.GetBool("CACHE_ENABLED"),
			RedisURL:          v.GetString("REDIS_URL"),
			RedisHost:         v.GetString("REDIS_HOST"),
			RedisPort:         v.GetString("REDIS_PORT"),
			RedisPassword:     v.GetString("REDIS_PASSWORD"),
			RedisDB:           v.GetInt("REDIS_DB"),
			SummaryTTLSeconds: v.GetInt("CACHE_SUMMARY_TTL_SECONDS"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		Aggregator: AggregatorConfig{
			IntervalSeconds: v.GetInt("AGGREGATOR_INTERVAL_SECONDS"),
			MaxRunSeconds:   v.GetInt("AGGREGATOR_MAX_RUN_SECONDS"),
			Workers:         v.GetInt("AGGREGATOR_WORKERS"),
			SnapshotRetain:  v.GetInt("AGGREGATOR_SNAPSHOT_RETAIN"),
		},
		Ledger: LedgerConfig{
			Backend: v.GetString("LEDGER_BACKEND"),
			Path:    v.GetString("LEDGER_PATH"),
		},
		Forecast: ForecastConfig{
			Backend: v.GetString("FORECAST_BACKEND"),
		},
		Alerts: AlertsConfig{
			DOHThreshold: v.GetFloat64("ALERT_DOH_THRESHOLD"),
		},
		Storage: StorageConfig{
			Enabled:   v.GetBool("STORAGE_ENABLED"),
			Endpoint:  v.GetString("STORAGE_ENDPOINT"),
			AccessKey: v.GetString("STORAGE_ACCESS_KEY"),
			SecretKey: v.GetString("STORAGE_SECRET_KEY"),
			Bucket:    v.GetString("STORAGE_BUCKET"),
			Region:    v.GetString("STORAGE_REGION"),
			Prefix:    v.GetString("STORAGE_PREFIX"),
			UseSSL:    v.GetBool("STORAGE_USE_SSL"),
		},
		Drive: DriveConfig{
			Enabled:             v.GetBool("DRIVE_ENABLED"),
			FolderID:            v.GetString("DRIVE_FOLDER_ID"),
			CredentialsFile:     v.GetString("DRIVE_CREDENTIALS_FILE"),
			PollIntervalSeconds: v.GetInt("DRIVE_POLL_INTERVAL_SECONDS"),
			DownloadDir:         v.GetString("DRIVE_DOWNLOAD_DIR"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	switch cfg.Ledger.Backend {
	case "bolt", "badger":
		if err := ensureDir(cfg.Ledger.Path); err != nil {
			return nil, err
		}
	}
	if cfg.Drive.Enabled {
		if err := ensureDir(cfg.Drive.DownloadDir); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Aggregator.IntervalSeconds <= 0 {
		return fmt.Errorf("AGGREGATOR_INTERVAL_SECONDS must be positive, got %d", c.Aggregator.IntervalSeconds)
	}
	if c.Aggregator.MaxRunSeconds <= 0 {
		return fmt.Errorf("AGGREGATOR_MAX_RUN_SECONDS must be positive, got %d", c.Aggregator.MaxRunSeconds)
	}
	switch c.Ledger.Backend {
	case "memory", "bolt", "badger", "postgres":
	default:
		return fmt.Errorf("unknown LEDGER_BACKEND %q", c.Ledger.Backend)
	}
	switch c.Forecast.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown FORECAST_BACKEND %q", c.Forecast.Backend)
	}
	if (c.Ledger.Backend == "postgres" || c.Forecast.Backend == "postgres") && !c.Database.Enabled {
		return fmt.Errorf("postgres backends require DB_ENABLED=true")
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("unknown LOG_FORMAT %q", c.Log.Format)
	}
	return nil
}

func ensureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
