// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Store backends
const (
	EmbeddedStore = "embedded"
	RemoteStore   = "remote"
)

// Config holds all configuration parameters for the SDK
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`

	// Site identity and fingerprinting
	SiteID     string `mapstructure:"siteid"`
	PrivateKey string `mapstructure:"privatekey"`

	// Record store settings
	StoreBackend  string `mapstructure:"storebackend"`
	StoreURL      string `mapstructure:"storeurl"`
	StoreIdentity string `mapstructure:"storeidentity"`
	StorePassword string `mapstructure:"storepassword"`
	StoragePath   string `mapstructure:"storagepath"`

	// Database settings (embedded store)
	DatabaseMaxOpenConns int `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int `mapstructure:"dbmaxidleconns"`

	// Session tracking
	SessionTimeoutSeconds int `mapstructure:"sessiontimeoutseconds"`
	SessionCacheMaxSize   int `mapstructure:"sessioncachemaxsize"`
	SessionSweepSeconds   int `mapstructure:"sessionsweepseconds"`

	// Visitor resolution
	VisitorCacheTTLSeconds int `mapstructure:"visitorcachettlseconds"`
	VisitorCacheMaxSize    int `mapstructure:"visitorcachemaxsize"`

	// Bot classification
	BotCacheTTLSeconds   int `mapstructure:"botcachettlseconds"`
	BotCacheMaxSize      int `mapstructure:"botcachemaxsize"`
	BotCacheSweepSeconds int `mapstructure:"botcachesweepseconds"`

	// Event batching
	BatchingEnabled      bool `mapstructure:"batchingenabled"`
	BatchSize            int  `mapstructure:"batchsize"`
	BatchQueueHardLimit  int  `mapstructure:"batchqueuehardlimit"`
	FlushIntervalSeconds int  `mapstructure:"flushintervalseconds"`

	// Error aggregation
	ErrorFlushIntervalSeconds int `mapstructure:"errorflushintervalseconds"`
	ErrorMaxPending           int `mapstructure:"errormaxpending"`

	// Live site-config subscription (remote store polling)
	ConfigPollSeconds int `mapstructure:"configpollseconds"`

	// GeoIP
	GeoDBPath string `mapstructure:"geodbpath"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the SDK configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		v.SetDefault("appname", "skopos")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("privatekey", "88888888888888888888888888888888")
		v.SetDefault("storebackend", EmbeddedStore)
		v.SetDefault("storagepath", "storage")
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("sessiontimeoutseconds", 1800)
		v.SetDefault("sessioncachemaxsize", 10000)
		v.SetDefault("sessionsweepseconds", 300)
		v.SetDefault("visitorcachettlseconds", 900)
		v.SetDefault("visitorcachemaxsize", 10000)
		v.SetDefault("botcachettlseconds", 1800)
		v.SetDefault("botcachemaxsize", 5000)
		v.SetDefault("botcachesweepseconds", 300)
		v.SetDefault("batchingenabled", true)
		v.SetDefault("batchsize", 20)
		v.SetDefault("batchqueuehardlimit", 500)
		v.SetDefault("flushintervalseconds", 15)
		v.SetDefault("errorflushintervalseconds", 60)
		v.SetDefault("errormaxpending", 500)
		v.SetDefault("configpollseconds", 30)
		v.SetDefault("geodbpath", "storage/GeoLite2-Country.mmdb")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)

		v.BindEnv("appname", "SKOPOS_APP_NAME")
		v.BindEnv("appport", "SKOPOS_APP_PORT")
		v.BindEnv("environment", "SKOPOS_ENV")
		v.BindEnv("loglevel", "SKOPOS_LOG_LEVEL")
		v.BindEnv("siteid", "SKOPOS_SITE_ID")
		v.BindEnv("privatekey", "SKOPOS_PRIVATE_KEY")
		v.BindEnv("storebackend", "SKOPOS_STORE_BACKEND")
		v.BindEnv("storeurl", "SKOPOS_STORE_URL")
		v.BindEnv("storeidentity", "SKOPOS_STORE_IDENTITY")
		v.BindEnv("storepassword", "SKOPOS_STORE_PASSWORD")
		v.BindEnv("storagepath", "SKOPOS_STORAGE_PATH")
		v.BindEnv("dbmaxopenconns", "SKOPOS_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "SKOPOS_DB_MAX_IDLE_CONNS")
		v.BindEnv("sessiontimeoutseconds", "SKOPOS_SESSION_TIMEOUT_SECONDS")
		v.BindEnv("sessioncachemaxsize", "SKOPOS_SESSION_CACHE_MAX_SIZE")
		v.BindEnv("sessionsweepseconds", "SKOPOS_SESSION_SWEEP_SECONDS")
		v.BindEnv("visitorcachettlseconds", "SKOPOS_VISITOR_CACHE_TTL_SECONDS")
		v.BindEnv("visitorcachemaxsize", "SKOPOS_VISITOR_CACHE_MAX_SIZE")
		v.BindEnv("botcachettlseconds", "SKOPOS_BOT_CACHE_TTL_SECONDS")
		v.BindEnv("botcachemaxsize", "SKOPOS_BOT_CACHE_MAX_SIZE")
		v.BindEnv("botcachesweepseconds", "SKOPOS_BOT_CACHE_SWEEP_SECONDS")
		v.BindEnv("batchingenabled", "SKOPOS_BATCHING_ENABLED")
		v.BindEnv("batchsize", "SKOPOS_BATCH_SIZE")
		v.BindEnv("batchqueuehardlimit", "SKOPOS_BATCH_QUEUE_HARD_LIMIT")
		v.BindEnv("flushintervalseconds", "SKOPOS_FLUSH_INTERVAL_SECONDS")
		v.BindEnv("errorflushintervalseconds", "SKOPOS_ERROR_FLUSH_INTERVAL_SECONDS")
		v.BindEnv("errormaxpending", "SKOPOS_ERROR_MAX_PENDING")
		v.BindEnv("configpollseconds", "SKOPOS_CONFIG_POLL_SECONDS")
		v.BindEnv("geodbpath", "SKOPOS_GEO_DB_PATH")
		v.BindEnv("logsdir", "SKOPOS_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "SKOPOS_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "SKOPOS_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "SKOPOS_LOGS_MAX_AGE_IN_DAYS")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}
	})
	return cfg
}

// validate checks the configuration for errors. Missing required init fields
// are fatal at startup.
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	if c.SiteID == "" {
		return fmt.Errorf("SKOPOS_SITE_ID is required")
	}

	switch c.StoreBackend {
	case EmbeddedStore:
	case RemoteStore:
		if c.StoreURL == "" {
			return fmt.Errorf("remote store backend requires SKOPOS_STORE_URL")
		}
		if c.StoreIdentity == "" || c.StorePassword == "" {
			return fmt.Errorf("remote store backend requires SKOPOS_STORE_IDENTITY and SKOPOS_STORE_PASSWORD")
		}
	default:
		return fmt.Errorf("invalid store backend: %s", c.StoreBackend)
	}

	if c.PrivateKey == "" {
		return fmt.Errorf("private key is required")
	}
	if c.IsProduction() && c.PrivateKey == "88888888888888888888888888888888" {
		return fmt.Errorf("production requires a unique SKOPOS_PRIVATE_KEY (cannot use default)")
	}

	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.BatchQueueHardLimit < c.BatchSize {
		return fmt.Errorf("batch queue hard limit must be at least the batch size")
	}

	return nil
}

// SessionTimeout returns the session inactivity timeout.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutSeconds) * time.Second
}

// VisitorCacheTTL returns how long resolved visitors stay cached.
func (c *Config) VisitorCacheTTL() time.Duration {
	return time.Duration(c.VisitorCacheTTLSeconds) * time.Second
}

// BotCacheTTL returns how long memoized bot scores stay cached.
func (c *Config) BotCacheTTL() time.Duration {
	return time.Duration(c.BotCacheTTLSeconds) * time.Second
}

// FlushInterval returns the background event flush interval.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalSeconds) * time.Second
}

// ErrorFlushInterval returns the background error flush interval.
func (c *Config) ErrorFlushInterval() time.Duration {
	return time.Duration(c.ErrorFlushIntervalSeconds) * time.Second
}

// SessionSweepInterval returns the session cache sweep interval.
func (c *Config) SessionSweepInterval() time.Duration {
	return time.Duration(c.SessionSweepSeconds) * time.Second
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetMaxOpenConns returns the MaxOpenConns value for the embedded store.
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}
	if c.Environment == Test {
		return 1
	}
	return 10
}

// GetMaxIdleConns returns the MaxIdleConns value for the embedded store.
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}
	if c.Environment == Test {
		return 1
	}
	return 5
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
