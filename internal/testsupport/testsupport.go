// Package testsupport provides shared test fixtures: an in-memory embedded
// store and a test configuration with short intervals.
package testsupport

import (
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/config"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/logging"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/store"
)

// SetupTestDB opens a unique named in-memory SQLite database for a test.
// cache=shared lets multiple connections see the same database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	sanitizedName := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// SetupTestStore builds an embedded store on an in-memory database.
func SetupTestStore(t *testing.T) *store.Embedded {
	t.Helper()

	st, err := store.NewEmbeddedFromDB(SetupTestDB(t), Logger())
	if err != nil {
		t.Fatalf("testsupport: failed to build embedded store: %v", err)
	}
	return st
}

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return logging.NewTestLogger()
}

// TestConfig returns a configuration with test-friendly values. Tests mutate
// the returned struct freely, it is never shared.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		AppName:     "skopos",
		AppPort:     "8080",
		Environment: config.Test,
		LogLevel:    config.LogLevelError,

		SiteID:     "site_test",
		PrivateKey: "test-private-key",

		StoreBackend: config.EmbeddedStore,
		StoragePath:  t.TempDir(),

		SessionTimeoutSeconds: 1800,
		SessionCacheMaxSize:   1000,
		SessionSweepSeconds:   300,

		VisitorCacheTTLSeconds: 900,
		VisitorCacheMaxSize:    1000,

		BotCacheTTLSeconds:   1800,
		BotCacheMaxSize:      1000,
		BotCacheSweepSeconds: 300,

		BatchingEnabled:      true,
		BatchSize:            20,
		BatchQueueHardLimit:  500,
		FlushIntervalSeconds: 15,

		ErrorFlushIntervalSeconds: 60,
		ErrorMaxPending:           500,

		ConfigPollSeconds: 30,
	}
}
