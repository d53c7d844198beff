package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/config"
)

// Embedded is the SQLite-backed store, for self-contained deployments and
// tests. It wraps cartridge's sqlite.Manager.
type Embedded struct {
	manager *sqlite.Manager
	db      *gorm.DB
	logger  *slog.Logger

	subMu       sync.Mutex
	subscribers map[string][]func(Record)
}

var _ Store = (*Embedded)(nil)

// NewEmbedded creates and connects the embedded store.
func NewEmbedded(cfg *config.Config, logger *slog.Logger) (*Embedded, error) {
	path := filepath.Join(cfg.StoragePath, fmt.Sprintf("%s-%s.db", cfg.AppName, cfg.Environment))
	manager := sqlite.NewManager(sqlite.Config{
		Path:         path,
		MaxOpenConns: cfg.GetMaxOpenConns(),
		MaxIdleConns: cfg.GetMaxIdleConns(),
		Logger:       logger,
		EnableWAL:    true,
		TxImmediate:  true,
		BusyTimeout:  5000,
	})
	db, err := manager.Connect()
	if err != nil {
		return nil, fmt.Errorf("failed to connect embedded store: %w", err)
	}

	e := &Embedded{
		manager:     manager,
		db:          db,
		logger:      logger,
		subscribers: make(map[string][]func(Record)),
	}
	if err := e.migrate(); err != nil {
		return nil, err
	}
	return e, nil
}

// NewEmbeddedFromDB wraps an existing gorm connection; intended for tests.
func NewEmbeddedFromDB(db *gorm.DB, logger *slog.Logger) (*Embedded, error) {
	e := &Embedded{
		db:          db,
		logger:      logger,
		subscribers: make(map[string][]func(Record)),
	}
	if err := e.migrate(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Embedded) migrate() error {
	err := e.db.Transaction(func(tx *gorm.DB) error {
		return tx.AutoMigrate(
			&VisitorModel{},
			&SessionModel{},
			&EventModel{},
			&ErrorModel{},
			&SummaryModel{},
			&SiteModel{},
		)
	})
	if err != nil {
		e.logger.Error("Failed to auto-migrate embedded store", slog.Any("error", err))
		return fmt.Errorf("failed to migrate embedded store: %w", err)
	}
	return nil
}

// FindOne returns the first record matching the filter.
func (e *Embedded) FindOne(ctx context.Context, collection string, filter Filter) (Record, error) {
	result := make(map[string]any)
	err := e.db.WithContext(ctx).Table(collection).Where(map[string]any(filter)).Take(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	return Record(result), nil
}

// Create inserts a record, assigning an id when the caller did not.
func (e *Embedded) Create(ctx context.Context, collection string, fields Record) (Record, error) {
	row := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		row[k] = v
	}
	if _, ok := row["id"]; !ok {
		row["id"] = uuid.NewString()
	}

	err := sqlite.PerformWrite(e.logger, e.db.WithContext(ctx), func(tx *gorm.DB) error {
		return tx.Table(collection).Create(row).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create %s record: %w", collection, err)
	}
	return Record(row), nil
}

// Update applies fields to an existing record and notifies subscribers.
func (e *Embedded) Update(ctx context.Context, collection string, id string, fields Record) (Record, error) {
	var affected int64
	err := sqlite.PerformWrite(e.logger, e.db.WithContext(ctx), func(tx *gorm.DB) error {
		res := tx.Table(collection).Where("id = ?", id).Updates(map[string]any(fields))
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to update %s record: %w", collection, err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	updated, err := e.FindOne(ctx, collection, Filter{"id": id})
	if err != nil {
		return nil, err
	}
	e.notify(collection, id, updated)
	return updated, nil
}

// Authenticate is a no-op for the embedded store.
func (e *Embedded) Authenticate(ctx context.Context) error {
	return nil
}

// Subscribe registers an in-process callback fired after each Update of the
// record.
func (e *Embedded) Subscribe(collection string, id string, onChange func(Record)) (func(), error) {
	key := collection + "/" + id

	e.subMu.Lock()
	e.subscribers[key] = append(e.subscribers[key], onChange)
	idx := len(e.subscribers[key]) - 1
	e.subMu.Unlock()

	cancel := func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		subs := e.subscribers[key]
		if idx < len(subs) {
			subs[idx] = nil
		}
	}
	return cancel, nil
}

func (e *Embedded) notify(collection, id string, record Record) {
	e.subMu.Lock()
	subs := append([]func(Record){}, e.subscribers[collection+"/"+id]...)
	e.subMu.Unlock()

	for _, fn := range subs {
		if fn != nil {
			fn(record)
		}
	}
}

// Close closes the underlying database.
func (e *Embedded) Close() error {
	sqlDB, err := e.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB exposes the underlying gorm connection for test assertions.
func (e *Embedded) DB() *gorm.DB {
	return e.db
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed") && strings.Contains(msg, "unique")
}
