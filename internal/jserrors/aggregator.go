// Package jserrors deduplicates JavaScript error reports by content hash and
// merges their counts into persisted error records.
package jserrors

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/config"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/metrics"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/store"
)

type pending struct {
	sessionID string
	message   string
	stack     string
	url       string
	count     int64
	firstSeen time.Time
	lastSeen  time.Time
}

// Aggregator accumulates error reports in memory keyed by content hash.
type Aggregator struct {
	store      store.Store
	logger     *slog.Logger
	siteID     string
	maxPending int

	mu      sync.Mutex
	entries map[string]*pending
}

// NewAggregator creates an Aggregator sized from config.
func NewAggregator(cfg *config.Config, st store.Store, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		store:      st,
		logger:     logger,
		siteID:     cfg.SiteID,
		maxPending: cfg.ErrorMaxPending,
		entries:    make(map[string]*pending),
	}
}

// Hash derives the dedup key from the error message and the second
// stack-trace line - the call site - so errors thrown from the same location
// group together regardless of top-frame noise.
func Hash(message, stack string) string {
	callSite := ""
	lines := strings.Split(stack, "\n")
	if len(lines) > 1 {
		callSite = strings.TrimSpace(lines[1])
	}
	sum := sha256.Sum256([]byte(message + "\n" + callSite))
	return hex.EncodeToString(sum[:])
}

// Record accumulates one error report. When the in-memory map is at its size
// ceiling, a flush is forced before inserting a new key.
func (a *Aggregator) Record(sessionID, message, stack, url string) {
	key := Hash(message, stack)
	now := time.Now().UTC()

	a.mu.Lock()
	if e, ok := a.entries[key]; ok {
		e.count++
		e.lastSeen = now
		a.mu.Unlock()
		metrics.ErrorsDeduplicated.Inc()
		return
	}

	if a.maxPending > 0 && len(a.entries) >= a.maxPending {
		drained := a.entries
		a.entries = make(map[string]*pending)
		a.mu.Unlock()
		a.flushEntries(context.Background(), drained)
		a.mu.Lock()
	}

	a.entries[key] = &pending{
		sessionID: sessionID,
		message:   message,
		stack:     stack,
		url:       url,
		count:     1,
		firstSeen: now,
		lastSeen:  now,
	}
	a.mu.Unlock()
}

// Flush merges all pending entries into the store. In-memory counts reset to
// zero; persisted counters only ever increase.
func (a *Aggregator) Flush(ctx context.Context) {
	a.mu.Lock()
	drained := a.entries
	a.entries = make(map[string]*pending)
	a.mu.Unlock()

	a.flushEntries(ctx, drained)
}

// flushEntries persists each entry independently: one key's failure never
// aborts the others.
func (a *Aggregator) flushEntries(ctx context.Context, entries map[string]*pending) {
	for key, e := range entries {
		if err := a.persist(ctx, key, e); err != nil {
			a.logger.Error("Failed to flush error record",
				slog.String("hash", key),
				slog.String("message", e.message),
				slog.Any("error", err))
		}
	}
}

func (a *Aggregator) persist(ctx context.Context, key string, e *pending) error {
	existing, err := a.store.FindOne(ctx, store.CollectionErrors, store.Filter{"hash": key})
	if err == nil {
		return a.increment(ctx, existing, e)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	_, err = a.store.Create(ctx, store.CollectionErrors, store.Record{
		"site_id":    a.siteID,
		"hash":       key,
		"session_id": e.sessionID,
		"message":    e.message,
		"stack":      e.stack,
		"url":        e.url,
		"count":      e.count,
		"first_seen": e.firstSeen,
		"last_seen":  e.lastSeen,
		"created_at": e.firstSeen,
		"updated_at": e.lastSeen,
	})
	if errors.Is(err, store.ErrConflict) {
		// Another process created the record between our lookup and create;
		// merge into it instead.
		existing, err = a.store.FindOne(ctx, store.CollectionErrors, store.Filter{"hash": key})
		if err != nil {
			return err
		}
		return a.increment(ctx, existing, e)
	}
	return err
}

func (a *Aggregator) increment(ctx context.Context, existing store.Record, e *pending) error {
	_, err := a.store.Update(ctx, store.CollectionErrors, existing.ID(), store.Record{
		"count":      existing.Int("count") + e.count,
		"last_seen":  e.lastSeen,
		"updated_at": e.lastSeen,
	})
	return err
}

// PendingCount returns the number of distinct pending errors; intended for
// tests.
func (a *Aggregator) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}
