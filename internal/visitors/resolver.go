// Package visitors resolves request fingerprints to durable visitor
// identities. Concurrent first-resolutions for the same fingerprint are
// serialized so the record store sees at most one creation attempt per
// fingerprint per process.
package visitors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/config"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/metrics"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/pkg/ttlcache"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/store"
)

// Visitor is the resolved durable identity.
type Visitor struct {
	ID          string
	SiteID      string
	Fingerprint string
	UserID      string
	Name        string
	Email       string
	Phone       string
}

type resolution struct {
	visitor *Visitor
	isNew   bool
}

// Resolver maps fingerprints to visitors with a TTL cache in front of the
// record store.
type Resolver struct {
	store   store.Store
	cache   *ttlcache.Cache[*Visitor]
	flights singleflight.Group
	siteID  string
	logger  *slog.Logger
}

// NewResolver creates a Resolver with the cache sized from config.
func NewResolver(cfg *config.Config, st store.Store, logger *slog.Logger) *Resolver {
	return &Resolver{
		store: st,
		cache: ttlcache.New[*Visitor](ttlcache.Options{
			TTL:        cfg.VisitorCacheTTL(),
			MaxEntries: cfg.VisitorCacheMaxSize,
		}),
		siteID: cfg.SiteID,
		logger: logger,
	}
}

// Resolve returns the visitor for a fingerprint, creating it on first sight.
// The returned bool is true when this resolution created the visitor.
// Concurrent callers for the same fingerprint await a single in-flight
// lookup-or-create instead of racing the store.
func (r *Resolver) Resolve(ctx context.Context, fingerprint string) (*Visitor, bool, error) {
	if v, ok := r.cache.Get(fingerprint); ok {
		return v, false, nil
	}

	result, err, _ := r.flights.Do(fingerprint, func() (any, error) {
		// A flight that queued behind a finished one can be satisfied from
		// the cache the first flight populated.
		if v, ok := r.cache.Get(fingerprint); ok {
			return resolution{visitor: v}, nil
		}
		return r.lookupOrCreate(ctx, fingerprint)
	})
	if err != nil {
		return nil, false, err
	}

	res := result.(resolution)
	return res.visitor, res.isNew, nil
}

func (r *Resolver) lookupOrCreate(ctx context.Context, fingerprint string) (resolution, error) {
	record, err := r.store.FindOne(ctx, store.CollectionVisitors, store.Filter{"fingerprint": fingerprint})
	if err == nil {
		v := visitorFromRecord(record)
		r.cache.Set(fingerprint, v)
		return resolution{visitor: v}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return resolution{}, fmt.Errorf("failed to look up visitor: %w", err)
	}

	now := time.Now().UTC()
	record, err = r.store.Create(ctx, store.CollectionVisitors, store.Record{
		"site_id":     r.siteID,
		"fingerprint": fingerprint,
		"first_seen":  now,
		"last_seen":   now,
		"created_at":  now,
		"updated_at":  now,
	})
	if err == nil {
		metrics.VisitorsCreated.Inc()
		v := visitorFromRecord(record)
		r.cache.Set(fingerprint, v)
		return resolution{visitor: v, isNew: true}, nil
	}

	if errors.Is(err, store.ErrConflict) {
		// A concurrent creator (another process) won the race; the record
		// exists now, read it instead of failing.
		record, err = r.store.FindOne(ctx, store.CollectionVisitors, store.Filter{"fingerprint": fingerprint})
		if err != nil {
			return resolution{}, fmt.Errorf("failed to re-read visitor after creation conflict: %w", err)
		}
		v := visitorFromRecord(record)
		r.cache.Set(fingerprint, v)
		return resolution{visitor: v}, nil
	}

	return resolution{}, fmt.Errorf("failed to create visitor: %w", err)
}

// Sweep evicts expired cache entries. Called from the periodic sweep timer.
func (r *Resolver) Sweep() {
	r.cache.Sweep()
}

// Forget drops a fingerprint from the cache; intended for tests.
func (r *Resolver) Forget(fingerprint string) {
	r.cache.Delete(fingerprint)
}

func visitorFromRecord(record store.Record) *Visitor {
	return &Visitor{
		ID:          record.ID(),
		SiteID:      record.String("site_id"),
		Fingerprint: record.String("fingerprint"),
		UserID:      record.String("user_id"),
		Name:        record.String("name"),
		Email:       record.String("email"),
		Phone:       record.String("phone"),
	}
}
