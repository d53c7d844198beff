// Package sessions maps visitors to their active session, rotating sessions
// on inactivity and deriving the engagement flag.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/config"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/metrics"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/pkg/useragent"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/store"
)

// engagementDuration is the explicit duration signal above which a single
// event marks its session engaged.
const engagementDuration = 10 * time.Second

// PageContext carries the per-event fields a new session is built from.
type PageContext struct {
	Path         string
	Referrer     string
	IPAddress    string
	ScreenWidth  int
	ScreenHeight int
	Language     string
	Country      string
	Duration     time.Duration
	UserAgent    useragent.UserAgent
}

// Session is the tracking outcome for one event.
type Session struct {
	ID            string
	IsNew         bool
	Engaged       bool
	BecameEngaged bool
}

type entry struct {
	mu           sync.Mutex
	sessionID    string
	lastActivity time.Time
	eventCount   int
	engaged      bool
}

// Tracker owns the per-visitor session cache. Track calls are serialized per
// visitor: overlapping events for one visitor must never create two active
// sessions, while store calls for distinct visitors proceed concurrently.
type Tracker struct {
	store   store.Store
	siteID  string
	timeout time.Duration
	maxSize int
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// NewTracker creates a Tracker sized from config.
func NewTracker(cfg *config.Config, st store.Store, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:   st,
		siteID:  cfg.SiteID,
		timeout: cfg.SessionTimeout(),
		maxSize: cfg.SessionCacheMaxSize,
		logger:  logger,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// acquire returns the visitor's entry with its lock held. The loop covers a
// sweep racing between the map lookup and the entry lock.
func (t *Tracker) acquire(visitorID string) *entry {
	for {
		t.mu.Lock()
		e, ok := t.entries[visitorID]
		if !ok {
			e = &entry{}
			t.entries[visitorID] = e
		}
		t.mu.Unlock()

		e.mu.Lock()
		t.mu.Lock()
		current := t.entries[visitorID] == e
		t.mu.Unlock()
		if current {
			return e
		}
		e.mu.Unlock()
	}
}

// Track resolves the active session for a visitor, creating or rotating one
// as needed, and updates the engagement state.
func (t *Tracker) Track(ctx context.Context, visitorID string, page PageContext) (Session, error) {
	e := t.acquire(visitorID)
	defer e.mu.Unlock()

	now := t.now()
	if e.sessionID == "" || now.Sub(e.lastActivity) >= t.timeout {
		return t.startSession(ctx, visitorID, e, page, now)
	}

	// Lightweight renewal: roll the exit path forward. The store may have
	// lost the session (retention cleanup, manual deletion); that is cache
	// divergence, not an error - fall back to creating a session for this
	// same event.
	becameEngaged := false
	if !e.engaged && (e.eventCount+1 >= 2 || page.Duration > engagementDuration) {
		becameEngaged = true
	}

	fields := store.Record{
		"exit_path":  page.Path,
		"updated_at": now.UTC(),
	}
	if becameEngaged {
		fields["engaged"] = true
	}

	_, err := t.store.Update(ctx, store.CollectionSessions, e.sessionID, fields)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			t.logger.Debug("Cached session no longer in store, recreating",
				slog.String("session_id", e.sessionID),
				slog.String("visitor_id", visitorID))
			return t.startSession(ctx, visitorID, e, page, now)
		}
		return Session{}, fmt.Errorf("failed to renew session: %w", err)
	}

	e.lastActivity = now
	e.eventCount++
	if becameEngaged {
		e.engaged = true
	}

	return Session{
		ID:            e.sessionID,
		Engaged:       e.engaged,
		BecameEngaged: becameEngaged,
	}, nil
}

// startSession creates a store session and resets the entry in place. The
// caller holds the entry lock.
func (t *Tracker) startSession(ctx context.Context, visitorID string, e *entry, page PageContext, now time.Time) (Session, error) {
	engaged := page.Duration > engagementDuration

	fields := store.Record{
		"site_id":       t.siteID,
		"visitor_id":    visitorID,
		"browser":       page.UserAgent.Browser,
		"os":            page.UserAgent.OS,
		"device":        page.UserAgent.Device,
		"entry_path":    page.Path,
		"exit_path":     page.Path,
		"referrer":      page.Referrer,
		"screen_width":  page.ScreenWidth,
		"screen_height": page.ScreenHeight,
		"language":      page.Language,
		"country":       page.Country,
		"engaged":       engaged,
		"created_at":    now.UTC(),
		"updated_at":    now.UTC(),
	}
	if page.IPAddress != "" {
		fields["ip_address"] = page.IPAddress
	}

	record, err := t.store.Create(ctx, store.CollectionSessions, fields)
	if err != nil {
		return Session{}, fmt.Errorf("failed to create session: %w", err)
	}

	e.sessionID = record.ID()
	e.lastActivity = now
	e.eventCount = 1
	e.engaged = engaged
	metrics.SessionsCreated.Inc()

	return Session{
		ID:            record.ID(),
		IsNew:         true,
		Engaged:       engaged,
		BecameEngaged: engaged,
	}, nil
}

// Sweep evicts entries past the session timeout and trims the cache to its
// hard maximum size, oldest first. Called from the periodic sweep timer.
func (t *Tracker) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()

	type aged struct {
		visitorID    string
		lastActivity time.Time
	}
	idle := make([]aged, 0, len(t.entries))
	for visitorID, e := range t.entries {
		// An entry busy with a store call is in use; never its turn to go.
		if !e.mu.TryLock() {
			continue
		}
		sessionID, lastActivity := e.sessionID, e.lastActivity
		e.mu.Unlock()

		if sessionID == "" || now.Sub(lastActivity) >= t.timeout {
			delete(t.entries, visitorID)
			continue
		}
		idle = append(idle, aged{visitorID: visitorID, lastActivity: lastActivity})
	}

	if t.maxSize <= 0 || len(t.entries) <= t.maxSize {
		return
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].lastActivity.Before(idle[j].lastActivity) })
	for i := 0; i < len(idle) && len(t.entries) > t.maxSize; i++ {
		delete(t.entries, idle[i].visitorID)
	}
}

// Len returns the session cache size; intended for tests.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
