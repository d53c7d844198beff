// Package summary folds per-event facts into in-memory per-day counters and
// breakdown maps, merged additively into persisted daily rollups on flush.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/config"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/store"
)

// conflictRetryDelay is how long a flush waits before re-reading a summary
// record another process created concurrently.
const conflictRetryDelay = 250 * time.Millisecond

// DayKey returns the UTC day bucket for a timestamp.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// SessionFacts carries the dimension values recorded once per new session.
type SessionFacts struct {
	Referrer     string
	Device       string
	Browser      string
	Language     string
	Country      string
	IsNewVisitor bool
}

type day struct {
	pageViews       int64
	visitors        int64
	newVisitors     int64
	returningVisits int64
	engagedSessions int64
	errorCount      int64

	pages     map[string]int64
	referrers map[string]int64
	devices   map[string]int64
	browsers  map[string]int64
	languages map[string]int64
	countries map[string]int64
	events    map[string]int64
	errors    map[string]int64
}

func newDay() *day {
	return &day{
		pages:     make(map[string]int64),
		referrers: make(map[string]int64),
		devices:   make(map[string]int64),
		browsers:  make(map[string]int64),
		languages: make(map[string]int64),
		countries: make(map[string]int64),
		events:    make(map[string]int64),
		errors:    make(map[string]int64),
	}
}

// Aggregator accumulates daily rollups in memory.
type Aggregator struct {
	store  store.Store
	logger *slog.Logger
	siteID string

	mu   sync.Mutex
	days map[string]*day
}

// NewAggregator creates an Aggregator for the configured site.
func NewAggregator(cfg *config.Config, st store.Store, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		store:  st,
		logger: logger,
		siteID: cfg.SiteID,
		days:   make(map[string]*day),
	}
}

func (a *Aggregator) dayLocked(key string) *day {
	d, ok := a.days[key]
	if !ok {
		d = newDay()
		a.days[key] = d
	}
	return d
}

// RecordSession folds one new session's dimensions into the day.
func (a *Aggregator) RecordSession(dayKey string, facts SessionFacts) {
	a.mu.Lock()
	defer a.mu.Unlock()

	d := a.dayLocked(dayKey)
	d.visitors++
	if facts.IsNewVisitor {
		d.newVisitors++
	} else {
		d.returningVisits++
	}
	if facts.Referrer != "" {
		d.referrers[facts.Referrer]++
	}
	if facts.Device != "" {
		d.devices[facts.Device]++
	}
	if facts.Browser != "" {
		d.browsers[facts.Browser]++
	}
	if facts.Language != "" {
		d.languages[facts.Language]++
	}
	if facts.Country != "" {
		d.countries[facts.Country]++
	}
}

// RecordPageView counts one page view on a path.
func (a *Aggregator) RecordPageView(dayKey, path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.dayLocked(dayKey)
	d.pageViews++
	if path != "" {
		d.pages[path]++
	}
}

// RecordCustomEvent counts one custom event by name.
func (a *Aggregator) RecordCustomEvent(dayKey, name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.dayLocked(dayKey)
	if name != "" {
		d.events[name]++
	}
}

// RecordError counts one error event by message.
func (a *Aggregator) RecordError(dayKey, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.dayLocked(dayKey)
	d.errorCount++
	if message != "" {
		d.errors[message]++
	}
}

// RecordEngagement counts a session that became engaged.
func (a *Aggregator) RecordEngagement(dayKey string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dayLocked(dayKey).engagedSessions++
}

// Flush merges every accumulated day additively into its persisted rollup,
// creating the record on first write for that day. Days flush independently.
func (a *Aggregator) Flush(ctx context.Context) {
	a.mu.Lock()
	drained := a.days
	a.days = make(map[string]*day)
	a.mu.Unlock()

	for key, d := range drained {
		if err := a.persistDay(ctx, key, d); err != nil {
			a.logger.Error("Failed to flush daily summary",
				slog.String("date", key),
				slog.Any("error", err))
		}
	}
}

func (a *Aggregator) persistDay(ctx context.Context, dayKey string, d *day) error {
	existing, err := a.store.FindOne(ctx, store.CollectionSummaries, store.Filter{
		"site_id": a.siteID,
		"date":    dayKey,
	})
	if err == nil {
		return a.merge(ctx, existing, d)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	now := time.Now().UTC()
	fields := store.Record{
		"site_id":          a.siteID,
		"date":             dayKey,
		"page_views":       d.pageViews,
		"visitors":         d.visitors,
		"new_visitors":     d.newVisitors,
		"returning_visits": d.returningVisits,
		"engaged_sessions": d.engagedSessions,
		"error_count":      d.errorCount,
		"created_at":       now,
		"updated_at":       now,
	}
	if err := encodeBreakdowns(fields, d, nil); err != nil {
		return err
	}

	_, err = a.store.Create(ctx, store.CollectionSummaries, fields)
	if errors.Is(err, store.ErrConflict) {
		// Two processes both observed "no record for today". Give the winner
		// a moment to land, then merge into its record.
		time.Sleep(conflictRetryDelay)
		existing, err = a.store.FindOne(ctx, store.CollectionSummaries, store.Filter{
			"site_id": a.siteID,
			"date":    dayKey,
		})
		if err != nil {
			return fmt.Errorf("failed to re-read summary after creation conflict: %w", err)
		}
		return a.merge(ctx, existing, d)
	}
	return err
}

func (a *Aggregator) merge(ctx context.Context, existing store.Record, d *day) error {
	now := time.Now().UTC()
	fields := store.Record{
		"page_views":       existing.Int("page_views") + d.pageViews,
		"visitors":         existing.Int("visitors") + d.visitors,
		"new_visitors":     existing.Int("new_visitors") + d.newVisitors,
		"returning_visits": existing.Int("returning_visits") + d.returningVisits,
		"engaged_sessions": existing.Int("engaged_sessions") + d.engagedSessions,
		"error_count":      existing.Int("error_count") + d.errorCount,
		"updated_at":       now,
	}
	if err := encodeBreakdowns(fields, d, existing); err != nil {
		return err
	}

	_, err := a.store.Update(ctx, store.CollectionSummaries, existing.ID(), fields)
	return err
}

// encodeBreakdowns serializes each breakdown map, merged on top of whatever
// the existing record already holds.
func encodeBreakdowns(fields store.Record, d *day, existing store.Record) error {
	breakdowns := map[string]map[string]int64{
		"pages":     d.pages,
		"referrers": d.referrers,
		"devices":   d.devices,
		"browsers":  d.browsers,
		"languages": d.languages,
		"countries": d.countries,
		"events":    d.events,
		"errors":    d.errors,
	}

	for column, counts := range breakdowns {
		merged := counts
		if existing != nil {
			if prior := decodeBreakdown(existing.String(column)); len(prior) > 0 {
				for k, v := range counts {
					prior[k] += v
				}
				merged = prior
			}
		}
		encoded, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("failed to encode %s breakdown: %w", column, err)
		}
		fields[column] = string(encoded)
	}
	return nil
}

func decodeBreakdown(raw string) map[string]int64 {
	if raw == "" {
		return nil
	}
	out := make(map[string]int64)
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
