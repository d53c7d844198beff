// Package pipeline orchestrates event ingestion: gate the request, resolve
// the visitor and session, route the event, fold it into the daily rollup,
// and hand it to the batcher. Nothing in the hot path panics or returns an
// error past the coordinator; failures become a log line and an early return.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/botscore"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/config"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/dispatch"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/jserrors"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/metrics"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/payload"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/pkg/geoip"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/pkg/referrers"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/pkg/useragent"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/sessions"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/store"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/summary"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/visitors"
)

// Request carries the normalized transport-level fields of one inbound call.
type Request struct {
	Host      string
	Path      string
	UserAgent string
	IP        string
	Referrer  string
	Headers   map[string]string
}

// ErrTrackingDisabled is returned by Identify when the site is archived or
// the caller's IP is blacklisted.
var ErrTrackingDisabled = errors.New("tracking disabled for this request")

// siteConfig is the live site configuration snapshot maintained from the
// store subscription.
type siteConfig struct {
	loaded      bool
	domain      string
	archived    bool
	blacklist   map[string]struct{}
	storeRawIPs bool
}

// Coordinator wires the ingestion components together and owns every
// periodic timer and the site-config subscription.
type Coordinator struct {
	cfg    *config.Config
	store  store.Store
	logger *slog.Logger

	classifier *botscore.Classifier
	resolver   *visitors.Resolver
	tracker    *sessions.Tracker
	batcher    *dispatch.Batcher
	errs       *jserrors.Aggregator
	rollups    *summary.Aggregator

	ctx     context.Context
	cancel  context.CancelFunc
	tickers []*time.Ticker
	jobs    sync.WaitGroup

	// tracking covers asynchronous event processing scheduled by the
	// non-blocking Track calls; Shutdown waits for it before the final
	// flushes so queued work is not lost.
	tracking sync.WaitGroup

	siteMu      sync.RWMutex
	site        siteConfig
	unsubscribe func()

	shutdownOnce sync.Once
}

// New authenticates against the store, loads the live site configuration,
// and builds the pipeline. Authentication and store failures here are fatal.
func New(ctx context.Context, cfg *config.Config, st store.Store, logger *slog.Logger) (*Coordinator, error) {
	if err := st.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("failed to authenticate against the record store: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:        cfg,
		store:      st,
		logger:     logger,
		classifier: botscore.New(cfg, logger),
		resolver:   visitors.NewResolver(cfg, st, logger),
		tracker:    sessions.NewTracker(cfg, st, logger),
		batcher:    dispatch.NewBatcher(cfg, st, logger),
		errs:       jserrors.NewAggregator(cfg, st, logger),
		rollups:    summary.NewAggregator(cfg, st, logger),
		ctx:        runCtx,
		cancel:     cancel,
	}

	if err := c.loadSiteConfig(ctx); err != nil {
		cancel()
		return nil, err
	}
	return c, nil
}

func (c *Coordinator) loadSiteConfig(ctx context.Context) error {
	record, err := c.store.FindOne(ctx, store.CollectionSites, store.Filter{"site_id": c.cfg.SiteID})
	if errors.Is(err, store.ErrNotFound) {
		c.logger.Info("No site configuration record found, tracking everything",
			slog.String("site_id", c.cfg.SiteID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load site configuration: %w", err)
	}

	c.applySiteRecord(record)

	cancelSub, err := c.store.Subscribe(store.CollectionSites, record.ID(), c.applySiteRecord)
	if err != nil {
		c.logger.Warn("Site configuration subscription unavailable, using startup snapshot",
			slog.Any("error", err))
		return nil
	}
	c.unsubscribe = cancelSub
	return nil
}

func (c *Coordinator) applySiteRecord(record store.Record) {
	next := siteConfig{
		loaded:      true,
		domain:      strings.ToLower(record.String("domain")),
		archived:    record.Bool("archived"),
		blacklist:   parseBlacklist(record.String("ip_blacklist")),
		storeRawIPs: record.Bool("store_raw_ips"),
	}

	c.siteMu.Lock()
	c.site = next
	c.siteMu.Unlock()

	c.logger.Info("Site configuration applied",
		slog.String("domain", next.domain),
		slog.Bool("archived", next.archived),
		slog.Int("blacklisted_ips", len(next.blacklist)))
}

func parseBlacklist(raw string) map[string]struct{} {
	out := make(map[string]struct{})
	if raw == "" {
		return out
	}
	var ips []string
	if err := json.Unmarshal([]byte(raw), &ips); err != nil {
		// Older records store a comma-separated list.
		ips = strings.Split(raw, ",")
	}
	for _, ip := range ips {
		if ip = strings.TrimSpace(ip); ip != "" {
			out[ip] = struct{}{}
		}
	}
	return out
}

func (c *Coordinator) siteSnapshot() siteConfig {
	c.siteMu.RLock()
	defer c.siteMu.RUnlock()
	return c.site
}

// Start launches the periodic flush and sweep jobs.
func (c *Coordinator) Start() {
	c.startJob("event_flush", c.cfg.FlushInterval(), func() {
		c.batcher.Flush(c.ctx)
		c.rollups.Flush(c.ctx)
	})
	c.startJob("error_flush", c.cfg.ErrorFlushInterval(), func() {
		c.errs.Flush(c.ctx)
	})
	c.startJob("cache_sweep", c.cfg.SessionSweepInterval(), func() {
		c.tracker.Sweep()
		c.resolver.Sweep()
		c.classifier.Sweep()
	})
	c.logger.Info("Ingestion pipeline started",
		slog.String("site_id", c.cfg.SiteID),
		slog.Bool("batching", c.cfg.BatchingEnabled))
}

func (c *Coordinator) startJob(name string, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	c.tickers = append(c.tickers, ticker)

	c.jobs.Add(1)
	go func() {
		defer c.jobs.Done()
		for {
			select {
			case <-ticker.C:
				c.runSafely(name, fn)
			case <-c.ctx.Done():
				c.logger.Debug("Background job stopped", slog.String("job", name))
				return
			}
		}
	}()
}

func (c *Coordinator) runSafely(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Panic recovered in background job",
				slog.String("job", name),
				slog.Any("panic", r))
		}
	}()
	fn()
}

// TrackAPIEvent ingests a raw client payload. It is non-blocking: payloads
// that fail validation are dropped silently and accepted ones are processed
// asynchronously.
func (c *Coordinator) TrackAPIEvent(req Request, rawPayload []byte) {
	p, err := payload.Parse(rawPayload)
	if err != nil {
		metrics.EventsRejected.WithLabelValues("invalid").Inc()
		c.logger.Debug("Dropping invalid payload", slog.Any("error", err))
		return
	}
	c.schedule(req, p)
}

// TrackServerEvent ingests an already-normalized payload built by server
// code. Like TrackAPIEvent it returns immediately.
func (c *Coordinator) TrackServerEvent(req Request, p *payload.Payload) {
	if p == nil || p.Type == "" {
		metrics.EventsRejected.WithLabelValues("invalid").Inc()
		return
	}
	c.schedule(req, p)
}

func (c *Coordinator) schedule(req Request, p *payload.Payload) {
	c.tracking.Add(1)
	go func() {
		defer c.tracking.Done()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("Panic recovered while processing event", slog.Any("panic", r))
			}
		}()
		c.process(context.Background(), req, p)
	}()
}

// Identify validates and persists identity fields onto the resolved visitor,
// creating the visitor if it has never been seen. Unlike the Track calls it
// is awaited.
func (c *Coordinator) Identify(ctx context.Context, req Request, identity visitors.Identity) (*visitors.Visitor, error) {
	site := c.siteSnapshot()
	if site.archived {
		return nil, fmt.Errorf("%w: site archived", ErrTrackingDisabled)
	}
	if _, blocked := site.blacklist[req.IP]; blocked {
		return nil, fmt.Errorf("%w: ip blacklisted", ErrTrackingDisabled)
	}

	fingerprint := visitors.BuildFingerprint(c.cfg.SiteID, req.IP, req.UserAgent, c.cfg.PrivateKey)
	return c.resolver.Identify(ctx, fingerprint, identity)
}

func (c *Coordinator) process(ctx context.Context, req Request, p *payload.Payload) {
	site := c.siteSnapshot()
	if reason := c.gate(site, req); reason != "" {
		metrics.EventsRejected.WithLabelValues(reason).Inc()
		c.logger.Debug("Dropping event", slog.String("reason", reason), slog.String("path", req.Path))
		return
	}

	fingerprint := visitors.BuildFingerprint(c.cfg.SiteID, req.IP, req.UserAgent, c.cfg.PrivateKey)
	visitor, isNewVisitor, err := c.resolver.Resolve(ctx, fingerprint)
	if err != nil {
		c.logger.Error("Failed to resolve visitor, dropping event", slog.Any("error", err))
		return
	}

	parsedUA := useragent.Parse(req.UserAgent)
	country := geoip.CountryCode(req.IP)
	path := eventPath(p, req)
	referrerHost := c.referrerHost(site, p, req)

	page := sessions.PageContext{
		Path:         path,
		Referrer:     referrerHost,
		ScreenWidth:  p.ScreenWidth,
		ScreenHeight: p.ScreenHeight,
		Language:     p.Language,
		Country:      country,
		Duration:     time.Duration(p.Duration) * time.Second,
		UserAgent:    parsedUA,
	}
	if site.storeRawIPs {
		page.IPAddress = req.IP
	}

	sess, err := c.tracker.Track(ctx, visitor.ID, page)
	if err != nil {
		c.logger.Error("Failed to track session, dropping event", slog.Any("error", err))
		return
	}

	day := summary.DayKey(time.Now())
	if sess.IsNew {
		c.rollups.RecordSession(day, summary.SessionFacts{
			Referrer:     referrers.FriendlyName(referrerHost),
			Device:       parsedUA.Device,
			Browser:      parsedUA.Browser,
			Language:     page.Language,
			Country:      geoip.CountryName(country),
			IsNewVisitor: isNewVisitor,
		})
	}
	if sess.BecameEngaged {
		c.rollups.RecordEngagement(day)
	}

	switch p.Type {
	case payload.TypePageView:
		c.rollups.RecordPageView(day, path)
		c.batcher.Enqueue(c.eventRecord(sess.ID, p, path))
	case payload.TypeCustom:
		c.rollups.RecordCustomEvent(day, p.Name)
		c.batcher.Enqueue(c.eventRecord(sess.ID, p, path))
	case payload.TypeError:
		c.rollups.RecordError(day, p.ErrorMessage)
		c.errs.Record(sess.ID, p.ErrorMessage, p.StackTrace, p.URL)
	}
	metrics.EventsAccepted.WithLabelValues(p.Type).Inc()
}

// gate short-circuits requests that must never produce a session or event.
// The bot check runs last, it is the only one that costs anything.
func (c *Coordinator) gate(site siteConfig, req Request) string {
	if site.archived {
		return "archived"
	}
	if _, blocked := site.blacklist[req.IP]; blocked {
		return "blacklist"
	}
	if site.domain != "" && req.Host != "" && !hostMatchesDomain(req.Host, site.domain) {
		return "domain"
	}
	if c.classifier.IsBot(req.UserAgent, req.Headers) {
		return "bot"
	}
	return ""
}

func hostMatchesDomain(host, domain string) bool {
	host = strings.ToLower(host)
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func (c *Coordinator) eventRecord(sessionID string, p *payload.Payload, path string) store.Record {
	record := store.Record{
		"site_id":    c.cfg.SiteID,
		"session_id": sessionID,
		"type":       p.Type,
		"path":       path,
		"created_at": time.Now().UTC(),
	}
	if p.Name != "" {
		record["name"] = p.Name
	}
	if len(p.CustomData) > 0 {
		if data, err := json.Marshal(p.CustomData); err == nil {
			record["data"] = string(data)
		}
	}
	return record
}

// eventPath prefers the path of the payload's url, falling back to the
// request path.
func eventPath(p *payload.Payload, req Request) string {
	if p.URL != "" {
		if u, err := url.Parse(p.URL); err == nil && u.Path != "" {
			return u.Path
		}
	}
	if req.Path != "" {
		return req.Path
	}
	return "/"
}

// referrerHost resolves the referrer hostname, folding self-referrals into
// direct traffic.
func (c *Coordinator) referrerHost(site siteConfig, p *payload.Payload, req Request) string {
	raw := p.Referrer
	if raw == "" {
		raw = req.Referrer
	}
	host := referrers.Hostname(raw)
	if site.domain != "" && referrers.IsSelfReferral(host, site.domain) {
		return referrers.Direct
	}
	return host
}

// FlushEvents synchronously drains the event queue and the daily rollups.
func (c *Coordinator) FlushEvents(ctx context.Context) {
	c.batcher.Flush(ctx)
	c.rollups.Flush(ctx)
}

// FlushErrors synchronously drains the pending error aggregates.
func (c *Coordinator) FlushErrors(ctx context.Context) {
	c.errs.Flush(ctx)
}

// Shutdown stops every timer, releases the site subscription, waits for
// in-flight event processing, and performs one final flush of every queue.
// Safe to call more than once.
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.shutdownOnce.Do(func() {
		c.logger.Info("Shutting down ingestion pipeline...")

		if c.unsubscribe != nil {
			c.unsubscribe()
		}
		for _, ticker := range c.tickers {
			ticker.Stop()
		}
		c.cancel()
		c.jobs.Wait()
		c.tracking.Wait()

		c.batcher.Close(ctx)
		c.errs.Flush(ctx)
		c.rollups.Flush(ctx)

		c.logger.Info("Ingestion pipeline stopped")
	})
}
