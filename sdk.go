// Package skopos is the public facade of the Skopos analytics SDK. It wires
// the ingestion pipeline against a record store chosen by configuration and
// exposes the tracking, identify, and lifecycle operations.
package skopos

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/config"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/logging"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/payload"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/pipeline"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/pkg/geoip"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/store"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/visitors"
)

// RequestInfo carries the normalized fields of one inbound request.
type RequestInfo = pipeline.Request

// Visitor is a resolved durable visitor identity.
type Visitor = visitors.Visitor

// Traits are the optional identity fields attached by Identify.
type Traits struct {
	Name     string
	Email    string
	Phone    string
	Metadata map[string]string
}

// SDK is one running ingestion pipeline instance.
type SDK struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     store.Store
	pipeline  *pipeline.Coordinator
	ownsStore bool
}

// New builds an SDK from environment configuration, connecting to the
// embedded or remote record store per SKOPOS_STORE_BACKEND.
func New(ctx context.Context) (*SDK, error) {
	cfg := config.GetConfig()
	logger := logging.NewLogger(cfg)

	var (
		st  store.Store
		err error
	)
	switch cfg.StoreBackend {
	case config.RemoteStore:
		st = store.NewRemote(cfg, logger)
	case config.EmbeddedStore:
		st, err = store.NewEmbedded(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open embedded store: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	sdk, err := NewWithStore(ctx, cfg, logger, st)
	if err != nil {
		st.Close()
		return nil, err
	}
	sdk.ownsStore = true
	return sdk, nil
}

// NewWithStore builds an SDK on a caller-provided store. The caller keeps
// ownership of the store and closes it after Shutdown.
func NewWithStore(ctx context.Context, cfg *config.Config, logger *slog.Logger, st store.Store) (*SDK, error) {
	geoip.Init(cfg, logger)

	coordinator, err := pipeline.New(ctx, cfg, st, logger)
	if err != nil {
		return nil, err
	}
	coordinator.Start()

	return &SDK{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		pipeline: coordinator,
	}, nil
}

// TrackAPIEvent ingests a raw client payload. Invalid payloads are dropped
// silently; accepted ones are processed asynchronously.
func (s *SDK) TrackAPIEvent(req RequestInfo, rawPayload []byte) {
	s.pipeline.TrackAPIEvent(req, rawPayload)
}

// TrackPageView records a server-side page view. Non-blocking.
func (s *SDK) TrackPageView(req RequestInfo, pageURL string) {
	s.pipeline.TrackServerEvent(req, &payload.Payload{
		Type:     payload.TypePageView,
		URL:      pageURL,
		Referrer: req.Referrer,
	})
}

// TrackEvent records a server-side custom event. Non-blocking.
func (s *SDK) TrackEvent(req RequestInfo, name string, customData map[string]any) {
	s.pipeline.TrackServerEvent(req, &payload.Payload{
		Type:       payload.TypeCustom,
		Name:       name,
		CustomData: customData,
	})
}

// TrackError records a server-side error report. Non-blocking.
func (s *SDK) TrackError(req RequestInfo, message, stack, pageURL string) {
	s.pipeline.TrackServerEvent(req, &payload.Payload{
		Type:         payload.TypeError,
		URL:          pageURL,
		ErrorMessage: message,
		StackTrace:   stack,
	})
}

// Identify links an external user id and traits to the request's visitor,
// creating the visitor if it has never tracked an event.
func (s *SDK) Identify(ctx context.Context, req RequestInfo, userID string, traits Traits) (*Visitor, error) {
	return s.pipeline.Identify(ctx, req, visitors.Identity{
		UserID:   userID,
		Name:     traits.Name,
		Email:    traits.Email,
		Phone:    traits.Phone,
		Metadata: traits.Metadata,
	})
}

// FlushEvents synchronously drains the event queue and daily rollups.
func (s *SDK) FlushEvents(ctx context.Context) {
	s.pipeline.FlushEvents(ctx)
}

// FlushErrors synchronously drains the pending error aggregates.
func (s *SDK) FlushErrors(ctx context.Context) {
	s.pipeline.FlushErrors(ctx)
}

// Shutdown stops all timers, performs the final flushes, releases the site
// subscription, and closes the store when this SDK opened it.
func (s *SDK) Shutdown(ctx context.Context) error {
	s.pipeline.Shutdown(ctx)
	if s.ownsStore {
		if err := s.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %w", err)
		}
	}
	return nil
}
