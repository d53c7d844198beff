// Package v1 exposes the collector's public HTTP surface: event collection,
// identify, and health. The handlers stay thin, everything interesting
// happens inside the SDK pipeline.
package v1

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	skopos "github.com/devAlphaSystem/Alpha-System-Skopos-SDK"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/pipeline"
)

const (
	msgEventAccepted  = "Event accepted"
	errInvalidRequest = "Invalid request"
)

// Handler serves the v1 collection API on top of a running SDK.
type Handler struct {
	sdk    *skopos.SDK
	logger *slog.Logger
}

func NewHandler(sdk *skopos.SDK, logger *slog.Logger) *Handler {
	return &Handler{sdk: sdk, logger: logger}
}

// Register mounts the v1 routes.
func (h *Handler) Register(app *fiber.App) {
	api := app.Group("/api/v1")
	api.Post("/collect", h.CollectEvent)
	api.Post("/identify", h.Identify)
	api.Get("/health", h.Health)
}

// CollectEvent ingests one client event payload. The response is always 202:
// payload validation failures drop silently, untrusted clients learn nothing
// from the status code.
func (h *Handler) CollectEvent(c *fiber.Ctx) error {
	h.sdk.TrackAPIEvent(requestInfo(c), c.Body())
	return c.Status(http.StatusAccepted).JSON(fiber.Map{
		"message": msgEventAccepted,
		"status":  http.StatusAccepted,
	})
}

type identifyParams struct {
	UserID   string            `json:"userId"`
	Name     string            `json:"name"`
	Email    string            `json:"email"`
	Phone    string            `json:"phone"`
	Metadata map[string]string `json:"metadata"`
}

// Identify links an external user id to the request's visitor.
func (h *Handler) Identify(c *fiber.Ctx) error {
	var params identifyParams
	if err := c.BodyParser(&params); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": errInvalidRequest})
	}

	visitor, err := h.sdk.Identify(c.UserContext(), requestInfo(c), params.UserID, skopos.Traits{
		Name:     params.Name,
		Email:    params.Email,
		Phone:    params.Phone,
		Metadata: params.Metadata,
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrTrackingDisabled) {
			return c.Status(http.StatusForbidden).JSON(fiber.Map{"error": "Tracking disabled"})
		}
		h.logger.Debug("Identify rejected", slog.Any("error", err))
		return c.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{"error": errInvalidRequest})
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"visitorId": visitor.ID,
		"userId":    visitor.UserID,
	})
}

func (h *Handler) Health(c *fiber.Ctx) error {
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "ok"})
}

// requestInfo normalizes the transport-level fields the pipeline consumes.
func requestInfo(c *fiber.Ctx) skopos.RequestInfo {
	userAgent := c.Get("User-Agent")
	if forwarded := c.Get("X-Forwarded-User-Agent"); forwarded != "" {
		userAgent = forwarded
	}

	headers := make(map[string]string)
	for key, values := range c.GetReqHeaders() {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	return skopos.RequestInfo{
		Host:      c.Hostname(),
		Path:      c.Path(),
		UserAgent: userAgent,
		IP:        getClientIP(c),
		Referrer:  c.Get("Referer"),
		Headers:   headers,
	}
}
