// main.go - self-contained collector daemon
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	skopos "github.com/devAlphaSystem/Alpha-System-Skopos-SDK"
	v1 "github.com/devAlphaSystem/Alpha-System-Skopos-SDK/api/v1"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/config"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/logging"
)

const defaultShutdownTimeout = 30 * time.Second

func main() {
	cfg := config.GetConfig()
	logger := logging.NewLogger(cfg)

	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	sdk, err := skopos.New(initCtx)
	cancel()
	if err != nil {
		log.Fatalf("Failed to initialize SDK: %v", err)
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		DisableStartupMessage: true,
	})
	v1.NewHandler(sdk, logger).Register(app)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	go func() {
		log.Printf("Collector listening on :%s", cfg.AppPort)
		if err := app.Listen(":" + cfg.AppPort); err != nil {
			log.Fatalf("Server stopped: %v", err)
		}
	}()

	waitForShutdownSignal(app, sdk)
}

// waitForShutdownSignal blocks until a termination signal, then drains the
// server and the SDK queues.
func waitForShutdownSignal(app *fiber.App, sdk *skopos.SDK) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-sigChan
	log.Printf("Received signal: %v", sig)

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	log.Println("Initiating graceful shutdown...")
	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("Error shutting down server: %v", err)
	}
	if err := sdk.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down SDK: %v", err)
		os.Exit(1)
	}
	log.Println("Collector shutdown complete")
}
