package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/phenovariant-server/internal/api"
	"github.com/phenovariant-server/internal/app"
	"github.com/phenovariant-server/internal/config"
)

func main() {
	configFile := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	// Load configuration
	configManager, err := config.NewManager(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer a.Close()

	if err := a.Bootstrap(ctx); err != nil {
		a.Logger.WithError(err).Fatal("Failed to load ontology index and records")
	}

	a.Logger.WithField("addr", cfg.Server.Host).WithField("port", cfg.Server.Port).Info("Starting phenovariant API server")

	server := api.NewServer(a)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		a.Logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Start server
	if err := server.Start(ctx); err != nil {
		a.Logger.WithError(err).Error("Server failed")
		return
	}

	a.Logger.Info("Server stopped")
}
