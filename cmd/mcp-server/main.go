package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/phenovariant-server/internal/app"
	"github.com/phenovariant-server/internal/config"
	"github.com/phenovariant-server/internal/mcp"
)

func main() {
	configFile := flag.String("config", "", "path to the configuration file")
	transport := flag.String("transport", mcp.TransportStdio, "MCP transport: stdio or http")
	addr := flag.String("addr", ":8081", "listen address for the http transport")
	exportDir := flag.String("export-dir", "", "directory export_records may write files into")
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
	// stdout carries the protocol on stdio
	if *transport == mcp.TransportStdio {
		cfg.Logging.Output = "stderr"
	}

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

	opts := []mcp.ServerOption{mcp.WithTransport(*transport, *addr)}
	if *exportDir != "" {
		opts = append(opts, mcp.WithExportDir(*exportDir))
	}
	mcpServer := mcp.NewServer(a, opts...)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		a.Logger.Info("Shutdown signal received, gracefully shutting down MCP server...")
		cancel()
	}()

	a.Logger.WithField("transport", *transport).Info("Starting phenovariant MCP server")

	// Start MCP server
	if err := mcpServer.Start(ctx); err != nil {
		a.Logger.WithError(err).Error("MCP server failed")
		return
	}

	a.Logger.Info("MCP server stopped")
}
