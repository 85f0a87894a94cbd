// Package main provides the standalone entry point for the phenovariant MCP
// server. It needs no external databases: records live in SQLite under the
// data directory and the cache is in memory.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/phenovariant-server/internal/app"
	"github.com/phenovariant-server/internal/config"
	"github.com/phenovariant-server/internal/mcp"
	"github.com/phenovariant-server/internal/setup"
)

func main() {
	// Check for setup subcommand
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		exe, err := os.Executable()
		if err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
		path, err := setup.Register(setup.Options{BinaryPath: exe})
		if err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
		fmt.Fprintf(os.Stderr, "Registered %s in %s\n", setup.ServerName, path)
		return
	}

	// Load lightweight configuration
	cfg := config.LoadLiteConfig()
	if err := cfg.EnsureDataDir(); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg.Config())
	if err != nil {
		log.Fatalf("Failed to create MCP server: %v", err)
	}
	defer a.Close()

	a.Logger.WithField("transport", cfg.Transport).WithField("data_dir", cfg.DataDir).Info("Starting phenovariant MCP server (lite)")

	// A missing snapshot is not fatal here; reload_index can load one later.
	if err := a.Bootstrap(ctx); err != nil {
		a.Logger.WithError(err).Warn("Starting without a loaded ontology index")
	}

	server := mcp.NewServer(a,
		mcp.WithExportDir(cfg.ExportDir()),
		mcp.WithTransport(cfg.Transport, fmt.Sprintf(":%d", cfg.HTTPPort)),
	)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		a.Logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Start MCP server
	if err := server.Start(ctx); err != nil {
		a.Logger.WithError(err).Error("MCP server failed")
		return
	}

	a.Logger.Info("phenovariant MCP server (lite) stopped")
}
