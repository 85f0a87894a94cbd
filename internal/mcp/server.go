// Package mcp exposes the phenotype and variant services as MCP tools.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/phenovariant-server/internal/app"
)

// Transport names accepted by Start
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Server is the MCP server over one wired application
type Server struct {
	app       *app.App
	mcpServer *mcp.Server
	exportDir string
	transport string
	httpAddr  string
	logger    *logrus.Logger
}

// ServerOption is a functional option for Server.
type ServerOption func(*Server)

// WithExportDir lets export_records write report files below dir.
func WithExportDir(dir string) ServerOption {
	return func(s *Server) {
		s.exportDir = dir
	}
}

// WithTransport selects stdio or streamable HTTP on addr.
func WithTransport(transport, addr string) ServerOption {
	return func(s *Server) {
		s.transport = transport
		s.httpAddr = addr
	}
}

// NewServer creates a new MCP server instance
func NewServer(a *app.App, opts ...ServerOption) *Server {
	server := &Server{
		app:       a,
		transport: TransportStdio,
		logger:    a.Logger,
	}
	for _, opt := range opts {
		opt(server)
	}

	serverInfo := &mcp.Implementation{
		Name:    "phenovariant-server",
		Version: "v1.0.0",
	}
	server.mcpServer = mcp.NewServer(serverInfo, nil)

	server.registerTools()
	server.registerResources()

	return server
}

// Start serves MCP until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("transport_type", s.transport).Info("Starting MCP server")

	switch s.transport {
	case TransportStdio, "":
		if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP server failed: %w", err)
		}
		return nil
	case TransportHTTP:
		return s.serveHTTP(ctx)
	default:
		return fmt.Errorf("unsupported transport %q", s.transport)
	}
}

func (s *Server) serveHTTP(ctx context.Context) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)
	httpServer := &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.httpAddr).Info("MCP HTTP transport listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("MCP HTTP transport failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// MCPServer returns the underlying SDK server, mainly for tests
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}
