package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/phenovariant-server/internal/app"
	"github.com/phenovariant-server/internal/domain"
	"github.com/phenovariant-server/internal/export"
	"github.com/phenovariant-server/internal/middleware"
	"github.com/phenovariant-server/internal/service"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// Server represents the HTTP server
type Server struct {
	app    *app.App
	config domain.ServerConfig
	logger *logrus.Logger
	router *gin.Engine
	server *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(a *app.App) *Server {
	cfg := a.Config

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(a.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS())
	router.Use(middleware.RequestTimeout(cfg.Server.WriteTimeout))

	server := &Server{
		app:    a,
		config: cfg.Server,
		logger: a.Logger,
		router: router,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// Handler returns the HTTP handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.app.Registry, promhttp.HandlerOpts{})))

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/annotate", s.handleAnnotate)
		v1.GET("/index", s.handleIndexInfo)
		v1.POST("/index/reload", s.handleIndexReload)
		v1.GET("/concepts/:id", s.handleConcept)

		v1.POST("/records/import", s.handleImport)
		v1.POST("/records/annotate", s.handleAnnotateRecords)
		v1.POST("/records/validate", s.handleValidateRecords)

		v1.POST("/query", s.handleQuery)
		v1.POST("/export", s.handleExport)

		v1.POST("/validate", s.handleValidate)
		v1.GET("/transcripts/:gene", s.handleTranscripts)
	}
}

// statusFor maps an API error code onto an HTTP status
func statusFor(code string) int {
	switch code {
	case domain.ErrCodeInvalidInput, domain.ErrCodeInvalidFilter:
		return http.StatusBadRequest
	case domain.ErrCodeMalformedSnapshot, domain.ErrCodeDuplicateIdentifier,
		domain.ErrCodeSchemaValidation, domain.ErrCodeValidationRejected:
		return http.StatusUnprocessableEntity
	case domain.ErrCodeValidationUnavailable, domain.ErrCodeIndexNotLoaded:
		return http.StatusServiceUnavailable
	case domain.ErrCodeScopeViolation:
		return http.StatusForbidden
	case domain.ErrCodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the standard error envelope
func (s *Server) respondError(c *gin.Context, err error) {
	code := domain.ErrorCode(err)
	status := statusFor(code)

	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.WithError(err).WithField("request_id", c.GetString(middleware.RequestIDKey)).Error("Request failed")
		message = "internal server error"
	}
	c.AbortWithStatusJSON(status, domain.NewAPIError(code, message, "", c.GetString(middleware.RequestIDKey)))
}

// bind decodes a JSON body, reporting failures as invalid input
func (s *Server) bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		s.respondError(c, domain.NewValidationError("body", err.Error(), nil))
		return false
	}
	return true
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	info := s.app.IndexInfo()
	status := "healthy"
	if !info.Loaded {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        status,
		"timestamp":     time.Now().UTC(),
		"version":       Version,
		"index_loaded":  info.Loaded,
		"index_version": info.Version,
		"records":       info.RecordCount,
		"validator":     s.app.Validation != nil,
	})
}

// Text is a pointer so a missing field is rejected while "" is a valid,
// empty document.
type annotateRequest struct {
	Text *string `json:"text" binding:"required"`
}

func (s *Server) handleAnnotate(c *gin.Context) {
	var req annotateRequest
	if !s.bind(c, &req) {
		return
	}
	result, err := s.app.Annotator.Annotate(c.Request.Context(), *req.Text)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleAnnotateRecords(c *gin.Context) {
	result, err := s.app.Annotator.AnnotateRecords(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleIndexInfo(c *gin.Context) {
	c.JSON(http.StatusOK, s.app.IndexInfo())
}

// reloadRequest selects a stored artifact version. Without one the
// configured ontology file is parsed again.
type reloadRequest struct {
	Version string `json:"version"`
}

func (s *Server) handleIndexReload(c *gin.Context) {
	var req reloadRequest
	if c.Request.ContentLength != 0 && !s.bind(c, &req) {
		return
	}

	var (
		summary *service.IndexSummary
		err     error
	)
	switch {
	case req.Version != "":
		summary, err = s.app.Indexes.LoadArtifact(c.Request.Context(), req.Version)
	case s.app.Config.Ontology.OBOPath != "":
		summary, err = s.app.Indexes.LoadOBOFile(c.Request.Context(), s.app.Config.Ontology.OBOPath)
	default:
		err = domain.NewValidationError("path", "no ontology file configured", nil)
	}
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleConcept(c *gin.Context) {
	view, err := s.app.Concept(c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type importRequest struct {
	Batch domain.RawBatch `json:"batch"`
	// Mapping names a configured schema mapping; Schema is an inline one.
	Mapping  string                `json:"mapping"`
	Schema   *domain.SchemaMapping `json:"schema"`
	Location string                `json:"location"`
}

func (s *Server) handleImport(c *gin.Context) {
	var req importRequest
	if !s.bind(c, &req) {
		return
	}

	var schema domain.SchemaMapping
	switch {
	case req.Schema != nil:
		schema = *req.Schema
	case req.Mapping != "":
		m, err := s.app.Schema(req.Mapping)
		if err != nil {
			s.respondError(c, err)
			return
		}
		schema = m
	default:
		s.respondError(c, domain.NewValidationError("schema", "either mapping or schema is required", nil))
		return
	}
	if req.Location == "" {
		s.respondError(c, domain.NewValidationError("location", "location is required", nil))
		return
	}

	result, err := s.app.Importer.Import(c.Request.Context(), req.Batch, schema, req.Location)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleQuery(c *gin.Context) {
	var expr domain.FilterExpression
	if !s.bind(c, &expr) {
		return
	}
	result, err := s.app.RunQuery(c.Request.Context(), expr)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleExport writes the matching in-scope records as the response body.
// The body is buffered so a failed export never sends a partial report.
func (s *Server) handleExport(c *gin.Context) {
	format, err := export.ParseFormat(c.DefaultQuery("format", string(export.FormatJSON)))
	if err != nil {
		s.respondError(c, err)
		return
	}
	strict := false
	if raw := c.Query("strict"); raw != "" {
		strict, err = strconv.ParseBool(raw)
		if err != nil {
			s.respondError(c, domain.NewValidationError("strict", "must be a boolean", raw))
			return
		}
	}

	var expr domain.FilterExpression
	if c.Request.ContentLength != 0 && !s.bind(c, &expr) {
		return
	}

	var buf bytes.Buffer
	report, err := s.app.Export(c.Request.Context(), &buf, expr, format, strict)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Header("X-Export-Written", strconv.Itoa(report.Written))
	c.Header("X-Export-Refused", strconv.Itoa(len(report.Refused)))
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

type validateRequest struct {
	Descriptor string `json:"descriptor" binding:"required"`
}

func (s *Server) handleValidate(c *gin.Context) {
	var req validateRequest
	if !s.bind(c, &req) {
		return
	}
	v, err := s.app.Validator()
	if err != nil {
		s.respondError(c, err)
		return
	}
	outcome, err := v.ValidateDescriptor(c.Request.Context(), req.Descriptor)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (s *Server) handleValidateRecords(c *gin.Context) {
	var opts service.ValidateOptions
	if c.Request.ContentLength != 0 && !s.bind(c, &opts) {
		return
	}
	v, err := s.app.Validator()
	if err != nil {
		s.respondError(c, err)
		return
	}
	report, err := v.ValidateRecords(c.Request.Context(), opts)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleTranscripts(c *gin.Context) {
	v, err := s.app.Validator()
	if err != nil {
		s.respondError(c, err)
		return
	}
	transcripts, err := v.ResolveTranscripts(c.Request.Context(), c.Param("gene"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"gene": c.Param("gene"), "transcripts": transcripts})
}
