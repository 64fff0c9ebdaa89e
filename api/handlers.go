package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"portscope/scanner"
)

// Server bundles dependencies for HTTP handlers.
type Server struct {
	registry *scanner.Registry
	archive  ArchiveStore
	defaults Defaults
	logger   *slog.Logger
}

// NewServer creates a new API server instance. archive may be nil when no
// history store is configured.
func NewServer(registry *scanner.Registry, archive ArchiveStore, defaults Defaults, logger *slog.Logger) *Server {
	return &Server{registry: registry, archive: archive, defaults: defaults, logger: logger}
}

// RegisterRoutes attaches handlers to the provided Gin router group.
// createMiddleware runs only in front of scan creation.
func (s *Server) RegisterRoutes(routes gin.IRoutes, createMiddleware ...gin.HandlerFunc) {
	routes.POST("/scans", append(createMiddleware, s.createScanHandler)...)
	routes.GET("/scans/:id", s.getScanHandler)
	routes.POST("/scans/:id/stop", s.stopScanHandler)
	routes.GET("/history/:id", s.getHistoryHandler)
}

// @Summary      Start a new scan
// @Description  Validate the request synchronously and start scanning in the background. The response carries the scan id to poll.
// @Description  **Concurrency**: the requested worker count is advisory. It is clamped to twice the number of server cores; the clamp is reported in the scan log and in effective_workers.
// @Tags         Scans
// @Accept       json
// @Produce      json
// @Param        scanRequest  body      CreateScanRequest     true  "Scan request parameters"
// @Success      202          {object}  ScanAcceptedResponse  "Scan accepted"
// @Failure      400          {object}  ErrorResponse         "Malformed JSON or invalid host, ports, workers or timeout"
// @Failure      401          {object}  ErrorResponse         "Missing or incorrect API key"
// @Failure      429          {object}  ErrorResponse         "Rate limit exceeded"
// @Failure      503          {object}  ErrorResponse         "Server is shutting down"
// @Security     ApiKeyAuth
// @Router       /scans [post]
func (s *Server) createScanHandler(c *gin.Context) {
	var req CreateScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid request payload: %v", err)})
		return
	}

	scanReq, err := toScanRequest(req, s.defaults)
	if err == nil {
		var id string
		id, err = s.registry.Create(scanReq)
		if err == nil {
			status := scanner.JobPending
			if snap, err := s.registry.Get(id, 0); err == nil {
				status = snap.State
			}
			s.logger.InfoContext(c.Request.Context(), "scan created", "job_id", id, "host", scanReq.Host, "ports", scanReq.PortSpec)
			c.JSON(http.StatusAccepted, ScanAcceptedResponse{ID: id, Status: status})
			return
		}
	}

	var verr *scanner.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: verr.Error(), Field: verr.Field})
	case errors.Is(err, scanner.ErrRegistryClosed):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "server is shutting down"})
	default:
		s.logger.ErrorContext(c.Request.Context(), "failed to create scan", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to create scan"})
	}
}

// @Summary      Get scan status
// @Description  Return a live snapshot of a scan. Pass the next_log_index of the previous response as logs_index to receive only new log entries.
// @Description  progress_percent stays at or below 99 until the scan reaches a terminal state (completed, failed or stopped), where it is exactly 100.
// @Tags         Scans
// @Produce      json
// @Param        id          path      string  true   "Scan ID (UUID v4)"
// @Param        logs_index  query     int     false  "Index of the first log entry to return"
// @Success      200         {object}  scanner.Snapshot
// @Failure      400         {object}  ErrorResponse  "Malformed scan id or logs_index"
// @Failure      401         {object}  ErrorResponse  "Missing or incorrect API key"
// @Failure      404         {object}  ErrorResponse  "Unknown or evicted scan"
// @Security     ApiKeyAuth
// @Router       /scans/{id} [get]
func (s *Server) getScanHandler(c *gin.Context) {
	id := c.Param("id")
	if !validScanID(id) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid scan id format"})
		return
	}
	cursor, err := parseCursor(c.Query("logs_index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Field: "logs_index"})
		return
	}

	snap, err := s.registry.Get(id, cursor)
	if err != nil {
		if errors.Is(err, scanner.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "scan not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load scan"})
		return
	}

	c.JSON(http.StatusOK, snap)
}

// @Summary      Stop a scan
// @Description  Request cooperative cancellation. No new ports are dispatched; in-flight probes finish within their timeout and their results are discarded. Repeated or late requests are acknowledged without effect.
// @Tags         Scans
// @Produce      json
// @Param        id   path      string  true  "Scan ID (UUID v4)"
// @Success      200  {object}  StopResponse
// @Failure      400  {object}  ErrorResponse  "Malformed scan id"
// @Failure      401  {object}  ErrorResponse  "Missing or incorrect API key"
// @Failure      404  {object}  ErrorResponse  "Unknown or evicted scan"
// @Security     ApiKeyAuth
// @Router       /scans/{id}/stop [post]
func (s *Server) stopScanHandler(c *gin.Context) {
	id := c.Param("id")
	if !validScanID(id) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid scan id format"})
		return
	}

	if err := s.registry.RequestStop(id); err != nil {
		if errors.Is(err, scanner.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "scan not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to stop scan"})
		return
	}

	resp := StopResponse{ID: id, Acknowledged: true, Status: scanner.JobStopped}
	if snap, err := s.registry.Get(id, 0); err == nil {
		resp.Status = snap.State
	}
	s.logger.InfoContext(c.Request.Context(), "scan stop requested", "job_id", id, "state", string(resp.Status))
	c.JSON(http.StatusOK, resp)
}

// @Summary      Get an archived scan
// @Description  Return the final snapshot of a finished scan from the history archive. Archived scans outlive the in-memory retention window until the archive TTL expires.
// @Tags         History
// @Produce      json
// @Param        id   path      string  true  "Scan ID (UUID v4)"
// @Success      200  {object}  ArchivedScan
// @Failure      400  {object}  ErrorResponse  "Malformed scan id"
// @Failure      401  {object}  ErrorResponse  "Missing or incorrect API key"
// @Failure      404  {object}  ErrorResponse  "Scan not archived or expired"
// @Failure      503  {object}  ErrorResponse  "History archive not configured"
// @Security     ApiKeyAuth
// @Router       /history/{id} [get]
func (s *Server) getHistoryHandler(c *gin.Context) {
	if s.archive == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "history archive disabled"})
		return
	}
	id := c.Param("id")
	if !validScanID(id) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid scan id format"})
		return
	}

	archived, err := s.archive.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrArchiveNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "scan not found in history"})
			return
		}
		s.logger.ErrorContext(c.Request.Context(), "failed to load archived scan", "job_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load archived scan"})
		return
	}

	c.JSON(http.StatusOK, archived)
}

// @Summary      Health check
// @Tags         Health
// @Produce      json
// @Success      200  {object}  HealthResponse
// @Router       /healthz [get]
func (s *Server) healthHandler(c *gin.Context) {
	resp := HealthResponse{Status: "ok", Archive: "disabled", Jobs: s.registry.Len()}
	if s.archive != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		resp.Archive = "enabled"
		if err := s.archive.Ping(ctx); err != nil {
			resp.Archive = "unavailable"
		}
	}
	c.JSON(http.StatusOK, resp)
}
