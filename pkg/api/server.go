// Package api exposes the service facade over HTTP. The status endpoint
// always answers 200 with a status field so pollers can distinguish
// "no session" from transport failure.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tomeworks/tome/pkg/service"
	"github.com/tomeworks/tome/pkg/store"
)

// Server is the HTTP front end around the service facade.
type Server struct {
	svc    *service.Service
	logger *slog.Logger
	http   *http.Server
}

// NewServer builds the server and its routes.
func NewServer(svc *service.Service, host string, port int) *Server {
	s := &Server{
		svc:    svc,
		logger: slog.With("component", "api"),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.health)
	v1 := router.Group("/api/v1")
	{
		v1.POST("/research/start", s.startRun)
		v1.GET("/research/status", s.runStatus)
		v1.POST("/research/cancel", s.cancelRun)
		v1.GET("/research/events", s.runEvents)
		v1.GET("/research/result", s.runResult)
		v1.GET("/presets", s.listPresets)
	}

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type startRunBody struct {
	Query        string            `json:"query" binding:"required_without=Resume"`
	Preset       string            `json:"preset"`
	Overrides    map[string]string `json:"overrides"`
	RefinedBrief string            `json:"refined_brief"`
	RefinementQA string            `json:"refinement_qa"`
	Resume       bool              `json:"resume"`
	Blocking     bool              `json:"blocking"`
}

func (s *Server) startRun(c *gin.Context) {
	var body startRunBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.svc.StartRun(c.Request.Context(), service.StartRequest{
		Query:        body.Query,
		Preset:       body.Preset,
		Overrides:    body.Overrides,
		RefinedBrief: body.RefinedBrief,
		RefinementQA: body.RefinementQA,
		Resume:       body.Resume,
		Blocking:     body.Blocking,
	})
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// runStatus always answers 200; a missing session is status not_started.
func (s *Server) runStatus(c *gin.Context) {
	id, err := sessionIDParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, err := s.svc.GetRunStatus(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNoSession) || errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{"status": "not_started"})
			return
		}
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) cancelRun(c *gin.Context) {
	resp, err := s.svc.CancelRun(c.Request.Context())
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) runEvents(c *gin.Context) {
	id, err := sessionIDParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
	}

	page, err := s.svc.GetRunEventsPage(c.Request.Context(), id, c.Query("cursor"), limit)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) runResult(c *gin.Context) {
	id, err := sessionIDParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := s.svc.GetRunResult(c.Request.Context(), id)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) listPresets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"presets": s.svc.ListPresets()})
}

func (s *Server) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNoSession), errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		s.logger.Error("Request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func sessionIDParam(c *gin.Context) (*int64, error) {
	raw := c.Query("session_id")
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("session_id must be an integer")
	}
	return &id, nil
}
