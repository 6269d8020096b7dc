// Package server exposes document upload and question answering over HTTP,
// server-sent events and websockets.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/xhad/docqa/internal/logger"
	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/pkg/config"
	"github.com/xhad/docqa/pkg/rag"
	"github.com/xhad/docqa/pkg/scraper"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	config   config.ServerConfig
	service  *rag.Service
	fetcher  *scraper.Scraper
	router   *gin.Engine
	upgrader websocket.Upgrader
}

func New(service *rag.Service, fetcher *scraper.Scraper, cfg config.ServerConfig) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 20
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		config:  cfg,
		service: service,
		fetcher: fetcher,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening on %s", s.config.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), s.corsMiddleware())
	router.MaxMultipartMemory = s.config.MaxUploadBytes()

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ws", s.handleWebSocket)

	api := router.Group("/api", s.timeout())
	api.POST("/documents", s.handleUpload)
	api.GET("/documents/:id", s.handleGetDocument)
	api.DELETE("/documents/:id", s.handleDeleteDocument)
	api.POST("/chat", s.handleChat)

	return router
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	if slices.Contains(s.config.AllowedOrigins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.config.AllowedOrigins
	}
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	return cors.New(cfg)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.config.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(s.config.AllowedOrigins, origin)
}

// timeout bounds every API request by the configured request timeout.
func (s *Server) timeout() gin.HandlerFunc {
	d := s.config.RequestTimeout()
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}

func (s *Server) handleUpload(c *gin.Context) {
	ctx := c.Request.Context()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxUploadBytes()+1<<20)

	req := rag.IngestRequest{DocID: c.PostForm("doc_id")}

	if rawURL := c.PostForm("url"); rawURL != "" {
		page, err := s.fetcher.Fetch(ctx, rawURL)
		if err != nil {
			writeError(c, err)
			return
		}
		req.Filename = page.Filename
		req.ContentType = page.ContentType
		req.Data = page.Data
	} else {
		header, err := c.FormFile("file")
		if err != nil {
			writeError(c, fmt.Errorf("%w: a file or url is required: %w", models.ErrValidation, err))
			return
		}
		f, err := header.Open()
		if err != nil {
			writeError(c, fmt.Errorf("%w: %w", models.ErrValidation, err))
			return
		}
		defer f.Close()

		data, err := io.ReadAll(io.LimitReader(f, s.config.MaxUploadBytes()+1))
		if err != nil {
			writeError(c, fmt.Errorf("%w: reading upload: %w", models.ErrValidation, err))
			return
		}
		req.Filename = header.Filename
		req.ContentType = header.Header.Get("Content-Type")
		req.Data = data
	}

	result, err := s.service.Ingest(ctx, req, nil)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) handleGetDocument(c *gin.Context) {
	id := c.Param("id")
	ok, err := s.service.HasDocument(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		writeError(c, fmt.Errorf("%w: document %s", models.ErrNotFound, id))
		return
	}
	c.JSON(http.StatusOK, gin.H{"docId": id})
}

func (s *Server) handleDeleteDocument(c *gin.Context) {
	id := c.Param("id")
	deleted, err := s.service.Delete(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if !deleted {
		writeError(c, fmt.Errorf("%w: document %s", models.ErrNotFound, id))
		return
	}
	c.Status(http.StatusNoContent)
}

// handleChat streams the answer as server-sent events, one JSON event per
// data line.
func (s *Server) handleChat(c *gin.Context) {
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %w", models.ErrValidation, err))
		return
	}

	ctx := c.Request.Context()
	if req.DocID != "" {
		ok, err := s.service.HasDocument(ctx, req.DocID)
		if err != nil {
			writeError(c, err)
			return
		}
		if !ok {
			writeError(c, fmt.Errorf("%w: document %s", models.ErrNotFound, req.DocID))
			return
		}
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	for ev := range s.service.Ask(ctx, req) {
		data, err := json.Marshal(ev)
		if err != nil {
			logger.Error("encoding event: %v", err)
			return
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return
		}
		c.Writer.Flush()
	}
}

// handleWebSocket answers chat requests sent as JSON messages. Requests on
// one connection are served in order.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	for {
		var req models.ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				if err := conn.WriteJSON(models.ErrorEvent(fmt.Errorf("%w: malformed request", models.ErrValidation))); err != nil {
					return
				}
				continue
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read: %v", err)
			}
			return
		}

		reqCtx, cancel := s.requestContext(ctx)
		for ev := range s.service.Ask(reqCtx, req) {
			if err := conn.WriteJSON(ev); err != nil {
				cancel()
				logger.Debug("websocket write: %v", err)
				return
			}
		}
		cancel()
	}
}

func (s *Server) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if d := s.config.RequestTimeout(); d > 0 {
		return context.WithTimeout(parent, d)
	}
	return context.WithCancel(parent)
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": models.ErrorMessage(err)})
}

func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrParse), errors.Is(err, models.ErrNoTextFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrProviderAuth), errors.Is(err, models.ErrProviderTransient):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
