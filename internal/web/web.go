// Package web is the HTTP shell over the pipeline: stage triggers, the
// events editor API, the newsletter preview and a small static UI.
package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"eventletter/internal/categorize"
	"eventletter/internal/config"
	appLog "eventletter/internal/log"
	"eventletter/internal/metrics"
	"eventletter/internal/model"
	"eventletter/internal/oracle"
	"eventletter/internal/pipeline"
	"eventletter/internal/scrape"
	"eventletter/internal/store"
	"eventletter/internal/validate"
)

// Server provides the HTTP API for driving the pipeline.
type Server struct {
	cfg    *config.Config
	p      *pipeline.Pipeline
	engine *gin.Engine
}

//go:embed all:static
var embeddedStatic embed.FS

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, p *pipeline.Pipeline) *Server {
	s := &Server{cfg: cfg, p: p, engine: gin.New()}
	s.engine.Use(gin.Recovery(), requestLogger())
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+cfg.Listen)
		s.engine.Use(s.basicAuth())
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler { return s.engine }

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password disables auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuth guards every route except /health.
func (s *Server) basicAuth() gin.HandlerFunc {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}
		u, p, ok := c.Request.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			c.Header("WWW-Authenticate", `Basic realm="eventletter", charset="UTF-8"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		c.Next()
	}
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		appLog.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"took", time.Since(start).Round(time.Millisecond).String(),
		)
	}
}

// StartServer serves on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func StartServer(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline) error {
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           NewServer(cfg, p).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	r := s.engine
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/newsletter.html", s.handleNewsletter)

	api := r.Group("/api")
	api.GET("/events", s.handleGetEvents)
	api.PUT("/events", s.handlePutEvents)
	api.GET("/validate", s.handleValidate)
	api.GET("/categorized", s.handleGetCategorized)
	api.POST("/scrape", s.handleScrape)
	api.POST("/categorize", s.handleCategorize)
	api.POST("/render", s.handleRender)

	r.NoRoute(s.staticFileServer())
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// staticFileServer serves the embedded editor UI for every path that is not
// an API route.
func (s *Server) staticFileServer() gin.HandlerFunc {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return func(c *gin.Context) {
			c.String(http.StatusServiceUnavailable, "static UI not available")
		}
	}
	files := http.FileServer(http.FS(sub))
	return func(c *gin.Context) {
		if p := c.Request.URL.Path; p == "/api" || strings.HasPrefix(p, "/api/") {
			c.JSON(http.StatusNotFound, errorResponse{Error: "not found"})
			return
		}
		files.ServeHTTP(c.Writer, c.Request)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Stage string `json:"stage,omitempty"`
}

// writeStoreError maps a document load failure to a response.
func writeStoreError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	appLog.Error("document load failed", err, "path", c.Request.URL.Path)
	c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load document"})
}

func writeBusy(c *gin.Context, err error) bool {
	if errors.Is(err, pipeline.ErrBusy) {
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
		return true
	}
	return false
}

func (s *Server) handleGetEvents(c *gin.Context) {
	doc, err := s.p.Documents().LoadEvents()
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

type validateResponse struct {
	Valid   bool             `json:"valid"`
	Summary validate.Summary `json:"summary"`
	Issues  []validate.Issue `json:"issues"`
}

func newValidateResponse(r validate.Report) validateResponse {
	issues := r.Issues
	if issues == nil {
		issues = []validate.Issue{}
	}
	return validateResponse{Valid: r.Valid(), Summary: r.Summary(), Issues: issues}
}

// handlePutEvents replaces events.json with the edited document and returns
// its validation report.
func (s *Server) handlePutEvents(c *gin.Context) {
	var doc model.EventsFile
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid events document: " + err.Error()})
		return
	}
	report, err := s.p.SaveEvents(&doc)
	if err != nil {
		if writeBusy(c, err) {
			return
		}
		appLog.Error("save events failed", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to save events"})
		return
	}
	c.JSON(http.StatusOK, newValidateResponse(report))
}

func (s *Server) handleValidate(c *gin.Context) {
	doc, err := s.p.Documents().LoadEvents()
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, newValidateResponse(validate.Events(doc)))
}

func (s *Server) handleGetCategorized(c *gin.Context) {
	doc, err := s.p.Documents().LoadCategorized()
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

type scrapeRequest struct {
	StartDate string `json:"start_date" binding:"required"`
	EndDate   string `json:"end_date" binding:"required"`
}

type scrapeResponse struct {
	DateRange *model.DateRange `json:"date_range"`
	Events    map[string]int   `json:"events"`
	Valid     bool             `json:"valid"`
	Summary   validate.Summary `json:"summary"`
}

func (s *Server) handleScrape(c *gin.Context) {
	var req scrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "start_date and end_date are required"})
		return
	}
	r, err := scrape.NewRange(req.StartDate, req.EndDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	doc, err := s.p.Scrape(c.Request.Context(), r)
	if err != nil {
		if writeBusy(c, err) {
			return
		}
		appLog.Error("scrape failed", err)
		c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error(), Stage: "scrape"})
		return
	}

	counts := make(map[string]int, len(doc.Sources))
	for _, src := range doc.Sources {
		counts[src.Tag] = len(src.Events)
	}
	report := validate.Events(doc)
	c.JSON(http.StatusOK, scrapeResponse{
		DateRange: doc.DateRange,
		Events:    counts,
		Valid:     report.Valid(),
		Summary:   report.Summary(),
	})
}

// categorizeRequest carries the oracle credential for this request only.
type categorizeRequest struct {
	APIKey     string `json:"api_key"`
	Model      string `json:"model"`
	Regenerate bool   `json:"regenerate"`
}

type categorizeFailure struct {
	errorResponse
	Result *categorize.Result `json:"result,omitempty"`
}

func (s *Server) handleCategorize(c *gin.Context) {
	var req categorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.APIKey == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "api_key is required"})
		return
	}
	cred := oracle.Credential{APIKey: req.APIKey, Model: req.Model}

	res, err := s.p.Categorize(c.Request.Context(), cred, categorize.RunOptions{Regenerate: req.Regenerate})
	if err != nil {
		if writeBusy(c, err) {
			return
		}
		resp := categorizeFailure{errorResponse: errorResponse{Error: err.Error()}, Result: res}
		var runErr *categorize.RunError
		if errors.As(err, &runErr) {
			resp.Kind = string(runErr.Kind)
			resp.Stage = string(runErr.Stage)
		}
		c.JSON(statusForKind(categorize.KindOf(err)), resp)
		return
	}
	c.JSON(http.StatusOK, res)
}

func statusForKind(k categorize.Kind) int {
	switch k {
	case categorize.KindNoInput, categorize.KindInvalidInput:
		return http.StatusUnprocessableEntity
	case categorize.KindOracleUnavailable, categorize.KindOracleMalformed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type renderResponse struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

func (s *Server) handleRender(c *gin.Context) {
	path, html, err := s.p.Render(c.Request.Context())
	if err != nil {
		if writeBusy(c, err) {
			return
		}
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Stage: "render"})
			return
		}
		appLog.Error("render failed", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to render newsletter", Stage: "render"})
		return
	}
	c.JSON(http.StatusOK, renderResponse{Path: path, Bytes: len(html)})
}

// handleNewsletter serves the last rendered newsletter from disk.
func (s *Server) handleNewsletter(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.File(s.p.Documents().NewsletterPath())
}
