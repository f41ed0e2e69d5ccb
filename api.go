package newsdigest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pevans/newsdigest/config"
	"github.com/pevans/newsdigest/discovery"
	"github.com/pevans/newsdigest/scraper"
	"github.com/pevans/newsdigest/stories"
	"github.com/pevans/newsdigest/summary"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// DigestBuilder computes a site's digest for an explicit window.
type DigestBuilder interface {
	BuildWindow(ctx context.Context, site *scraper.SiteSpec, start, end time.Time) (*summary.Digest, error)
}

// StatusReader reports on the story log.
type StatusReader interface {
	Ping(ctx context.Context) error
	CountStories(ctx context.Context, site string) (int, error)
	LastScan(ctx context.Context, site string) (*stories.Scan, error)
}

// APIServer serves digests computed on demand from the story log.
type APIServer struct {
	cfg     *config.Config
	digests DigestBuilder
	status  StatusReader
	metrics *discovery.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewAPIServer creates an API server. metrics may be nil, in which case
// /metrics is not routed.
func NewAPIServer(cfg *config.Config, digests DigestBuilder, status StatusReader, metrics *discovery.Metrics, logger *zap.Logger) *APIServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIServer{
		cfg:     cfg,
		digests: digests,
		status:  status,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// SetupRouter configures the Gin router with all routes.
func (s *APIServer) SetupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	// Add CORS middleware
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	router.GET("/health", s.HandleHealth)
	router.GET("/digest/:site", s.HandleDigestHTML)

	api := router.Group("/api/v1/sites")
	api.GET("", s.HandleListSites)
	api.GET("/:site/digest", s.HandleDigest)

	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))
	}

	return router
}

// ListenAndServe serves the router on addr until ctx is cancelled.
func (s *APIServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *APIServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error code and message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// SiteStatus is one entry of GET /api/v1/sites.
type SiteStatus struct {
	Name     string        `json:"name"`
	Blocks   []string      `json:"blocks"`
	WindowS  int64         `json:"time_period_s"`
	Stories  int           `json:"stories"`
	LastScan *stories.Scan `json:"last_scan,omitempty"`
}

// ListSitesResponse represents the response for GET /api/v1/sites.
type ListSitesResponse struct {
	Sites []SiteStatus `json:"sites"`
	Total int          `json:"total"`
}

// HandleHealth handles GET /health.
func (s *APIServer) HandleHealth(c *gin.Context) {
	if err := s.status.Ping(c.Request.Context()); err != nil {
		writeError(c, http.StatusServiceUnavailable, "storage_unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleListSites handles GET /api/v1/sites.
func (s *APIServer) HandleListSites(c *gin.Context) {
	ctx := c.Request.Context()
	resp := ListSitesResponse{Sites: make([]SiteStatus, 0, len(s.cfg.Sites))}

	for i := range s.cfg.Sites {
		site := &s.cfg.Sites[i]
		status := SiteStatus{
			Name:    site.Name,
			Blocks:  make([]string, 0, len(site.Blocks)),
			WindowS: int64(site.Summary.Window() / time.Second),
		}
		for _, b := range site.Blocks {
			status.Blocks = append(status.Blocks, b.Name)
		}

		count, err := s.status.CountStories(ctx, site.Name)
		if err != nil {
			writeError(c, http.StatusInternalServerError, "internal_error", "Failed to count stories: "+err.Error())
			return
		}
		status.Stories = count

		scan, err := s.status.LastScan(ctx, site.Name)
		switch {
		case err == nil:
			status.LastScan = scan
		case !errors.Is(err, stories.ErrScanNotFound):
			writeError(c, http.StatusInternalServerError, "internal_error", "Failed to read last scan: "+err.Error())
			return
		}

		resp.Sites = append(resp.Sites, status)
	}

	resp.Total = len(resp.Sites)
	c.JSON(http.StatusOK, resp)
}

// HandleDigest handles GET /api/v1/sites/:site/digest. The optional period
// query parameter overrides the site's window; end is RFC 3339 and
// defaults to now.
func (s *APIServer) HandleDigest(c *gin.Context) {
	digest, ok := s.buildDigest(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, digest)
}

// HandleDigestHTML handles GET /digest/:site and renders the HTML page.
func (s *APIServer) HandleDigestHTML(c *gin.Context) {
	digest, ok := s.buildDigest(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := summary.RenderHTML(c.Writer, digest); err != nil {
		s.logger.Error("failed to render digest", zap.String("site", digest.Site), zap.Error(err))
	}
}

// buildDigest resolves the site and window from the request. It writes the
// error response itself and reports false on failure.
func (s *APIServer) buildDigest(c *gin.Context) (*summary.Digest, bool) {
	site, found := s.cfg.Site(c.Param("site"))
	if !found {
		writeError(c, http.StatusNotFound, "not_found", "Site not found: "+c.Param("site"))
		return nil, false
	}

	window := site.Summary.Window()
	if period := c.Query("period"); period != "" {
		d, err := time.ParseDuration(period)
		if err != nil || d <= 0 {
			writeError(c, http.StatusBadRequest, "invalid_parameter", "Invalid period parameter: must be a positive duration such as 24h")
			return nil, false
		}
		window = d
	}

	end := s.now().UTC()
	if until := c.Query("end"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid_parameter", "Invalid end parameter: must be RFC 3339 format")
			return nil, false
		}
		end = t.UTC()
	}

	digest, err := s.digests.BuildWindow(c.Request.Context(), site, end.Add(-window), end)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "internal_error", "Failed to build digest: "+err.Error())
		return nil, false
	}
	return digest, true
}
