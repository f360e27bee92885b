// Package httpapi serves the REST surface: deal search and comparison,
// store discovery, and the admin refresh endpoints.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/danharris923/flyerflipper/internal/cache"
	"github.com/danharris923/flyerflipper/internal/config"
	"github.com/danharris923/flyerflipper/internal/db"
	"github.com/danharris923/flyerflipper/internal/dealstore"
	"github.com/danharris923/flyerflipper/internal/feed"
	"github.com/danharris923/flyerflipper/internal/globaltime"
	"github.com/danharris923/flyerflipper/internal/match"
	"github.com/danharris923/flyerflipper/internal/observability"
	"github.com/danharris923/flyerflipper/internal/places"
	"github.com/danharris923/flyerflipper/internal/scheduler"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	pool       *db.Pool
	deals      *dealstore.DealStore
	feedClient *feed.Client
	matcher    *match.Matcher
	placesAPI  *places.Client
	searches   *cache.Cache
	sched      *scheduler.Scheduler
	cfg        config.Config
	logger     zerolog.Logger
	opts       Options
}

func NewServer(
	pool *db.Pool,
	deals *dealstore.DealStore,
	feedClient *feed.Client,
	matcher *match.Matcher,
	placesAPI *places.Client,
	searches *cache.Cache,
	sched *scheduler.Scheduler,
	cfg config.Config,
	logger zerolog.Logger,
	opts Options,
) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8080
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 60 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		pool:       pool,
		deals:      deals,
		feedClient: feedClient,
		matcher:    matcher,
		placesAPI:  placesAPI,
		searches:   searches,
		sched:      sched,
		cfg:        cfg,
		logger:     logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "X-Admin-Key"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	e.GET("/metrics", echo.WrapHandler(observability.Handler()))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/status", s.handleStatus)
	api.GET("/deals", s.handleDeals)
	api.GET("/deals/compare", s.handleCompareDeals)
	api.GET("/stores", s.handleStores)
	api.GET("/stores/:store_id", s.handleStoreDetail)

	admin := api.Group("", s.requireAdminKey())
	admin.POST("/refresh", s.handleRefresh)
	admin.POST("/feed/test", s.handleFeedTest)

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("flyerflipper api started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("flyerflipper api stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	return success(c, map[string]any{
		"service": "flyerflipper",
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	dbStatus := "connected"
	if err := s.pool.DB().PingContext(c.Request().Context()); err != nil {
		dbStatus = "unreachable"
	}

	placesStatus := "unavailable"
	if s.placesAPI != nil {
		placesStatus = "available"
	}
	cacheStatus := "disabled"
	if s.searches != nil {
		cacheStatus = "enabled"
	}
	schedulerStatus := "stopped"
	if s.sched != nil && s.sched.Running() {
		schedulerStatus = "running"
	}

	return success(c, map[string]any{
		"status":    "healthy",
		"timestamp": globaltime.UTC(),
		"services": map[string]any{
			"database":     dbStatus,
			"places":       placesStatus,
			"search_cache": cacheStatus,
			"scheduler":    schedulerStatus,
		},
	})
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}

func parseFloatParam(raw string) (*float64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return nil, fmt.Errorf("must be a number")
	}
	return &value, nil
}
