// Package sink is the development upload endpoint: a small gin server that
// accepts the multipart format the HTTP uploader sends, persists payloads
// through the filesystem store and serves them back. Configurable synthetic
// failures make it a convenient peer for exercising the pipeline's error
// paths.
package sink

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"pixlift/internal/logging"
	"pixlift/internal/observability"
	"pixlift/internal/upload"
)

// Config holds the sink's listen address, storage root and failure policy.
type Config struct {
	Host string `json:"host"`
	Port int    `json:"port"`

	// Dir is the storage root for accepted objects.
	Dir string `json:"dir"`

	// PublicURL is the base under which stored objects are reachable;
	// empty derives one from the listen address.
	PublicURL string `json:"public_url"`

	// AuthToken, when set, requires a matching bearer token on uploads.
	AuthToken string `json:"auth_token"`

	// FailEvery makes every Nth upload request fail with a 500 before
	// anything is stored. Zero disables it.
	FailEvery int `json:"fail_every"`

	// FailRate fails each upload request independently with the given
	// probability. Zero disables it.
	FailRate float64 `json:"fail_rate"`

	MaxUploadBytes int64         `json:"max_upload_bytes"`
	EnableCORS     bool          `json:"enable_cors"`
	Debug          bool          `json:"debug"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
}

// DefaultConfig returns a local development configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:           "localhost",
		Port:           8080,
		Dir:            "data/sink",
		MaxUploadBytes: 32 << 20,
		EnableCORS:     true,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
	}
}

// Server accepts uploads, serves stored objects and streams accepted
// uploads to websocket subscribers.
type Server struct {
	cfg    *Config
	store  *upload.FilesystemStore
	logger logging.Logger
	tracer *observability.TracerProvider

	engine     *gin.Engine
	httpServer *http.Server

	upgrader websocket.Upgrader

	clientsMu sync.Mutex
	clients   map[*wsClient]struct{}

	requests atomic.Uint64
	accepted atomic.Uint64

	startTime time.Time
}

// NewServer builds a sink from cfg. A nil tracer disables tracing.
func NewServer(cfg *Config, logger logging.Logger, tracer *observability.TracerProvider) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger = logging.OrNop(logger)

	if cfg.PublicURL == "" {
		host := cfg.Host
		if host == "" || host == "0.0.0.0" {
			host = "localhost"
		}
		cfg.PublicURL = fmt.Sprintf("http://%s:%d/i", host, cfg.Port)
	}

	store, err := upload.NewFilesystemStore(cfg.Dir, cfg.PublicURL, upload.WithStoreLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open sink store: %w", err)
	}

	if tracer == nil {
		tracer, err = observability.NewTracerProvider(observability.TracingConfig{Enabled: false})
		if err != nil {
			return nil, err
		}
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	if cfg.EnableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
		corsConfig.AllowWebSockets = true
		engine.Use(cors.New(corsConfig))
	}

	s := &Server{
		cfg:    cfg,
		store:  store,
		logger: logger,
		tracer: tracer,
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients:   make(map[*wsClient]struct{}),
		startTime: time.Now(),
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.engine.Use(s.traceMiddleware())

	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/i/*key", s.handleObject)
	s.engine.GET("/events", s.handleEvents)

	uploads := s.engine.Group("/")
	if s.cfg.AuthToken != "" {
		uploads.Use(s.authMiddleware())
	}
	uploads.POST("/upload", s.handleUpload)
}

// traceMiddleware wraps every request in a sink span.
func (s *Server) traceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := s.tracer.StartSpan(c.Request.Context(), observability.SpanSinkRequest,
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", c.FullPath()),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
	}
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	want := "Bearer " + s.cfg.AuthToken
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") != want {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler exposes the route tree, mainly so tests can drive the server
// through httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until Stop is called. It blocks.
func (s *Server) Start() error {
	s.logger.Info("sink listening on %s (store %s)", s.httpServer.Addr, s.cfg.Dir)
	if s.cfg.FailEvery > 0 {
		s.logger.Info("failure injection: every %dth upload fails", s.cfg.FailEvery)
	}
	if s.cfg.FailRate > 0 {
		s.logger.Info("failure injection: %.0f%% of uploads fail", s.cfg.FailRate*100)
	}

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("sink server: %w", err)
	}
	return nil
}

// Stop drains websocket subscribers and shuts the listener down.
func (s *Server) Stop() error {
	s.closeAllClients()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown sink: %w", err)
	}
	s.logger.Info("sink stopped after %s", time.Since(s.startTime).Truncate(time.Second))
	return nil
}
