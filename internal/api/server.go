// Package api provides the HTTP API server for Nimbus.
// It uses Echo framework to serve REST endpoints for instance data and a
// WebSocket stream of instance dispatch messages.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"eve.evalgo.org/db"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	echoSwagger "github.com/swaggo/echo-swagger"
	"golang.org/x/time/rate"

	_ "evalgo.org/nimbus/docs" // Import generated docs
	"evalgo.org/nimbus/internal/auth"
	"evalgo.org/nimbus/internal/config"
	"evalgo.org/nimbus/internal/events"
	"evalgo.org/nimbus/internal/metrics"
	"evalgo.org/nimbus/internal/storage"
	"evalgo.org/nimbus/internal/validation"
	"evalgo.org/nimbus/internal/version"
	"evalgo.org/nimbus/models"
)

// Store is the persistence the handlers depend on. *storage.Storage
// implements it.
type Store interface {
	SaveInstance(inst *models.Instance) error
	GetInstance(id string) (*models.Instance, error)
	DeleteInstance(id string) error
	ListInstances(filter models.Filter) (models.Instances, error)
	GetInstancesByNode(node string) (models.Instances, error)
	GroupInstancesByNode() (models.InstancesNode, error)
	CountInstances() (int, error)
	CountInstancesByNode() (map[string]int, error)
	SaveInfo(id string, info models.Info) error
	GetInfo(id string) (*models.Info, error)
	GetDatabaseInfo() (*db.DatabaseInfo, error)
}

// ChangeWatcher is implemented by stores that can report changes made by
// other writers.
type ChangeWatcher interface {
	WatchInstanceChanges(since string, handler storage.ChangeHandler) error
	GetChangesSince(sequence string, limit int) ([]models.InstanceDispatch, string, error)
}

// catchUpBatch is the number of changes read per request when the feed
// resumes after a failure.
const catchUpBatch = 100

var (
	_ Store         = (*storage.Storage)(nil)
	_ ChangeWatcher = (*storage.Storage)(nil)
)

// Server represents the Nimbus API server.
type Server struct {
	echo       *echo.Echo
	store      Store
	config     *config.Config
	hub        *Hub // WebSocket hub for real-time updates
	publisher  events.Multi
	metrics    *metrics.Metrics
	validator  *validation.Validator
	authMiddle *auth.Middleware
	log        logrus.FieldLogger

	// watching is set when dispatches come from the changes feed instead
	// of the mutation handlers
	watching  bool
	feedRetry time.Duration
	accessLog io.Writer

	stop context.CancelFunc
}

// Option configures optional parts of the server.
type Option func(*Server)

// WithPublisher adds an external publisher (e.g. NATS) next to the
// websocket hub. Failures are counted under name.
func WithPublisher(name string, p events.Publisher) Option {
	return func(s *Server) {
		if p != nil {
			s.publisher = append(s.publisher, s.instrument(name, p))
		}
	}
}

// WithMetrics replaces the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger sets the server logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Server) {
		s.log = logger
	}
}

// New creates a new API server instance.
func New(cfg *config.Config, store Store, opts ...Option) *Server {
	e := echo.New()

	// Configure Echo
	e.HideBanner = true
	e.HidePort = true
	e.Debug = cfg.Server.Debug

	// Set custom error handler
	e.HTTPErrorHandler = HTTPErrorHandler

	server := &Server{
		echo:       e,
		store:      store,
		config:     cfg,
		metrics:    metrics.New(),
		validator:  validation.New(),
		authMiddle: auth.NewMiddleware(cfg.Security),
		log:        logrus.StandardLogger(),
		feedRetry:  5 * time.Second,
		accessLog:  os.Stdout,
	}
	for _, opt := range opts {
		opt(server)
	}
	server.log = server.log.WithField("component", "api")

	// the hub is always the first publisher
	server.hub = NewHub(server.log)
	server.hub.onCount = func(n int) { server.metrics.WebSocketClients.Set(float64(n)) }
	server.publisher = append(events.Multi{server.instrument("websocket", server.hub)}, server.publisher...)

	ctx, cancel := context.WithCancel(context.Background())
	server.stop = cancel

	// Start WebSocket hub in background
	go server.hub.Run(ctx)

	if cfg.Server.WatchChanges {
		if watcher, ok := store.(ChangeWatcher); ok {
			server.watching = true
			go server.watchChanges(ctx, watcher, server.loadPlacement())
		}
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	// Logger middleware
	// the query string is left out: websocket clients pass tokens there
	s.echo.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${path} (${latency_human})\n",
		Output: s.accessLog,
		Skipper: func(c echo.Context) bool {
			return !s.config.Server.Debug && c.Path() == "/health"
		},
	}))

	s.echo.Use(middleware.Recover())
	s.echo.Use(RequestMetrics(s.metrics))
	s.echo.Use(SecurityHeaders)

	if len(s.config.Security.AllowedOrigins) > 0 {
		s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.config.Security.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, auth.HeaderAPIKey},
		}))
	}

	s.echo.Use(middleware.RequestID())

	if s.config.Security.RateLimit > 0 {
		s.echo.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(
			rate.Limit(s.config.Security.RateLimit),
		)))
	}

	s.echo.Use(ValidateContentType)
	s.echo.Use(ValidateAcceptHeader)
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	// Swagger UI documentation (public - but API endpoints are still protected)
	s.echo.GET("/docs/*", echoSwagger.WrapHandler)

	v1 := s.echo.Group("/api/v1")

	instances := v1.Group("/instances")
	instances.GET("", s.listInstances, ValidateQueryParams, s.authMiddle.RequireRead)
	instances.POST("", s.createInstance, s.authMiddle.RequireWrite)
	instances.GET("/:id", s.getInstance, ValidateIDFormat, s.authMiddle.RequireRead)
	instances.PUT("/:id", s.updateInstance, ValidateIDFormat, s.authMiddle.RequireWrite)
	instances.DELETE("/:id", s.deleteInstance, ValidateIDFormat, s.authMiddle.RequireWrite)
	instances.GET("/:id/info", s.getInstanceInfo, ValidateIDFormat, s.authMiddle.RequireRead)
	instances.PUT("/:id/info", s.updateInstanceInfo, ValidateIDFormat, s.authMiddle.RequireWrite)

	nodes := v1.Group("/nodes")
	nodes.GET("", s.listNodes, s.authMiddle.RequireRead)
	nodes.GET("/:node/instances", s.listNodeInstances, ValidateIDFormat, s.authMiddle.RequireRead)

	v1.POST("/validate/instance", s.validateInstance, s.authMiddle.RequireRead)
	v1.GET("/stats", s.getStatistics, s.authMiddle.RequireRead)

	ws := v1.Group("/ws")
	ws.GET("/events", s.HandleWebSocket, s.authMiddle.RequireStream)
	ws.GET("/stats", s.GetWebSocketStats, s.authMiddle.RequireRead)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := s.config.Server.Address()

	s.log.WithFields(logrus.Fields{
		"address":  addr,
		"database": s.config.CouchDB.Database,
		"debug":    s.config.Server.Debug,
		"watch":    s.watching,
	}).Info("starting nimbus api server")

	// Configure server timeouts
	s.echo.Server.ReadTimeout = s.config.Server.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.Server.WriteTimeout

	if s.config.Server.TLSEnabled {
		return s.echo.StartTLS(addr, s.config.Server.TLSCert, s.config.Server.TLSKey)
	}

	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server. The store stays open; it
// belongs to the caller of New.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down nimbus api server")

	s.stop()

	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down server: %w", err)
	}

	s.log.Info("server shutdown complete")
	return nil
}

// healthCheck handles health check requests.
func (s *Server) healthCheck(c echo.Context) error {
	info, err := s.store.GetDatabaseInfo()
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "unhealthy",
			"error":   "database connection failed",
			"details": err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"service":  "nimbus",
		"version":  version.Version,
		"database": info.DBName,
	})
}

// Publish sends dispatches to every publisher. Failures are logged and
// never fail the request that caused them.
func (s *Server) Publish(ctx context.Context, dispatches ...models.InstanceDispatch) {
	for _, d := range dispatches {
		if err := s.publisher.Publish(ctx, d); err != nil {
			s.log.WithError(err).WithField("type", d.Type).Warn("failed to publish dispatch")
			continue
		}
		s.metrics.ObservePublished(d.Type)
	}
}

func (s *Server) instrument(name string, p events.Publisher) events.Publisher {
	return events.PublisherFunc(func(ctx context.Context, d models.InstanceDispatch) error {
		if err := p.Publish(ctx, d); err != nil {
			s.metrics.ObservePublishError(name)
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
}

// publishMutation announces a changed instance and the new state of the
// nodes it touched. With the changes feed enabled the feed does this.
func (s *Server) publishMutation(ctx context.Context, change models.InstanceDispatch, nodes ...string) {
	if s.watching {
		return
	}
	s.Publish(ctx, change)
	s.publishNodes(ctx, nodes...)
}

func (s *Server) publishNodes(ctx context.Context, nodes ...string) {
	seen := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		if node == "" || seen[node] {
			continue
		}
		seen[node] = true

		list, err := s.store.GetInstancesByNode(node)
		if err != nil {
			s.log.WithError(err).WithField("node", node).Warn("failed to load node instances")
			continue
		}
		s.Publish(ctx, models.SyncNodeDispatch(node, list))
	}
}

// watchChanges forwards the changes feed to the publishers and restarts
// the feed after failures until ctx is done. Changes missed while the feed
// was down are replayed before it resumes.
func (s *Server) watchChanges(ctx context.Context, watcher ChangeWatcher, placement map[string]string) {
	since := ""

	for {
		err := watcher.WatchInstanceChanges(since, func(seq string, d models.InstanceDispatch) {
			if seq != "" {
				since = seq
			}
			s.forwardChange(ctx, placement, d)
		})
		if ctx.Err() != nil {
			return
		}
		s.log.WithError(err).Warn("changes feed stopped, restarting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.feedRetry):
		}

		if since == "" {
			// nothing seen yet, so there is no position to replay from
			placement = s.loadPlacement()
			continue
		}
		since = s.catchUp(ctx, watcher, since, placement)
	}
}

// catchUp replays the changes after since in batches and returns the
// sequence to resume the feed from.
func (s *Server) catchUp(ctx context.Context, watcher ChangeWatcher, since string, placement map[string]string) string {
	for ctx.Err() == nil {
		dispatches, last, err := watcher.GetChangesSince(since, catchUpBatch)
		if err != nil {
			s.log.WithError(err).WithField("since", since).Warn("failed to replay missed changes")
			return since
		}
		for _, d := range dispatches {
			s.forwardChange(ctx, placement, d)
		}
		if last == "" || last == since || len(dispatches) == 0 {
			if last != "" {
				since = last
			}
			return since
		}
		since = last
	}
	return since
}

// forwardChange publishes a change from the feed followed by the node
// lists it touched. placement maps instance IDs to their last known node
// so deletes and moves also refresh the node the instance left.
func (s *Server) forwardChange(ctx context.Context, placement map[string]string, d models.InstanceDispatch) {
	s.Publish(ctx, d)
	if d.Data == nil || d.Data.ID == nil {
		return
	}

	id := *d.Data.ID
	oldNode := placement[id]
	newNode := ""
	if d.Data.Instance != nil {
		newNode = d.Data.Instance.GetNode()
		placement[id] = newNode
	} else {
		delete(placement, id)
	}

	s.publishNodes(ctx, oldNode, newNode)
}

// loadPlacement reads the node of every stored instance.
func (s *Server) loadPlacement() map[string]string {
	placement := make(map[string]string)
	list, err := s.store.ListInstances(models.Filter{})
	if err != nil {
		s.log.WithError(err).Warn("failed to load instance placement")
		return placement
	}
	for _, inst := range list {
		placement[inst.ID] = inst.GetNode()
	}
	return placement
}

// ServeHTTP allows Server to implement http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
