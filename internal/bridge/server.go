// Package bridge wires the session pool, request registry, peer link, and
// wire codec into the HTTP orchestrator described in spec.md §4.F: the
// OpenAI-compatible /v1/chat/completions endpoint and its thin admin
// surface (/v1/models, /v1/refresh-models).
package bridge

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/arenabridge/bridge/internal/config"
	"github.com/arenabridge/bridge/internal/logger"
	"github.com/arenabridge/bridge/internal/peer"
	"github.com/arenabridge/bridge/internal/pool"
	"github.com/arenabridge/bridge/internal/registry"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
)

// wsUpgrader upgrades the single /ws endpoint the browser peer connects
// over. Origin checking is left permissive: the peer is a userscript
// running inside the operator's own browser, not a third-party client.
var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// Admin is the subset of internal/admin.Service the router wires in:
// a global request-observing middleware plus a route-registration hook.
// Kept as an interface so this package never imports internal/admin.
type Admin interface {
	Middleware() gin.HandlerFunc
	RegisterRoutes(engine *gin.Engine)
}

// Server holds every shared component the orchestrator dispatches against.
type Server struct {
	cfg         *config.Config
	log         *logger.Logger
	pool        *pool.Pool
	registry    *registry.Registry
	peer        *peer.Link
	catalog     *Catalog
	endpointMap config.EndpointMap
	admin       Admin
}

// New wires a Server from its already-constructed dependencies. admin may
// be nil, in which case no admin routes or observability middleware are
// mounted.
func New(cfg *config.Config, log *logger.Logger, p *pool.Pool, r *registry.Registry, link *peer.Link, catalog *Catalog, endpointMap config.EndpointMap, admin Admin) *Server {
	return &Server{cfg: cfg, log: log, pool: p, registry: r, peer: link, catalog: catalog, endpointMap: endpointMap, admin: admin}
}

// Router builds the gin engine serving the HTTP surface described in
// spec.md §6, wrapped with the rs/cors middleware.
func (s *Server) Router() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(s.requestLogMiddleware())
	if s.admin != nil {
		engine.Use(s.admin.Middleware())
	}

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSAllowOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	engine.Use(func(c *gin.Context) {
		corsMiddleware.ServeHTTP(c.Writer, c.Request, func(http.ResponseWriter, *http.Request) { c.Next() })
	})

	engine.POST("/v1/chat/completions", s.handleChatCompletions)
	engine.GET("/v1/models", s.handleListModels)
	engine.POST("/v1/refresh-models", s.handleRefreshModels)
	engine.POST("/internal/start-id-capture", s.handleStartIDCapture)
	engine.GET("/ws", s.handlePeerWebSocket)

	if s.admin != nil {
		s.admin.RegisterRoutes(engine)
	}

	return engine
}

// handlePeerWebSocket upgrades the incoming connection and hands it to the
// peer link, which closes and replaces any connection already active.
func (s *Server) handlePeerWebSocket(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.LogError(c.Request.Context(), err, "failed to upgrade peer websocket")
		return
	}
	s.peer.Connect(conn)
}

func (s *Server) requestLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}
