package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/edgewatch/multiregion/internal/config"
	"github.com/edgewatch/multiregion/internal/coordinator"
)

type Server struct {
	Config *config.Config
	Router *gin.Engine

	coord  *coordinator.Coordinator
	logger *zap.Logger
}

func NewServer(cfg *config.Config, coord *coordinator.Coordinator, logger *zap.Logger) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	router.Use(gin.Recovery())

	server := &Server{
		Config: cfg,
		Router: router,
		coord:  coord,
		logger: logger,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.Router.Group("/api/v1")
	{
		api.GET("/regions", s.ListRegions)
		api.GET("/regions/:id", s.GetRegion)
		api.GET("/regions/:id/health", s.GetRegionHealth)
		api.PUT("/regions/:id/status", s.UpdateRegionStatus)

		api.GET("/health/summary", s.GetHealthSummary)
		api.GET("/events", s.ListEvents)
		api.GET("/metrics/overview", s.GetOverview)
		api.GET("/stats/requests", s.GetRequestStats)

		api.GET("/routing/rules", s.ListRoutingRules)
		api.POST("/routing/rules", s.AddRoutingRule)
		api.DELETE("/routing/rules/:id", s.RemoveRoutingRule)
		api.POST("/routing/select", s.SelectRegion)

		api.GET("/replication/queue", s.GetReplicationQueue)
		api.GET("/replication/status", s.GetSyncStatus)
		api.GET("/replication/conflicts", s.ListConflicts)
		api.POST("/replication/conflicts/:id/resolve", s.ResolveConflict)
		api.POST("/replication/pause", s.PauseReplication)
		api.POST("/replication/resume", s.ResumeReplication)
	}
}

// Run serves until the listener fails.
func (s *Server) Run() error {
	return s.Router.Run(":" + s.Config.Server.Port)
}
