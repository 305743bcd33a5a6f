package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/edgewatch/multiregion/internal/core"
)

func (s *Server) ListRegions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"regions": s.coord.Monitor.AllRegions()})
}

func (s *Server) GetRegion(c *gin.Context) {
	region, err := s.coord.Monitor.Region(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Region not found"})
		return
	}
	c.JSON(http.StatusOK, region)
}

func (s *Server) GetRegionHealth(c *gin.Context) {
	health, err := s.coord.Monitor.Health(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Region not found"})
		return
	}
	c.JSON(http.StatusOK, health)
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=active inactive maintenance failed"`
}

func (s *Server) UpdateRegionStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	region, err := s.coord.Monitor.UpdateStatus(c.Param("id"), core.RegionStatus(req.Status))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Region not found"})
		return
	}

	s.logger.Info("Region status updated via API",
		zap.String("region", region.ID),
		zap.String("status", req.Status),
	)
	c.JSON(http.StatusOK, gin.H{"success": true, "region": region})
}

func (s *Server) GetHealthSummary(c *gin.Context) {
	c.JSON(http.StatusOK, s.coord.HealthSummary())
}

func (s *Server) ListEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	c.JSON(http.StatusOK, gin.H{"events": s.coord.Events.Events(limit)})
}

func (s *Server) GetOverview(c *gin.Context) {
	c.JSON(http.StatusOK, s.coord.Metrics())
}

func (s *Server) GetRequestStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stats": s.coord.Router.RequestStats()})
}

func (s *Server) ListRoutingRules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rules": s.coord.Router.Rules()})
}

type addRuleRequest struct {
	Path     string            `json:"path"`
	Method   string            `json:"method"`
	Headers  map[string]string `json:"headers"`
	Query    map[string]string `json:"query"`
	Targets  []core.RuleTarget `json:"targets" binding:"required,min=1"`
	Priority int               `json:"priority"`
}

func (s *Server) AddRoutingRule(c *gin.Context) {
	var req addRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule := core.RoutingRule{
		Path:     req.Path,
		Method:   req.Method,
		Headers:  req.Headers,
		Query:    req.Query,
		Targets:  req.Targets,
		Priority: req.Priority,
	}
	id, err := s.coord.Router.AddRule(rule)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "rule_id": id})
}

func (s *Server) RemoveRoutingRule(c *gin.Context) {
	if !s.coord.Router.RemoveRule(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) SelectRegion(c *gin.Context) {
	var desc core.RequestDescriptor
	if err := c.ShouldBindJSON(&desc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	region, err := s.coord.Router.SelectRegion(&desc)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, region)
}

func (s *Server) GetReplicationQueue(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": s.coord.Engine.Queue()})
}

func (s *Server) GetSyncStatus(c *gin.Context) {
	if regionID := c.Query("region"); regionID != "" {
		c.JSON(http.StatusOK, gin.H{"status": s.coord.Engine.SyncStatus(regionID)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": s.coord.Engine.SyncStatus()})
}

func (s *Server) ListConflicts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"conflicts": s.coord.Engine.Conflicts()})
}

type resolveConflictRequest struct {
	Strategy   string          `json:"strategy" binding:"required,oneof=last-write-wins first-write-wins custom"`
	ResolvedBy string          `json:"resolved_by" binding:"required"`
	FinalData  json.RawMessage `json:"final_data"`
}

func (s *Server) ResolveConflict(c *gin.Context) {
	var req resolveConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conflict, err := s.coord.Engine.ResolveConflict(
		c.Param("id"),
		core.ResolutionStrategy(req.Strategy),
		req.ResolvedBy,
		req.FinalData,
	)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrUnknownConflict):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, core.ErrConflictResolved):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "conflict": conflict})
}

func (s *Server) PauseReplication(c *gin.Context) {
	s.coord.Engine.Pause()
	c.JSON(http.StatusOK, gin.H{"success": true, "paused": true})
}

func (s *Server) ResumeReplication(c *gin.Context) {
	s.coord.Engine.Resume()
	c.JSON(http.StatusOK, gin.H{"success": true, "paused": false})
}
