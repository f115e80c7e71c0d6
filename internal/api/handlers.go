package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Virrpe/saaspype-trends/internal/models"
	"github.com/Virrpe/saaspype-trends/internal/utils"
)

const defaultTrendLimit = 50

func (s *Server) handleTrends(c *gin.Context) {
	platform := c.Query("platform")
	limit := defaultTrendLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	opportunities := s.coord.Opportunities(platform, limit)
	c.JSON(http.StatusOK, gin.H{
		"trends": opportunities,
		"count":  len(opportunities),
	})
}

func (s *Server) handleTemporal(c *gin.Context) {
	key := c.Param("key")
	resolution := models.Resolution(c.DefaultQuery("resolution", string(models.ResolutionShort)))
	if !validResolution(resolution) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "resolution must be one of micro, short, medium, long"})
		return
	}

	buckets := s.coord.Temporal(key, resolution)
	if raw := c.Query("since"); raw != "" {
		since, err := utils.ParseRFC3339(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be an RFC 3339 timestamp"})
			return
		}
		kept := buckets[:0]
		for _, b := range buckets {
			if b.LastSeen.After(since) {
				kept = append(kept, b)
			}
		}
		buckets = kept
	}
	if len(buckets) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no aggregates for key", "key": key})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"key":        key,
		"resolution": resolution,
		"buckets":    buckets,
	})
}

func (s *Server) handleAnomalies(c *gin.Context) {
	anomalies := s.coord.Anomalies()
	c.JSON(http.StatusOK, gin.H{
		"anomalies": anomalies,
		"count":     len(anomalies),
	})
}

func (s *Server) handleStream(c *gin.Context) {
	s.coord.Hub().ServeWS(c.Writer, c.Request)
}

func (s *Server) handleHealth(c *gin.Context) {
	stats := s.coord.Snapshot()
	status := http.StatusOK
	health := "healthy"
	if stats.State != "running" && stats.State != "paused" {
		status = http.StatusServiceUnavailable
		health = "unavailable"
	}
	c.JSON(status, gin.H{
		"status":      health,
		"state":       stats.State,
		"uptime":      stats.Uptime.String(),
		"ticks":       stats.Ticks,
		"subscribers": stats.Subscribers,
	})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.coord.Snapshot())
}

func validResolution(r models.Resolution) bool {
	for _, known := range models.Resolutions() {
		if r == known {
			return true
		}
	}
	return false
}
