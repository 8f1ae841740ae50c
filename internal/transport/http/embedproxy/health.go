package embedproxy

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// handleHealth reports proxy liveness plus cache and host statistics. The
// gopsutil reads are best effort; a failing probe zeroes the field instead
// of failing the endpoint.
func (s *Service) handleHealth(c *gin.Context) {
	payload := gin.H{
		"status":     "healthy",
		"uptime_s":   int(time.Since(s.startedAt) / time.Second),
		"goroutines": runtime.NumGoroutine(),
	}

	if stats, err := s.deps.Cache.Stats(c.Request.Context()); err == nil {
		payload["cache"] = stats
	} else {
		s.logger.WarnTag("PROXY", "cache stats unavailable in health check", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		payload["memory"] = gin.H{
			"total":        vm.Total,
			"used":         vm.Used,
			"used_percent": vm.UsedPercent,
		}
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		payload["cpu_percent"] = percents[0]
	}

	c.JSON(http.StatusOK, payload)
}
