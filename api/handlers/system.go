package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ActiveCounter reports how many sessions own a live stream.
type ActiveCounter interface {
	Len() int
}

// Health handles GET /health.
func Health(active ActiveCounter) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":         "ok",
			"activeSessions": active.Len(),
		})
	}
}

// Metrics handles GET /metrics for the collectors in gatherer.
func Metrics(gatherer prometheus.Gatherer) gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

// RegisterStatic serves the built frontend from dir. Unknown GET paths
// outside /api fall back to index.html so client-side routes load.
func RegisterStatic(r *gin.Engine, dir string) {
	index := filepath.Join(dir, "index.html")

	r.NoRoute(func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			sendError(c, http.StatusNotFound, "NOT_FOUND", "Not found")
			return
		}
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			sendError(c, http.StatusNotFound, "NOT_FOUND", "Not found")
			return
		}

		rel := filepath.FromSlash(strings.TrimPrefix(c.Request.URL.Path, "/"))
		path := filepath.Join(dir, filepath.Clean("/"+rel))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			c.File(path)
			return
		}
		if _, err := os.Stat(index); err != nil {
			sendError(c, http.StatusNotFound, "NOT_FOUND", "Frontend not built")
			return
		}
		c.File(index)
	})
}
