package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// MetricsExporter serves /metrics and observes requests.
type MetricsExporter interface {
	RequestObserver
	Handler() http.Handler
}

// Options holds the dependencies of the router.
type Options struct {
	Vision    VisionService
	Pool      PoolInspector   // optional
	Stats     StatsSource     // optional
	Metrics   MetricsExporter // optional
	UploadDir string
	MaxUpload int64 // bytes of multipart form kept in memory
	Log       zerolog.Logger
}

// NewRouter creates and configures the Gin router.
func NewRouter(opts Options) *gin.Engine {
	router := gin.New()
	if opts.MaxUpload > 0 {
		router.MaxMultipartMemory = opts.MaxUpload
	}

	var obs RequestObserver
	if opts.Metrics != nil {
		obs = opts.Metrics
	}

	// Middleware
	router.Use(RequestID())
	router.Use(Logger(opts.Log, obs))
	router.Use(Recovery(opts.Log))
	router.Use(CORS())

	h := NewHandler(opts.Vision, opts.Pool, opts.Stats, opts.UploadDir, opts.Log)

	router.GET("/api/health", h.Health)
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	v := router.Group("/api/vision")
	{
		v.GET("/pool", h.Pool)
		v.POST("/chat", h.Chat)
		v.POST("/chat_stream", h.ChatStream)
		v.POST("/analyze", h.Analyze)
		v.POST("/analyze_stream", h.AnalyzeStream)
		v.POST("/analyze_satellite", h.AnalyzeSatellite)
		v.POST("/analyze_satellite_stream", h.AnalyzeSatelliteStream)
		v.GET("/ws", h.WebSocket)
	}

	return router
}
