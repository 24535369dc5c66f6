package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/andresuchdata/supplybalance/internal/api/handlers"
	"github.com/andresuchdata/supplybalance/internal/api/middleware"
	"github.com/andresuchdata/supplybalance/internal/service"
)

// DrivePrefix is the mount path of the Drive feed routes.
const DrivePrefix = "/api/v1/drive"

type Services struct {
	Metrics    *service.MetricsService
	Forecasts  *service.ForecastService
	Events     *service.EventService
	Aggregator handlers.AggregatorRunner
	// Drive serves the feed routes under /api/v1/drive; nil when the feed is disabled.
	Drive http.Handler
}

var defaultOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}

func NewRouter(services *Services, allowedOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(middleware.Logger(), middleware.Recovery())
	router.Use(cors.New(corsConfig(allowedOrigins)))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if services == nil {
		return router
	}

	v1 := router.Group("/api/v1")
	registerMetrics(v1, services.Metrics)
	registerForecasts(v1, services.Forecasts)
	if services.Events != nil {
		v1.POST("/events", handlers.NewEventHandler(services.Events).Record)
	}
	if services.Aggregator != nil {
		h := handlers.NewAggregatorHandler(services.Aggregator)
		v1.GET("/aggregator/status", h.Status)
		v1.POST("/aggregator/run", h.Run)
	}
	if services.Drive != nil {
		// Drive routes match on the full request path, DrivePrefix included.
		v1.Any("/drive/*path", gin.WrapH(services.Drive))
	}

	return router
}

func registerMetrics(v1 *gin.RouterGroup, svc *service.MetricsService) {
	if svc == nil {
		return
	}
	h := handlers.NewMetricsHandler(svc)
	metrics := v1.Group("/metrics")
	{
		metrics.GET("", h.ListMetrics)
		metrics.GET("/alerts", h.ListAlerts)
		metrics.GET("/rollup", h.Rollup)
		metrics.GET("/summary", h.Summary)
	}
	v1.GET("/skus/:sku", h.SKUOverview)
}

func registerForecasts(v1 *gin.RouterGroup, svc *service.ForecastService) {
	if svc == nil {
		return
	}
	h := handlers.NewForecastHandler(svc)
	forecasts := v1.Group("/forecasts")
	{
		forecasts.POST("", h.Append)
		forecasts.GET("/:sku", h.Current)
		forecasts.GET("/:sku/runs", h.Runs)
	}
}

// corsConfig allows the local dashboard origins unless ALLOWED_ORIGINS says
// otherwise. A "*" entry allows any origin.
func corsConfig(allowedOrigins []string) cors.Config {
	cfg := cors.Config{
		AllowOrigins:     defaultOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	origins, allowAll := normalizeAllowedOrigins(allowedOrigins)
	switch {
	case allowAll:
		cfg.AllowOrigins = nil
		cfg.AllowOriginFunc = func(string) bool { return true }
	case len(origins) > 0:
		cfg.AllowOrigins = origins
	}
	return cfg
}

func normalizeAllowedOrigins(origins []string) ([]string, bool) {
	var (
		parsed   []string
		allowAll bool
	)
	for _, entry := range origins {
		for _, origin := range strings.Split(entry, ",") {
			switch origin = strings.TrimSpace(origin); origin {
			case "":
			case "*":
				allowAll = true
			default:
				parsed = append(parsed, origin)
			}
		}
	}
	return parsed, allowAll
}
