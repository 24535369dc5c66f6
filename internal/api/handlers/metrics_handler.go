package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/andresuchdata/supplybalance/internal/service"
)

type MetricsHandler struct {
	service *service.MetricsService
}

func NewMetricsHandler(service *service.MetricsService) *MetricsHandler {
	return &MetricsHandler{service: service}
}

func (h *MetricsHandler) ListMetrics(c *gin.Context) {
	filter, err := parseMetricsFilter(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	page, err := h.service.ListMetrics(c.Request.Context(), filter)
	if err != nil {
		respondError(c, "failed to fetch metrics", err)
		return
	}

	c.JSON(http.StatusOK, page)
}

func (h *MetricsHandler) Rollup(c *gin.Context) {
	filter, err := parseMetricsFilter(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	page, err := h.service.Rollup(c.Request.Context(), filter)
	if err != nil {
		respondError(c, "failed to fetch rollup", err)
		return
	}

	c.JSON(http.StatusOK, page)
}

// ListAlerts returns rows whose DOH is below ?threshold (default from config).
func (h *MetricsHandler) ListAlerts(c *gin.Context) {
	threshold, err := parseThreshold(c.Query("threshold"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	window, err := parseWindow(c.Query("window"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	alerts, err := h.service.ListAlerts(c.Request.Context(), threshold, window)
	if err != nil {
		respondError(c, "failed to fetch alerts", err)
		return
	}

	c.JSON(http.StatusOK, alerts)
}

func (h *MetricsHandler) Summary(c *gin.Context) {
	filter, err := parseMetricsFilter(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	summary, err := h.service.Summary(c.Request.Context(), filter)
	if err != nil {
		respondError(c, "failed to fetch summary", err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (h *MetricsHandler) SKUOverview(c *gin.Context) {
	overview, err := h.service.SKUOverview(c.Request.Context(), c.Param("sku"))
	if err != nil {
		respondError(c, "failed to fetch sku overview", err)
		return
	}

	c.JSON(http.StatusOK, overview)
}
