package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/andresuchdata/supplybalance/internal/domain"
	"github.com/andresuchdata/supplybalance/internal/service"
)

type ForecastHandler struct {
	service *service.ForecastService
}

func NewForecastHandler(service *service.ForecastService) *ForecastHandler {
	return &ForecastHandler{service: service}
}

func (h *ForecastHandler) Append(c *gin.Context) {
	var run domain.ForecastRun
	if err := c.ShouldBindJSON(&run); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := h.service.Append(c.Request.Context(), &run); err != nil {
		respondError(c, "failed to append forecast run", err)
		return
	}

	c.JSON(http.StatusCreated, run.Summary())
}

func (h *ForecastHandler) Current(c *gin.Context) {
	run, err := h.service.Current(c.Request.Context(), c.Param("sku"))
	if err != nil {
		respondError(c, "failed to fetch forecast", err)
		return
	}

	c.JSON(http.StatusOK, run)
}

func (h *ForecastHandler) Runs(c *gin.Context) {
	runs, err := h.service.Runs(c.Request.Context(), c.Param("sku"))
	if err != nil {
		respondError(c, "failed to fetch forecast runs", err)
		return
	}
	if runs == nil {
		runs = []domain.ForecastRunSummary{}
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs})
}
