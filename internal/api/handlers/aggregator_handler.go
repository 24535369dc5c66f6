package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/andresuchdata/supplybalance/internal/domain"
	"github.com/andresuchdata/supplybalance/internal/pipeline"
)

// AggregatorRunner is the part of the aggregator exposed over HTTP
type AggregatorRunner interface {
	RunOnce(ctx context.Context) (*domain.Snapshot, error)
	Status() pipeline.Status
}

type AggregatorHandler struct {
	aggregator AggregatorRunner
}

func NewAggregatorHandler(aggregator AggregatorRunner) *AggregatorHandler {
	return &AggregatorHandler{aggregator: aggregator}
}

func (h *AggregatorHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.aggregator.Status())
}

// Run forces a run through the same single-flight path as the scheduler. The
// run is detached from the request so a dropped client does not abandon it.
func (h *AggregatorHandler) Run(c *gin.Context) {
	snap, err := h.aggregator.RunOnce(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		respondError(c, "aggregator run failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"calculated_at": snap.CalculatedAt,
		"key_count":     snap.Len(),
	})
}
