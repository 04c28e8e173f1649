package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aikewa/govledger/internal/consent"
	"github.com/aikewa/govledger/internal/eii"
)

const maxHistoryDays = 365

// InsightsHandler serves the EII history and aggregate consent metrics.
type InsightsHandler struct {
	eii     *eii.Aggregator
	consent *consent.Service
	logger  *zap.Logger
}

// NewInsightsHandler creates an InsightsHandler.
func NewInsightsHandler(agg *eii.Aggregator, cs *consent.Service, logger *zap.Logger) *InsightsHandler {
	return &InsightsHandler{eii: agg, consent: cs, logger: logger}
}

// Register mounts the insight routes.
func (h *InsightsHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/eii/history", h.EIIHistory)
	rg.GET("/consent/metrics", h.ConsentMetrics)
}

// EIIHistory handles GET /eii/history?days=N.
func (h *InsightsHandler) EIIHistory(c *gin.Context) {
	days := eii.DefaultDays
	if s := c.Query("days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxHistoryDays {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be an integer between 1 and 365"})
			return
		}
		days = n
	}

	hist, err := h.eii.History(c.Request.Context(), days)
	if err != nil {
		h.logger.Error("eii history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build EII history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"days":    days,
		"history": hist,
		"label":   eii.Format(hist.Current),
	})
}

// ConsentMetrics handles GET /consent/metrics.
func (h *InsightsHandler) ConsentMetrics(c *gin.Context) {
	m, err := h.consent.Metrics(c.Request.Context())
	if err != nil {
		h.logger.Error("consent metrics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate consent metrics"})
		return
	}
	c.JSON(http.StatusOK, m)
}
