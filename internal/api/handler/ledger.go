package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aikewa/govledger/internal/ledger"
)

const (
	defaultFeedLimit = 10
	maxFeedLimit     = 50
)

// LedgerHandler serves a read-only feed of recent ledger entries.
type LedgerHandler struct {
	ledgers *ledger.Set
	logger  *zap.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(ledgers *ledger.Set, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledgers: ledgers, logger: logger}
}

// Register mounts the ledger routes.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/ledger/:domain", h.Feed)
}

// Feed handles GET /ledger/:domain?limit=N&type=T and returns the newest
// entries first. The consent ledger is only published in aggregate.
func (h *LedgerHandler) Feed(c *gin.Context) {
	d, err := ledger.ParseDomain(c.Param("domain"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown ledger"})
		return
	}
	if d == ledger.Consent {
		c.JSON(http.StatusForbidden, gin.H{"error": "consent entries are published only as aggregate metrics"})
		return
	}

	limit := defaultFeedLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxFeedLimit)
	}
	typ := c.Query("type")

	res, err := h.ledgers.Store(d).ReadAll(c.Request.Context())
	if err != nil {
		h.logger.Error("ledger feed", zap.String("domain", string(d)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read ledger"})
		return
	}

	out := make([]ledger.Entry, 0, limit)
	for i := len(res.Entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := *res.Entries[i]
		if typ != "" && e.Type != typ {
			continue
		}
		if e.Webhook != nil {
			w := *e.Webhook
			w.Payload = nil
			e.Webhook = &w
		}
		out = append(out, e)
	}

	c.JSON(http.StatusOK, gin.H{
		"ledger":     d,
		"entries":    out,
		"count":      len(out),
		"total":      len(res.Entries),
		"merkleRoot": res.Root(),
		"limit":      limit,
	})
}
