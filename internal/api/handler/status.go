package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aikewa/govledger/internal/integrity"
	"github.com/aikewa/govledger/internal/ledger"
)

const privacyNotice = "This response contains aggregate integrity data only. No personal data is collected or exposed."

// ReportSource supplies the most recent engine report, if any.
type ReportSource interface {
	Last() (*integrity.EngineReport, time.Time)
}

// StatusHandler serves system status and on-demand verification.
type StatusHandler struct {
	ledgers  *ledger.Set
	verifier *integrity.Verifier
	engine   *integrity.Engine
	reports  ReportSource
	logger   *zap.Logger
}

// NewStatusHandler creates a StatusHandler. reports may be nil, in which
// case every status request runs the engine without repairing.
func NewStatusHandler(ledgers *ledger.Set, verifier *integrity.Verifier, engine *integrity.Engine, reports ReportSource, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{ledgers: ledgers, verifier: verifier, engine: engine, reports: reports, logger: logger}
}

// Register mounts the status routes.
func (h *StatusHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/status", h.Status)
	rg.GET("/verify", h.Verify)
}

type statusResponse struct {
	Timestamp           time.Time                          `json:"timestamp"`
	SystemState         integrity.SystemState              `json:"system_state"`
	LastVerification    time.Time                          `json:"last_verification"`
	LedgerStatus        map[ledger.Domain]integrity.Health `json:"ledger_status"`
	OpenIssues          []integrity.Issue                  `json:"open_issues"`
	OpenIssueHistogram  map[string]int                     `json:"open_issue_histogram"`
	RecentRepairs       []integrity.RepairRecord           `json:"recent_repairs"`
	PendingHumanReviews int                                `json:"pending_human_reviews"`
	GlobalMerkleRoot    string                             `json:"global_merkle_root"`
	PrivacyNotice       string                             `json:"privacy_notice"`
}

// Status handles GET /status.
func (h *StatusHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()

	rep, err := h.report(ctx)
	if err != nil {
		h.logger.Error("status: engine run", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute status"})
		return
	}

	resp := statusResponse{
		Timestamp:           time.Now().UTC(),
		SystemState:         rep.SystemState,
		LastVerification:    rep.Timestamp,
		LedgerStatus:        rep.LedgerStatus,
		OpenIssues:          rep.Issues,
		OpenIssueHistogram:  map[string]int{},
		RecentRepairs:       []integrity.RepairRecord{},
		PendingHumanReviews: rep.PendingReviews,
		GlobalMerkleRoot:    rep.GlobalMerkleRoot,
		PrivacyNotice:       privacyNotice,
	}
	if resp.OpenIssues == nil {
		resp.OpenIssues = []integrity.Issue{}
	}

	if repairs := h.engine.Repairs(); repairs != nil {
		if hist, err := repairs.OpenIssueHistogram(ctx); err == nil {
			resp.OpenIssueHistogram = hist
		} else {
			h.logger.Warn("status: issue histogram", zap.Error(err))
		}
		if recent, err := repairs.Recent(ctx, 10); err == nil && recent != nil {
			resp.RecentRepairs = recent
		} else if err != nil {
			h.logger.Warn("status: recent repairs", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (h *StatusHandler) report(ctx context.Context) (*integrity.EngineReport, error) {
	if h.reports != nil {
		if rep, _ := h.reports.Last(); rep != nil {
			return rep, nil
		}
	}
	return h.engine.Run(ctx, "all", false)
}

type verifyResponse struct {
	Verified   bool                                `json:"verified"`
	MerkleRoot string                              `json:"merkleRoot"`
	Entries    int                                 `json:"entries"`
	LastUpdate *time.Time                          `json:"lastUpdate"`
	Scope      string                              `json:"scope"`
	Details    map[ledger.Domain]*integrity.Report `json:"details,omitempty"`
}

// Verify handles GET /verify?scope=<domain|all>&full=<bool>. A single
// domain reports that domain's root; "all" reports the global root.
func (h *StatusHandler) Verify(c *gin.Context) {
	ctx := c.Request.Context()
	scope := c.DefaultQuery("scope", "all")
	full, _ := strconv.ParseBool(c.Query("full"))

	if scope == "all" {
		rep, err := h.verifier.VerifySet(ctx, h.ledgers)
		if err != nil {
			h.logger.Error("verify: all ledgers", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed to run"})
			return
		}
		recordVerification(scope, rep.Verified)
		resp := verifyResponse{
			Verified:   rep.Verified,
			MerkleRoot: rep.GlobalMerkleRoot,
			Entries:    rep.TotalEntries,
			LastUpdate: rep.LastUpdate,
			Scope:      scope,
		}
		if full {
			resp.Details = rep.Ledgers
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	d, err := ledger.ParseDomain(scope)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope must be all or one of governance, consent, federation, trust_proofs"})
		return
	}
	rep, err := h.verifier.Verify(ctx, h.ledgers.Store(d))
	if err != nil {
		h.logger.Error("verify: ledger", zap.String("domain", scope), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed to run"})
		return
	}
	recordVerification(scope, rep.Verified)
	resp := verifyResponse{
		Verified:   rep.Verified,
		MerkleRoot: rep.MerkleRoot,
		Entries:    rep.TotalEntries,
		LastUpdate: rep.LastUpdate,
		Scope:      string(d),
	}
	if full {
		resp.Details = map[ledger.Domain]*integrity.Report{d: rep}
	}
	c.JSON(http.StatusOK, resp)
}
