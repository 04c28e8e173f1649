package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/aikewa/govledger/internal/federation"
	"github.com/aikewa/govledger/internal/ledger"
	"github.com/aikewa/govledger/internal/privacy"
	"github.com/aikewa/govledger/internal/ratelimit"
)

// FederationHandler serves partner webhooks, registration and the network
// summary.
type FederationHandler struct {
	svc        *federation.Service
	apiKeyHash []byte
	webhooks   *ratelimit.Limiter
	logger     *zap.Logger
}

// NewFederationHandler creates a FederationHandler. apiKeyHash is a bcrypt
// hash; when empty, registration is disabled. webhooks may be nil.
func NewFederationHandler(svc *federation.Service, apiKeyHash string, webhooks *ratelimit.Limiter, logger *zap.Logger) *FederationHandler {
	return &FederationHandler{svc: svc, apiKeyHash: []byte(apiKeyHash), webhooks: webhooks, logger: logger}
}

// Register mounts the federation routes.
func (h *FederationHandler) Register(rg *gin.RouterGroup) {
	f := rg.Group("/federation")
	{
		f.POST("/notify", h.Notify)
		f.POST("/register", h.RegisterPartner)
		f.GET("/network", h.Network)
	}
}

// Notify handles POST /federation/notify.
func (h *FederationHandler) Notify(c *gin.Context) {
	var n federation.Notification
	if err := c.ShouldBindJSON(&n); err != nil {
		recordWebhook("bad_request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	if n.PartnerID == "" || n.EventType == "" || n.Signature == "" {
		recordWebhook("bad_request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "partner_id, event_type and signature are required"})
		return
	}
	if h.webhooks != nil && !h.webhooks.Check(c, n.PartnerID) {
		recordWebhook("rate_limited")
		return
	}

	entry, err := h.svc.VerifyWebhook(c.Request.Context(), n)
	switch {
	case err == nil:
	case errors.Is(err, federation.ErrPartnerNotFound):
		recordWebhook("unknown_partner")
		c.JSON(http.StatusNotFound, gin.H{"error": "partner is not registered"})
		return
	case errors.Is(err, federation.ErrNoWebhookSecret):
		recordWebhook("no_secret")
		c.JSON(http.StatusForbidden, gin.H{"error": "partner has no webhook authentication configured"})
		return
	case errors.Is(err, federation.ErrPartnerInactive):
		recordWebhook("inactive")
		c.JSON(http.StatusForbidden, gin.H{"error": "partner is inactive"})
		return
	case errors.Is(err, federation.ErrBadSignature):
		recordWebhook("bad_signature")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "signature verification failed"})
		return
	case errors.Is(err, ledger.ErrOutOfOrder):
		recordWebhook("out_of_order")
		h.logger.Warn("federation notify", zap.Error(err))
		c.JSON(http.StatusConflict, gin.H{"error": "ledger clock is behind its last entry"})
		return
	default:
		recordWebhook("error")
		h.logger.Error("federation notify", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record notification"})
		return
	}

	recordWebhook("accepted")
	c.JSON(http.StatusOK, gin.H{
		"status":     "accepted",
		"entry_id":   entry.ID,
		"hash":       entry.Hash,
		"merkleRoot": entry.MerkleRoot,
	})
}

type partnerView struct {
	PartnerID          string    `json:"partner_id"`
	DisplayName        string    `json:"partner_display_name"`
	GovernanceEndpoint string    `json:"governance_endpoint"`
	StaleThresholdDays int       `json:"stale_threshold_days"`
	Active             bool      `json:"active"`
	WebhookConfigured  bool      `json:"webhook_configured"`
	AddedAt            time.Time `json:"added_at"`
}

// RegisterPartner handles POST /federation/register. The caller presents
// the API key as x-api-key or a bearer token.
func (h *FederationHandler) RegisterPartner(c *gin.Context) {
	if len(h.apiKeyHash) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "partner registration is disabled"})
		return
	}
	key := c.GetHeader("x-api-key")
	if key == "" {
		key = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	if key == "" || bcrypt.CompareHashAndPassword(h.apiKeyHash, []byte(key)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
		return
	}

	var req federation.AddPartnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	p, entry, err := h.svc.AddPartner(c.Request.Context(), req)
	var verr *federation.ValidationError
	switch {
	case err == nil:
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": verr.Problems})
		return
	case errors.Is(err, federation.ErrDuplicatePartner):
		c.JSON(http.StatusConflict, gin.H{"error": "partner already registered"})
		return
	case errors.Is(err, ledger.ErrOutOfOrder):
		h.logger.Warn("federation register", zap.Error(err))
		c.JSON(http.StatusConflict, gin.H{"error": "ledger clock is behind its last entry"})
		return
	default:
		h.logger.Error("federation register", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register partner"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"partner": partnerView{
			PartnerID:          p.PartnerID,
			DisplayName:        p.DisplayName,
			GovernanceEndpoint: p.GovernanceEndpoint,
			StaleThresholdDays: p.StaleThresholdDays,
			Active:             p.Active,
			WebhookConfigured:  p.WebhookSecret != "",
			AddedAt:            p.AddedAt,
		},
		"entry_id": entry.ID,
	})
}

// Network handles GET /federation/network.
func (h *FederationHandler) Network(c *gin.Context) {
	sum, err := h.svc.Network(c.Request.Context())
	if err != nil {
		h.logger.Error("federation network", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to summarize network"})
		return
	}

	// Endpoints and transport errors can carry host addresses.
	public := *sum
	public.Partners = make([]federation.Verification, len(sum.Partners))
	for i, v := range sum.Partners {
		v.GovernanceEndpoint = ""
		v.Error = ""
		if privacy.ContainsPII(v.Notes) {
			v.Notes = "Partner could not be verified."
		}
		public.Partners[i] = v
	}
	c.JSON(http.StatusOK, public)
}
