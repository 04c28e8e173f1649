package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aikewa/govledger/internal/trustproof"
)

// TrustHandler serves public trust proof verification.
type TrustHandler struct {
	proofs *trustproof.Service
	logger *zap.Logger
}

// NewTrustHandler creates a TrustHandler.
func NewTrustHandler(proofs *trustproof.Service, logger *zap.Logger) *TrustHandler {
	return &TrustHandler{proofs: proofs, logger: logger}
}

// Register mounts the trust routes.
func (h *TrustHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/trust/proof", h.Verify)
}

// Verify handles GET /trust/proof?token=... or ?rid=...&sig=...[&ts=&h=].
func (h *TrustHandler) Verify(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		res *trustproof.Result
		err error
	)
	switch token, rid, sig := c.Query("token"), c.Query("rid"), c.Query("sig"); {
	case token != "":
		res, err = h.proofs.VerifyToken(ctx, token)
	case rid != "" && sig != "":
		att := trustproof.Attestation{RID: rid, Sig: sig, H: c.Query("h")}
		if ts := c.Query("ts"); ts != "" {
			att.TS, err = strconv.ParseInt(ts, 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "ts must be unix seconds"})
				return
			}
		}
		res, err = h.proofs.VerifyAttestation(ctx, att)
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "provide either token, or both rid and sig",
		})
		return
	}
	if err != nil {
		h.logger.Error("trust proof verification", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify trust proof"})
		return
	}

	c.JSON(statusCode(res.Status), res)
}

func statusCode(s trustproof.Status) int {
	switch s {
	case trustproof.StatusNotFound:
		return http.StatusNotFound
	case trustproof.StatusInvalidToken:
		return http.StatusBadRequest
	default:
		return http.StatusOK
	}
}
