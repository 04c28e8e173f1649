// Package trustproof issues, revokes and verifies signed attestations that
// bind an artifact's content hash to a governance ledger entry.
package trustproof

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aikewa/govledger/internal/integrity"
	"github.com/aikewa/govledger/internal/ledger"
)

// ErrNoActiveProof is returned when an operation needs an active proof
// and the artifact has none.
var ErrNoActiveProof = errors.New("trustproof: no active proof for artifact")

// ErrMissingSecret is returned when the service is built without a key.
var ErrMissingSecret = errors.New("trustproof: signing secret is required")

const (
	hashPrefixLen = 16
	attestSigLen  = 32
)

// Config holds issuance settings.
type Config struct {
	Secret          []byte
	Issuer          string
	Validity        time.Duration
	GovernanceBlock string
	ComplianceStage string
	BaseURL         string
	// ArtifactRoot resolves relative artifact paths.
	ArtifactRoot string
}

// Service issues and verifies trust proofs.
type Service struct {
	cfg        Config
	proofs     ProofStore
	trust      ledger.Store
	governance ledger.Store
	now        func() time.Time
	logger     *zap.Logger
}

// NewService creates a Service. trust receives issuance and revocation
// events; governance is consulted for ledger references.
func NewService(cfg Config, proofs ProofStore, trust, governance ledger.Store, logger *zap.Logger) (*Service, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrMissingSecret
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "trust-attestation-service"
	}
	if cfg.Validity == 0 {
		cfg.Validity = 90 * 24 * time.Hour
	}
	if cfg.GovernanceBlock == "" {
		cfg.GovernanceBlock = "governance-ledger"
	}
	if cfg.ComplianceStage == "" {
		cfg.ComplianceStage = "active"
	}
	return &Service{
		cfg:        cfg,
		proofs:     proofs,
		trust:      trust,
		governance: governance,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger,
	}, nil
}

// SetClock overrides the service's time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// IssueRequest describes an artifact to attest.
type IssueRequest struct {
	ArtifactID      string
	FilePath        string
	ArtifactType    string
	LedgerReference string
	Metadata        map[string]string
}

// Issued is the output of Issue.
type Issued struct {
	Token           string      `json:"token"`
	Claims          *Claims     `json:"claims"`
	Attestation     Attestation `json:"attestation"`
	VerificationURL string      `json:"verification_url"`
	LedgerEntryID   string      `json:"ledger_entry_id"`
}

// Issue hashes the artifact, signs a token and makes it the artifact's
// active proof, superseding any earlier one.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*Issued, error) {
	if strings.TrimSpace(req.ArtifactID) == "" {
		return nil, errors.New("trustproof: artifact id is required")
	}
	if req.FilePath == "" {
		return nil, errors.New("trustproof: file path is required")
	}
	if req.LedgerReference == "" {
		return nil, errors.New("trustproof: ledger reference is required")
	}

	hash, err := HashFile(s.resolve(req.FilePath))
	if err != nil {
		return nil, err
	}
	if ok, err := s.referenceExists(ctx, req.LedgerReference); err == nil && !ok {
		s.logger.Warn("trustproof: ledger reference not found at issuance",
			zap.String("artifact_id", req.ArtifactID),
			zap.String("ledger_reference", req.LedgerReference),
		)
	}

	// Token dates carry whole seconds; the ledger and proof store keep the
	// full clock so later records never precede earlier ones.
	now := s.now()
	expires := now.Add(s.cfg.Validity)
	claims := &Claims{
		ArtifactID:      req.ArtifactID,
		HashAlgorithm:   HashAlgorithm,
		ArtifactHash:    hash,
		GovernanceBlock: s.cfg.GovernanceBlock,
		LedgerReference: req.LedgerReference,
		ComplianceStage: s.cfg.ComplianceStage,
		Metadata:        req.Metadata,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   req.ArtifactID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	att := s.Attest(req.ArtifactID, hash, now.Unix())

	entry, err := s.trust.Append(ctx, ledger.Record{
		ID:        fmt.Sprintf("proof-%s-%d-%s", req.ArtifactID, now.UnixMilli(), uuid.NewString()[:8]),
		Timestamp: now,
		Type:      ledger.TypeTrustProofIssued,
		Title:     req.ArtifactType,
		Proof: &ledger.ProofPayload{
			ArtifactID:      req.ArtifactID,
			ArtifactHash:    hash,
			LedgerReference: req.LedgerReference,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("record issuance: %w", err)
	}

	if err := s.proofs.SaveActive(ctx, ActiveProof{
		ArtifactID:      req.ArtifactID,
		ArtifactHash:    hash,
		Token:           token,
		IssuedAt:        now,
		ExpiresAt:       expires,
		AttestedAt:      att.TS,
		LedgerReference: req.LedgerReference,
		Status:          "active",
		ArtifactType:    req.ArtifactType,
		FilePath:        req.FilePath,
	}); err != nil {
		return nil, fmt.Errorf("save active proof: %w", err)
	}

	s.logger.Info("trustproof: issued",
		zap.String("artifact_id", req.ArtifactID),
		zap.String("ledger_entry", entry.ID),
		zap.Time("expires_at", expires),
	)
	return &Issued{
		Token:           token,
		Claims:          claims,
		Attestation:     att,
		VerificationURL: s.VerificationURL(att),
		LedgerEntryID:   entry.ID,
	}, nil
}

// RevokeRequest describes a revocation.
type RevokeRequest struct {
	ArtifactID            string
	Reason                string
	RevokedBy             string
	ReplacementArtifactID string
}

// Revoke withdraws the artifact's active proof. Revocation records are
// never removed.
func (s *Service) Revoke(ctx context.Context, req RevokeRequest) (*Revocation, error) {
	if req.Reason == "" {
		return nil, errors.New("trustproof: revocation reason is required")
	}
	active, err := s.proofs.Active(ctx, req.ArtifactID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, ErrNoActiveProof
	}

	now := s.now()
	entry, err := s.trust.Append(ctx, ledger.Record{
		ID:        fmt.Sprintf("revoke-%s-%d-%s", req.ArtifactID, now.UnixMilli(), uuid.NewString()[:8]),
		Timestamp: now,
		Type:      ledger.TypeTrustProofRevoked,
		Proof: &ledger.ProofPayload{
			ArtifactID:      req.ArtifactID,
			ArtifactHash:    active.ArtifactHash,
			LedgerReference: active.LedgerReference,
			Reason:          req.Reason,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("record revocation: %w", err)
	}

	rev := Revocation{
		ArtifactID:            req.ArtifactID,
		OriginalToken:         active.Token,
		RevokedAt:             now,
		Reason:                req.Reason,
		RevokedBy:             req.RevokedBy,
		ReplacementArtifactID: req.ReplacementArtifactID,
		LedgerReference:       entry.ID,
	}
	if err := s.proofs.SaveRevocation(ctx, rev); err != nil {
		return nil, fmt.Errorf("save revocation: %w", err)
	}
	s.logger.Info("trustproof: revoked", zap.String("artifact_id", req.ArtifactID), zap.String("reason", req.Reason))
	return &rev, nil
}

// Attest builds the compact attestation for an artifact.
func (s *Service) Attest(artifactID, artifactHash string, ts int64) Attestation {
	h := prefix(artifactHash, hashPrefixLen)
	return Attestation{RID: artifactID, Sig: s.attestSig(artifactID, h, ts), TS: ts, H: h}
}

func (s *Service) attestSig(rid, h string, ts int64) string {
	mac := hmac.New(sha256.New, s.cfg.Secret)
	fmt.Fprintf(mac, "%s:%s:%d", rid, h, ts)
	return hex.EncodeToString(mac.Sum(nil))[:attestSigLen]
}

// VerificationURL is the public lookup link for an attestation.
func (s *Service) VerificationURL(a Attestation) string {
	q := url.Values{}
	q.Set("rid", a.RID)
	q.Set("sig", a.Sig)
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/api/trust/proof?" + q.Encode()
}

// VerifyToken checks a full token. The returned error is non-nil only for
// storage failures; every verification outcome is a Result status.
func (s *Service) VerifyToken(ctx context.Context, token string) (*Result, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.cfg.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil || claims.ArtifactID == "" || claims.ArtifactHash == "" ||
		claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return s.result(StatusInvalidToken, nil, claims), nil
	}

	active, err := s.proofs.Active(ctx, claims.ArtifactID)
	if err != nil {
		return nil, err
	}
	issuedAt := claims.IssuedAt.Time
	if active != nil && active.Token == token {
		issuedAt = active.IssuedAt
	}
	return s.evaluate(ctx, claims.ArtifactID, active, claims.ArtifactHash,
		issuedAt, claims.ExpiresAt.Time, claims)
}

// VerifyAttestation checks a compact attestation. TS and H may be zero,
// in which case the active proof's values are used; this is the form
// carried by verification URLs.
func (s *Service) VerifyAttestation(ctx context.Context, a Attestation) (*Result, error) {
	active, err := s.proofs.Active(ctx, a.RID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return s.evaluate(ctx, a.RID, nil, "", time.Time{}, time.Time{}, nil)
	}

	ts, h := a.TS, a.H
	if ts == 0 {
		ts = active.AttestedAt
	}
	if h == "" {
		h = prefix(active.ArtifactHash, hashPrefixLen)
	}
	want := s.attestSig(a.RID, h, ts)
	if !hmac.Equal([]byte(want), []byte(strings.ToLower(a.Sig))) {
		res := s.result(StatusInvalidToken, active, nil)
		return res, nil
	}
	if h != prefix(active.ArtifactHash, hashPrefixLen) {
		return s.result(StatusMismatch, active, nil), nil
	}
	return s.evaluate(ctx, a.RID, active, active.ArtifactHash, active.IssuedAt, active.ExpiresAt, nil)
}

// evaluate applies the fixed check order: revoked, not found, mismatch,
// expired, then valid with an optional missing-reference warning.
func (s *Service) evaluate(ctx context.Context, artifactID string, active *ActiveProof, claimedHash string, issuedAt, expiresAt time.Time, claims *Claims) (*Result, error) {
	revs, err := s.proofs.Revocations(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	for _, r := range revs {
		if active == nil || !r.RevokedAt.Before(issuedAt) {
			res := s.result(StatusRevoked, active, claims)
			res.ArtifactID = artifactID
			res.Notes = "Proof has been revoked: " + r.Reason
			res.RevocationReason = r.Reason
			at := r.RevokedAt
			res.RevokedAt = &at
			return res, nil
		}
	}

	if active == nil {
		res := s.result(StatusNotFound, nil, claims)
		res.ArtifactID = artifactID
		return res, nil
	}

	current, err := HashFile(s.resolve(active.FilePath))
	if errors.Is(err, fs.ErrNotExist) {
		return s.result(StatusNotFound, active, claims), nil
	}
	if err != nil {
		return nil, err
	}
	if current != active.ArtifactHash || current != claimedHash {
		return s.result(StatusMismatch, active, claims), nil
	}

	if s.now().After(expiresAt) {
		return s.result(StatusExpired, active, claims), nil
	}

	res := s.result(StatusValid, active, claims)
	ok, err := s.referenceExists(ctx, active.LedgerReference)
	if err != nil {
		return nil, err
	}
	if !ok {
		res.Warnings = append(res.Warnings, fmt.Sprintf("ledger reference %q not found in governance ledger", active.LedgerReference))
	}
	return res, nil
}

func (s *Service) result(status Status, active *ActiveProof, claims *Claims) *Result {
	res := &Result{
		HashAlgorithm:   HashAlgorithm,
		Issuer:          s.cfg.Issuer,
		GovernanceBlock: s.cfg.GovernanceBlock,
		ComplianceStage: s.cfg.ComplianceStage,
		Status:          status,
		Notes:           statusNotes[status],
		VerifiedAt:      s.now(),
	}
	switch {
	case claims != nil && claims.ArtifactID != "":
		res.ArtifactID = claims.ArtifactID
		res.ArtifactHash = claims.ArtifactHash
		res.LedgerReference = claims.LedgerReference
		if claims.GovernanceBlock != "" {
			res.GovernanceBlock = claims.GovernanceBlock
		}
		if claims.ComplianceStage != "" {
			res.ComplianceStage = claims.ComplianceStage
		}
		if claims.Issuer != "" {
			res.Issuer = claims.Issuer
		}
		if claims.IssuedAt != nil {
			t := claims.IssuedAt.Time.UTC()
			res.IssuedAt = &t
		}
		if claims.ExpiresAt != nil {
			t := claims.ExpiresAt.Time.UTC()
			res.ExpiresAt = &t
		}
	case active != nil:
		res.ArtifactID = active.ArtifactID
		res.ArtifactHash = active.ArtifactHash
		res.LedgerReference = active.LedgerReference
		issued, expires := active.IssuedAt, active.ExpiresAt
		res.IssuedAt = &issued
		res.ExpiresAt = &expires
	}
	return res
}

func (s *Service) referenceExists(ctx context.Context, ref string) (bool, error) {
	if s.governance == nil || ref == "" {
		return false, nil
	}
	res, err := s.governance.ReadAll(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range res.Entries {
		if e.ID == ref || e.Block == ref {
			return true, nil
		}
	}
	return false, nil
}

// AuditProofs implements integrity.ProofAuditor.
func (s *Service) AuditProofs(ctx context.Context, now time.Time) ([]integrity.ProofFinding, error) {
	active, err := s.proofs.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	var out []integrity.ProofFinding
	for _, p := range active {
		revs, err := s.proofs.Revocations(ctx, p.ArtifactID)
		if err != nil {
			return nil, err
		}
		revoked := false
		for _, r := range revs {
			if !r.RevokedAt.Before(p.IssuedAt) {
				revoked = true
			}
		}
		if revoked {
			continue
		}

		f := integrity.ProofFinding{ArtifactID: p.ArtifactID, Expired: now.After(p.ExpiresAt)}
		if _, err := os.Stat(s.resolve(p.FilePath)); errors.Is(err, fs.ErrNotExist) {
			f.ArtifactMissing = true
		}
		if f.Expired || f.ArtifactMissing {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *Service) resolve(path string) string {
	if filepath.IsAbs(path) || s.cfg.ArtifactRoot == "" {
		return path
	}
	return filepath.Join(s.cfg.ArtifactRoot, path)
}

// HashFile returns the hex SHA-256 of a file's contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close() //nolint:errcheck

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash artifact: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func prefix(s string, n int) string {
	if len(s) < n {
		return s
	}
	return s[:n]
}
