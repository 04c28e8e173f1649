package federation

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aikewa/govledger/internal/ledger"
)

// Service owns the partner directory and writes federation events to the
// federation ledger.
type Service struct {
	registry Registry
	store    ledger.Store
	now      func() time.Time
	logger   *zap.Logger
}

// NewService creates a Service.
func NewService(registry Registry, store ledger.Store, logger *zap.Logger) *Service {
	return &Service{
		registry: registry,
		store:    store,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// SetClock overrides the service's time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// AddPartner validates and registers a partner and records a
// partner_registration event.
func (s *Service) AddPartner(ctx context.Context, req AddPartnerRequest) (*Partner, *ledger.Entry, error) {
	p := &Partner{
		PartnerID:          strings.TrimSpace(req.PartnerID),
		DisplayName:        strings.TrimSpace(req.DisplayName),
		GovernanceEndpoint: strings.TrimSpace(req.GovernanceEndpoint),
		WebhookSecret:      req.WebhookSecret,
		StaleThresholdDays: req.StaleThresholdDays,
		Active:             req.Active == nil || *req.Active,
		AddedAt:            s.now(),
	}
	if p.StaleThresholdDays == 0 {
		p.StaleThresholdDays = DefaultStaleDays
	}
	if err := Validate(p); err != nil {
		return nil, nil, err
	}

	if err := s.registry.Create(ctx, p); err != nil {
		return nil, nil, err
	}

	entry, err := s.store.Append(ctx, ledger.Record{
		ID:        fmt.Sprintf("partner-%s-%d", p.PartnerID, p.AddedAt.UnixMilli()),
		Timestamp: p.AddedAt,
		Type:      ledger.TypePartnerRegistration,
		Title:     "Partner registration: " + p.DisplayName,
		Status:    "registered",
		Partner: &ledger.PartnerPayload{
			PartnerID:          p.PartnerID,
			DisplayName:        p.DisplayName,
			GovernanceEndpoint: p.GovernanceEndpoint,
			Active:             p.Active,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("record registration: %w", err)
	}

	s.logger.Info("federation partner registered",
		zap.String("partner_id", p.PartnerID),
		zap.String("entry", entry.ID),
	)
	return p, entry, nil
}

// Deactivate soft-disables a partner. Its ledger history is kept.
func (s *Service) Deactivate(ctx context.Context, partnerID string) (*ledger.Entry, error) {
	p, err := s.registry.Get(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	if err := s.registry.SetActive(ctx, partnerID, false); err != nil {
		return nil, err
	}

	now := s.now()
	return s.store.Append(ctx, ledger.Record{
		ID:        fmt.Sprintf("partner-deactivated-%s-%d", partnerID, now.UnixMilli()),
		Timestamp: now,
		Type:      ledger.TypePartnerDeactivated,
		Title:     "Partner deactivated: " + p.DisplayName,
		Status:    "inactive",
		Partner: &ledger.PartnerPayload{
			PartnerID:          p.PartnerID,
			DisplayName:        p.DisplayName,
			GovernanceEndpoint: p.GovernanceEndpoint,
		},
	})
}

// Partners lists the directory.
func (s *Service) Partners(ctx context.Context) ([]*Partner, error) {
	return s.registry.List(ctx)
}

// Partner returns one partner.
func (s *Service) Partner(ctx context.Context, partnerID string) (*Partner, error) {
	return s.registry.Get(ctx, partnerID)
}

// signedFields is the canonical body covered by a webhook signature. Its
// encoding matches JSON.stringify: no HTML escaping and no payload key
// when the notification has none.
type signedFields struct {
	PartnerID string          `json:"partner_id"`
	EventType string          `json:"event_type"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// SignNotification returns the hex HMAC-SHA256 a partner must send with n.
func SignNotification(secret string, n Notification) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(signedFields{
		PartnerID: n.PartnerID,
		EventType: n.EventType,
		Timestamp: n.Timestamp,
		Payload:   n.Payload,
	})
	if err != nil {
		return "", fmt.Errorf("encode notification: %w", err)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyWebhook authenticates n against the sending partner's secret and,
// on success, records a webhook_notification event.
func (s *Service) VerifyWebhook(ctx context.Context, n Notification) (*ledger.Entry, error) {
	p, err := s.registry.Get(ctx, n.PartnerID)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, ErrPartnerInactive
	}
	if p.WebhookSecret == "" {
		return nil, ErrNoWebhookSecret
	}

	want, err := SignNotification(p.WebhookSecret, n)
	if err != nil {
		return nil, err
	}
	got := strings.TrimPrefix(strings.ToLower(n.Signature), "sha256=")
	if !hmac.Equal([]byte(want), []byte(got)) {
		s.logger.Warn("federation webhook signature mismatch", zap.String("partner_id", n.PartnerID))
		return nil, ErrBadSignature
	}

	now := s.now()
	entry, err := s.store.Append(ctx, ledger.Record{
		ID:        fmt.Sprintf("webhook-%s-%d-%s", n.PartnerID, now.UnixMilli(), uuid.NewString()[:8]),
		Timestamp: now,
		Type:      ledger.TypeWebhookNotification,
		Title:     "Webhook notification: " + n.EventType,
		Status:    "verified",
		Webhook: &ledger.WebhookPayload{
			PartnerID: n.PartnerID,
			EventType: n.EventType,
			SentAt:    n.Timestamp,
			Payload:   n.Payload,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("record webhook: %w", err)
	}
	return entry, nil
}

// RecordVerification appends a federation_verification event. Polls
// finish out of order, so the entry is stamped when it is recorded.
func (s *Service) RecordVerification(ctx context.Context, v Verification) (*ledger.Entry, error) {
	detail := v.Notes
	if v.Error != "" {
		detail = v.Error
	}
	return s.store.Append(ctx, ledger.Record{
		ID:        fmt.Sprintf("verify-%s-%d-%s", v.PartnerID, v.LastVerifiedAt.UnixMilli(), uuid.NewString()[:8]),
		Timestamp: s.now(),
		Type:      ledger.TypeFederationVerification,
		Title:     "Partner verification: " + v.PartnerID,
		Status:    string(v.TrustStatus),
		Verification: &ledger.VerificationPayload{
			PartnerID:   v.PartnerID,
			MerkleRoot:  v.LastMerkleRoot,
			TrustStatus: string(v.TrustStatus),
			Detail:      detail,
		},
	})
}

// VerifyNetwork polls every active partner, records each outcome and
// summarizes the network.
func (s *Service) VerifyNetwork(ctx context.Context, client *Client) (*NetworkSummary, error) {
	partners, err := s.registry.List(ctx)
	if err != nil {
		return nil, err
	}

	results := client.VerifyAll(ctx, partners)
	for _, v := range results {
		if _, err := s.RecordVerification(ctx, v); err != nil {
			if errors.Is(err, ledger.ErrDuplicateID) {
				continue
			}
			return nil, err
		}
	}
	sum := Summarize(results, s.now())
	s.logger.Info("federation network verified",
		zap.Int("partners", sum.TotalPartners),
		zap.Int("trust_score", sum.TrustScore),
		zap.String("health", string(sum.Health)),
	)
	return &sum, nil
}

// Network summarizes the latest recorded verification of each active
// partner without contacting anyone. Partners never verified count as
// errors.
func (s *Service) Network(ctx context.Context) (*NetworkSummary, error) {
	partners, err := s.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.store.ReadAll(ctx)
	if err != nil {
		return nil, err
	}

	latest := make(map[string]*ledger.Entry)
	for _, e := range res.Entries {
		if e.Type == ledger.TypeFederationVerification && e.Verification != nil {
			latest[e.Verification.PartnerID] = e
		}
	}

	var results []Verification
	for _, p := range partners {
		if !p.Active {
			continue
		}
		v := Verification{
			PartnerID:          p.PartnerID,
			DisplayName:        p.DisplayName,
			GovernanceEndpoint: p.GovernanceEndpoint,
			TrustStatus:        TrustError,
			Notes:              "Partner has not been verified yet.",
		}
		if e, ok := latest[p.PartnerID]; ok {
			v.LastMerkleRoot = e.Verification.MerkleRoot
			v.LastVerifiedAt = e.Timestamp
			v.TrustStatus = TrustStatus(e.Verification.TrustStatus)
			v.Notes = e.Verification.Detail
		}
		results = append(results, v)
	}
	sum := Summarize(results, s.now())
	return &sum, nil
}
