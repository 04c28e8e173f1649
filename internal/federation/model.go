// Package federation maintains the partner directory, authenticates partner
// webhooks and checks partners' published Merkle roots.
package federation

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	// ErrPartnerNotFound is returned when a partner lookup finds nothing.
	ErrPartnerNotFound = errors.New("federation: partner not found")
	// ErrDuplicatePartner is returned when a partner id is already registered.
	ErrDuplicatePartner = errors.New("federation: partner already registered")
	// ErrNoWebhookSecret is returned when a partner has no webhook secret configured.
	ErrNoWebhookSecret = errors.New("federation: partner has no webhook secret")
	// ErrBadSignature is returned when a webhook signature does not verify.
	ErrBadSignature = errors.New("federation: webhook signature mismatch")
	// ErrPartnerInactive is returned for webhooks from deactivated partners.
	ErrPartnerInactive = errors.New("federation: partner is inactive")
)

// DefaultStaleDays is applied when a partner omits stale_threshold_days.
const DefaultStaleDays = 30

// TrustStatus is the outcome of checking a partner's published root.
type TrustStatus string

const (
	TrustValid   TrustStatus = "valid"
	TrustStale   TrustStatus = "stale"
	TrustFlagged TrustStatus = "flagged"
	TrustError   TrustStatus = "error"
)

// Partner is a registered federation peer.
type Partner struct {
	PartnerID          string    `json:"partner_id"`
	DisplayName        string    `json:"partner_display_name"`
	GovernanceEndpoint string    `json:"governance_endpoint"`
	WebhookSecret      string    `json:"webhook_secret,omitempty"`
	StaleThresholdDays int       `json:"stale_threshold_days"`
	Active             bool      `json:"active"`
	AddedAt            time.Time `json:"added_at"`
}

// AddPartnerRequest is the input to Service.AddPartner. A nil Active
// registers the partner as active.
type AddPartnerRequest struct {
	PartnerID          string `json:"partner_id"`
	DisplayName        string `json:"partner_display_name"`
	GovernanceEndpoint string `json:"governance_endpoint"`
	WebhookSecret      string `json:"webhook_secret,omitempty"`
	StaleThresholdDays int    `json:"stale_threshold_days,omitempty"`
	Active             *bool  `json:"active,omitempty"`
}

// Notification is an inbound partner webhook.
type Notification struct {
	PartnerID string          `json:"partner_id"`
	EventType string          `json:"event_type"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Signature string          `json:"signature"`
}

// PublishedRecord is what a partner's governance endpoint returns. Both
// the federation record shape and this service's own status shape are
// accepted.
type PublishedRecord struct {
	PartnerID        string `json:"partner_id,omitempty"`
	MerkleRoot       string `json:"merkle_root,omitempty"`
	GlobalMerkleRoot string `json:"global_merkle_root,omitempty"`
	Timestamp        string `json:"timestamp"`
	ComplianceStage  string `json:"compliance_stage,omitempty"`
}

// Root returns whichever root field the partner published.
func (r PublishedRecord) Root() string {
	if r.MerkleRoot != "" {
		return r.MerkleRoot
	}
	return r.GlobalMerkleRoot
}

// Verification is the result of checking one partner.
type Verification struct {
	PartnerID          string      `json:"partner_id"`
	DisplayName        string      `json:"partner_display_name"`
	LastMerkleRoot     string      `json:"last_merkle_root"`
	LastVerifiedAt     time.Time   `json:"last_verified_at"`
	TrustStatus        TrustStatus `json:"trust_status"`
	Notes              string      `json:"notes"`
	ComplianceStage    string      `json:"compliance_stage,omitempty"`
	GovernanceEndpoint string      `json:"governance_endpoint,omitempty"`
	Error              string      `json:"error,omitempty"`
}

// ValidationError lists every problem found in a partner definition.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "federation: invalid partner: " + strings.Join(e.Problems, ", ")
}
