package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aikewa/govledger/internal/merkle"
)

// Entry types written by this module. Producers may use others.
const (
	TypeEIIBaseline            = "eii-baseline"
	TypeGovernanceMilestone    = "governance_milestone"
	TypeReviewRescheduled      = "review_rescheduled"
	TypeAutonomousRepair       = "autonomous_repair"
	TypeRepairResolution       = "repair_resolution"
	TypePartnerRegistration    = "partner_registration"
	TypePartnerDeactivated     = "partner_deactivated"
	TypeWebhookNotification    = "webhook_notification"
	TypeFederationVerification = "federation_verification"
	TypeTrustProofIssued       = "trust_proof_issued"
	TypeTrustProofRevoked      = "trust_proof_revoked"
	TypeConsentPrefix          = "consent_"
)

// Record is the hashed body of a ledger entry. Every domain shares the core
// fields; the optional payload pointers carry domain-specific data and at
// most one of them is set on a given record.
type Record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Commit    string    `json:"commit,omitempty"`
	Type      string    `json:"entryType"`
	Block     string    `json:"block,omitempty"`
	Parent    string    `json:"parent,omitempty"`
	Title     string    `json:"title,omitempty"`
	Status    string    `json:"status,omitempty"`
	Document  string    `json:"document,omitempty"`

	// Supersedes names an earlier entry this one corrects. Entries are
	// never rewritten; a correction is a new entry pointing at the old one.
	Supersedes string `json:"supersedes,omitempty"`

	ApprovedDate *time.Time `json:"approved_date,omitempty"`
	NextReview   *time.Time `json:"next_review,omitempty"`

	Metrics map[string]float64 `json:"metrics,omitempty"`
	EII     *float64           `json:"eii,omitempty"`

	Consent      *ConsentPayload      `json:"consent,omitempty"`
	Webhook      *WebhookPayload      `json:"webhook,omitempty"`
	Partner      *PartnerPayload      `json:"partner,omitempty"`
	Verification *VerificationPayload `json:"verification,omitempty"`
	Repair       *RepairPayload       `json:"repair,omitempty"`
	Proof        *ProofPayload        `json:"proof,omitempty"`
}

// BlockRef is the identifier other entries use in their Parent field.
func (r Record) BlockRef() string {
	if r.Block != "" {
		return r.Block
	}
	return r.ID
}

// ConsentPayload is a single pseudonymous consent decision.
type ConsentPayload struct {
	UserID        string          `json:"userId"`
	Event         string          `json:"event"`
	Preferences   map[string]bool `json:"preferences"`
	PolicyVersion string          `json:"policyVersion,omitempty"`
}

// WebhookPayload records an accepted partner notification.
type WebhookPayload struct {
	PartnerID string          `json:"partner_id"`
	EventType string          `json:"event_type"`
	SentAt    string          `json:"sent_at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// PartnerPayload records a partner registry change.
type PartnerPayload struct {
	PartnerID          string `json:"partner_id"`
	DisplayName        string `json:"partner_display_name"`
	GovernanceEndpoint string `json:"governance_endpoint"`
	Active             bool   `json:"active"`
}

// VerificationPayload records the outcome of polling a partner's published root.
type VerificationPayload struct {
	PartnerID   string `json:"partner_id"`
	MerkleRoot  string `json:"merkle_root,omitempty"`
	TrustStatus string `json:"trust_status"`
	Detail      string `json:"detail,omitempty"`
}

// RepairPayload records a remediation action against a detected issue.
type RepairPayload struct {
	IssueID        string     `json:"issue_id"`
	Classification string     `json:"issue_classification"`
	Severity       string     `json:"severity"`
	Domain         string     `json:"ledger"`
	TargetEntry    string     `json:"target_entry,omitempty"`
	Action         string     `json:"action"`
	AppliedAt      time.Time  `json:"applied_at"`
	FollowUpDue    *time.Time `json:"follow_up_due,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
}

// ProofPayload records issuance or revocation of a trust proof.
type ProofPayload struct {
	ArtifactID      string `json:"artifact_id"`
	ArtifactHash    string `json:"artifact_hash,omitempty"`
	LedgerReference string `json:"ledger_reference,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// Entry is a sealed record as stored on disk. Signature is null when no
// signer produced one.
type Entry struct {
	Record
	Hash       string  `json:"hash"`
	MerkleRoot string  `json:"merkleRoot"`
	Signature  *string `json:"signature"`
}

// Signed reports whether the entry carries a signature.
func (e *Entry) Signed() bool {
	return e.Signature != nil && *e.Signature != ""
}

// HashRecord computes the content hash of r over its canonical JSON form.
// Struct fields marshal in declaration order and map keys sorted, so the
// encoding is stable.
func HashRecord(r Record) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	return merkle.Hash(b), nil
}

type signingPayload struct {
	ID         string `json:"id"`
	Timestamp  string `json:"timestamp"`
	Commit     string `json:"commit"`
	MerkleRoot string `json:"merkleRoot"`
}

// SigningPayload returns the canonical bytes a detached signature covers:
// the entry's id, timestamp, commit and merkleRoot.
func SigningPayload(e *Entry) []byte {
	b, _ := json.Marshal(signingPayload{
		ID:         e.ID,
		Timestamp:  e.Timestamp.UTC().Format(time.RFC3339Nano),
		Commit:     e.Commit,
		MerkleRoot: e.MerkleRoot,
	})
	return b
}

// Leaves returns the content hashes of entries in append order.
func Leaves(entries []*Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Hash
	}
	return out
}
