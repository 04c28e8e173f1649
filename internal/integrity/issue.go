package integrity

import (
	"fmt"
	"time"

	"github.com/aikewa/govledger/internal/ledger"
)

// Severity ranks an issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Classification names the kind of problem an Issue describes.
type Classification string

const (
	ClassMissingField       Classification = "MISSING_FIELD"
	ClassMalformedLine      Classification = "MALFORMED_LINE"
	ClassChronology         Classification = "CHRONOLOGY_VIOLATION"
	ClassHashMismatch       Classification = "HASH_MISMATCH"
	ClassSignatureInvalid   Classification = "SIGNATURE_INVALID"
	ClassContinuityGap      Classification = "CONTINUITY_GAP"
	ClassStaleDate          Classification = "STALE_DATE"
	ClassFutureDate         Classification = "FUTURE_DATE"
	ClassMissingReference   Classification = "MISSING_REFERENCE"
	ClassFederationStale    Classification = "FEDERATION_STALE"
	ClassAttestationExpired Classification = "ATTESTATION_EXPIRED"
	ClassArtifactMissing    Classification = "ARTIFACT_MISSING"
)

// Issue is a detected problem in one ledger. Its ID is derived from the
// ledger, classification and subject so repeated runs produce the same ID.
type Issue struct {
	ID             string         `json:"id"`
	Domain         ledger.Domain  `json:"ledger"`
	Classification Classification `json:"classification"`
	Severity       Severity       `json:"severity"`
	Subject        string         `json:"subject,omitempty"`
	Title          string         `json:"title"`
	AutoRepairable bool           `json:"auto_repairable"`
	DetectedAt     time.Time      `json:"detected_at"`
}

func newIssue(d ledger.Domain, c Classification, s Severity, subject, title string, at time.Time) Issue {
	return Issue{
		ID:             fmt.Sprintf("%s:%s:%s", d, c, subject),
		Domain:         d,
		Classification: c,
		Severity:       s,
		Subject:        subject,
		Title:          title,
		DetectedAt:     at,
	}
}

// Health is the coarse condition of a single ledger.
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
	HealthCritical Health = "critical"
)

// SystemState is the coarse condition of all ledgers together.
type SystemState string

const (
	StateHealthy           SystemState = "healthy"
	StateDegraded          SystemState = "degraded"
	StateAttentionRequired SystemState = "attention_required"
)

// ledgerHealth ranks a domain from its issues. Low-severity issues do not
// degrade a ledger.
func ledgerHealth(issues []Issue) Health {
	h := HealthHealthy
	for _, is := range issues {
		switch is.Severity {
		case SeverityCritical:
			return HealthCritical
		case SeverityHigh, SeverityMedium:
			h = HealthDegraded
		}
	}
	return h
}

// ClassifyState derives the system state from per-ledger health and the
// number of repairs awaiting human review.
func ClassifyState(status map[ledger.Domain]Health, pendingReviews int) SystemState {
	degraded := false
	for _, h := range status {
		if h == HealthCritical {
			return StateAttentionRequired
		}
		if h == HealthDegraded {
			degraded = true
		}
	}
	if pendingReviews > 0 {
		return StateAttentionRequired
	}
	if degraded {
		return StateDegraded
	}
	return StateHealthy
}
