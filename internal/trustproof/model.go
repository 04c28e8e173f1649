package trustproof

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HashAlgorithm is the only artifact hash algorithm issued.
const HashAlgorithm = "SHA-256"

// Status is the outcome of verifying a proof.
type Status string

const (
	StatusValid        Status = "valid"
	StatusExpired      Status = "expired"
	StatusRevoked      Status = "revoked"
	StatusNotFound     Status = "not_found"
	StatusInvalidToken Status = "invalid_token"
	StatusMismatch     Status = "mismatch"
)

var statusNotes = map[Status]string{
	StatusValid:        "Signature matches ledger entry and current key material.",
	StatusExpired:      "Proof has expired. The artifact may still be valid, but the attestation is stale.",
	StatusRevoked:      "Proof has been revoked.",
	StatusMismatch:     "Artifact hash does not match the issued proof. The artifact may have been tampered with.",
	StatusNotFound:     "No active proof or artifact found. This may be a forged proof.",
	StatusInvalidToken: "Token signature is invalid or token structure is malformed.",
}

// Claims is the signed body of a trust proof token.
type Claims struct {
	ArtifactID      string            `json:"artifact_id"`
	HashAlgorithm   string            `json:"hash_algorithm"`
	ArtifactHash    string            `json:"artifact_hash"`
	GovernanceBlock string            `json:"governance_block"`
	LedgerReference string            `json:"ledger_reference"`
	ComplianceStage string            `json:"compliance_stage"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	jwt.RegisteredClaims
}

// Attestation is the compact form embedded in QR codes. H is the first 16
// hex characters of the artifact hash; Sig is the first 32 hex characters
// of HMAC-SHA256 over "rid:h:ts".
type Attestation struct {
	RID string `json:"rid"`
	Sig string `json:"sig"`
	TS  int64  `json:"ts"`
	H   string `json:"h"`
}

// ActiveProof is the current proof for an artifact. A later record for the
// same artifact supersedes an earlier one.
type ActiveProof struct {
	ArtifactID      string    `json:"artifact_id"`
	ArtifactHash    string    `json:"artifact_hash"`
	Token           string    `json:"token"`
	IssuedAt        time.Time `json:"issued_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	AttestedAt      int64     `json:"attested_at"`
	LedgerReference string    `json:"ledger_reference"`
	Status          string    `json:"status"`
	ArtifactType    string    `json:"artifact_type,omitempty"`
	FilePath        string    `json:"file_path"`
}

// Revocation withdraws every proof for an artifact issued at or before
// RevokedAt.
type Revocation struct {
	ArtifactID            string    `json:"artifact_id"`
	OriginalToken         string    `json:"original_token,omitempty"`
	RevokedAt             time.Time `json:"revoked_at"`
	Reason                string    `json:"reason"`
	RevokedBy             string    `json:"revoked_by,omitempty"`
	ReplacementArtifactID string    `json:"replacement_artifact_id,omitempty"`
	LedgerReference       string    `json:"ledger_reference,omitempty"`
}

// Result is the public verification response.
type Result struct {
	ArtifactID       string     `json:"artifact_id"`
	HashAlgorithm    string     `json:"hash_algorithm"`
	ArtifactHash     string     `json:"artifact_hash"`
	IssuedAt         *time.Time `json:"issued_at,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	Issuer           string     `json:"issuer"`
	GovernanceBlock  string     `json:"governance_block"`
	LedgerReference  string     `json:"ledger_reference"`
	ComplianceStage  string     `json:"compliance_stage"`
	Status           Status     `json:"status"`
	Notes            string     `json:"notes"`
	Warnings         []string   `json:"warnings,omitempty"`
	VerifiedAt       time.Time  `json:"verified_at"`
	RevocationReason string     `json:"revocation_reason,omitempty"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
}
