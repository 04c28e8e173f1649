package trustproof_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aikewa/govledger/internal/integrity"
	"github.com/aikewa/govledger/internal/ledger"
	"github.com/aikewa/govledger/internal/trustproof"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fixture struct {
	svc      *trustproof.Service
	proofs   *trustproof.FileStore
	trust    *ledger.MemoryStore
	dir      string
	artifact string
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	artifact := filepath.Join(dir, "report.pdf")
	require.NoError(t, os.WriteFile(artifact, []byte("quarterly accessibility report"), 0o644))

	gov := ledger.NewMemoryStore(ledger.Governance, nil, zap.NewNop())
	_, err := gov.Append(context.Background(), ledger.Record{ID: "milestone-1", Type: ledger.TypeGovernanceMilestone})
	require.NoError(t, err)

	trust := ledger.NewMemoryStore(ledger.TrustProofs, nil, zap.NewNop())
	proofs := trustproof.NewFileStore(dir, zap.NewNop())
	svc, err := trustproof.NewService(trustproof.Config{
		Secret:  testSecret,
		BaseURL: "https://gov.example.org/",
	}, proofs, trust, gov, zap.NewNop())
	require.NoError(t, err)

	f := &fixture{svc: svc, proofs: proofs, trust: trust, dir: dir, artifact: artifact,
		now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	svc.SetClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) issue(t *testing.T, ref string) *trustproof.Issued {
	t.Helper()
	out, err := f.svc.Issue(context.Background(), trustproof.IssueRequest{
		ArtifactID:      "doc-1",
		FilePath:        f.artifact,
		ArtifactType:    "report",
		LedgerReference: ref,
	})
	require.NoError(t, err)
	return out
}

func TestNewService_requiresSecret(t *testing.T) {
	_, err := trustproof.NewService(trustproof.Config{}, nil, nil, nil, zap.NewNop())
	assert.ErrorIs(t, err, trustproof.ErrMissingSecret)
}

func TestIssue_recordsLedgerEntryAndActiveProof(t *testing.T) {
	f := newFixture(t)
	out := f.issue(t, "milestone-1")

	assert.Len(t, out.Attestation.H, 16)
	assert.Len(t, out.Attestation.Sig, 32)
	assert.True(t, strings.HasPrefix(out.VerificationURL, "https://gov.example.org/api/trust/proof?"))
	assert.Contains(t, out.VerificationURL, "rid=doc-1")

	res, err := f.trust.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, ledger.TypeTrustProofIssued, res.Entries[0].Type)
	assert.Equal(t, out.Claims.ArtifactHash, res.Entries[0].Proof.ArtifactHash)

	active, err := f.proofs.Active(context.Background(), "doc-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, out.Token, active.Token)
	assert.Equal(t, out.Attestation.TS, active.AttestedAt)
}

func TestVerifyToken_valid(t *testing.T) {
	f := newFixture(t)
	out := f.issue(t, "milestone-1")

	res, err := f.svc.VerifyToken(context.Background(), out.Token)
	require.NoError(t, err)
	assert.Equal(t, trustproof.StatusValid, res.Status)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, "doc-1", res.ArtifactID)
}

func TestVerifyToken_missingReferenceWarnsOnly(t *testing.T) {
	f := newFixture(t)
	out := f.issue(t, "no-such-entry")

	res, err := f.svc.VerifyToken(context.Background(), out.Token)
	require.NoError(t, err)
	assert.Equal(t, trustproof.StatusValid, res.Status)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "no-such-entry")
}

func TestVerifyToken_tamperedTokenIsInvalid(t *testing.T) {
	f := newFixture(t)
	out := f.issue(t, "milestone-1")

	res, err := f.svc.VerifyToken(context.Background(), out.Token+"x")
	require.NoError(t, err)
	assert.Equal(t, trustproof.StatusInvalidToken, res.Status)

	res, err = f.svc.VerifyToken(context.Background(), "not-a-token")
	require.NoError(t, err)
	assert.Equal(t, trustproof.StatusInvalidToken, res.Status)
}

func TestVerifyToken_foreignKeyIsInvalid(t *testing.T) {
	f := newFixture(t)
	f.issue(t, "milestone-1")

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &trustproof.Claims{
		ArtifactID:   "doc-1",
		ArtifactHash: strings.Repeat("a", 64),
	}).SignedString([]byte("some-other-secret-of-enough-size"))
	require.NoError(t, err)

	res, err := f.svc.VerifyToken(context.Background(), forged)
	require.NoError(t, err)
	assert.Equal(t, trustproof.StatusInvalidToken, res.Status)
}

func TestVerifyToken_modifiedArtifactIsMismatch(t *testing.T) {
	f := newFixture(t)
	out := f.issue(t, "milestone-1")
	require.NoError(t, os.WriteFile(f.artifact, []byte("edited"), 0o644))

	res, err := f.svc.VerifyToken(context.Background(), out.Token)
	require.NoError(t, err)
	assert.Equal(t, trustproof.StatusMismatch, res.Status)
}

func TestVerifyToken_mismatchBeatsExpiry(t *testing.T) {
	f := newFixture(t)
	out := f.issue(t, "milestone-1")
	require.NoError(t, os.WriteFile(f.artifact, []byte("edited"), 0o644))
	f.now = f.now.Add(200 * 24 * time.Hour)

	res, err := f.svc.VerifyToken(context.Background(), out.Token)
	require.NoError(t, err)
	assert.Equal(t, trustproof.StatusMismatch, res.Status)
}

func TestVerifyToken_expired(t *testing.T) {
	f := newFixture(t)
	out := f.issue(t, "milestone-1")
	f.now = f.now.Add(91 * 24 * time.Hour)

	res, err := f.svc.VerifyToken(context.Background(), out.Token)
	require.NoError(t, err)
	assert.Equal(t, trustproof.StatusExpired, res.Status)
}

func TestVerifyToken_missingArtifactIsNotFound(t *testing.T) {
	f := newFixture(t)
	out := f.issue(t, "milestone-1")
	require.NoError(t, os.Remove(f.artifact))

	res, err := f.svc.VerifyToken(context.Background(), out.Token)
	require.NoError(t, err)
	assert.Equal(t, trustproof.StatusNotFound, res.Status)
}

func TestRevoke_takesPrecedence(t *testing.T) {
	f := newFixture(t)
	out := f.issue(t, "milestone-1")
	f.now = f.now.Add(time.Hour)

	rev, err := f.svc.Revoke(context.Background(), trustproof.RevokeRequest{ArtifactID: "doc-1", Reason: "superseded by v2"})
	require.NoError(t, err)
	assert.NotEmpty(t, rev.LedgerReference)

	// Revocation wins even once the proof has also expired.
	f.now = f.now.Add(365 * 24 * time.Hour)
	res, err := f.svc.VerifyToken(context.Background(), out.Token)
	require.NoError(t, err)
	assert.Equal(t, trustproof.StatusRevoked, res.Status)
	assert.Equal(t, "superseded by v2", res.RevocationReason)
	require.NotNil(t, res.RevokedAt)

	res, err = f.svc.VerifyAttestation(context.Background(), trustproof.Attestation{RID: "doc-1", Sig: out.Attestation.Sig})
	require.NoError(t, err)
	assert.Equal(t, trustproof.StatusRevoked, res.Status)
}

func TestRevoke_reissueClearsRevocation(t *testing.T) {
	f := newFixture(t)
	f.issue(t, "milestone-1")
	_, err := f.svc.Revoke(context.Background(), trustproof.RevokeRequest{ArtifactID: "doc-1", Reason: "typo"})
	require.NoError(t, err)

	f.now = f.now.Add(time.Minute)
	out := f.issue(t, "milestone-1")
	res, err := f.svc.VerifyToken(context.Background(), out.Token)
	require.NoError(t, err)
	assert.Equal(t, trustproof.StatusValid, res.Status)
}

func TestRevoke_reissueWithinSameSecond(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := f.now

	f.now = base.Add(100 * time.Millisecond)
	f.issue(t, "milestone-1")
	f.now = base.Add(500 * time.Millisecond)
	_, err := f.svc.Revoke(ctx, trustproof.RevokeRequest{ArtifactID: "doc-1", Reason: "typo"})
	require.NoError(t, err)

	f.now = base.Add(900 * time.Millisecond)
	_, err = f.svc.Issue(ctx, trustproof.IssueRequest{ArtifactID: "doc-2", FilePath: f.artifact, LedgerReference: "milestone-1"})
	require.NoError(t, err)
	out := f.issue(t, "milestone-1")

	res, err := f.svc.VerifyToken(ctx, out.Token)
	require.NoError(t, err)
	assert.Equal(t, trustproof.StatusValid, res.Status)

	all, err := f.trust.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all.Entries, 4)
	for i := 1; i < len(all.Entries); i++ {
		assert.False(t, all.Entries[i].Timestamp.Before(all.Entries[i-1].Timestamp), "entry %d out of order", i)
	}
	rep, err := integrity.NewVerifier(integrity.Options{}, zap.NewNop()).Verify(ctx, f.trust)
	require.NoError(t, err)
	assert.True(t, rep.Chronology.Passed, "%+v", rep.Chronology.Failures)
}

func TestRevoke_withoutActiveProof(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Revoke(context.Background(), trustproof.RevokeRequest{ArtifactID: "ghost", Reason: "x"})
	assert.ErrorIs(t, err, trustproof.ErrNoActiveProof)
}

func TestVerifyAttestation(t *testing.T) {
	f := newFixture(t)
	out := f.issue(t, "milestone-1")
	ctx := context.Background()

	res, err := f.svc.VerifyAttestation(ctx, out.Attestation)
	require.NoError(t, err)
	assert.Equal(t, trustproof.StatusValid, res.Status)

	res, err = f.svc.VerifyAttestation(ctx, trustproof.Attestation{RID: "doc-1", Sig: out.Attestation.Sig})
	require.NoError(t, err)
	assert.Equal(t, trustproof.StatusValid, res.Status)

	bad := out.Attestation
	bad.Sig = strings.Repeat("0", 32)
	res, err = f.svc.VerifyAttestation(ctx, bad)
	require.NoError(t, err)
	assert.Equal(t, trustproof.StatusInvalidToken, res.Status)

	res, err = f.svc.VerifyAttestation(ctx, trustproof.Attestation{RID: "unknown", Sig: out.Attestation.Sig})
	require.NoError(t, err)
	assert.Equal(t, trustproof.StatusNotFound, res.Status)
}

func TestAuditProofs(t *testing.T) {
	f := newFixture(t)
	f.issue(t, "milestone-1")
	ctx := context.Background()

	findings, err := f.svc.AuditProofs(ctx, f.now)
	require.NoError(t, err)
	assert.Empty(t, findings)

	require.NoError(t, os.Remove(f.artifact))
	findings, err = f.svc.AuditProofs(ctx, f.now.Add(100*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.True(t, findings[0].Expired)
	assert.True(t, findings[0].ArtifactMissing)
}
