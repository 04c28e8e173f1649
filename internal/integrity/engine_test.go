package integrity_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aikewa/govledger/internal/integrity"
	"github.com/aikewa/govledger/internal/ledger"
)

type stubAuditor struct {
	findings []integrity.ProofFinding
}

func (s stubAuditor) AuditProofs(context.Context, time.Time) ([]integrity.ProofFinding, error) {
	return s.findings, nil
}

type engineFixture struct {
	set     *ledger.Set
	engine  *integrity.Engine
	repairs *integrity.RepairManager
	now     time.Time
}

func newEngineFixture(t *testing.T, auditor integrity.ProofAuditor) *engineFixture {
	t.Helper()
	set := ledger.NewMemorySet(nil, zap.NewNop())
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	for _, d := range ledger.Domains {
		set.Store(d).(*ledger.MemoryStore).SetClock(clock)
	}

	repairs := integrity.NewRepairManager(set.Store(ledger.Governance), zap.NewNop())
	repairs.SetClock(clock)
	engine := integrity.NewEngine(set, newVerifier(integrity.Options{}), repairs, auditor, integrity.EngineConfig{}, zap.NewNop())
	engine.SetClock(clock)
	return &engineFixture{set: set, engine: engine, repairs: repairs, now: now}
}

func (f *engineFixture) governance(t *testing.T, r ledger.Record) *ledger.Entry {
	t.Helper()
	if r.Type == "" {
		r.Type = ledger.TypeGovernanceMilestone
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = f.now.Add(-30 * 24 * time.Hour)
	}
	e, err := f.set.Store(ledger.Governance).Append(context.Background(), r)
	require.NoError(t, err)
	return e
}

func TestEngine_emptyGovernanceIsDegraded(t *testing.T) {
	f := newEngineFixture(t, nil)
	rep, err := f.engine.Run(context.Background(), "all", true)
	require.NoError(t, err)

	assert.Equal(t, integrity.HealthDegraded, rep.LedgerStatus[ledger.Governance])
	assert.Equal(t, integrity.HealthHealthy, rep.LedgerStatus[ledger.Consent])
	assert.Equal(t, integrity.StateDegraded, rep.SystemState)
	assert.Zero(t, rep.TotalIssues)
}

func TestEngine_staleReviewIsAutoRepaired(t *testing.T) {
	f := newEngineFixture(t, nil)
	due := f.now.Add(-10 * 24 * time.Hour)
	target := f.governance(t, ledger.Record{ID: "policy-1", Title: "Privacy policy", NextReview: &due})

	rep, err := f.engine.Run(context.Background(), "all", true)
	require.NoError(t, err)
	require.Len(t, rep.Issues, 1)
	assert.Equal(t, integrity.ClassStaleDate, rep.Issues[0].Classification)
	assert.Equal(t, integrity.SeverityMedium, rep.Issues[0].Severity)
	assert.Equal(t, 1, rep.AutoRepaired)
	assert.Zero(t, rep.PendingReviews)

	entries, err := f.set.Store(ledger.Governance).ReadAll(context.Background())
	require.NoError(t, err)
	var fix *ledger.Entry
	for _, e := range entries.Entries {
		if e.Type == ledger.TypeReviewRescheduled {
			fix = e
		}
	}
	require.NotNil(t, fix)
	assert.Equal(t, target.ID, fix.Supersedes)
	assert.Equal(t, "Privacy policy", target.Title, "original entry is never rewritten")

	rep, err = f.engine.Run(context.Background(), "all", true)
	require.NoError(t, err)
	assert.Zero(t, rep.TotalIssues)
	assert.Equal(t, integrity.StateHealthy, rep.SystemState)
	assert.True(t, rep.Verification[ledger.Governance].Verified)
}

func TestEngine_longOverdueReviewIsHigh(t *testing.T) {
	f := newEngineFixture(t, nil)
	due := f.now.Add(-120 * 24 * time.Hour)
	f.governance(t, ledger.Record{ID: "p", NextReview: &due})

	rep, err := f.engine.Run(context.Background(), "governance", false)
	require.NoError(t, err)
	require.Len(t, rep.Issues, 1)
	assert.Equal(t, integrity.SeverityHigh, rep.Issues[0].Severity)
	assert.Equal(t, integrity.HealthDegraded, rep.LedgerStatus[ledger.Governance])
	assert.Zero(t, rep.AutoRepaired)
}

func TestEngine_futureApprovalEscalatesUntilResolved(t *testing.T) {
	f := newEngineFixture(t, nil)
	approved := f.now.Add(48 * time.Hour)
	f.governance(t, ledger.Record{ID: "charter", ApprovedDate: &approved})

	ctx := context.Background()
	rep, err := f.engine.Run(ctx, "all", true)
	require.NoError(t, err)
	assert.Equal(t, integrity.HealthCritical, rep.LedgerStatus[ledger.Governance])
	assert.Equal(t, 1, rep.RequiresHumanReview)
	assert.Equal(t, 1, rep.PendingReviews)
	assert.Equal(t, integrity.StateAttentionRequired, rep.SystemState)

	rep, err = f.engine.Run(ctx, "all", true)
	require.NoError(t, err)
	assert.Zero(t, rep.RequiresHumanReview, "already escalated issues are not escalated again")

	hist, err := f.repairs.OpenIssueHistogram(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"FUTURE_DATE": 1}, hist)

	pending, err := f.repairs.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NotNil(t, pending[0].FollowUpDue)
	assert.Equal(t, f.now.AddDate(0, 0, 1), *pending[0].FollowUpDue)

	require.NoError(t, f.repairs.Resolve(ctx, pending[0].IssueID, "reviewer"))
	rep, err = f.engine.Run(ctx, "all", true)
	require.NoError(t, err)
	assert.Zero(t, rep.TotalIssues)
	assert.Equal(t, integrity.StateHealthy, rep.SystemState)

	recent, err := f.repairs.Recent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, integrity.RepairResolved, recent[0].Status)
}

func TestEngine_resolveUnknownIssue(t *testing.T) {
	f := newEngineFixture(t, nil)
	assert.Error(t, f.repairs.Resolve(context.Background(), "nope", "me"))
}

func TestEngine_federationStale(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.governance(t, ledger.Record{ID: "g"})
	_, err := f.set.Store(ledger.Federation).Append(context.Background(), ledger.Record{
		ID:        "v1",
		Timestamp: f.now.Add(-3 * 24 * time.Hour),
		Type:      ledger.TypeFederationVerification,
	})
	require.NoError(t, err)

	rep, err := f.engine.Run(context.Background(), "federation", false)
	require.NoError(t, err)
	require.Len(t, rep.Issues, 1)
	assert.Equal(t, integrity.ClassFederationStale, rep.Issues[0].Classification)
	assert.Equal(t, integrity.SeverityMedium, rep.Issues[0].Severity)
	assert.Equal(t, integrity.HealthDegraded, rep.LedgerStatus[ledger.Federation])
}

func TestEngine_proofFindings(t *testing.T) {
	f := newEngineFixture(t, stubAuditor{findings: []integrity.ProofFinding{
		{ArtifactID: "report-2025", Expired: true},
		{ArtifactID: "gone", ArtifactMissing: true},
	}})

	rep, err := f.engine.Run(context.Background(), "trust_proofs", false)
	require.NoError(t, err)
	require.Len(t, rep.Issues, 2)
	assert.Equal(t, integrity.HealthDegraded, rep.LedgerStatus[ledger.TrustProofs])
}

func TestEngine_issueIDsAreStable(t *testing.T) {
	f := newEngineFixture(t, nil)
	approved := f.now.Add(time.Hour)
	f.governance(t, ledger.Record{ID: "x", ApprovedDate: &approved})

	a, err := f.engine.Run(context.Background(), "governance", false)
	require.NoError(t, err)
	b, err := f.engine.Run(context.Background(), "governance", false)
	require.NoError(t, err)
	require.Len(t, a.Issues, 1)
	assert.Equal(t, a.Issues[0].ID, b.Issues[0].ID)
}

func TestEngine_unknownScope(t *testing.T) {
	f := newEngineFixture(t, nil)
	_, err := f.engine.Run(context.Background(), "payroll", false)
	assert.Error(t, err)
}

func TestClassifyState(t *testing.T) {
	cases := []struct {
		name    string
		status  map[ledger.Domain]integrity.Health
		pending int
		want    integrity.SystemState
	}{
		{"all healthy", map[ledger.Domain]integrity.Health{ledger.Governance: integrity.HealthHealthy}, 0, integrity.StateHealthy},
		{"degraded", map[ledger.Domain]integrity.Health{ledger.Consent: integrity.HealthDegraded}, 0, integrity.StateDegraded},
		{"critical", map[ledger.Domain]integrity.Health{ledger.Consent: integrity.HealthCritical}, 0, integrity.StateAttentionRequired},
		{"pending review", map[ledger.Domain]integrity.Health{ledger.Consent: integrity.HealthHealthy}, 1, integrity.StateAttentionRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, integrity.ClassifyState(tc.status, tc.pending))
		})
	}
}
