package integrity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aikewa/govledger/internal/ledger"
)

const (
	staleReviewHighAfter    = 90 * 24 * time.Hour
	federationStaleAfter    = 48 * time.Hour
	federationCriticalAfter = 7 * 24 * time.Hour
)

// ProofFinding is a trust proof that needs attention.
type ProofFinding struct {
	ArtifactID      string
	Expired         bool
	ArtifactMissing bool
}

// ProofAuditor reports trust proofs that have expired or whose artifact
// file is gone.
type ProofAuditor interface {
	AuditProofs(ctx context.Context, now time.Time) ([]ProofFinding, error)
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	// DocumentRoot resolves governance entries' document references. Empty
	// disables the check.
	DocumentRoot string
}

// EngineReport is the outcome of one engine run.
type EngineReport struct {
	Timestamp           time.Time                 `json:"timestamp"`
	Scope               string                    `json:"verification_scope"`
	TotalIssues         int                       `json:"total_issues"`
	AutoRepaired        int                       `json:"auto_repaired"`
	RequiresHumanReview int                       `json:"requires_human_review"`
	PendingReviews      int                       `json:"pending_human_reviews"`
	Issues              []Issue                   `json:"issues"`
	LedgerStatus        map[ledger.Domain]Health  `json:"ledger_status"`
	GlobalMerkleRoot    string                    `json:"global_merkle_root"`
	SystemState         SystemState               `json:"system_state"`
	Verification        map[ledger.Domain]*Report `json:"-"`
}

// Engine runs verification across all ledgers, classifies issues and
// optionally hands them to a RepairManager.
type Engine struct {
	ledgers  *ledger.Set
	verifier *Verifier
	repairs  *RepairManager
	proofs   ProofAuditor
	cfg      EngineConfig
	now      func() time.Time
	logger   *zap.Logger
}

// NewEngine creates an Engine. repairs and proofs may be nil.
func NewEngine(ledgers *ledger.Set, verifier *Verifier, repairs *RepairManager, proofs ProofAuditor, cfg EngineConfig, logger *zap.Logger) *Engine {
	return &Engine{
		ledgers:  ledgers,
		verifier: verifier,
		repairs:  repairs,
		proofs:   proofs,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// SetClock overrides the engine's time source.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Repairs returns the engine's repair manager, which may be nil.
func (e *Engine) Repairs() *RepairManager { return e.repairs }

// Run verifies every ledger, detects issues in the domains named by scope
// ("all" or a single domain) and, when repair is true, records remediation
// for new issues. Run is idempotent: issue IDs are stable and already
// recorded issues are not repaired twice.
func (e *Engine) Run(ctx context.Context, scope string, repair bool) (*EngineReport, error) {
	now := e.now()
	inScope, err := scopeDomains(scope)
	if err != nil {
		return nil, err
	}

	set, err := e.verifier.VerifySet(ctx, e.ledgers)
	if err != nil {
		return nil, err
	}

	resolved := map[string]bool{}
	if e.repairs != nil {
		if resolved, err = e.repairs.Resolved(ctx); err != nil {
			return nil, err
		}
	}

	rep := &EngineReport{
		Timestamp:        now,
		Scope:            scope,
		Issues:           []Issue{},
		LedgerStatus:     make(map[ledger.Domain]Health, len(ledger.Domains)),
		GlobalMerkleRoot: set.GlobalMerkleRoot,
		Verification:     set.Ledgers,
	}

	for _, d := range inScope {
		vr := set.Ledgers[d]
		issues := verificationIssues(vr, now)
		more, err := e.domainIssues(ctx, d, vr.Entries(), now)
		if err != nil {
			return nil, err
		}
		issues = append(issues, more...)

		kept := issues[:0]
		for _, is := range issues {
			if !resolved[is.ID] {
				kept = append(kept, is)
			}
		}

		health := ledgerHealth(kept)
		if d == ledger.Governance && vr.TotalEntries == 0 && health == HealthHealthy {
			health = HealthDegraded
		}
		rep.LedgerStatus[d] = health
		rep.Issues = append(rep.Issues, kept...)
	}
	rep.TotalIssues = len(rep.Issues)

	if e.repairs != nil {
		if repair {
			sum, err := e.repairs.Apply(ctx, rep.Issues)
			if err != nil {
				return nil, fmt.Errorf("apply repairs: %w", err)
			}
			rep.AutoRepaired = sum.Applied
			rep.RequiresHumanReview = sum.Escalated
		}
		pending, err := e.repairs.Pending(ctx)
		if err != nil {
			return nil, err
		}
		rep.PendingReviews = len(pending)
	}

	rep.SystemState = ClassifyState(rep.LedgerStatus, rep.PendingReviews)
	e.logger.Info("integrity: run complete",
		zap.String("scope", scope),
		zap.Int("issues", rep.TotalIssues),
		zap.Int("auto_repaired", rep.AutoRepaired),
		zap.Int("pending_reviews", rep.PendingReviews),
		zap.String("state", string(rep.SystemState)),
	)
	return rep, nil
}

func scopeDomains(scope string) ([]ledger.Domain, error) {
	if scope == "" || scope == "all" {
		return ledger.Domains, nil
	}
	d, err := ledger.ParseDomain(scope)
	if err != nil {
		return nil, err
	}
	return []ledger.Domain{d}, nil
}

func verificationIssues(vr *Report, now time.Time) []Issue {
	var out []Issue
	add := func(c Classification, f Failure) {
		subject := f.EntryID
		if subject == "" {
			subject = fmt.Sprintf("#%d", f.Index)
		}
		out = append(out, newIssue(vr.Domain, c, SeverityCritical, subject, f.Message, now))
	}

	for _, f := range vr.Structure.Failures {
		if strings.HasPrefix(f.Message, "line ") {
			add(ClassMalformedLine, f)
		} else {
			add(ClassMissingField, f)
		}
	}
	for _, f := range vr.Chronology.Failures {
		add(ClassChronology, f)
	}
	for _, f := range vr.Hashes.Failures {
		add(ClassHashMismatch, f)
	}
	for _, f := range vr.Signatures.Failures {
		add(ClassSignatureInvalid, f)
	}
	if vr.Continuity != nil {
		for _, g := range vr.Continuity.Gaps {
			out = append(out, newIssue(vr.Domain, ClassContinuityGap, g.Severity, g.EntryID,
				fmt.Sprintf("parent %q not found", g.MissingParent), now))
		}
	}
	return out
}

func (e *Engine) domainIssues(ctx context.Context, d ledger.Domain, entries []*ledger.Entry, now time.Time) ([]Issue, error) {
	switch d {
	case ledger.Governance:
		return e.governanceIssues(entries, now), nil
	case ledger.Consent:
		return consentIssues(entries, now), nil
	case ledger.Federation:
		return federationIssues(entries, now), nil
	case ledger.TrustProofs:
		return e.proofIssues(ctx, now)
	}
	return nil, nil
}

// governanceIssues inspects only entries that no later correction supersedes.
func (e *Engine) governanceIssues(entries []*ledger.Entry, now time.Time) []Issue {
	superseded := make(map[string]bool)
	for _, en := range entries {
		if en.Supersedes != "" {
			superseded[en.Supersedes] = true
		}
	}

	var out []Issue
	for _, en := range entries {
		if superseded[en.ID] {
			continue
		}
		if en.NextReview != nil && en.NextReview.Before(now) {
			sev := SeverityMedium
			if now.Sub(*en.NextReview) > staleReviewHighAfter {
				sev = SeverityHigh
			}
			is := newIssue(ledger.Governance, ClassStaleDate, sev, en.ID,
				fmt.Sprintf("review of %q overdue since %s", en.Title, en.NextReview.Format("2006-01-02")), now)
			is.AutoRepairable = true
			out = append(out, is)
		}
		if en.ApprovedDate != nil && en.ApprovedDate.After(now) {
			out = append(out, newIssue(ledger.Governance, ClassFutureDate, SeverityCritical, en.ID,
				fmt.Sprintf("approved_date %s is in the future", en.ApprovedDate.Format("2006-01-02")), now))
		}
		if en.Document != "" && e.cfg.DocumentRoot != "" {
			if _, err := os.Stat(filepath.Join(e.cfg.DocumentRoot, filepath.Clean("/"+en.Document))); errors.Is(err, fs.ErrNotExist) {
				out = append(out, newIssue(ledger.Governance, ClassMissingReference, SeverityHigh, en.ID,
					fmt.Sprintf("referenced document %q not found", en.Document), now))
			}
		}
	}
	return out
}

func consentIssues(entries []*ledger.Entry, now time.Time) []Issue {
	var out []Issue
	for _, en := range entries {
		if !strings.HasPrefix(en.Type, ledger.TypeConsentPrefix) {
			continue
		}
		if en.Consent == nil || en.Consent.UserID == "" || en.Consent.Event == "" {
			out = append(out, newIssue(ledger.Consent, ClassMissingField, SeverityLow, en.ID,
				"consent entry lacks user or event", now))
		}
	}
	return out
}

func federationIssues(entries []*ledger.Entry, now time.Time) []Issue {
	var latest *ledger.Entry
	for _, en := range entries {
		if en.Type == ledger.TypeFederationVerification {
			if latest == nil || en.Timestamp.After(latest.Timestamp) {
				latest = en
			}
		}
	}
	if latest == nil {
		return nil
	}
	age := now.Sub(latest.Timestamp)
	if age <= federationStaleAfter {
		return nil
	}
	sev := SeverityMedium
	if age > federationCriticalAfter {
		sev = SeverityHigh
	}
	return []Issue{newIssue(ledger.Federation, ClassFederationStale, sev, latest.ID,
		fmt.Sprintf("last federation verification %s ago", age.Truncate(time.Hour)), now)}
}

func (e *Engine) proofIssues(ctx context.Context, now time.Time) ([]Issue, error) {
	if e.proofs == nil {
		return nil, nil
	}
	findings, err := e.proofs.AuditProofs(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("audit trust proofs: %w", err)
	}
	var out []Issue
	for _, f := range findings {
		if f.ArtifactMissing {
			out = append(out, newIssue(ledger.TrustProofs, ClassArtifactMissing, SeverityHigh, f.ArtifactID,
				fmt.Sprintf("artifact for proof %q is missing", f.ArtifactID), now))
		}
		if f.Expired {
			out = append(out, newIssue(ledger.TrustProofs, ClassAttestationExpired, SeverityMedium, f.ArtifactID,
				fmt.Sprintf("proof for %q has expired", f.ArtifactID), now))
		}
	}
	return out, nil
}
