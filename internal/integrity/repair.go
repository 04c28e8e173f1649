package integrity

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aikewa/govledger/internal/ledger"
)

// Repair statuses.
const (
	RepairApplied            = "applied"
	RepairPendingHumanReview = "pending_human_review"
	RepairResolved           = "resolved"
)

const rescheduleWindow = 90 * 24 * time.Hour

var followUpDays = map[Severity]int{
	SeverityCritical: 1,
	SeverityHigh:     2,
	SeverityMedium:   5,
	SeverityLow:      7,
}

// RepairRecord is the public view of a repair log entry.
type RepairRecord struct {
	EntryID        string     `json:"entry_id"`
	IssueID        string     `json:"issue_id"`
	Classification string     `json:"issue_classification"`
	Severity       string     `json:"severity"`
	Status         string     `json:"status"`
	Title          string     `json:"title"`
	AppliedAt      time.Time  `json:"applied_at"`
	FollowUpDue    *time.Time `json:"follow_up_due,omitempty"`
}

// RepairSummary counts what one Apply call did.
type RepairSummary struct {
	Applied   int `json:"applied"`
	Escalated int `json:"escalated"`
	Skipped   int `json:"skipped"`
}

// RepairManager appends remediation records to the governance ledger.
// It never rewrites an existing entry: an automatic fix is a new
// correcting entry plus a repair record that points at it.
type RepairManager struct {
	store  ledger.Store
	now    func() time.Time
	logger *zap.Logger
}

// NewRepairManager creates a RepairManager writing to store, which should
// be the governance ledger.
func NewRepairManager(store ledger.Store, logger *zap.Logger) *RepairManager {
	return &RepairManager{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// SetClock overrides the manager's time source.
func (m *RepairManager) SetClock(now func() time.Time) { m.now = now }

// Apply records remediation for every issue that has no repair record yet.
// Auto-repairable issues get a correction entry and an "applied" record;
// the rest get a "pending_human_review" record with a follow-up deadline.
func (m *RepairManager) Apply(ctx context.Context, issues []Issue) (RepairSummary, error) {
	var sum RepairSummary

	known, err := m.repairedIssues(ctx)
	if err != nil {
		return sum, err
	}

	for _, is := range issues {
		if known[is.ID] {
			sum.Skipped++
			continue
		}

		now := m.now()
		payload := &ledger.RepairPayload{
			IssueID:        is.ID,
			Classification: string(is.Classification),
			Severity:       string(is.Severity),
			Domain:         string(is.Domain),
			TargetEntry:    is.Subject,
			AppliedAt:      now,
		}
		status := RepairPendingHumanReview

		if is.AutoRepairable && is.Classification == ClassStaleDate {
			fix, err := m.rescheduleReview(ctx, is, now)
			if err != nil {
				return sum, err
			}
			payload.Action = "reschedule_review:" + fix.ID
			status = RepairApplied
		} else {
			due := now.AddDate(0, 0, followUpDays[is.Severity])
			payload.FollowUpDue = &due
			payload.Action = "escalate"
		}

		_, err := m.store.Append(ctx, ledger.Record{
			ID:     fmt.Sprintf("%s-%d-%s", ledger.TypeAutonomousRepair, now.UnixMilli(), uuid.NewString()[:8]),
			Type:   ledger.TypeAutonomousRepair,
			Status: status,
			Title:  is.Title,
			Repair: payload,
		})
		if err != nil {
			return sum, fmt.Errorf("record repair for %s: %w", is.ID, err)
		}
		known[is.ID] = true

		if status == RepairApplied {
			sum.Applied++
		} else {
			sum.Escalated++
			m.logger.Warn("integrity: issue escalated for human review",
				zap.String("issue", is.ID),
				zap.String("severity", string(is.Severity)),
			)
		}
	}
	return sum, nil
}

func (m *RepairManager) rescheduleReview(ctx context.Context, is Issue, now time.Time) (*ledger.Entry, error) {
	next := now.Add(rescheduleWindow)
	fix, err := m.store.Append(ctx, ledger.Record{
		Type:       ledger.TypeReviewRescheduled,
		Title:      "Review rescheduled",
		Supersedes: is.Subject,
		NextReview: &next,
	})
	if err != nil {
		return nil, fmt.Errorf("reschedule review for %s: %w", is.Subject, err)
	}
	return fix, nil
}

// Resolve closes a pending issue on behalf of a human reviewer.
func (m *RepairManager) Resolve(ctx context.Context, issueID, by string) error {
	pending, err := m.Pending(ctx)
	if err != nil {
		return err
	}
	var target *RepairRecord
	for i := range pending {
		if pending[i].IssueID == issueID {
			target = &pending[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("no pending review for issue %q", issueID)
	}

	now := m.now()
	_, err = m.store.Append(ctx, ledger.Record{
		ID:     fmt.Sprintf("%s-%d-%s", ledger.TypeRepairResolution, now.UnixMilli(), uuid.NewString()[:8]),
		Type:   ledger.TypeRepairResolution,
		Status: RepairResolved,
		Title:  target.Title,
		Repair: &ledger.RepairPayload{
			IssueID:        issueID,
			Classification: target.Classification,
			Severity:       target.Severity,
			TargetEntry:    target.EntryID,
			Action:         "resolve",
			AppliedAt:      now,
			ResolvedBy:     by,
		},
	})
	if err != nil {
		return fmt.Errorf("record resolution: %w", err)
	}
	return nil
}

// Pending returns escalated repairs that have not been resolved.
func (m *RepairManager) Pending(ctx context.Context) ([]RepairRecord, error) {
	records, resolved, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	var out []RepairRecord
	for _, r := range records {
		if r.Status == RepairPendingHumanReview && !resolved[r.IssueID] {
			out = append(out, r)
		}
	}
	return out, nil
}

// Resolved returns the set of issue IDs closed by a reviewer.
func (m *RepairManager) Resolved(ctx context.Context) (map[string]bool, error) {
	_, resolved, err := m.load(ctx)
	return resolved, err
}

// Recent returns the n newest repair records, newest first.
func (m *RepairManager) Recent(ctx context.Context, n int) ([]RepairRecord, error) {
	records, _, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].AppliedAt.After(records[j].AppliedAt)
	})
	if n > 0 && len(records) > n {
		records = records[:n]
	}
	return records, nil
}

// OpenIssueHistogram counts pending reviews by classification.
func (m *RepairManager) OpenIssueHistogram(ctx context.Context) (map[string]int, error) {
	pending, err := m.Pending(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int)
	for _, r := range pending {
		out[r.Classification]++
	}
	return out, nil
}

func (m *RepairManager) repairedIssues(ctx context.Context) (map[string]bool, error) {
	records, _, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(records))
	for _, r := range records {
		out[r.IssueID] = true
	}
	return out, nil
}

func (m *RepairManager) load(ctx context.Context) ([]RepairRecord, map[string]bool, error) {
	res, err := m.store.ReadAll(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("read repair log: %w", err)
	}
	var records []RepairRecord
	resolved := make(map[string]bool)
	for _, e := range res.Entries {
		if e.Repair == nil {
			continue
		}
		switch e.Type {
		case ledger.TypeAutonomousRepair:
			records = append(records, RepairRecord{
				EntryID:        e.ID,
				IssueID:        e.Repair.IssueID,
				Classification: e.Repair.Classification,
				Severity:       e.Repair.Severity,
				Status:         e.Status,
				Title:          e.Title,
				AppliedAt:      e.Repair.AppliedAt,
				FollowUpDue:    e.Repair.FollowUpDue,
			})
		case ledger.TypeRepairResolution:
			resolved[e.Repair.IssueID] = true
		}
	}
	for i := range records {
		if records[i].Status == RepairPendingHumanReview && resolved[records[i].IssueID] {
			records[i].Status = RepairResolved
		}
	}
	return records, resolved, nil
}
