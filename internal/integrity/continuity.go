package integrity

import (
	"time"

	"github.com/aikewa/govledger/internal/ledger"
)

// Gap is an entry whose parent reference does not resolve to a prior entry.
type Gap struct {
	Index         int       `json:"index"`
	EntryID       string    `json:"id"`
	Block         string    `json:"block"`
	MissingParent string    `json:"missingParent"`
	Timestamp     time.Time `json:"timestamp"`
	Severity      Severity  `json:"severity"`
}

// ContinuityResult summarises a parent-link walk.
type ContinuityResult struct {
	Valid           bool  `json:"valid"`
	TotalEntries    int   `json:"totalEntries"`
	VerifiedEntries int   `json:"verifiedEntries"`
	Gaps            []Gap `json:"gaps"`
	BrokenChains    int   `json:"brokenChains"`
}

// CheckContinuity verifies that every non-empty parent names an earlier
// entry by block or id. Entries without a parent count as verified.
func CheckContinuity(entries []*ledger.Entry) ContinuityResult {
	res := ContinuityResult{Valid: true, TotalEntries: len(entries), Gaps: []Gap{}}
	seen := make(map[string]struct{}, len(entries)*2)

	for i, e := range entries {
		if e.Parent == "" {
			res.VerifiedEntries++
		} else if _, ok := seen[e.Parent]; ok {
			res.VerifiedEntries++
		} else {
			res.Valid = false
			res.Gaps = append(res.Gaps, Gap{
				Index:         i,
				EntryID:       e.ID,
				Block:         e.BlockRef(),
				MissingParent: e.Parent,
				Timestamp:     e.Timestamp,
				Severity:      SeverityCritical,
			})
		}
		seen[e.ID] = struct{}{}
		if e.Block != "" {
			seen[e.Block] = struct{}{}
		}
	}
	res.BrokenChains = len(res.Gaps)
	return res
}
