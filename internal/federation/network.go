package federation

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/aikewa/govledger/internal/merkle"
)

// NetworkHealth bands the network trust score.
type NetworkHealth string

const (
	NetworkHealthy  NetworkHealth = "healthy"
	NetworkDegraded NetworkHealth = "degraded"
	NetworkCritical NetworkHealth = "critical"
)

// NetworkSummary aggregates the latest verification of every partner.
type NetworkSummary struct {
	Timestamp              time.Time      `json:"timestamp"`
	TotalPartners          int            `json:"total_partners"`
	ValidPartners          int            `json:"valid_partners"`
	StalePartners          int            `json:"stale_partners"`
	FlaggedPartners        int            `json:"flagged_partners"`
	ErrorPartners          int            `json:"error_partners"`
	NetworkMerkleAggregate string         `json:"network_merkle_aggregate"`
	TrustScore             int            `json:"trust_score"`
	Health                 NetworkHealth  `json:"health"`
	Notes                  string         `json:"notes"`
	Partners               []Verification `json:"partners"`
}

// NetworkRoot hashes the sorted concatenation of the valid-looking roots.
// It is empty when no root qualifies.
func NetworkRoot(roots []string) string {
	var valid []string
	for _, r := range roots {
		if merkle.IsDigest(r) {
			valid = append(valid, r)
		}
	}
	if len(valid) == 0 {
		return ""
	}
	sort.Strings(valid)
	return merkle.HashString(strings.Join(valid, ""))
}

// TrustScore weighs valid partners fully and stale ones by half, on a
// 0-100 scale. An empty network scores zero.
func TrustScore(valid, stale, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round((float64(valid) + 0.5*float64(stale)) / float64(total) * 100))
}

// HealthFor bands a trust score.
func HealthFor(score int) NetworkHealth {
	switch {
	case score >= 80:
		return NetworkHealthy
	case score >= 50:
		return NetworkDegraded
	default:
		return NetworkCritical
	}
}

// Summarize builds a NetworkSummary from per-partner results.
func Summarize(results []Verification, now time.Time) NetworkSummary {
	s := NetworkSummary{Timestamp: now, TotalPartners: len(results), Partners: results}

	var roots []string
	for _, r := range results {
		switch r.TrustStatus {
		case TrustValid:
			s.ValidPartners++
			roots = append(roots, r.LastMerkleRoot)
		case TrustStale:
			s.StalePartners++
			roots = append(roots, r.LastMerkleRoot)
		case TrustFlagged:
			s.FlaggedPartners++
		default:
			s.ErrorPartners++
		}
	}
	s.NetworkMerkleAggregate = NetworkRoot(roots)
	s.TrustScore = TrustScore(s.ValidPartners, s.StalePartners, s.TotalPartners)
	s.Health = HealthFor(s.TrustScore)

	var notes []string
	if s.StalePartners > 0 {
		notes = append(notes, fmt.Sprintf("%d partner(s) overdue for transparency refresh.", s.StalePartners))
	}
	if s.FlaggedPartners > 0 {
		notes = append(notes, fmt.Sprintf("%d partner(s) flagged for integrity review.", s.FlaggedPartners))
	}
	if s.ErrorPartners > 0 {
		notes = append(notes, fmt.Sprintf("%d partner(s) unreachable or returned errors.", s.ErrorPartners))
	}
	if s.TotalPartners > 0 && s.ValidPartners == s.TotalPartners {
		notes = []string{"All partners verified."}
	}
	s.Notes = strings.Join(notes, " ")
	return s
}
