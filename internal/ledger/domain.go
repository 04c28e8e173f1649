package ledger

import (
	"fmt"
	"path/filepath"
)

// Domain names one append-only ledger file.
type Domain string

const (
	Governance  Domain = "governance"
	Consent     Domain = "consent"
	Federation  Domain = "federation"
	TrustProofs Domain = "trust_proofs"
)

// Domains lists every domain in the fixed order used to fold per-domain
// roots into the global Merkle root.
var Domains = []Domain{Governance, Consent, Federation, TrustProofs}

var domainPaths = map[Domain]string{
	Governance:  filepath.Join("governance", "ledger", "ledger.jsonl"),
	Consent:     filepath.Join("governance", "consent", "ledger.jsonl"),
	Federation:  filepath.Join("governance", "federation", "ledger.jsonl"),
	TrustProofs: filepath.Join("governance", "trust-proofs", "ledger.jsonl"),
}

// ParseDomain validates s as a known domain name.
func ParseDomain(s string) (Domain, error) {
	d := Domain(s)
	if _, ok := domainPaths[d]; !ok {
		return "", fmt.Errorf("unknown ledger domain %q", s)
	}
	return d, nil
}

// RelPath is the domain's ledger file relative to the data root.
func (d Domain) RelPath() string {
	return domainPaths[d]
}

// Chained reports whether entries in d link to their predecessor via Parent.
func (d Domain) Chained() bool {
	return d == Federation || d == TrustProofs
}

func (d Domain) String() string { return string(d) }
